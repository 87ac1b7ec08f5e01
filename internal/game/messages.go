package game

import (
	"fmt"
	"strings"
)

const numberStartMessage = `🎮 **업다운 게임을 시작합니다!**

1부터 100까지의 숫자 중 하나를 정했습니다.
숫자를 맞춰보세요!

- 숫자가 낮으면 "UP" 이라고 알려드립니다
- 숫자가 높으면 "DOWN" 이라고 알려드립니다
- 게임 중에는 @호출 없이 숫자만 입력하시면 됩니다

첫 번째 숫자를 입력해주세요! 🎯`

func numberWinMessage(guess, attempts int) string {
	return fmt.Sprintf("🎉 정답입니다! %d가 맞습니다!\n%d번 만에 맞추셨네요! 정말 대단해요!\n\n새로운 게임을 하시려면 \"업다운 게임 시작\"이라고 말씀해주세요.", guess, attempts)
}

func numberUpMessage(guess, attempts int) string {
	return fmt.Sprintf("⬆️ **UP!** \n%d보다 큰 숫자입니다.\n현재 시도 횟수: %d회", guess, attempts)
}

func numberDownMessage(guess, attempts int) string {
	return fmt.Sprintf("⬇️ **DOWN!** \n%d보다 작은 숫자입니다.\n현재 시도 횟수: %d회", guess, attempts)
}

func numberEndMessage(target, attempts int) string {
	return fmt.Sprintf("🛑 업다운 게임을 종료합니다. 정답은 %d였습니다. (시도 횟수: %d회)", target, attempts)
}

const (
	msgNoNumberGame     = "진행 중인 업다운 게임이 없습니다."
	msgMafiaRunning     = "이미 마피아 게임이 진행 중입니다."
	msgNotParticipant   = "마피아 게임 참가자만 사용할 수 있는 명령입니다."
	msgDeadVoter        = "사망한 참가자는 투표할 수 없습니다."
	msgMafiaRole        = "🕵️ 당신은 **마피아**입니다.\n정체를 숨기고 시민들을 속이세요. 시민이 한 명만 남으면 승리합니다."
	msgCitizenRole      = "👥 당신은 **시민**입니다.\n토론과 투표로 마피아를 찾아내세요."
	msgDiscussionPrompt = "'투표시작'을 입력하면 투표가 시작됩니다."
	msgNightPrompt      = "'토론시작'을 입력하면 낮이 됩니다."
)

func mafiaCapacityMessage(n int) string {
	return fmt.Sprintf("마피아 게임은 %d~%d명이 방에 있어야 시작할 수 있습니다. (현재 %d명)", minMafiaPlayers, maxMafiaPlayers, n)
}

func mafiaStartMessage(players []Player, nightEvent string) string {
	return fmt.Sprintf("🕵️ **마피아 게임을 시작합니다!**\n참가자: %s (%d명)\n각자에게 역할이 전달되었습니다.\n\n🌙 1일차 밤이 되었습니다.\n%s\n\n%s",
		joinNames(players), len(players), nightEvent, msgNightPrompt)
}

func mafiaDayMessage(day int, alive []Player) string {
	return fmt.Sprintf("☀️ %d일차 낮이 밝았습니다. 생존자: %s\n누가 마피아인지 토론하세요.\n%s", day, joinNames(alive), msgDiscussionPrompt)
}

func mafiaVotingMessage(alive []Player) string {
	return fmt.Sprintf("🗳️ 투표를 시작합니다. '투표 이름' 형식으로 투표하세요.\n후보: %s", joinNames(alive))
}

func mafiaVoteCastMessage(voter string, voted, alive int) string {
	return fmt.Sprintf("🗳️ %s님이 투표했습니다. (%d/%d)", voter, voted, alive)
}

func mafiaUnknownTargetMessage(name string) string {
	return fmt.Sprintf("'%s'님은 생존자 중에 없습니다.", name)
}

func mafiaWrongPhaseMessage(phase Phase, cmd CommandKind) string {
	return fmt.Sprintf("지금은 %s 단계라서 '%s' 명령을 사용할 수 없습니다.", phase.Label(), commandLabel(cmd))
}

type tallyLine struct {
	name  string
	votes int
}

func mafiaTallyMessage(lines []tallyLine, eliminated string, wasMafia bool) string {
	var b strings.Builder
	b.WriteString("📊 **투표 결과**\n")
	for _, l := range lines {
		fmt.Fprintf(&b, "- %s: %d표\n", l.name, l.votes)
	}
	fmt.Fprintf(&b, "\n☠️ %s님이 처형되었습니다. ", eliminated)
	if wasMafia {
		fmt.Fprintf(&b, "%s님은 마피아였습니다!", eliminated)
	} else {
		fmt.Fprintf(&b, "%s님은 마피아가 아니었습니다.", eliminated)
	}
	return b.String()
}

func mafiaCitizensWinMessage(mafia string) string {
	return fmt.Sprintf("🎉 **시민 승리!** 마피아 %s님을 찾아냈습니다. 게임이 종료되었습니다.", mafia)
}

func mafiaMafiaWinMessage(mafia string) string {
	return fmt.Sprintf("😈 **마피아 승리!** 마피아는 %s님이었습니다. 게임이 종료되었습니다.", mafia)
}

func mafiaNightMessage(day int, event string) string {
	return fmt.Sprintf("🌙 %d일차 밤이 되었습니다.\n%s\n\n%s", day, event, msgNightPrompt)
}

func mafiaEndMessage(mafia string) string {
	return fmt.Sprintf("🛑 마피아 게임이 중단되었습니다. 마피아는 %s님이었습니다.", mafia)
}

var nightEventTemplates = []string{
	"깊은 밤, %s님의 집 근처에서 수상한 발소리가 들렸습니다.",
	"%s님이 밤늦게 누군가와 속삭이는 모습이 목격되었습니다.",
	"마을 광장에서 %s님의 이름이 적힌 쪽지가 발견되었습니다.",
	"%s님의 창문에 희미한 불빛이 새벽까지 켜져 있었습니다.",
	"누군가 %s님의 문 앞에 검은 장미를 두고 갔습니다.",
}

func commandLabel(cmd CommandKind) string {
	switch cmd {
	case CommandBeginDiscussion:
		return "토론시작"
	case CommandBeginVoting:
		return "투표시작"
	case CommandVote:
		return "투표"
	}
	return cmd.String()
}

func joinNames(players []Player) string {
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}
