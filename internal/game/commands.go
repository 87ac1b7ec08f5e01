package game

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CommandKind classifies a chat line as game input.
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandNumberStart
	CommandNumberEnd
	CommandGuess
	CommandMafiaStart
	CommandMafiaEnd
	CommandBeginDiscussion
	CommandBeginVoting
	CommandVote
)

func (k CommandKind) String() string {
	switch k {
	case CommandNumberStart:
		return "number_start"
	case CommandNumberEnd:
		return "number_end"
	case CommandGuess:
		return "guess"
	case CommandMafiaStart:
		return "mafia_start"
	case CommandMafiaEnd:
		return "mafia_end"
	case CommandBeginDiscussion:
		return "begin_discussion"
	case CommandBeginVoting:
		return "begin_voting"
	case CommandVote:
		return "vote"
	}
	return "none"
}

type Command struct {
	Kind   CommandKind
	Guess  int
	Target string
}

var (
	numberStartKeywords = []string{"업다운게임", "업다운", "숫자맞추기", "게임시작", "updown"}
	mafiaStartKeywords  = []string{"마피아게임", "마피아", "mafia"}

	exactCommands = map[string]CommandKind{
		"게임종료":             CommandNumberEnd,
		"end game":         CommandNumberEnd,
		"마피아종료":            CommandMafiaEnd,
		"end mafia":        CommandMafiaEnd,
		"토론시작":             CommandBeginDiscussion,
		"begin discussion": CommandBeginDiscussion,
		"투표시작":             CommandBeginVoting,
		"begin voting":     CommandBeginVoting,
	}

	voteRe  = regexp.MustCompile(`(?i)^(?:투표|vote)\s+(.+)$`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// Normalize folds a chat line into the form commands are matched against.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	return spaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
}

// ParseCommand classifies text. Start keywords match anywhere in the line
// when addressed is set (the user mentioned an assistant), otherwise the
// whole line must be the keyword.
func ParseCommand(text string, addressed bool) Command {
	text = Normalize(text)
	if text == "" {
		return Command{}
	}
	lower := strings.ToLower(text)

	if kind, ok := exactCommands[lower]; ok {
		return Command{Kind: kind}
	}
	if m := voteRe.FindStringSubmatch(text); len(m) == 2 {
		return Command{Kind: CommandVote, Target: strings.TrimSpace(m[1])}
	}
	if n, ok := parseGuess(text); ok {
		return Command{Kind: CommandGuess, Guess: n}
	}
	if matchKeyword(lower, mafiaStartKeywords, addressed) {
		return Command{Kind: CommandMafiaStart}
	}
	if matchKeyword(lower, numberStartKeywords, addressed) {
		return Command{Kind: CommandNumberStart}
	}
	return Command{}
}

func matchKeyword(lower string, keywords []string, contains bool) bool {
	for _, kw := range keywords {
		if lower == kw || (contains && strings.Contains(lower, kw)) {
			return true
		}
	}
	return false
}

// parseGuess accepts only a canonical integer in [1,100].
func parseGuess(text string) (int, bool) {
	n, err := strconv.Atoi(text)
	if err != nil || n < minTarget || n > maxTarget {
		return 0, false
	}
	if strconv.Itoa(n) != text {
		return 0, false
	}
	return n, true
}
