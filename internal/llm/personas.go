package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// Persona is an assistant users address with an @mention.
type Persona struct {
	ID     string
	Name   string
	Role   string
	Traits string
	Tone   string
}

var personas = map[string]Persona{
	"wayneAI": {
		ID:     "wayneAI",
		Name:   "Wayne AI",
		Role:   "친절하고 도움이 되는 어시스턴트",
		Traits: "전문적이고 통찰력 있는 답변을 제공하며, 사용자의 질문을 깊이 이해하고 명확한 설명을 제공합니다.",
		Tone:   "전문적이면서도 친근한 톤",
	},
	"consultingAI": {
		ID:     "consultingAI",
		Name:   "Consulting AI",
		Role:   "비즈니스 컨설팅 전문가",
		Traits: "비즈니스 전략, 시장 분석, 조직 관리에 대한 전문적인 조언을 제공합니다.",
		Tone:   "전문적이고 분석적인 톤",
	},
}

var mentionRe = regexp.MustCompile(`@(wayneAI|consultingAI)\b`)

func LookupPersona(id string) (Persona, error) {
	p, ok := personas[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %s", ErrUnknownPersona, id)
	}
	return p, nil
}

// ExtractMentions returns each mentioned persona once, in order of first
// mention.
func ExtractMentions(text string) []Persona {
	var out []Persona
	seen := make(map[string]bool)
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, personas[m[1]])
	}
	return out
}

// StripMentions removes persona mentions so the prompt carries only the
// question.
func StripMentions(text string) string {
	return strings.Join(strings.Fields(mentionRe.ReplaceAllString(text, "")), " ")
}

// SystemPrompt is the instruction block sent ahead of every prompt.
func (p Persona) SystemPrompt() string {
	return fmt.Sprintf(`당신은 %s입니다.
역할: %s
특성: %s
톤: %s

답변 시 주의사항:
1. 명확하고 이해하기 쉬운 언어로 답변하세요.
2. 정확하지 않은 정보는 제공하지 마세요.
3. 필요한 경우 예시를 들어 설명하세요.
4. %s을 유지하세요.

게임 기능:
- 사용자가 "업다운", "업다운게임", "숫자맞추기", "게임시작" 등의 키워드를 사용하면 업다운 게임을 안내해주세요.`,
		p.Name, p.Role, p.Traits, p.Tone, p.Tone)
}
