package agent

import (
	"fmt"
	"strings"

	"github.com/pouyahbb/polaris/pkg/domain"
)

// historyWindow caps how many prior messages are replayed to the model.
const historyWindow = 10

// BuildSystemPrompt assembles the full system message: the fixed coding
// prompt, the recent conversation (when there is one), and the instruction
// to answer only the new message. The message currently being answered and
// any message without content are left out.
func BuildSystemPrompt(history []domain.Message, currentMessageID string) string {
	rendered := renderHistory(history, currentMessageID)
	if rendered == "" {
		return systemPrompt
	}
	return strings.Join([]string{
		systemPrompt,
		historyHeader,
		rendered,
		currentRequestHeader,
	}, "\n\n")
}

func renderHistory(history []domain.Message, currentMessageID string) string {
	var kept []domain.Message
	for _, m := range history {
		if m.ID == currentMessageID {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > historyWindow {
		kept = kept[len(kept)-historyWindow:]
	}
	lines := make([]string, 0, len(kept))
	for _, m := range kept {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(string(m.Role)), m.Content))
	}
	return strings.Join(lines, "\n\n")
}
