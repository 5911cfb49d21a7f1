package agent

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pouyahbb/polaris/pkg/domain"
)

func TestBuildSystemPromptWithoutHistory(t *testing.T) {
	got := BuildSystemPrompt(nil, "m-current")
	if got != systemPrompt {
		t.Fatalf("empty history should yield the bare system prompt")
	}
	if strings.Contains(got, historyHeader) {
		t.Fatalf("history header must not appear without history")
	}
}

func TestBuildSystemPromptExcludesCurrentAndEmpty(t *testing.T) {
	history := []domain.Message{
		{ID: "m1", Role: domain.RoleUser, Content: "make a todo app"},
		{ID: "m2", Role: domain.RoleAssistant, Content: "I created index.html"},
		{ID: "m3", Role: domain.RoleUser, Content: "now style it"},
		{ID: "m-current", Role: domain.RoleAssistant, Content: ""},
	}
	got := BuildSystemPrompt(history, "m-current")

	if !strings.Contains(got, historyHeader) || !strings.Contains(got, currentRequestHeader) {
		t.Fatalf("prompt missing section headers:\n%s", got)
	}
	if !strings.Contains(got, "USER: make a todo app") {
		t.Fatalf("user line missing:\n%s", got)
	}
	if !strings.Contains(got, "ASSISTANT: I created index.html") {
		t.Fatalf("assistant line missing:\n%s", got)
	}
	if strings.Contains(got, "m-current") {
		t.Fatalf("in-flight message leaked into the prompt")
	}
	userAt := strings.Index(got, "USER: make a todo app")
	styleAt := strings.Index(got, "USER: now style it")
	if styleAt < userAt {
		t.Fatalf("history must be oldest first")
	}
}

func TestBuildSystemPromptWindowKeepsNewest(t *testing.T) {
	var history []domain.Message
	for i := 0; i < historyWindow+5; i++ {
		history = append(history, domain.Message{
			ID:      fmt.Sprintf("m%d", i),
			Role:    domain.RoleUser,
			Content: fmt.Sprintf("request number %d", i),
		})
	}
	got := BuildSystemPrompt(history, "none")
	if strings.Contains(got, "request number 0") {
		t.Fatalf("oldest entries should fall out of the window")
	}
	if !strings.Contains(got, fmt.Sprintf("request number %d", historyWindow+4)) {
		t.Fatalf("newest entry missing from the window")
	}
}
