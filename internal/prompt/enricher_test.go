package prompt

import (
	"strings"
	"testing"
)

func TestEnrich_ContainsQuestionAndPhone(t *testing.T) {
	e := NewEnricher()
	question := "Is my doctor covered under my insurance?"

	out := e.Enrich(question)

	if !strings.Contains(out, question) {
		t.Errorf("enriched prompt missing literal question %q", question)
	}
	if !strings.Contains(out, "(888) 859-3795") {
		t.Error("enriched prompt missing support phone number")
	}
}

func TestEnrich_Deterministic(t *testing.T) {
	e := NewEnricher()

	first := e.Enrich("hello")
	second := e.Enrich("hello")

	if first != second {
		t.Error("expected identical output for identical input")
	}
}

func TestEnrich_QuestionLast(t *testing.T) {
	e := NewEnricher()
	question := "What is my deductible?"

	out := e.Enrich(question)

	idx := strings.LastIndex(out, "Customer: ")
	if idx < 0 {
		t.Fatal("expected a Customer: turn in the prompt")
	}
	tail := out[idx:]
	if !strings.Contains(tail, question) {
		t.Errorf("expected the user question in the final turn, got %q", tail)
	}
	if !strings.HasSuffix(out, "Assistant:") {
		t.Errorf("expected prompt to end with an open Assistant turn, got %q", out[len(out)-20:])
	}
}

func TestEnrich_CustomInstructions(t *testing.T) {
	e := NewEnricherWith("Answer in French.", nil)

	out := e.Enrich("bonjour")

	if !strings.Contains(out, "Answer in French.") {
		t.Error("expected custom instructions in prompt")
	}
	if strings.Contains(out, "health insurance") {
		t.Error("custom enricher must not include the default persona")
	}
}
