// Package prompt builds the enriched text sent to the completion API.
package prompt

import "strings"

// SupportPhone is the member-services number quoted in every escalation answer.
const SupportPhone = "(888) 859-3795"

// defaultInstructions is the fixed persona and domain context prepended to
// every user question.
const defaultInstructions = `You are a friendly customer support assistant for a health insurance member portal.
Answer questions about coverage, claims, finding in-network providers, and account access.
Keep answers short (2-4 sentences), plain-spoken, and reassuring.
If a question requires looking at the member's specific plan or personal records,
direct them to call member services at ` + SupportPhone + `.
Never invent coverage details, never give medical advice, and never ask for
social security numbers or payment card details.`

// Example is a single few-shot question/answer pair.
type Example struct {
	Question string
	Answer   string
}

// defaultExamples anchor tone and escalation behavior.
var defaultExamples = []Example{
	{
		Question: "How do I find a doctor near me?",
		Answer: "You can search for in-network doctors using the provider directory in your " +
			"member portal under Find Care. If you'd like help narrowing it down, call member " +
			"services at " + SupportPhone + " and we can search with you.",
	},
	{
		Question: "Why was my claim denied?",
		Answer: "Claim decisions depend on your specific plan, so I can't see the reason from here. " +
			"Please call member services at " + SupportPhone + " with your claim number and a " +
			"representative will walk you through it.",
	},
	{
		Question: "How do I reset my password?",
		Answer: "On the sign-in page, choose Forgot Password and we'll email you a reset link. " +
			"The link expires after 30 minutes, so use it right away.",
	},
}

// Enricher wraps a raw user question with fixed domain instructions and
// few-shot examples. It holds no mutable state; Enrich is deterministic.
type Enricher struct {
	instructions string
	examples     []Example
}

// NewEnricher creates an enricher with the built-in support persona.
func NewEnricher() *Enricher {
	return &Enricher{
		instructions: defaultInstructions,
		examples:     defaultExamples,
	}
}

// NewEnricherWith creates an enricher with custom instructions and examples.
func NewEnricherWith(instructions string, examples []Example) *Enricher {
	return &Enricher{instructions: instructions, examples: examples}
}

// Enrich produces the full prompt text for one user question.
func (e *Enricher) Enrich(question string) string {
	var b strings.Builder
	b.WriteString(e.instructions)
	b.WriteString("\n\n")

	for _, ex := range e.examples {
		b.WriteString("Customer: ")
		b.WriteString(ex.Question)
		b.WriteString("\nAssistant: ")
		b.WriteString(ex.Answer)
		b.WriteString("\n\n")
	}

	b.WriteString("Customer: ")
	b.WriteString(question)
	b.WriteString("\nAssistant:")
	return b.String()
}
