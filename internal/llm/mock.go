package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

// Generate picks the first word of every `{...}` line in the prompt.
func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return consumer(Chunk{
		Content: mockSentence(req.Prompt),
		Partial: false,
		Latency: 20 * time.Millisecond,
		TraceID: req.TraceID,
	})
}

func mockSentence(prompt string) string {
	var words []string
	afterLists := !strings.Contains(prompt, "Lists:")
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if line == "Lists:" {
			afterLists = true
			continue
		}
		if !afterLists || !strings.HasPrefix(line, "{") {
			continue
		}
		word := strings.TrimPrefix(line, "{")
		if i := strings.IndexAny(word, "(,}"); i >= 0 {
			word = word[:i]
		}
		if word = strings.TrimSpace(word); word != "" {
			words = append(words, word)
		}
	}
	if len(words) == 0 {
		return "[mock completion]"
	}
	sentence := strings.Join(words, " ")
	return strings.ToUpper(sentence[:1]) + sentence[1:] + "."
}
