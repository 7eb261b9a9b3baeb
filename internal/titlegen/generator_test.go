package titlegen

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	resp  openai.ChatCompletionResponse
	err   error
	block bool
	req   openai.ChatCompletionRequest
}

func (s *stubCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.req = req
	if s.block {
		<-ctx.Done()
		return openai.ChatCompletionResponse{}, ctx.Err()
	}
	return s.resp, s.err
}

type recordingReporter struct {
	summaries []string
}

func (r *recordingReporter) Heartbeat(_ context.Context, summary string, _ ...string) {
	r.summaries = append(r.summaries, summary)
}

func answer(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
	}}
}

func TestGenerateTitle(t *testing.T) {
	tests := []struct {
		name     string
		stub     *stubCompleter
		want     string
		reported bool
	}{
		{name: "capitalises first letter", stub: &stubCompleter{resp: answer("  hackatime not tracking time ")}, want: "Hackatime not tracking time"},
		{name: "single rune", stub: &stubCompleter{resp: answer("x")}, want: "X"},
		{name: "api error", stub: &stubCompleter{err: errors.New("boom")}, want: FallbackTitle, reported: true},
		{name: "no choices", stub: &stubCompleter{resp: openai.ChatCompletionResponse{}}, want: FallbackTitle, reported: true},
		{name: "blank content", stub: &stubCompleter{resp: answer("   ")}, want: FallbackTitle, reported: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reporter := &recordingReporter{}
			gen := newGenerator(tt.stub, "test-model", time.Second, Dependencies{Reporter: reporter})

			got := gen.GenerateTitle(context.Background(), "my question")

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.reported, len(reporter.summaries) > 0)
			require.Len(t, tt.stub.req.Messages, 2)
			assert.Equal(t, "test-model", tt.stub.req.Model)
			assert.Contains(t, tt.stub.req.Messages[1].Content, "my question")
		})
	}
}

func TestGenerateTitle_TimeoutFallsBack(t *testing.T) {
	gen := newGenerator(&stubCompleter{block: true}, "m", 20*time.Millisecond, Dependencies{})

	start := time.Now()
	got := gen.GenerateTitle(context.Background(), "slow")

	assert.Equal(t, FallbackTitle, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerateTitle_Disabled(t *testing.T) {
	var nilGen *Generator
	assert.Equal(t, DisabledTitle, nilGen.GenerateTitle(context.Background(), "q"))
	assert.Equal(t, DisabledTitle, newGenerator(nil, "m", time.Second, Dependencies{}).GenerateTitle(context.Background(), "q"))
}
