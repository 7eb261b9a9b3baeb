// Package titlegen summarises a question into a short ticket title using an
// OpenAI compatible chat completion endpoint.
package titlegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/observability"
)

const (
	// FallbackTitle is used when the model fails or answers with nothing.
	FallbackTitle = "No title provided by AI."
	// DisabledTitle is used when no API key is configured.
	DisabledTitle = "No title available from AI."
)

const systemPrompt = "You are a helpful assistant that helps organise tickets for Hack Club's support team. " +
	"You're going to take in a message and give it a title. You will return no other content. " +
	"Do NOT use title case but use capital letter at start of sentence + use capital letters for terms/proper nouns. " +
	"Avoid quote marks. Even if it's silly please summarise it. Use no more than 7 words, but as few as possible. " +
	"Hackatime, Flavortown, and Hack Club should always be capitalized correctly. " +
	"Same goes for terms like VSCode, PyCharm, API, and GitHub."

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Reporter receives operator notifications about failed generations.
type Reporter interface {
	Heartbeat(ctx context.Context, summary string, details ...string)
}

// Generator produces ticket titles. GenerateTitle never fails: every error
// path returns a fixed fallback string.
type Generator struct {
	client   chatCompleter
	model    string
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
	reporter Reporter
}

// Dependencies bundles the optional collaborators of a Generator.
type Dependencies struct {
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Reporter Reporter
}

// New builds a generator from configuration. Without an API key the
// generator is disabled and always returns DisabledTitle.
func New(cfg config.AIConfig, deps Dependencies) *Generator {
	var client chatCompleter
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		client = openai.NewClientWithConfig(clientCfg)
	}
	return newGenerator(client, cfg.Model, cfg.Timeout(), deps)
}

func newGenerator(client chatCompleter, model string, timeout time.Duration, deps Dependencies) *Generator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:   client,
		model:    model,
		timeout:  timeout,
		logger:   logger,
		metrics:  deps.Metrics,
		reporter: deps.Reporter,
	}
}

// SetReporter installs the operator notification sink after construction.
func (g *Generator) SetReporter(r Reporter) {
	g.reporter = r
}

// GenerateTitle asks the model for a title for text.
func (g *Generator) GenerateTitle(ctx context.Context, text string) string {
	if g == nil || g.client == nil {
		return DisabledTitle
	}

	start := time.Now()
	defer func() { g.metrics.ObserveTitleGeneration(time.Since(start)) }()

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Here is a message from a user: %s\n\nPlease give this ticket a title.", text)},
		},
	})
	if err != nil {
		reason := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timed out"
		}
		g.logger.Warn("title generation failed", zap.String("reason", reason), zap.Error(err))
		g.report(ctx, fmt.Sprintf("Failed to get AI response for ticket creation: %v", err))
		return FallbackTitle
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		g.logger.Warn("title generation returned no content", zap.String("id", resp.ID))
		g.report(ctx, "AI title generation is missing content")
		return FallbackTitle
	}
	return capitalize(strings.TrimSpace(resp.Choices[0].Message.Content))
}

func (g *Generator) report(ctx context.Context, summary string) {
	if g.reporter != nil {
		g.reporter.Heartbeat(ctx, summary)
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
