package telgpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/lmittmann/tint"
)

const claudeTemperature = 0.7

// ClaudeMessages is the subset of [anthropic.MessageService] used here
type ClaudeMessages interface {
	New(
		ctx context.Context,
		body anthropic.MessageNewParams,
		opts ...option.RequestOption,
	) (*anthropic.Message, error)
}

// Claude answers questions and conversations through the Anthropic API
type Claude struct {
	unsupportedOperations
	messages ClaudeMessages
	config   *ClaudeConfig
	logger   *slog.Logger
}

func newClaude(config *ClaudeConfig, httpClient *http.Client, logger *slog.Logger) *Claude {
	opts := []option.RequestOption{option.WithAPIKey(config.Token)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client := anthropic.NewClient(opts...)
	return &Claude{
		unsupportedOperations: unsupportedOperations{provider: ProviderClaude},
		messages:              &client.Messages,
		config:                config,
		logger:                logger.With(loggerNameKey, "claude"),
	}
}

func (*Claude) Name() string {
	return ProviderClaude
}

func (c *Claude) Question(
	ctx context.Context,
	model string,
	prompt string,
	systemSetting string,
) ProviderResult[string] {
	return c.send(
		ctx,
		model,
		[]anthropic.TextBlockParam{{Text: languageInstruction}, {Text: systemSetting}},
		[]anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	)
}

// Conversation sends the history as real user/assistant turns. System
// messages are folded into the system prompt after the language
// instruction.
func (c *Claude) Conversation(
	ctx context.Context,
	model string,
	messages []Message,
) ProviderResult[string] {
	system := []anthropic.TextBlockParam{{Text: languageInstruction}}
	turns := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return c.send(ctx, model, system, turns)
}

func (c *Claude) send(
	ctx context.Context,
	model string,
	system []anthropic.TextBlockParam,
	messages []anthropic.MessageParam,
) ProviderResult[string] {
	logger := contextLoggerOr(ctx, c.logger)
	if model == "" {
		model = c.config.Model
	}
	maxTokens := c.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultClaudeMaxTokens
	}

	resp, err := c.messages.New(
		ctx,
		anthropic.MessageNewParams{
			Model:       anthropic.Model(model),
			MaxTokens:   maxTokens,
			System:      system,
			Messages:    messages,
			Temperature: anthropic.Float(claudeTemperature),
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "claude request failed", tint.Err(err), "model", model)
		return claudeFailure(err)
	}
	if resp == nil {
		return claudeFailure(errors.New("empty response"))
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	logger.InfoContext(
		ctx,
		"claude response generated",
		"model", model,
		"stop_reason", string(resp.StopReason),
		slog.Group(
			"usage",
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
		),
	)
	return resultOf(sb.String())
}

func claudeFailure(err error) ProviderResult[string] {
	return failure[string](ErrorCodeUnknown, fmt.Sprintf("Claude API Error: %v", err))
}
