package telgpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lmittmann/tint"
	"google.golang.org/genai"
)

// GeminiModels is the subset of [genai.Models] used here
type GeminiModels interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Gemini answers questions and conversations through the Gemini API
type Gemini struct {
	unsupportedOperations
	models GeminiModels
	config *GeminiConfig
	logger *slog.Logger
}

func newGemini(
	ctx context.Context,
	config *GeminiConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) (*Gemini, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:     config.Token,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{
		unsupportedOperations: unsupportedOperations{provider: ProviderGemini},
		models:                client.Models,
		config:                config,
		logger:                logger.With(loggerNameKey, "gemini"),
	}, nil
}

func (*Gemini) Name() string {
	return ProviderGemini
}

func (g *Gemini) Question(
	ctx context.Context,
	model string,
	prompt string,
	systemSetting string,
) ProviderResult[string] {
	return g.generate(
		ctx,
		model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		systemInstruction(languageInstruction, systemSetting),
	)
}

func (g *Gemini) Conversation(
	ctx context.Context,
	model string,
	messages []Message,
) ProviderResult[string] {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return g.generate(
		ctx,
		model,
		contents,
		systemInstruction(append([]string{languageInstruction}, system...)...),
	)
}

func systemInstruction(texts ...string) *genai.Content {
	parts := make([]*genai.Part, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, &genai.Part{Text: t})
	}
	return &genai.Content{Parts: parts}
}

func (g *Gemini) generate(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	system *genai.Content,
) ProviderResult[string] {
	logger := contextLoggerOr(ctx, g.logger)
	if model == "" {
		model = g.config.Model
	}
	resp, err := g.models.GenerateContent(
		ctx,
		model,
		contents,
		&genai.GenerateContentConfig{SystemInstruction: system},
	)
	if err != nil {
		logger.ErrorContext(ctx, "gemini request failed", tint.Err(err), "model", model)
		return geminiFailure(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return geminiFailure(errors.New("no candidates returned"))
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		sb.WriteString(part.Text)
	}
	logger.InfoContext(
		ctx,
		"gemini response generated",
		"model", model,
		"tokens", resp.Candidates[0].TokenCount,
	)
	return resultOf(sb.String())
}

func geminiFailure(err error) ProviderResult[string] {
	return failure[string](ErrorCodeUnknown, fmt.Sprintf("Gemini API Error: %v", err))
}
