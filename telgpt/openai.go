package telgpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
)

const openAIVariationSize = openai.CreateImageSize1024x1024

// OpenAIClient is the subset of [openai.Client] used here
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (response openai.ChatCompletionResponse, err error)

	CreateImage(
		ctx context.Context,
		request openai.ImageRequest,
	) (response openai.ImageResponse, err error)

	CreateVariImage(
		ctx context.Context,
		request openai.ImageVariRequest,
	) (response openai.ImageResponse, err error)
}

// OpenAI provides chat, image generation and image variations
type OpenAI struct {
	unsupportedOperations
	client OpenAIClient
	config *OpenAIConfig
	logger *slog.Logger
}

func newOpenAI(config *OpenAIConfig, httpClient *http.Client) *OpenAI {
	o := &OpenAI{
		unsupportedOperations: unsupportedOperations{provider: ProviderOpenAI},
		config:                config,
		logger:                newLogger(config.LogLevel, "openai"),
	}

	clientCfg := openai.DefaultConfig(config.Token)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	o.client = openai.NewClientWithConfig(clientCfg)
	return o
}

func (*OpenAI) Name() string {
	return ProviderOpenAI
}

func (o *OpenAI) Question(
	ctx context.Context,
	model string,
	prompt string,
	systemSetting string,
) ProviderResult[string] {
	return o.chat(
		ctx,
		model,
		[]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: languageInstruction},
			{Role: openai.ChatMessageRoleSystem, Content: systemSetting},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	)
}

func (o *OpenAI) Conversation(
	ctx context.Context,
	model string,
	messages []Message,
) ProviderResult[string] {
	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		chatMessages = append(
			chatMessages,
			openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content},
		)
	}
	return o.chat(ctx, model, chatMessages)
}

func (o *OpenAI) chat(
	ctx context.Context,
	model string,
	messages []openai.ChatCompletionMessage,
) ProviderResult[string] {
	logger := contextLoggerOr(ctx, o.logger)
	if model == "" {
		model = o.config.ChatModel
	}
	logger.DebugContext(ctx, "creating chat completion", "model", model, "messages", len(messages))

	resp, err := o.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{Model: model, Messages: messages},
	)
	if err != nil {
		logger.ErrorContext(ctx, "chat completion failed", tint.Err(err), "model", model)
		return openAIFailure[string](err)
	}
	if len(resp.Choices) == 0 {
		err = errors.New("no choices in response")
		logger.ErrorContext(ctx, "chat completion failed", tint.Err(err), "id", resp.ID)
		return unknownFailure[string](err)
	}
	logger.InfoContext(
		ctx,
		"chat completion finished",
		"id", resp.ID,
		"model", resp.Model,
		slog.Group(
			"usage",
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		),
	)
	return resultOf(resp.Choices[0].Message.Content)
}

func (o *OpenAI) GenerateImage(
	ctx context.Context,
	model string,
	prompt string,
	_ ...ImageOption,
) ProviderResult[ImageResult] {
	logger := contextLoggerOr(ctx, o.logger)
	if model == "" {
		model = o.config.ImageModel
	}
	resp, err := o.client.CreateImage(
		ctx,
		openai.ImageRequest{
			Prompt:         prompt,
			Model:          model,
			N:              1,
			Size:           openai.CreateImageSize1024x1024,
			ResponseFormat: openai.CreateImageResponseFormatURL,
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "image generation failed", tint.Err(err), "model", model)
		return openAIFailure[ImageResult](err)
	}
	if len(resp.Data) == 0 {
		return unknownFailure[ImageResult](errors.New("no image in response"))
	}
	logger.InfoContext(ctx, "generated image", "model", model)
	return resultOf(ImageResult{URL: resp.Data[0].URL, Prompt: resp.Data[0].RevisedPrompt})
}

func (o *OpenAI) CreateImageVariation(
	ctx context.Context,
	model string,
	imagePath string,
) ProviderResult[ImageResult] {
	logger := contextLoggerOr(ctx, o.logger)
	if model == "" {
		model = o.config.VariationModel
	}
	f, err := os.Open(imagePath)
	if err != nil {
		logger.ErrorContext(ctx, "unable to open image", tint.Err(err), "path", imagePath)
		return unknownFailure[ImageResult](err)
	}
	defer func() {
		_ = f.Close()
	}()

	resp, err := o.client.CreateVariImage(
		ctx,
		openai.ImageVariRequest{
			Image: f,
			Model: model,
			N:     1,
			Size:  openAIVariationSize,
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "image variation failed", tint.Err(err), "model", model)
		return openAIFailure[ImageResult](err)
	}
	if len(resp.Data) == 0 {
		return unknownFailure[ImageResult](errors.New("no image in response"))
	}
	logger.InfoContext(ctx, "created image variation", "model", model)
	return resultOf(ImageResult{URL: resp.Data[0].URL, Prompt: resp.Data[0].RevisedPrompt})
}

// openAIFailure maps an error from the OpenAI client to a ProviderError.
// API errors keep their code; everything else is ErrorCodeUnknown.
func openAIFailure[T any](err error) ProviderResult[T] {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return unknownFailure[T](err)
	}
	code := openAIErrorCode(apiErr)
	if code == openAIContentPolicyViolation {
		return failure[T](code, contentPolicyMessage)
	}
	return failure[T](code, genericErrorMessage+code)
}

func openAIErrorCode(apiErr *openai.APIError) string {
	switch c := apiErr.Code.(type) {
	case string:
		if c != "" {
			return c
		}
	case nil:
	default:
		return fmt.Sprintf("%v", c)
	}
	if apiErr.HTTPStatusCode != 0 {
		return fmt.Sprintf("%d", apiErr.HTTPStatusCode)
	}
	return ErrorCodeUnknown
}
