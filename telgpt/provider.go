package telgpt

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Role is the author role of a Message sent to a chat provider
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Provider names, used as metric labels and to look providers up
const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderClaude    = "claude"
	ProviderStability = "stability"
	ProviderGitHub    = "github"
)

const (
	// ErrorCodeUnknown is used for failures that don't carry a
	// provider-specific code (transport errors, SDK errors, etc.)
	ErrorCodeUnknown = "1"

	// ErrorCodeUnsupported is returned by providers for operations
	// they don't implement
	ErrorCodeUnsupported = "unsupported"

	openAIContentPolicyViolation = "content_policy_violation"

	contentPolicyMessage = "コンテンツポリシー違反です. 他の質問をしてください."
	genericErrorMessage  = "エラーが発生しました. Error Code: "

	// languageInstruction is always sent ahead of the persona text for
	// single-turn questions
	languageInstruction = "Your response should be in Japanese."
)

// Message is a single role-tagged entry in a conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ProviderError is the error half of a ProviderResult. Code is either a
// provider's own error code, an HTTP status, or ErrorCodeUnknown. Message
// is meant to be shown to the user as-is.
type ProviderError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ProviderError) Error() string {
	return e.Message
}

// ProviderResult holds either a successful Response or an Error, never both.
type ProviderResult[T any] struct {
	Response T
	Error    *ProviderError
}

// OK is true when the call succeeded
func (r ProviderResult[T]) OK() bool {
	return r.Error == nil
}

func resultOf[T any](v T) ProviderResult[T] {
	return ProviderResult[T]{Response: v}
}

func failure[T any](code string, message string) ProviderResult[T] {
	return ProviderResult[T]{Error: &ProviderError{Code: code, Message: message}}
}

func unknownFailure[T any](err error) ProviderResult[T] {
	return failure[T](ErrorCodeUnknown, fmt.Sprintf("Unknown Error %v", err))
}

// ImageResult describes a generated image. Remote images carry a URL;
// images written locally carry a FilePath instead, which the caller owns
// and should Remove once it's been sent.
type ImageResult struct {
	URL          string `json:"url,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
	Seed         int64  `json:"seed,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Remove deletes the local file backing the image, if there is one
func (r ImageResult) Remove() error {
	if r.FilePath == "" {
		return nil
	}
	if err := os.Remove(r.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type imageOptions struct {
	negativePrompt string
}

// ImageOption modifies an image generation request
type ImageOption func(*imageOptions)

// WithNegativePrompt describes what the generated image should avoid.
// Only used by providers that support it.
func WithNegativePrompt(prompt string) ImageOption {
	return func(o *imageOptions) {
		o.negativePrompt = prompt
	}
}

func applyImageOptions(opts []ImageOption) imageOptions {
	var o imageOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Provider is implemented once per external service. Implementations
// never return a Go error: every failure is reported through
// ProviderResult.Error, with a message suitable for showing to the user.
type Provider interface {
	// Name identifies the provider (ProviderOpenAI, etc.)
	Name() string

	// Question sends a single-turn prompt. The language instruction is
	// sent first, then systemSetting, then prompt.
	Question(ctx context.Context, model string, prompt string, systemSetting string) ProviderResult[string]

	// Conversation sends the messages, in order, as a multi-turn chat.
	Conversation(ctx context.Context, model string, messages []Message) ProviderResult[string]

	// GenerateImage creates an image from the prompt.
	GenerateImage(ctx context.Context, model string, prompt string, opts ...ImageOption) ProviderResult[ImageResult]

	// CreateImageVariation creates a variation of the image at imagePath.
	CreateImageVariation(ctx context.Context, model string, imagePath string) ProviderResult[ImageResult]

	// CreateIssue opens an issue on behalf of author.
	CreateIssue(ctx context.Context, author string, title string, body string) ProviderResult[string]
}

// unsupportedOperations can be embedded by providers to fill in the
// operations they don't support
type unsupportedOperations struct {
	provider string
}

func (u unsupportedOperations) unsupported(op string) *ProviderError {
	return &ProviderError{
		Code:    ErrorCodeUnsupported,
		Message: fmt.Sprintf("%s does not support %s", u.provider, op),
	}
}

func (u unsupportedOperations) Question(context.Context, string, string, string) ProviderResult[string] {
	return ProviderResult[string]{Error: u.unsupported("question")}
}

func (u unsupportedOperations) Conversation(context.Context, string, []Message) ProviderResult[string] {
	return ProviderResult[string]{Error: u.unsupported("conversation")}
}

func (u unsupportedOperations) GenerateImage(
	context.Context,
	string,
	string,
	...ImageOption,
) ProviderResult[ImageResult] {
	return ProviderResult[ImageResult]{Error: u.unsupported("image generation")}
}

func (u unsupportedOperations) CreateImageVariation(
	context.Context,
	string,
	string,
) ProviderResult[ImageResult] {
	return ProviderResult[ImageResult]{Error: u.unsupported("image variations")}
}

func (u unsupportedOperations) CreateIssue(context.Context, string, string, string) ProviderResult[string] {
	return ProviderResult[string]{Error: u.unsupported("issues")}
}
