package telgpt

import "errors"

var (
	// ErrInvalidAttachment is wrapped by attachment validation failures
	ErrInvalidAttachment = errors.New("invalid attachment")

	// ErrAttachmentTooLarge is returned when a download exceeds its size cap
	ErrAttachmentTooLarge = errors.New("attachment too large")

	// ErrChannelBusy is wrapped when a channel already has a request in
	// progress
	ErrChannelBusy = errors.New("channel busy")
)

const (
	busyMessage             = "回答中は質問できません。しばらくお待ちください。"
	noAttachmentMessage     = "画像が添付されていません"
	tooManyAttachments      = "画像は1枚だけ添付してください"
	invalidImageTypeMessage = "画像の形式が正しくありません"
	genericFailureMessage   = "エラーが発生しました."
)

// ValidationError is a request that was refused before any provider was
// called. Message is shown to the user as-is.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalidAttachment(message string) *ValidationError {
	return &ValidationError{Message: message, Err: ErrInvalidAttachment}
}

var errChannelBusy = &ValidationError{Message: busyMessage, Err: ErrChannelBusy}
