package telgpt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// chunkText splits text into pieces Discord will accept. Text within
// discordMaxMessageLength runes is returned as-is, anything longer is cut
// every discordMessageChunkSize runes.
func chunkText(text string) []string {
	if utf8.RuneCountInString(text) <= discordMaxMessageLength {
		return []string{text}
	}
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/discordMessageChunkSize+1)
	for i := 0; i < len(runes); i += discordMessageChunkSize {
		end := min(i+discordMessageChunkSize, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// fencedBlock wraps s in a code fence
func fencedBlock(s string) string {
	return "```" + s + "```"
}

// ResponseFormatter renders provider output back to Discord
type ResponseFormatter struct {
	session    DiscordSessionHandler
	translator Translator
	logger     *slog.Logger
}

func newResponseFormatter(
	session DiscordSessionHandler,
	translator Translator,
	logger *slog.Logger,
) *ResponseFormatter {
	if translator == nil {
		translator = noopTranslator{}
	}
	return &ResponseFormatter{
		session:    session,
		translator: translator,
		logger:     logger,
	}
}

// FollowUp answers a deferred interaction. The first chunk is the
// follow-up message, any others are posted to the interaction's channel.
func (f *ResponseFormatter) FollowUp(
	ctx context.Context,
	i *discordgo.Interaction,
	content string,
) error {
	chunks := chunkText(content)
	if _, err := f.session.FollowupMessageCreate(
		i,
		true,
		&discordgo.WebhookParams{Content: chunks[0]},
	); err != nil {
		return fmt.Errorf("error sending followup: %w", err)
	}
	return f.sendChunks(ctx, i.ChannelID, chunks[1:])
}

// Send posts content to the channel, split into as many messages as needed
func (f *ResponseFormatter) Send(ctx context.Context, channelID string, content string) error {
	return f.sendChunks(ctx, channelID, chunkText(content))
}

// SendRaw posts a single message without chunking
func (f *ResponseFormatter) SendRaw(channelID string, content string) (*discordgo.Message, error) {
	msg, err := f.session.ChannelMessageSend(channelID, content)
	if err != nil {
		return nil, fmt.Errorf("error sending message: %w", err)
	}
	return msg, nil
}

func (f *ResponseFormatter) sendChunks(_ context.Context, channelID string, chunks []string) error {
	for _, chunk := range chunks {
		if _, err := f.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("error sending message: %w", err)
		}
	}
	return nil
}

// EditPlaceholder replaces the placeholder's content with the first chunk
// of content, and posts the rest to the placeholder's channel.
func (f *ResponseFormatter) EditPlaceholder(
	ctx context.Context,
	placeholder *discordgo.Message,
	content string,
) error {
	chunks := chunkText(content)
	edit := discordgo.NewMessageEdit(placeholder.ChannelID, placeholder.ID).SetContent(chunks[0])
	if _, err := f.session.ChannelMessageEditComplex(edit); err != nil {
		return fmt.Errorf("error editing message: %w", err)
	}
	return f.sendChunks(ctx, placeholder.ChannelID, chunks[1:])
}

// imageMessage is a rendered image reply
type imageMessage struct {
	content string
	embed   *discordgo.MessageEmbed
	files   []*discordgo.File
	close   func()
}

// renderImage builds the reply for img: header, then the prompt in a
// fenced block, plus an embed of the image. Remote images carry the
// provider's revised prompt, which is translated. Local images are
// attached and referenced by the embed, and their prompt is shown as
// given. close must always be called.
func (f *ResponseFormatter) renderImage(
	ctx context.Context,
	header string,
	img ImageResult,
) (imageMessage, error) {
	msg := imageMessage{
		embed: &discordgo.MessageEmbed{},
		close: func() {},
	}

	if img.FilePath == "" {
		msg.content = header + fencedBlock(f.translate(ctx, img.Prompt))
		msg.embed.Image = &discordgo.MessageEmbedImage{URL: img.URL}
		return msg, nil
	}
	msg.content = header + fencedBlock(img.Prompt)

	fh, err := os.Open(img.FilePath)
	if err != nil {
		return msg, fmt.Errorf("error opening image: %w", err)
	}
	name := filepath.Base(img.FilePath)
	msg.files = []*discordgo.File{{Name: name, ContentType: "image/png", Reader: fh}}
	msg.embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + name}
	msg.close = func() {
		_ = fh.Close()
	}
	return msg, nil
}

// translate returns the translated text, or the original text if
// translation fails
func (f *ResponseFormatter) translate(ctx context.Context, text string) string {
	if text == "" {
		return text
	}
	translated, err := f.translator.Translate(ctx, text)
	if err != nil {
		contextLoggerOr(ctx, f.logger).WarnContext(
			ctx,
			"translation failed, using original prompt",
			tint.Err(err),
		)
		return text
	}
	return translated
}

// FollowUpImage answers a deferred interaction with an image
func (f *ResponseFormatter) FollowUpImage(
	ctx context.Context,
	i *discordgo.Interaction,
	header string,
	img ImageResult,
) error {
	msg, err := f.renderImage(ctx, header, img)
	defer msg.close()
	if err != nil {
		return err
	}
	chunks := chunkText(msg.content)
	if _, err = f.session.FollowupMessageCreate(
		i,
		true,
		&discordgo.WebhookParams{
			Content: chunks[0],
			Embeds:  []*discordgo.MessageEmbed{msg.embed},
			Files:   msg.files,
		},
	); err != nil {
		return fmt.Errorf("error sending image followup: %w", err)
	}
	return f.sendChunks(ctx, i.ChannelID, chunks[1:])
}

// SendImage posts an image to the channel
func (f *ResponseFormatter) SendImage(
	ctx context.Context,
	channelID string,
	header string,
	img ImageResult,
) error {
	msg, err := f.renderImage(ctx, header, img)
	defer msg.close()
	if err != nil {
		return err
	}
	chunks := chunkText(msg.content)
	if _, err = f.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{
			Content: chunks[0],
			Embeds:  []*discordgo.MessageEmbed{msg.embed},
			Files:   msg.files,
		},
	); err != nil {
		return fmt.Errorf("error sending image: %w", err)
	}
	return f.sendChunks(ctx, channelID, chunks[1:])
}

// EditPlaceholderImage replaces the placeholder with an image reply
func (f *ResponseFormatter) EditPlaceholderImage(
	ctx context.Context,
	placeholder *discordgo.Message,
	header string,
	img ImageResult,
) error {
	msg, err := f.renderImage(ctx, header, img)
	defer msg.close()
	if err != nil {
		return err
	}
	return f.editWithEmbed(ctx, placeholder, msg.content, msg.embed, msg.files)
}

// EditPlaceholderEmbed replaces the placeholder's content and adds an
// embed of the image, without a prompt block
func (f *ResponseFormatter) EditPlaceholderEmbed(
	ctx context.Context,
	placeholder *discordgo.Message,
	content string,
	imageURL string,
) error {
	return f.editWithEmbed(
		ctx,
		placeholder,
		content,
		&discordgo.MessageEmbed{Image: &discordgo.MessageEmbedImage{URL: imageURL}},
		nil,
	)
}

func (f *ResponseFormatter) editWithEmbed(
	ctx context.Context,
	placeholder *discordgo.Message,
	content string,
	embed *discordgo.MessageEmbed,
	files []*discordgo.File,
) error {
	chunks := chunkText(content)
	edit := discordgo.NewMessageEdit(placeholder.ChannelID, placeholder.ID).
		SetContent(chunks[0]).
		SetEmbed(embed)
	edit.Files = files
	if _, err := f.session.ChannelMessageEditComplex(edit); err != nil {
		return fmt.Errorf("error editing message: %w", err)
	}
	return f.sendChunks(ctx, placeholder.ChannelID, chunks[1:])
}

// StartThread creates a public thread in channelID, named after name
// (trimmed to Discord's limit)
func (f *ResponseFormatter) StartThread(
	_ context.Context,
	channelID string,
	name string,
) (*discordgo.Channel, error) {
	threadName := truncate(name, discordMaxThreadNameLength)
	if threadName == "" {
		threadName = "TelGPT"
	}
	ch, err := f.session.ThreadStartComplex(
		channelID,
		&discordgo.ThreadStart{
			Name:                threadName,
			AutoArchiveDuration: threadAutoArchiveMinutes,
			Type:                discordgo.ChannelTypeGuildPublicThread,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error creating thread: %w", err)
	}
	return ch, nil
}
