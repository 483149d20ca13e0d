package telgpt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	testBotID     = "100"
	testUserID    = "200"
	testChannelID = "300"
	testThreadID  = "400"

	waitTimeout  = 5 * time.Second
	waitInterval = 10 * time.Millisecond
)

// newTestConfig returns a valid config with every provider token set to
// a dummy value
func newTestConfig(t testing.TB) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LogLevel.Set(slog.LevelDebug)
	cfg.Discord.Token = "discord-token"
	cfg.Discord.ApplicationID = testBotID
	cfg.OpenAI.Token = "openai-token"
	cfg.TempDir = t.TempDir()
	cfg.HTTPClient = http.DefaultClient
	return cfg
}

func newTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     slog.LevelDebug,
				AddSource: true,
			},
		),
	).With("test_name", t.Name())
}

type sentMessage struct {
	ChannelID string
	Content   string
	Embeds    []*discordgo.MessageEmbed
	Files     []*discordgo.File
}

// mockDiscordSession is a DiscordSessionHandler that records every call.
// Messages it sends are added to the channel's history, authored by the
// bot, so history reads see them.
type mockDiscordSession struct {
	mu     sync.Mutex
	logger *slog.Logger
	botID  string
	nextID int

	// history is newest first, per channel
	history  map[string][]*discordgo.Message
	channels map[string]*discordgo.Channel

	historyErr  error
	sendErr     error
	followupErr error
	channelErr  error

	sent      []sentMessage
	edits     []*discordgo.MessageEdit
	followups []*discordgo.WebhookParams
	responses []*discordgo.InteractionResponse
	threads   []*discordgo.ThreadStart
	commands  []*discordgo.ApplicationCommand
	identify  *discordgo.Identify
	handlers  int
	opened    int
	closed    int
}

func newMockDiscordSession(t testing.TB) *mockDiscordSession {
	t.Helper()
	return &mockDiscordSession{
		logger:   newTestLogger(t).With(loggerNameKey, "discord_session_handler"),
		botID:    testBotID,
		history:  map[string][]*discordgo.Message{},
		channels: map[string]*discordgo.Channel{},
	}
}

func (d *mockDiscordSession) newID() string {
	d.nextID++
	return fmt.Sprintf("m%d", d.nextID)
}

// addMessage puts a message at the top of the channel's history
func (d *mockDiscordSession) addMessage(channelID string, authorID string, content string) *discordgo.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unsafeAddMessage(channelID, authorID, content)
}

func (d *mockDiscordSession) unsafeAddMessage(
	channelID string,
	authorID string,
	content string,
) *discordgo.Message {
	m := &discordgo.Message{
		ID:        d.newID(),
		ChannelID: channelID,
		Content:   content,
		Author:    &discordgo.User{ID: authorID},
	}
	d.history[channelID] = append([]*discordgo.Message{m}, d.history[channelID]...)
	return m
}

func (d *mockDiscordSession) addChannel(ch *discordgo.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.ID] = ch
}

func (d *mockDiscordSession) sentMessages() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.sent)
}

func (d *mockDiscordSession) editedMessages() []*discordgo.MessageEdit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.edits)
}

func (d *mockDiscordSession) followupMessages() []*discordgo.WebhookParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.followups)
}

func (d *mockDiscordSession) interactionResponses() []*discordgo.InteractionResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.responses)
}

func (d *mockDiscordSession) startedThreads() []*discordgo.ThreadStart {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.threads)
}

func (d *mockDiscordSession) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened++
	d.logger.Info("opened session")
	return nil
}

func (d *mockDiscordSession) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	d.logger.Info("closed session")
	return nil
}

func (d *mockDiscordSession) AddHandler(_ any) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers++
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.handlers--
	}
}

func (d *mockDiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return nil, d.sendErr
	}
	d.logger.Info("saw message send", "channel_id", channelID, "content", content)
	d.sent = append(d.sent, sentMessage{ChannelID: channelID, Content: content})
	return d.unsafeAddMessage(channelID, d.botID, content), nil
}

func (d *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return nil, d.sendErr
	}
	d.sent = append(
		d.sent,
		sentMessage{
			ChannelID: channelID,
			Content:   data.Content,
			Embeds:    data.Embeds,
			Files:     readFiles(data.Files),
		},
	)
	return d.unsafeAddMessage(channelID, d.botID, data.Content), nil
}

// readFiles drains each file's reader, so tests can inspect the content
// after the sender has closed the underlying file
func readFiles(files []*discordgo.File) []*discordgo.File {
	out := make([]*discordgo.File, 0, len(files))
	for _, f := range files {
		data, _ := io.ReadAll(f.Reader)
		out = append(
			out,
			&discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: bytes.NewReader(data)},
		)
	}
	return out
}

func (d *mockDiscordSession) ChannelMessageEditComplex(
	m *discordgo.MessageEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	files := readFiles(m.Files)
	edit := *m
	edit.Files = files
	d.edits = append(d.edits, &edit)

	for _, hm := range d.history[m.Channel] {
		if hm.ID == m.ID {
			if m.Content != nil {
				hm.Content = *m.Content
			}
			return hm, nil
		}
	}
	return nil, fmt.Errorf("unknown message %s", m.ID)
}

func (d *mockDiscordSession) ChannelMessages(
	channelID string,
	limit int,
	_ string,
	_ string,
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.historyErr != nil {
		return nil, d.historyErr
	}
	msgs := d.history[channelID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return slices.Clone(msgs), nil
}

func (d *mockDiscordSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channelErr != nil {
		return nil, d.channelErr
	}
	if ch, ok := d.channels[channelID]; ok {
		return ch, nil
	}
	return &discordgo.Channel{ID: channelID, Type: discordgo.ChannelTypeGuildText}, nil
}

func (d *mockDiscordSession) ThreadStartComplex(
	channelID string,
	data *discordgo.ThreadStart,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threads = append(d.threads, data)
	ch := &discordgo.Channel{
		ID:       testThreadID,
		ParentID: channelID,
		Name:     data.Name,
		Type:     data.Type,
		OwnerID:  d.botID,
	}
	d.channels[ch.ID] = ch
	return ch, nil
}

func (d *mockDiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("overwrite application commands", "app_id", appID, "guild_id", guildID)
	d.commands = commands
	return commands, nil
}

func (d *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses = append(d.responses, resp)
	return nil
}

func (d *mockDiscordSession) FollowupMessageCreate(
	_ *discordgo.Interaction,
	_ bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.followupErr != nil {
		return nil, d.followupErr
	}
	params := *data
	params.Files = readFiles(data.Files)
	d.followups = append(d.followups, &params)
	return &discordgo.Message{ID: d.newID(), Content: data.Content}, nil
}

func (d *mockDiscordSession) SetIdentify(i discordgo.Identify) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identify = &i
}

func (d *mockDiscordSession) SetLogLevel(_ slog.Level) error {
	return nil
}

var errMockDiscord = errors.New("mock discord error")

// fakeProvider is a scripted Provider. Calls are recorded by operation.
type fakeProvider struct {
	mu    sync.Mutex
	name  string
	calls []fakeCall

	answer    ProviderResult[string]
	image     ProviderResult[ImageResult]
	variation ProviderResult[ImageResult]
	issue     ProviderResult[string]

	// block, if set, is waited on before any call returns
	block chan struct{}
}

type fakeCall struct {
	Operation string
	Model     string
	Prompt    string
	System    string
	Messages  []Message
	Options   imageOptions
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name}
}

func (f *fakeProvider) record(c fakeCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
}

func (f *fakeProvider) recorded() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeProvider) Name() string {
	return f.name
}

func (f *fakeProvider) Question(
	_ context.Context,
	model string,
	prompt string,
	systemSetting string,
) ProviderResult[string] {
	f.record(fakeCall{Operation: "question", Model: model, Prompt: prompt, System: systemSetting})
	return f.answer
}

func (f *fakeProvider) Conversation(
	_ context.Context,
	model string,
	messages []Message,
) ProviderResult[string] {
	f.record(fakeCall{Operation: "conversation", Model: model, Messages: messages})
	return f.answer
}

func (f *fakeProvider) GenerateImage(
	_ context.Context,
	model string,
	prompt string,
	opts ...ImageOption,
) ProviderResult[ImageResult] {
	f.record(
		fakeCall{
			Operation: "image",
			Model:     model,
			Prompt:    prompt,
			Options:   applyImageOptions(opts),
		},
	)
	return f.image
}

func (f *fakeProvider) CreateImageVariation(
	_ context.Context,
	model string,
	imagePath string,
) ProviderResult[ImageResult] {
	f.record(fakeCall{Operation: "variation", Model: model, Prompt: imagePath})
	return f.variation
}

func (f *fakeProvider) CreateIssue(
	_ context.Context,
	author string,
	title string,
	body string,
) ProviderResult[string] {
	f.record(fakeCall{Operation: "issue", Model: author, Prompt: title, System: body})
	return f.issue
}

// fakeTranslator prefixes text with "JA:"
type fakeTranslator struct {
	err error
}

func (f fakeTranslator) Translate(_ context.Context, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "JA:" + text, nil
}
