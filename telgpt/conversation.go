package telgpt

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/lmittmann/tint"
)

// ConversationState answers two questions about a channel from its
// recent history: is the bot mid-answer, and what has been said so far.
// Nothing is cached; every call reads the channel again.
type ConversationState struct {
	session          DiscordSessionHandler
	botUserID        func() string
	answeringMessage string
	logger           *slog.Logger
}

func newConversationState(
	session DiscordSessionHandler,
	botUserID func() string,
	answeringMessage string,
	logger *slog.Logger,
) *ConversationState {
	return &ConversationState{
		session:          session,
		botUserID:        botUserID,
		answeringMessage: answeringMessage,
		logger:           logger,
	}
}

// IsBusy is true when the latest message in the channel is the bot's
// placeholder. Failing to read the channel counts as not busy.
func (c *ConversationState) IsBusy(ctx context.Context, channelID string) bool {
	logger := contextLoggerOr(ctx, c.logger)
	msgs, err := c.session.ChannelMessages(channelID, 1, "", "", "")
	if err != nil {
		logger.WarnContext(
			ctx,
			"unable to check latest message, assuming not busy",
			tint.Err(err),
			"channel_id", channelID,
		)
		return false
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return false
	}
	latest := msgs[0]
	return authoredBy(latest, c.botUserID()) && latest.Content == c.answeringMessage
}

// CollectContext returns up to limit of the channel's latest messages,
// oldest first, tagged as assistant (the bot) or user (anyone else).
// The bot's own placeholders are left out.
func (c *ConversationState) CollectContext(
	ctx context.Context,
	channelID string,
	limit int,
) ([]Message, error) {
	if limit <= 0 {
		limit = conversationHistoryLimit
	}
	msgs, err := c.session.ChannelMessages(channelID, limit, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("error fetching channel history: %w", err)
	}

	botID := c.botUserID()
	history := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		role := RoleUser
		if authoredBy(m, botID) {
			if m.Content == c.answeringMessage {
				continue
			}
			role = RoleAssistant
		}
		history = append(history, Message{Role: role, Content: m.Content})
	}
	slices.Reverse(history)
	contextLoggerOr(ctx, c.logger).DebugContext(
		ctx,
		"collected conversation context",
		"channel_id", channelID,
		"messages", len(history),
	)
	return history, nil
}

// threadLocks is a per-channel try-lock, so two message-driven requests in
// the same channel can't both get past the busy check before either has
// posted its placeholder.
type threadLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newThreadLocks() *threadLocks {
	return &threadLocks{active: map[string]struct{}{}}
}

// TryAcquire locks the channel if it isn't already. The returned release
// func must be called once the request is done, and is safe to call more
// than once.
func (t *threadLocks) TryAcquire(channelID string) (release func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, held := t.active[channelID]; held {
		return func() {}, false
	}
	t.active[channelID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(
			func() {
				t.mu.Lock()
				delete(t.active, channelID)
				t.mu.Unlock()
			},
		)
	}, true
}
