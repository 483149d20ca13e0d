package telgpt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// ErrNoStatusChannel is returned when a notice is sent without a
// configured (or reachable) status channel
var ErrNoStatusChannel = errors.New("no status channel")

type statusKind string

const (
	statusStarted      statusKind = "started"
	statusStopping     statusKind = "stopping"
	statusReconnecting statusKind = "reconnecting"
	statusResumed      statusKind = "resumed"
)

// StatusNotifier posts lifecycle notices to the configured status channel.
// Every notice is best-effort: failures are logged and counted, and no
// send is retried.
type StatusNotifier struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger
	metrics *Metrics

	// channelID is set once the status channel has been looked up
	channelID string
	lookupMu  sync.Mutex

	// everConnected flips on the first gateway connect, after which
	// further connects are reported as resumed
	everConnected atomic.Bool
	shuttingDown  atomic.Bool

	// awaitingResume is set on disconnect and cleared by the first
	// resumed notice, so a reconnect sending both CONNECT and RESUMED
	// is only announced once
	awaitingResume atomic.Bool
}

func newStatusNotifier(
	session DiscordSessionHandler,
	config *DiscordConfig,
	metrics *Metrics,
	logger *slog.Logger,
) *StatusNotifier {
	return &StatusNotifier{
		session: session,
		config:  config,
		metrics: metrics,
		logger:  logger.With(loggerNameKey, "status"),
	}
}

// connected is called on every gateway connect
func (s *StatusNotifier) connected() {
	if s.everConnected.CompareAndSwap(false, true) {
		if err := s.lookupChannel(); err != nil {
			if !errors.Is(err, ErrNoStatusChannel) {
				s.logger.Error("unable to find status channel", tint.Err(err))
			}
			return
		}
		s.notify(statusStarted, s.config.StatusStartedMessage)
		return
	}
	s.resumed()
}

// disconnected is called when the gateway connection drops. Nothing is
// sent once shutdown has started.
func (s *StatusNotifier) disconnected() {
	if s.shuttingDown.Load() {
		return
	}
	s.awaitingResume.Store(true)
	s.notify(statusReconnecting, s.config.StatusReconnectingMessage)
}

// resumed is called when a dropped session is resumed. Only the first
// call after a disconnect sends a notice.
func (s *StatusNotifier) resumed() {
	if s.shuttingDown.Load() {
		return
	}
	if !s.awaitingResume.CompareAndSwap(true, false) {
		return
	}
	s.notify(statusResumed, s.config.StatusResumedMessage)
}

// stopping marks the notifier as shutting down and sends the stopping
// notice. Should be called before the session is closed.
func (s *StatusNotifier) stopping() {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	s.notify(statusStopping, s.config.StatusStoppingMessage)
}

func (s *StatusNotifier) lookupChannel() error {
	s.lookupMu.Lock()
	defer s.lookupMu.Unlock()
	if s.channelID != "" {
		return nil
	}
	if s.config.StatusChannelID == "" {
		return ErrNoStatusChannel
	}
	ch, err := s.session.Channel(
		s.config.StatusChannelID,
		discordgo.WithRetryOnRatelimit(false),
		discordgo.WithRestRetries(1),
	)
	if err != nil {
		return fmt.Errorf("error looking up status channel: %w", err)
	}
	if ch == nil {
		return ErrNoStatusChannel
	}
	s.channelID = ch.ID
	return nil
}

func (s *StatusNotifier) statusChannelID() string {
	s.lookupMu.Lock()
	defer s.lookupMu.Unlock()
	return s.channelID
}

func (s *StatusNotifier) notify(kind statusKind, content string) {
	channelID := s.statusChannelID()
	if channelID == "" || content == "" {
		return
	}
	_, err := s.session.ChannelMessageSend(
		channelID,
		content,
		discordgo.WithRetryOnRatelimit(false),
		discordgo.WithRestRetries(1),
	)
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
		s.logger.Error(
			"unable to send status notice",
			tint.Err(err),
			"kind", string(kind),
			"channel_id", channelID,
		)
	} else {
		s.logger.Info("sent status notice", "kind", string(kind), "channel_id", channelID)
	}
	if s.metrics != nil {
		s.metrics.statusNotices.WithLabelValues(string(kind), outcome).Inc()
	}
}
