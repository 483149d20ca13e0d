package telgpt

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerNames(providers map[string]Provider) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		modify        func(c *Config)
		wantProviders []string
		wantServer    bool
	}{
		{
			name:          "openai only",
			modify:        func(*Config) {},
			wantProviders: []string{ProviderOpenAI},
		},
		{
			name: "every provider",
			modify: func(c *Config) {
				c.Gemini.Token = "g"
				c.Claude.Token = "c"
				c.Stability.Token = "s"
				c.GitHub.Token = "gh"
				c.DeepL.Token = "d"
			},
			wantProviders: []string{
				ProviderClaude,
				ProviderGemini,
				ProviderGitHub,
				ProviderOpenAI,
				ProviderStability,
			},
		},
		{
			name:          "status server",
			modify:        func(c *Config) { c.StatusServer.Enabled = true },
			wantProviders: []string{ProviderOpenAI},
			wantServer:    true,
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				cfg := newTestConfig(t)
				tc.modify(cfg)
				tg, err := New(cfg)
				require.NoError(t, err)

				assert.Equal(t, tc.wantProviders, providerNames(tg.providers))
				for _, p := range tg.providers {
					assert.IsType(t, &instrumentedProvider{}, p)
				}
				assert.Equal(t, tc.wantServer, tg.server != nil)
				assert.NotNil(t, tg.Metrics())
				if cfg.DeepL.Token != "" {
					assert.IsType(t, &DeepL{}, tg.translator)
				} else {
					assert.IsType(t, noopTranslator{}, tg.translator)
				}
			},
		)
	}
}

func TestNewSetsHTTPClient(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.HTTPClient = nil
	cfg.RequestTimeout = 42 * time.Second

	_, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, cfg.HTTPClient)
	assert.Equal(t, 42*time.Second, cfg.HTTPClient.Timeout)
	assert.Same(t, cfg.HTTPClient, cfg.Discord.httpClient)
}

func newTestTelGPT(t *testing.T, cfg *Config) (*TelGPT, *mockDiscordSession) {
	t.Helper()
	tg, err := New(cfg)
	require.NoError(t, err)
	session := newMockDiscordSession(t)
	tg.discord.session = session
	return tg, session
}

func TestRun(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Discord.StatusChannelID = testStatusChannelID
	cfg.ShutdownTimeout = 5 * time.Second
	tg, session := newTestTelGPT(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- tg.Run(ctx)
	}()

	require.Eventually(
		t,
		func() bool {
			session.mu.Lock()
			defer session.mu.Unlock()
			return session.opened == 1 && len(session.commands) > 0
		},
		waitTimeout,
		waitInterval,
	)

	session.mu.Lock()
	assert.Equal(t, 6, session.handlers)
	require.NotNil(t, session.identify)
	assert.Equal(t, cfg.Discord.GatewayIntents, session.identify.Intents)
	assert.Len(t, session.commands, len(AvailableCommands(cfg)))
	session.mu.Unlock()

	tg.discord.handlerConnect()(nil, &discordgo.Connect{})
	assert.True(t, tg.discord.Connected())

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run didn't return after cancel")
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, 1, session.closed)
	assert.Equal(t, 0, session.handlers, "handlers are removed on shutdown")

	var contents []string
	for _, m := range session.sent {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{DefaultStatusStartedMessage, DefaultStatusStoppingMessage}, contents)
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := newTestConfig(t)
	tg, session := newTestTelGPT(t, cfg)
	cfg.Discord.Token = ""

	err := tg.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, session.opened)
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	t.Run(
		"drained", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.ShutdownTimeout = waitTimeout
			tg, session := newTestTelGPT(t, cfg)

			wg := &sync.WaitGroup{}
			wg.Add(1)
			finished := make(chan struct{})
			go func() {
				defer wg.Done()
				time.Sleep(50 * time.Millisecond)
				close(finished)
			}()

			require.NoError(t, tg.shutdown(wg))
			select {
			case <-finished:
			default:
				t.Fatal("shutdown returned before in-flight work finished")
			}
			assert.Equal(t, 1, session.closed)
		},
	)

	t.Run(
		"timed out", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.ShutdownTimeout = 50 * time.Millisecond
			tg, session := newTestTelGPT(t, cfg)

			wg := &sync.WaitGroup{}
			wg.Add(1)
			t.Cleanup(wg.Done)

			err := tg.shutdown(wg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "in-flight requests did not finish in time")
			assert.Equal(t, 1, session.closed, "session is closed anyway")
		},
	)
}
