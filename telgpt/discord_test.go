package telgpt

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiscord(t *testing.T) (*Discord, *mockDiscordSession) {
	t.Helper()
	cfg := newTestConfig(t)
	d := newDiscord(cfg.Discord, newTestLogger(t))
	session := newMockDiscordSession(t)
	d.session = session
	d.metrics = newMetrics()
	return d, session
}

func TestDiscord_GatewayHandlers(t *testing.T) {
	d, _ := newTestDiscord(t)
	assert.False(t, d.Connected())

	d.handlerConnect()(nil, &discordgo.Connect{})
	assert.True(t, d.Connected())

	d.handlerDisconnect()(nil, &discordgo.Disconnect{})
	assert.False(t, d.Connected())

	d.handlerResumed()(nil, &discordgo.Resumed{})
	assert.True(t, d.Connected())

	d.handlerConnect()(nil, &discordgo.Connect{})
	connects, disconnects := d.GatewayCounts()
	assert.Equal(t, int64(2), connects)
	assert.Equal(t, int64(1), disconnects)

	assert.Equal(t, float64(2), testutil.ToFloat64(d.metrics.gatewayEvents.WithLabelValues("connect")))
	assert.Equal(t, float64(1), testutil.ToFloat64(d.metrics.gatewayEvents.WithLabelValues("resumed")))
}

func TestDiscord_BotUserID(t *testing.T) {
	d, _ := newTestDiscord(t)
	assert.Equal(t, testBotID, d.BotUserID(), "falls back to the application id")

	d.handlerReady()(nil, &discordgo.Ready{User: &discordgo.User{ID: "777", Username: "TelGPT"}})
	assert.Equal(t, "777", d.BotUserID())
}

func TestDiscord_RegisterCommands(t *testing.T) {
	d, session := newTestDiscord(t)

	created, err := d.registerCommands(nil)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Nil(t, session.commands)

	commands := applicationCommands(newTestConfig(t))
	created, err = d.registerCommands(commands)
	require.NoError(t, err)
	assert.Len(t, created, len(commands))
	assert.Equal(t, commands, session.commands)
}
