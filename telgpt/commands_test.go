package telgpt

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commandNames(commands []SlashCommand) []string {
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.Name)
	}
	return names
}

func TestAvailableCommands(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		want   []string
	}{
		{
			name:   "openai only",
			modify: func(*Config) {},
			want: []string{
				DiscordSlashCommandQuestion,
				DiscordSlashCommandQuestionVRChat,
				DiscordSlashCommandImage,
				DiscordSlashCommandConversation,
			},
		},
		{
			name: "every provider",
			modify: func(c *Config) {
				c.Gemini.Token = "g"
				c.Claude.Token = "c"
				c.Stability.Token = "s"
				c.GitHub.Token = "gh"
			},
			want: []string{
				DiscordSlashCommandQuestion,
				DiscordSlashCommandQuestionVRChat,
				DiscordSlashCommandQuestionGemini,
				DiscordSlashCommandQuestionVRChatGemini,
				DiscordSlashCommandQuestionClaude,
				DiscordSlashCommandQuestionVRChatClaude,
				DiscordSlashCommandImage,
				DiscordSlashCommandImageStable,
				DiscordSlashCommandConversation,
				DiscordSlashCommandCreateIssue,
			},
		},
		{
			name: "no openai",
			modify: func(c *Config) {
				c.OpenAI.Token = ""
				c.Claude.Token = "c"
			},
			want: []string{
				DiscordSlashCommandQuestionClaude,
				DiscordSlashCommandQuestionVRChatClaude,
			},
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				cfg := newTestConfig(t)
				tc.modify(cfg)
				assert.Equal(t, tc.want, commandNames(AvailableCommands(cfg)))
				assert.Len(t, applicationCommands(cfg), len(tc.want))
			},
		)
	}
}

func optionNames(cmd *discordgo.ApplicationCommand) []string {
	names := make([]string, 0, len(cmd.Options))
	for _, o := range cmd.Options {
		names = append(names, o.Name)
	}
	return names
}

func TestSlashCommand_ApplicationCommand(t *testing.T) {
	tests := []struct {
		command     string
		wantOptions []string
		wantDesc    string
	}{
		{
			command:     DiscordSlashCommandQuestion,
			wantOptions: []string{commandOptionPrompt},
			wantDesc:    "TelGPT に質問します",
		},
		{
			command:     DiscordSlashCommandQuestionVRChatGemini,
			wantOptions: []string{commandOptionPrompt},
			wantDesc:    "TelGPT (Gemini) にVRChatでの開発に関して質問します",
		},
		{
			command:     DiscordSlashCommandImageStable,
			wantOptions: []string{commandOptionPrompt, commandOptionNegativePrompt},
			wantDesc:    "TelGPT (Stable Diffusion) で画像生成します",
		},
		{
			command:     DiscordSlashCommandConversation,
			wantOptions: []string{commandOptionPrompt},
			wantDesc:    "TelGPT と会話します",
		},
		{
			command:     DiscordSlashCommandCreateIssue,
			wantOptions: []string{commandOptionTitle, commandOptionMessage},
			wantDesc:    "TelGPT に関する要望を送信します",
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.command, func(t *testing.T) {
				c, ok := lookupCommand(tc.command)
				require.True(t, ok)
				cmd := c.ApplicationCommand(DefaultAssistantName)
				assert.Equal(t, tc.command, cmd.Name)
				assert.Equal(t, discordgo.ChatApplicationCommand, cmd.Type)
				assert.Equal(t, tc.wantDesc, cmd.Description)
				assert.Equal(t, tc.wantOptions, optionNames(cmd))
				assert.True(t, cmd.Options[0].Required)
				for _, o := range cmd.Options {
					assert.Equal(t, discordgo.ApplicationCommandOptionString, o.Type)
					if o.Name == commandOptionNegativePrompt {
						assert.False(t, o.Required)
					}
				}
			},
		)
	}
}

func TestSlashCommand_LongAssistantName(t *testing.T) {
	c, ok := lookupCommand(DiscordSlashCommandQuestion)
	require.True(t, ok)
	name := string(make([]rune, 150))
	cmd := c.ApplicationCommand(name)
	assert.Len(t, []rune(cmd.Description), 100)
}

func TestLookupCommand(t *testing.T) {
	c, ok := lookupCommand(DiscordSlashCommandImage)
	require.True(t, ok)
	assert.Equal(t, ProviderOpenAI, c.Provider)
	assert.Equal(t, commandKindImage, c.Kind)

	_, ok = lookupCommand("ai-unknown")
	assert.False(t, ok)
}
