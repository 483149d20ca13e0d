package telgpt

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const (
	DiscordSlashCommandQuestion             = "ai-question"
	DiscordSlashCommandQuestionVRChat       = "ai-question-dev-vrc"
	DiscordSlashCommandQuestionGemini       = "ai-question-gemini"
	DiscordSlashCommandQuestionVRChatGemini = "ai-question-dev-vrc-gemini"
	DiscordSlashCommandQuestionClaude       = "ai-question-claude"
	DiscordSlashCommandQuestionVRChatClaude = "ai-question-dev-vrc-claude"
	DiscordSlashCommandImage                = "ai-image"
	DiscordSlashCommandImageStable          = "ai-image-stable"
	DiscordSlashCommandConversation         = "ai-conversation"
	DiscordSlashCommandCreateIssue          = "ai-create-issue"

	commandOptionPrompt         = "prompt"
	commandOptionNegativePrompt = "negative_prompt"
	commandOptionTitle          = "title"
	commandOptionMessage        = "message"
)

// commandKind determines how a slash command's provider result is rendered
type commandKind int

const (
	commandKindQuestion commandKind = iota
	commandKindImage
	commandKindConversation
	commandKindIssue
)

func (k commandKind) String() string {
	switch k {
	case commandKindQuestion:
		return "question"
	case commandKindImage:
		return "image"
	case commandKindConversation:
		return "conversation"
	case commandKindIssue:
		return "issue"
	default:
		return "unknown"
	}
}

// SlashCommand maps a Discord slash command to a provider call
type SlashCommand struct {
	Name     string
	Provider string
	Kind     commandKind
	Persona  Persona

	// descriptionFormat is formatted with the assistant name
	descriptionFormat string
}

// slashCommands is every command the bot knows. Only the ones whose
// provider is configured get registered.
var slashCommands = []SlashCommand{
	{
		Name:              DiscordSlashCommandQuestion,
		Provider:          ProviderOpenAI,
		Kind:              commandKindQuestion,
		Persona:           PersonaDefault,
		descriptionFormat: "%s に質問します",
	},
	{
		Name:              DiscordSlashCommandQuestionVRChat,
		Provider:          ProviderOpenAI,
		Kind:              commandKindQuestion,
		Persona:           PersonaVRChat,
		descriptionFormat: "%s にVRChatでの開発に関して質問します",
	},
	{
		Name:              DiscordSlashCommandQuestionGemini,
		Provider:          ProviderGemini,
		Kind:              commandKindQuestion,
		Persona:           PersonaDefault,
		descriptionFormat: "%s (Gemini) に質問します",
	},
	{
		Name:              DiscordSlashCommandQuestionVRChatGemini,
		Provider:          ProviderGemini,
		Kind:              commandKindQuestion,
		Persona:           PersonaVRChat,
		descriptionFormat: "%s (Gemini) にVRChatでの開発に関して質問します",
	},
	{
		Name:              DiscordSlashCommandQuestionClaude,
		Provider:          ProviderClaude,
		Kind:              commandKindQuestion,
		Persona:           PersonaDefault,
		descriptionFormat: "%s (Claude) に質問します",
	},
	{
		Name:              DiscordSlashCommandQuestionVRChatClaude,
		Provider:          ProviderClaude,
		Kind:              commandKindQuestion,
		Persona:           PersonaVRChat,
		descriptionFormat: "%s (Claude) にVRChatでの開発に関して質問します",
	},
	{
		Name:              DiscordSlashCommandImage,
		Provider:          ProviderOpenAI,
		Kind:              commandKindImage,
		descriptionFormat: "%s で画像生成します",
	},
	{
		Name:              DiscordSlashCommandImageStable,
		Provider:          ProviderStability,
		Kind:              commandKindImage,
		descriptionFormat: "%s (Stable Diffusion) で画像生成します",
	},
	{
		Name:              DiscordSlashCommandConversation,
		Provider:          ProviderOpenAI,
		Kind:              commandKindConversation,
		Persona:           PersonaDefault,
		descriptionFormat: "%s と会話します",
	},
	{
		Name:              DiscordSlashCommandCreateIssue,
		Provider:          ProviderGitHub,
		Kind:              commandKindIssue,
		descriptionFormat: "%s に関する要望を送信します",
	},
}

// Description returns the command description shown in Discord
func (c SlashCommand) Description(assistantName string) string {
	return fmt.Sprintf(c.descriptionFormat, assistantName)
}

// ApplicationCommand builds the command definition sent to Discord
func (c SlashCommand) ApplicationCommand(assistantName string) *discordgo.ApplicationCommand {
	minLength := 1
	var options []*discordgo.ApplicationCommandOption

	switch c.Kind {
	case commandKindIssue:
		options = []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionTitle,
				Description: "タイトル",
				Required:    true,
				MinLength:   &minLength,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionMessage,
				Description: "内容",
				Required:    true,
				MinLength:   &minLength,
			},
		}
	default:
		options = []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionPrompt,
				Description: "プロンプト",
				Required:    true,
				MinLength:   &minLength,
			},
		}
		if c.Provider == ProviderStability {
			options = append(
				options,
				&discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionNegativePrompt,
					Description: "生成に含めたくない要素",
					Required:    false,
				},
			)
		}
	}

	return &discordgo.ApplicationCommand{
		Name:        c.Name,
		Type:        discordgo.ChatApplicationCommand,
		Description: truncate(c.Description(assistantName), 100),
		Options:     options,
	}
}

// providerConfigured reports whether the named provider has a token set
func providerConfigured(cfg *Config, provider string) bool {
	switch provider {
	case ProviderOpenAI:
		return cfg.OpenAI != nil && cfg.OpenAI.Token != ""
	case ProviderGemini:
		return cfg.Gemini != nil && cfg.Gemini.Token != ""
	case ProviderClaude:
		return cfg.Claude != nil && cfg.Claude.Token != ""
	case ProviderStability:
		return cfg.Stability != nil && cfg.Stability.Token != ""
	case ProviderGitHub:
		return cfg.GitHub != nil && cfg.GitHub.Token != ""
	default:
		return false
	}
}

// AvailableCommands returns the commands whose provider is configured,
// in registration order
func AvailableCommands(cfg *Config) []SlashCommand {
	available := make([]SlashCommand, 0, len(slashCommands))
	for _, c := range slashCommands {
		if providerConfigured(cfg, c.Provider) {
			available = append(available, c)
		}
	}
	return available
}

func applicationCommands(cfg *Config) []*discordgo.ApplicationCommand {
	available := AvailableCommands(cfg)
	commands := make([]*discordgo.ApplicationCommand, 0, len(available))
	for _, c := range available {
		commands = append(commands, c.ApplicationCommand(cfg.AssistantName))
	}
	return commands
}

func lookupCommand(name string) (SlashCommand, bool) {
	for _, c := range slashCommands {
		if c.Name == name {
			return c, true
		}
	}
	return SlashCommand{}, false
}
