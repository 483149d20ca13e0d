//nolint:lll // struct tags can't be split
package telgpt

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"
)

const (
	EnvvarSetEnvPrefix     = "TELGPT_ENV_PREFIX"
	DefaultEnvPrefix       = "TEL_GPT"
	DefaultAssistantName   = "TelGPT"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second
	DefaultRequestTimeout  = 0

	DefaultAnsweringMessage = "回答中です..."

	DefaultDiscordLogLevel      = slog.LevelWarn
	DefaultDiscordgoLogLevel    = slog.LevelWarn
	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentMessageContent

	DefaultStatusStartedMessage      = "TelGPT が起動しました"
	DefaultStatusStoppingMessage     = "TelGPT を停止します"
	DefaultStatusReconnectingMessage = "TelGPT が再接続しています..."
	DefaultStatusResumedMessage      = "TelGPT が再接続しました"

	DefaultOpenAILogLevel       = slog.LevelInfo
	DefaultOpenAIChatModel      = "gpt-4.1"
	DefaultOpenAIImageModel     = openai.CreateImageModelDallE3
	DefaultOpenAIVariationModel = openai.CreateImageModelDallE2

	DefaultGeminiModel = "gemini-2.5-flash-preview-05-20"

	DefaultClaudeModel     = "claude-sonnet-4-20250514"
	DefaultClaudeMaxTokens = 4096

	DefaultStabilityEngine  = "stable-diffusion-xl-1024-v1-0"
	DefaultStabilityBaseURL = "https://api.stability.ai"

	DefaultDeepLBaseURL    = "https://api-free.deepl.com"
	DefaultDeepLSourceLang = "EN"
	DefaultDeepLTargetLang = "JA"

	DefaultGitHubAPIURL     = "https://api.github.com"
	DefaultGitHubRepository = "telneko/TelGPT-DiscordBot"

	DefaultProvidersLogLevel = slog.LevelInfo

	DefaultStatusServerListen   = "127.0.0.1:5050"
	DefaultStatusServerLogLevel = slog.LevelInfo
	DefaultReadTimeout          = 5 * time.Second
	DefaultReadHeaderTimeout    = 5 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
	DefaultIdleTimeout          = 30 * time.Second

	// discordMaxMessageLength is the hard limit Discord enforces on
	// message content.
	discordMaxMessageLength = 2000

	// discordMessageChunkSize leaves headroom under discordMaxMessageLength
	// for anything the client prepends.
	discordMessageChunkSize = 1800

	// discordMaxAttachmentBytes is Discord's default upload limit, and the
	// most read from an attachment URL.
	discordMaxAttachmentBytes = 25 << 20

	// discordMaxThreadNameLength is the longest thread name Discord accepts.
	discordMaxThreadNameLength = 100

	// threadAutoArchiveMinutes is used for every thread the bot creates.
	threadAutoArchiveMinutes = 60

	// conversationHistoryLimit is the fetch window for thread context.
	conversationHistoryLimit = 10
)

var structValidator = validator.New()

// Config holds everything the bot needs at runtime. It's built once by the
// `run` command and passed down to every component; nothing in this package
// reads configuration from anywhere else.
type Config struct {
	// AssistantName is shown in slash command descriptions
	AssistantName string `yaml:"assistant_name" mapstructure:"assistant_name" json:"assistant_name" binding:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits how long opening the gateway session and
	// registering commands may take.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout" binding:"min=0s"`

	// ShutdownTimeout is the time allowed for in-flight requests to finish
	// after a stop signal. After this elapses, the session is closed anyway.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout" binding:"min=0s"`

	// RequestTimeout is applied to the shared HTTP client used by every
	// provider. 0 disables it.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=0s"`

	// TempDir is where downloaded and generated images are written.
	// Defaults to os.TempDir()
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir" json:"temp_dir"`

	// AnsweringMessage is the placeholder posted while a message-driven
	// request is in flight. It doubles as the busy marker.
	AnsweringMessage string `yaml:"answering_message" mapstructure:"answering_message" json:"answering_message" binding:"required"`

	Discord      *DiscordConfig      `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`
	OpenAI       *OpenAIConfig       `yaml:"openai" mapstructure:"openai" json:"openai" binding:"required"`
	Gemini       *GeminiConfig       `yaml:"gemini" mapstructure:"gemini" json:"gemini"`
	Claude       *ClaudeConfig       `yaml:"claude" mapstructure:"claude" json:"claude"`
	Stability    *StabilityConfig    `yaml:"stability" mapstructure:"stability" json:"stability"`
	DeepL        *DeepLConfig        `yaml:"deepl" mapstructure:"deepl" json:"deepl"`
	GitHub       *GitHubConfig       `yaml:"github" mapstructure:"github" json:"github"`
	Providers    *ProvidersConfig    `yaml:"providers" mapstructure:"providers" json:"providers"`
	StatusServer *StatusServerConfig `yaml:"status_server" mapstructure:"status_server" json:"status_server"`

	HTTPClient *http.Client `mapstructure:"-" json:"-" log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// StatusChannelID is where lifecycle notices are sent. Optional.
	StatusChannelID string `yaml:"status_channel_id" mapstructure:"status_channel_id" json:"status_channel_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	StatusStartedMessage      string `yaml:"status_started_message" mapstructure:"status_started_message" json:"status_started_message"`
	StatusStoppingMessage     string `yaml:"status_stopping_message" mapstructure:"status_stopping_message" json:"status_stopping_message"`
	StatusReconnectingMessage string `yaml:"status_reconnecting_message" mapstructure:"status_reconnecting_message" json:"status_reconnecting_message"`
	StatusResumedMessage      string `yaml:"status_resumed_message" mapstructure:"status_resumed_message" json:"status_resumed_message"`

	httpClient *http.Client
}

// OpenAIConfig configures chat, image generation and image variations
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	ChatModel      string `yaml:"chat_model" mapstructure:"chat_model" json:"chat_model" binding:"required"`
	ImageModel     string `yaml:"image_model" mapstructure:"image_model" json:"image_model" binding:"required"`
	VariationModel string `yaml:"variation_model" mapstructure:"variation_model" json:"variation_model" binding:"required"`

	// BaseURL overrides the API endpoint (OpenAI-compatible servers)
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"omitempty,url"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

type GeminiConfig struct {
	Token   string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`
	Model   string `yaml:"model" mapstructure:"model" json:"model" binding:"required_with=Token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"omitempty,url"`
}

type ClaudeConfig struct {
	Token     string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`
	Model     string `yaml:"model" mapstructure:"model" json:"model" binding:"required_with=Token"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"min=1"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"omitempty,url"`
}

type StabilityConfig struct {
	Token   string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`
	Engine  string `yaml:"engine" mapstructure:"engine" json:"engine" binding:"required_with=Token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`
}

// DeepLConfig configures translation of revised image prompts. Without a
// token, prompts are shown untranslated.
type DeepLConfig struct {
	Token      string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`
	SourceLang string `yaml:"source_lang" mapstructure:"source_lang" json:"source_lang"`
	TargetLang string `yaml:"target_lang" mapstructure:"target_lang" json:"target_lang" binding:"required"`
}

// GitHubConfig configures the `ai-create-issue` command
type GitHubConfig struct {
	// Personal access token with permission to open issues
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	APIURL string `yaml:"api_url" mapstructure:"api_url" json:"api_url" binding:"required,url"`

	// Repository is "owner/name"
	Repository string `yaml:"repository" mapstructure:"repository" json:"repository"`
}

// ProvidersConfig holds settings shared by the Gemini, Claude, Stability,
// DeepL and GitHub clients
type ProvidersConfig struct {
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// StatusServerConfig configures the optional health/metrics HTTP server
type StatusServerConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5050").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=0s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=0s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=0s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=0s"`
}

// validateGitHubConfig requires an "owner/name" repository once a token
// is set, since that's when ai-create-issue gets registered
func validateGitHubConfig(sl validator.StructLevel) {
	c, ok := sl.Current().Interface().(GitHubConfig)
	if !ok || c.Token == "" {
		return
	}
	owner, name, found := strings.Cut(c.Repository, "/")
	if !found || owner == "" || name == "" || strings.Contains(name, "/") {
		sl.ReportError(c.Repository, "Repository", "repository", "owner_repo", "")
	}
}

// Validate checks the config against its `binding` tags.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	providersLogLevel := &slog.LevelVar{}
	statusServerLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	providersLogLevel.Set(DefaultProvidersLogLevel)
	statusServerLogLevel.Set(DefaultStatusServerLogLevel)

	return &Config{
		AssistantName:    DefaultAssistantName,
		LogLevel:         mainLogLevel,
		StartupTimeout:   DefaultStartupTimeout,
		ShutdownTimeout:  DefaultShutdownTimeout,
		RequestTimeout:   DefaultRequestTimeout,
		AnsweringMessage: DefaultAnsweringMessage,
		Discord: &DiscordConfig{
			LogLevel:                  discordLogLevel,
			DiscordGoLogLevel:         discordgoLogLevel,
			GatewayIntents:            DefaultDiscordGatewayIntent,
			StatusStartedMessage:      DefaultStatusStartedMessage,
			StatusStoppingMessage:     DefaultStatusStoppingMessage,
			StatusReconnectingMessage: DefaultStatusReconnectingMessage,
			StatusResumedMessage:      DefaultStatusResumedMessage,
		},
		OpenAI: &OpenAIConfig{
			ChatModel:      DefaultOpenAIChatModel,
			ImageModel:     DefaultOpenAIImageModel,
			VariationModel: DefaultOpenAIVariationModel,
			LogLevel:       openaiLogLevel,
		},
		Gemini: &GeminiConfig{
			Model: DefaultGeminiModel,
		},
		Claude: &ClaudeConfig{
			Model:     DefaultClaudeModel,
			MaxTokens: DefaultClaudeMaxTokens,
		},
		Stability: &StabilityConfig{
			Engine:  DefaultStabilityEngine,
			BaseURL: DefaultStabilityBaseURL,
		},
		DeepL: &DeepLConfig{
			BaseURL:    DefaultDeepLBaseURL,
			SourceLang: DefaultDeepLSourceLang,
			TargetLang: DefaultDeepLTargetLang,
		},
		GitHub: &GitHubConfig{
			APIURL:     DefaultGitHubAPIURL,
			Repository: DefaultGitHubRepository,
		},
		Providers: &ProvidersConfig{
			LogLevel: providersLogLevel,
		},
		StatusServer: &StatusServerConfig{
			Listen:            DefaultStatusServerListen,
			LogLevel:          statusServerLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
	structValidator.RegisterStructValidation(validateGitHubConfig, GitHubConfig{})
}
