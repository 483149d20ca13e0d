package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/telneko/TelGPT-DiscordBot/telgpt"
)

var (
	cfg        = telgpt.DefaultConfig()
	configFile string
)

// legacyEnvNames are variable names older deployments used, bound
// alongside the prefixed names
var legacyEnvNames = map[string][]string{
	"openai.token":              {"TEL_GPT_OPEN_AI_TOKEN"},
	"github.token":              {"GITHUB_ISSUE_PAT"},
	"discord.status_channel_id": {"TEL_GPT_STATUS_CHANNEL_ID"},
}

var rootCmd = &cobra.Command{
	Use:   "telgpt [flags]",
	Short: "Discord bot for OpenAI, Gemini, Claude and Stable Diffusion",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cfg); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

// loadConfig decodes viper's settings into c
func loadConfig(c *telgpt.Config) error {
	return viper.Unmarshal(
		c,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
	return lvl, nil
}

// LevelToStringHookFunc decodes level names (ex: "INFO", "warn") into
// *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setDefaults() {
	viper.SetDefault("assistant_name", telgpt.DefaultAssistantName)
	viper.SetDefault("log_level", telgpt.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", telgpt.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", telgpt.DefaultShutdownTimeout)
	viper.SetDefault("request_timeout", telgpt.DefaultRequestTimeout)
	viper.SetDefault("temp_dir", "")
	viper.SetDefault("answering_message", telgpt.DefaultAnsweringMessage)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.status_channel_id", "")
	viper.SetDefault("discord.log_level", telgpt.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		telgpt.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault("discord.gateway_intents", telgpt.DefaultDiscordGatewayIntent)
	viper.SetDefault(
		"discord.status_started_message",
		telgpt.DefaultStatusStartedMessage,
	)
	viper.SetDefault(
		"discord.status_stopping_message",
		telgpt.DefaultStatusStoppingMessage,
	)
	viper.SetDefault(
		"discord.status_reconnecting_message",
		telgpt.DefaultStatusReconnectingMessage,
	)
	viper.SetDefault(
		"discord.status_resumed_message",
		telgpt.DefaultStatusResumedMessage,
	)

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.chat_model", telgpt.DefaultOpenAIChatModel)
	viper.SetDefault("openai.image_model", telgpt.DefaultOpenAIImageModel)
	viper.SetDefault("openai.variation_model", telgpt.DefaultOpenAIVariationModel)
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("openai.log_level", telgpt.DefaultOpenAILogLevel.String())

	// Other providers
	viper.SetDefault("gemini.token", "")
	viper.SetDefault("gemini.model", telgpt.DefaultGeminiModel)
	viper.SetDefault("gemini.base_url", "")

	viper.SetDefault("claude.token", "")
	viper.SetDefault("claude.model", telgpt.DefaultClaudeModel)
	viper.SetDefault("claude.max_tokens", telgpt.DefaultClaudeMaxTokens)
	viper.SetDefault("claude.base_url", "")

	viper.SetDefault("stability.token", "")
	viper.SetDefault("stability.engine", telgpt.DefaultStabilityEngine)
	viper.SetDefault("stability.base_url", telgpt.DefaultStabilityBaseURL)

	viper.SetDefault("deepl.token", "")
	viper.SetDefault("deepl.base_url", telgpt.DefaultDeepLBaseURL)
	viper.SetDefault("deepl.source_lang", telgpt.DefaultDeepLSourceLang)
	viper.SetDefault("deepl.target_lang", telgpt.DefaultDeepLTargetLang)

	viper.SetDefault("github.token", "")
	viper.SetDefault("github.api_url", telgpt.DefaultGitHubAPIURL)
	viper.SetDefault("github.repository", telgpt.DefaultGitHubRepository)

	viper.SetDefault("providers.log_level", telgpt.DefaultProvidersLogLevel.String())

	// Status server
	viper.SetDefault("status_server.enabled", false)
	viper.SetDefault("status_server.listen", telgpt.DefaultStatusServerListen)
	viper.SetDefault(
		"status_server.log_level",
		telgpt.DefaultStatusServerLogLevel.String(),
	)
	viper.SetDefault("status_server.read_timeout", telgpt.DefaultReadTimeout)
	viper.SetDefault(
		"status_server.read_header_timeout",
		telgpt.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("status_server.write_timeout", telgpt.DefaultWriteTimeout)
	viper.SetDefault("status_server.idle_timeout", telgpt.DefaultIdleTimeout)
}

// envPrefix returns the prefix for config environment variables
func envPrefix() string {
	if prefix := os.Getenv(telgpt.EnvvarSetEnvPrefix); prefix != "" {
		return prefix
	}
	return telgpt.DefaultEnvPrefix
}

// envKey is the prefixed environment variable name for a config key
func envKey(prefix string, key string) string {
	return strings.ToUpper(prefix + "_" + strings.ReplaceAll(key, ".", "_"))
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("unable to load %s: %v", configFile, err)
		}
	}

	setDefaults()

	prefix := envPrefix()
	viper.SetEnvPrefix(prefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// binding explicit names replaces the prefixed name, so it's
	// included first
	for key, names := range legacyEnvNames {
		input := append([]string{key, envKey(prefix, key)}, names...)
		if err := viper.BindEnv(input...); err != nil {
			log.Fatalf("error binding %s: %v", key, err)
		}
	}
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load",
	)
}
