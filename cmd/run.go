package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/telneko/TelGPT-DiscordBot/telgpt"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the TelGPT bot and (optionally) the status server",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := telgpt.New(cfg)
			if err != nil {
				log.Fatalf("error creating telgpt: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running telgpt: %s", err.Error())
			}
		},
	}
)

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
