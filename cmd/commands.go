package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/telneko/TelGPT-DiscordBot/telgpt"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "Print the slash commands that would be registered with the current config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printCommands(cmd.OutOrStdout(), cfg)
	},
}

func printCommands(w io.Writer, c *telgpt.Config) error {
	available := telgpt.AvailableCommands(c)
	if len(available) == 0 {
		_, err := fmt.Fprintln(w, "no providers configured")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "NAME\tPROVIDER\tDESCRIPTION"); err != nil {
		return err
	}
	for _, sc := range available {
		if _, err := fmt.Fprintf(
			tw,
			"/%s\t%s\t%s\n",
			sc.Name,
			sc.Provider,
			sc.Description(c.AssistantName),
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(commandsCmd)
}
