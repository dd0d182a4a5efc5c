package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seawatch/seawatch-go/cmd/serve"
	"github.com/seawatch/seawatch-go/cmd/support"
	"github.com/seawatch/seawatch-go/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "seawatch",
		Short: "SeaWatch-Go marine operations monitoring",
		Long: `SeaWatch-Go ingests telemetry from autonomous marine vehicles,
distributes it live to connected dashboards, stores it per mission and
replays stored missions at configurable speed. Species detections are
enriched with catalog imagery and surfaced as alerts.`,
	}

	rootCmd.AddCommand(serve.Command(settings))
	rootCmd.AddCommand(support.Command(settings))

	// Global flags, synced into viper so they override the config file.
	rootCmd.PersistentFlags().BoolP("debug", "d", settings.Debug, "Enable debug output")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		settings.Debug = viper.GetBool("debug")
		return nil
	}

	return rootCmd
}
