// Package support implements the support command: it collects a diagnostics
// dump for troubleshooting, with credentials scrubbed before anything is
// written to disk.
package support

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/seawatch/seawatch-go/internal/conf"
)

const scrubbedValue = "[redacted]"

// Diagnostics is the content of a support dump.
type Diagnostics struct {
	ID          string        `json:"id"`
	GeneratedAt time.Time     `json:"generatedAt"`
	Version     string        `json:"version"`
	GoVersion   string        `json:"goVersion"`
	OS          string        `json:"os"`
	Arch        string        `json:"arch"`
	NumCPU      int           `json:"numCpu"`
	Settings    conf.Settings `json:"settings"`
}

// Command creates the support command.
func Command(settings *conf.Settings) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "support",
		Short: "Collect system diagnostics for troubleshooting",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Collecting support data...")

			dump := collectDiagnostics(settings)
			data, err := json.MarshalIndent(&dump, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding diagnostics: %w", err)
			}

			filename := output
			if filename == "" {
				filename = fmt.Sprintf("seawatch-support-%s.json", dump.ID)
			}
			if err := os.WriteFile(filename, data, 0o600); err != nil {
				return fmt.Errorf("saving diagnostics: %w", err)
			}

			fmt.Printf("Support data saved to: %s\n", filename)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write the dump to")
	return cmd
}

// collectDiagnostics gathers the dump content from the running host and
// the active configuration.
func collectDiagnostics(settings *conf.Settings) Diagnostics {
	return Diagnostics{
		ID:          uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Version:     settings.Version,
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		NumCPU:      runtime.NumCPU(),
		Settings:    scrubSettings(settings),
	}
}

// scrubSettings returns a copy of the settings with secrets masked.
// Broker credentials, database passwords and the telemetry DSN never leave
// the host.
func scrubSettings(settings *conf.Settings) conf.Settings {
	s := *settings
	if s.MQTT.Username != "" {
		s.MQTT.Username = scrubbedValue
	}
	if s.MQTT.Password != "" {
		s.MQTT.Password = scrubbedValue
	}
	if s.Sentry.DSN != "" {
		s.Sentry.DSN = scrubbedValue
	}
	if s.Output.MySQL.Username != "" {
		s.Output.MySQL.Username = scrubbedValue
	}
	if s.Output.MySQL.Password != "" {
		s.Output.MySQL.Password = scrubbedValue
	}
	return s
}
