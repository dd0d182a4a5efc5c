// conf/validate.go settings validation
package conf

import (
	"errors"
	"fmt"
	"strconv"
)

// ValidationError holds all validation failures found in a settings struct.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", ve.Errors)
}

// ValidateSettings checks a Settings instance for inconsistent or unusable values.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if settings == nil {
		return errors.New("settings is nil")
	}

	if settings.WebServer.Enabled {
		if port, err := strconv.Atoi(settings.WebServer.Port); err != nil || port < 1 || port > 65535 {
			ve.Errors = append(ve.Errors, fmt.Sprintf("invalid web server port: %q", settings.WebServer.Port))
		}
	}

	if settings.Hub.QueueSize < 1 {
		ve.Errors = append(ve.Errors, "hub queue size must be at least 1")
	}

	if settings.Replay.DefaultSpeed <= 0 {
		ve.Errors = append(ve.Errors, "replay default speed must be greater than zero")
	}

	if settings.Enrichment.ImageLimit < 1 {
		ve.Errors = append(ve.Errors, "enrichment image limit must be at least 1")
	}
	if settings.Enrichment.SuccessTTL <= 0 || settings.Enrichment.EmptyTTL <= 0 || settings.Enrichment.FailureTTL <= 0 {
		ve.Errors = append(ve.Errors, "enrichment cache TTLs must be greater than zero")
	}

	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		ve.Errors = append(ve.Errors, "mqtt broker must be set when mqtt is enabled")
	}

	if settings.LiveClient.MaxReconnectTries < 1 {
		ve.Errors = append(ve.Errors, "live client reconnect attempts must be at least 1")
	}

	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		ve.Errors = append(ve.Errors, "at least one output database must be enabled")
	}
	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path == "" {
		ve.Errors = append(ve.Errors, "sqlite path must be set when sqlite is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}
