// Package telemetry wires the optional Sentry error reporting into the
// errors package. Reporting is strictly opt-in.
package telemetry

import (
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/seawatch/seawatch-go/internal/conf"
	"github.com/seawatch/seawatch-go/internal/errors"
)

// InitSentry initializes the Sentry SDK with privacy-compliant settings and
// installs the telemetry reporter used by the errors package. It is a no-op
// when Sentry is disabled in the configuration.
func InitSentry(settings *conf.Settings) error {
	if !settings.Sentry.Enabled {
		log.Println("Sentry telemetry is disabled (opt-in required)")
		return nil
	}

	if settings.Sentry.DSN == "" {
		return fmt.Errorf("sentry is enabled but no DSN is configured")
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:        settings.Sentry.DSN,
		SampleRate: 1.0,
		Debug:      settings.Sentry.Debug,

		// Privacy-compliant settings
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "", // never leak the hostname

		Release: fmt.Sprintf("seawatch-go@%s", settings.Version),

		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	return nil
}

// applyPrivacyFilters strips user- and host-identifying data from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	return event
}

// Flush waits for buffered telemetry events to be delivered.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}
