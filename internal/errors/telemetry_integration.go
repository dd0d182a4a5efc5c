// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// credentialPattern matches user:password pairs embedded in URLs so they
// never leave the process in telemetry payloads.
var credentialPattern = regexp.MustCompile(`//[^/@\s]+@`)

// scrubMessageForPrivacy removes embedded credentials from error messages
func scrubMessageForPrivacy(msg string) string {
	return credentialPattern.ReplaceAllString(msg, "//[redacted]@")
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	enhancedMessage := fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error())
	scrubbedMessage := scrubMessageForPrivacy(enhancedMessage)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				scope.SetContext(key, map[string]any{"value": scrubMessageForPrivacy(s)})
				continue
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		sentry.CaptureMessage(scrubbedMessage)
	})

	ee.MarkReported()
}

var (
	telemetryReporter TelemetryReporter
	reporterMutex     sync.RWMutex
)

// SetTelemetryReporter sets the global telemetry reporter
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMutex.Lock()
	defer reporterMutex.Unlock()
	telemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the global telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	reporterMutex.RLock()
	defer reporterMutex.RUnlock()
	return telemetryReporter
}

// reportToTelemetry forwards an error to the installed reporter, if any
func reportToTelemetry(ee *EnhancedError) {
	reporter := GetTelemetryReporter()
	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}
