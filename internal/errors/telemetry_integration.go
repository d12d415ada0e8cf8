// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

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
	return &SentryReporter{
		enabled: enabled,
	}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	scrubbedMessage := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	component := ee.GetComponent()
	errorTitle := generateErrorTitle(ee)
	level := getErrorLevel(ee.Category)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_title", errorTitle)
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}

		for key, value := range ee.GetContext() {
			scrubbedValue := value
			if strValue, ok := value.(string); ok {
				scrubbedValue = scrubMessageForPrivacy(strValue)
			}
			scope.SetContext(key, map[string]any{"value": scrubbedValue})
		}

		scope.SetLevel(level)
		scope.SetFingerprint([]string{errorTitle, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = scrubbedMessage
		event.Level = level
		event.Exception = []sentry.Exception{{
			Type:  errorTitle,
			Value: scrubbedMessage,
		}}

		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// InitSentry initializes the Sentry SDK and installs a SentryReporter as the
// global telemetry reporter. An empty DSN leaves telemetry disabled.
func InitSentry(dsn, release string, debug bool) error {
	if dsn == "" {
		SetTelemetryReporter(nil)
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		Debug:            debug,
		AttachStacktrace: true,
		SampleRate:       1.0,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.ServerName = ""
			event.User = sentry.User{}
			return event
		},
	})
	if err != nil {
		return New(fmt.Errorf("sentry init: %w", err)).
			Component("telemetry").
			Category(CategoryConfiguration).
			Build()
	}

	SetTelemetryReporter(NewSentryReporter(true))
	return nil
}

// FlushTelemetry waits up to timeout for queued telemetry events to be sent.
func FlushTelemetry(timeout time.Duration) {
	if GetTelemetryReporter() == nil {
		return
	}
	sentry.Flush(timeout)
}

// generateErrorTitle creates a meaningful error title for Sentry based on enhanced error context
func generateErrorTitle(ee *EnhancedError) string {
	operation, _ := ee.GetContext()["operation"].(string)

	var titleParts []string

	if component := ee.GetComponent(); component != "" && component != ComponentUnknown {
		titleParts = append(titleParts, titleCase(component))
	}

	if categoryTitle := formatCategoryForTitle(ee.Category); categoryTitle != "" {
		titleParts = append(titleParts, categoryTitle)
	}

	if operation != "" {
		if operationTitle := formatOperationForTitle(operation); operationTitle != "" {
			titleParts = append(titleParts, operationTitle)
		}
	}

	if len(titleParts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}

	return strings.Join(titleParts, " ")
}

// formatCategoryForTitle converts error categories to human-readable titles
func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryValidation:
		return "Validation Error"
	case CategoryConfiguration:
		return "Configuration Error"
	case CategoryNetwork:
		return "Network Error"
	case CategoryFileIO:
		return "File I/O Error"
	case CategoryGPIO:
		return "GPIO Error"
	case CategoryProbe:
		return "Availability Probe Error"
	case CategoryCapture:
		return "Capture Error"
	case CategoryOverlay:
		return "Overlay Error"
	case CategorySensor:
		return "Sensor Error"
	case CategoryUpload:
		return "Snapshot Upload Error"
	case CategoryRegistration:
		return "Camera Registration Error"
	case CategoryCommandExecution:
		return "Command Execution Error"
	case CategoryMQTTConnection, CategoryMQTTPublish:
		return "MQTT Error"
	case CategorySystem:
		return "System Error"
	default:
		return string(category)
	}
}

// formatOperationForTitle converts operation context to human-readable format
func formatOperationForTitle(operation string) string {
	words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

// titleCase capitalizes the first letter of a string
func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns appropriate Sentry level based on category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryTimeout, CategoryProbe, CategoryUpload, CategoryMQTTConnection, CategoryMQTTPublish:
		return sentry.LevelWarning // Often transient
	case CategorySensor, CategoryOverlay:
		return sentry.LevelWarning
	case CategoryGPIO, CategoryCapture, CategoryCommandExecution, CategoryConfiguration, CategorySystem:
		return sentry.LevelError
	default:
		return sentry.LevelError
	}
}

var (
	reporterMu              sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter sets the global telemetry reporter
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return globalTelemetryReporter
}

// reportToTelemetry reports an error to the configured telemetry system
func reportToTelemetry(ee *EnhancedError) {
	// Cancellation is a shutdown, not a fault.
	if ee.Category == CategoryCancellation {
		return
	}
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// Pre-compiled scrub patterns.
var (
	urlQueryRegex    = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	queryParamRegex  = regexp.MustCompile(`[?&]([^=\s]+)=([^&\s]+)`)
	credentialRegex  = regexp.MustCompile(`(?i)(token|password|api[_-]?key|auth)[=:]\s*\S+`)
	fingerprintRegex = regexp.MustCompile(`(?i)fingerprint[=:]\s*\S+`)
	userInfoRegex    = regexp.MustCompile(`(https?|tcp|ssl)://[^@/\s]+@`)
	longHexRegex     = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
)

// scrubMessageForPrivacy strips credentials, camera identifiers and query
// strings from messages before they leave the host.
func scrubMessageForPrivacy(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = queryParamRegex.ReplaceAllString(scrubbed, "?[REDACTED]")
	scrubbed = userInfoRegex.ReplaceAllString(scrubbed, "$1://[REDACTED]@")
	scrubbed = credentialRegex.ReplaceAllString(scrubbed, "[CREDENTIAL_REDACTED]")
	scrubbed = fingerprintRegex.ReplaceAllString(scrubbed, "[ID_REDACTED]")
	scrubbed = longHexRegex.ReplaceAllString(scrubbed, "[ID_REDACTED]")
	return scrubbed
}
