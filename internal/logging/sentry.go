package logging

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

const panicFlushTimeout = 2 * time.Second

var sentryEnabled bool

// InitSentry starts crash reporting when enabled and a DSN is set. Both come
// from config; GPSH_SENTRY and GPSH_SENTRY_DSN are applied there. It reports
// whether events will be sent.
func InitSentry(version string, enabled bool, dsn string) bool {
	if !enabled {
		return false
	}
	if dsn == "" {
		Warn(CatSystem, "Crash reporting enabled but no DSN configured", nil)
		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "gpsh@" + version,
		AttachStacktrace: true,
		// Card data and keys never leave the host.
		SendDefaultPII: false,
		BeforeBreadcrumb: func(*sentry.Breadcrumb, *sentry.BreadcrumbHint) *sentry.Breadcrumb {
			return nil
		},
	})
	if err != nil {
		Warn(CatSystem, "Crash reporting unavailable", map[string]any{
			"error": err.Error(),
		})
		return false
	}

	sentryEnabled = true
	Info(CatSystem, "Crash reporting enabled", map[string]any{
		"release": "gpsh@" + version,
	})
	return true
}

// FlushSentry waits up to timeout for queued events.
func FlushSentry(timeout time.Duration) {
	if sentryEnabled {
		sentry.Flush(timeout)
	}
}

// CapturePanic reports a recovered panic. where names the command or
// goroutine that panicked, e.g. "console:getStatus".
func CapturePanic(value any, stack []byte, where string) {
	if !sentryEnabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("panic_context", where)
		scope.SetExtra("stack_trace", string(stack))
		scope.SetLevel(sentry.LevelFatal)

		if err, ok := value.(error); ok {
			sentry.CaptureException(err)
			return
		}
		sentry.CaptureMessage(fmt.Sprint(value))
	})

	sentry.Flush(panicFlushTimeout)
}
