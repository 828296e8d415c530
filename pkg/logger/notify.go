package logger

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Notify tags a log field that forces dispatch to the notification bots
// (C9) regardless of severity — the explicit "notify=true" escape hatch.
func Notify() zap.Field {
	return zap.Bool(fieldNotify, true)
}

// Component tags which subsystem emitted a log event, consulted against the
// dispatcher's per-config silence list.
func Component(name string) zap.Field {
	return zap.String(fieldComponent, name)
}

// ExtraBots names additional bot targets a single log event should also
// reach, beyond the dispatcher's default set.
func ExtraBots(names ...string) zap.Field {
	return zap.Strings(fieldExtraBots, names)
}

// ErrorCode tags a log event with a stable deduplication key (§7): an ERROR
// event carrying this field is filtered through the registered CodeDeduper
// before it ever reaches the notification dispatcher, so a recurring
// failure doesn't page the same channel every time it repeats.
func ErrorCode(code string) zap.Field {
	return zap.String(fieldErrorCode, code)
}

const (
	fieldNotify    = "notify"
	fieldComponent = "component"
	fieldExtraBots = "extra_bots"
	fieldErrorCode = "error_code"
)

// Dispatcher is implemented by internal/notify.Dispatcher. The logger
// package depends only on this interface — notify imports logger, so
// logger cannot import notify back without a cycle.
type Dispatcher interface {
	Publish(level, msg, component string, extraBots []string)
}

// CodeDeduper persists error-code occurrence history and decides whether a
// repeat falls inside its re-alert interval. Implemented by an adapter over
// internal/database.ErrorCodeRepository; kept as an interface for the same
// import-cycle reason as Dispatcher.
type CodeDeduper interface {
	// ShouldAlert reports whether this occurrence of code should proceed to
	// notification, updating the persisted history either way.
	ShouldAlert(code, message string) bool
}

var (
	dispatcherMu sync.RWMutex
	dispatcher   Dispatcher

	codeDeduperMu sync.RWMutex
	codeDeduper   CodeDeduper

	// runtimeBound tracks whether the task runtime the dispatcher's async
	// sender depends on is up yet. Every main entry point calls
	// RebindRuntime() immediately after starting its scheduler. Until that
	// happens, dispatch falls back to a synchronous call on the logging
	// goroutine, which can block it for up to the notification transport's
	// outbound timeout.
	runtimeBound atomic.Bool
)

// SetNotifyDispatcher binds the concrete notification dispatcher. Called
// once at startup, before the task runtime exists.
func SetNotifyDispatcher(d Dispatcher) {
	dispatcherMu.Lock()
	defer dispatcherMu.Unlock()
	dispatcher = d
}

// SetCodeDeduper binds the error-code deduplication store. Called once at
// startup, alongside SetNotifyDispatcher.
func SetCodeDeduper(d CodeDeduper) {
	codeDeduperMu.Lock()
	defer codeDeduperMu.Unlock()
	codeDeduper = d
}

// RebindRuntime marks the task runtime as running. Until this is called,
// Publish blocks the caller instead of handing work to a runtime that
// isn't there yet to drain it.
func RebindRuntime() {
	runtimeBound.Store(true)
}

// ResetRuntimeBinding lets tests exercise the pre-rebind fallback path
// without leaking state across test cases.
func ResetRuntimeBinding() {
	runtimeBound.Store(false)
}

func maybeNotify(level zapcore.Level, msg string, fields []zap.Field) {
	component := ""
	var extraBots []string
	explicitNotify := false
	errorCode := ""
	for _, f := range fields {
		switch f.Key {
		case fieldNotify:
			explicitNotify = f.Integer == 1
		case fieldComponent:
			component = f.String
		case fieldExtraBots:
			if s, ok := f.Interface.([]string); ok {
				extraBots = s
			}
		case fieldErrorCode:
			errorCode = f.String
		}
	}

	if errorCode != "" && level >= zapcore.ErrorLevel {
		codeDeduperMu.RLock()
		cd := codeDeduper
		codeDeduperMu.RUnlock()
		if cd != nil && !cd.ShouldAlert(errorCode, msg) {
			return
		}
	}

	dispatcherMu.RLock()
	d := dispatcher
	dispatcherMu.RUnlock()
	if d == nil {
		return
	}

	if level < zapcore.WarnLevel && !explicitNotify {
		return
	}

	publish := func() { d.Publish(level.String(), msg, component, extraBots) }
	if runtimeBound.Load() {
		go publish()
		return
	}
	// Pre-rebind fallback: block the caller. Acceptable only because it is
	// bounded by the dispatcher's own outbound timeout and only happens
	// before RebindRuntime runs.
	publish()
}
