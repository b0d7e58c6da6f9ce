// Package errors - reporting hooks
package errors

import (
	"sync"
	"sync/atomic"
)

// ErrorHook receives every error built while at least one hook is registered.
// Hooks run synchronously on the goroutine that called Build, so they must be cheap.
type ErrorHook func(ee *EnhancedError)

var (
	hooksMu            sync.RWMutex
	errorHooks         []ErrorHook
	hasActiveReporting atomic.Bool
)

// AddErrorHook registers a hook called for each built error
func AddErrorHook(hook ErrorHook) {
	if hook == nil {
		return
	}

	hooksMu.Lock()
	defer hooksMu.Unlock()
	errorHooks = append(errorHooks, hook)
	hasActiveReporting.Store(true)
}

// ClearErrorHooks removes all registered hooks
func ClearErrorHooks() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	errorHooks = nil
	hasActiveReporting.Store(false)
}

// runHooks dispatches ee to the registered hooks, recovering from hook panics
func runHooks(ee *EnhancedError) {
	hooksMu.RLock()
	hooks := make([]ErrorHook, len(errorHooks))
	copy(hooks, errorHooks)
	hooksMu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer func() {
				_ = recover()
			}()
			hook(ee)
		}()
	}

	ee.MarkReported()
}
