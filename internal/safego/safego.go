// Package safego wraps goroutine launches so a panic in background work is
// logged instead of taking the whole portal down.
package safego

import "log/slog"

// Go runs fn on its own goroutine and absorbs any panic, logging it at error
// level. Notification dispatch, audit shipping and the expiry sweeper all go
// through this helper so one misbehaving hook cannot kill the process or
// silently lose its goroutine.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
