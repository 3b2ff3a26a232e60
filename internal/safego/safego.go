// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import "log/slog"

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged rather than crashing the process. Use it for detached goroutines
// (notification batch flushing, async delivery) where an unrecovered panic
// would silently kill the worker forever. Loops owned by a job with a Stop()
// method manage their own WaitGroup instead.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
