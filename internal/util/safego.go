package util

import (
	"runtime/debug"

	"github.com/crowdstake/crowdstake/internal/logging"
)

// SafeGo runs fn in a goroutine, logging and swallowing any panic so a
// background watcher cannot take the process down.
func SafeGo(fn func()) {
	SafeGoWithName("", fn)
}

// SafeGoWithName is SafeGo with a goroutine name attached to the panic log.
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				args := []any{"panic", r, "stack", string(debug.Stack())}
				if name != "" {
					args = append(args, "goroutine", name)
				}
				logging.Error("goroutine panic recovered", args...)
			}
		}()
		fn()
	}()
}
