package util

import (
	"fmt"
	"runtime/debug"

	"github.com/moltbunker/tierstake/internal/logging"
	"golang.org/x/sync/errgroup"
)

// SafeGoWithName runs fn in a goroutine, logging a recovered panic with
// its stack instead of crashing the process.
//
// Example:
//
//	util.SafeGoWithName("ws-writer", func() {
//	    // goroutine code here
//	})
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}

// Recover logs a panic in the calling goroutine. Use as `defer util.Recover(name)`.
func Recover(name string) {
	if r := recover(); r != nil {
		logging.Error("goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}

// GroupGo runs fn as a member of g. A panic is logged and turned into the
// member's error so the group shuts the others down.
func GroupGo(g *errgroup.Group, name string, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("goroutine panic recovered",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				err = fmt.Errorf("%s: panic: %v", name, r)
			}
		}()
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}
