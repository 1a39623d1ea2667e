package app

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

// Detach runs fn on its own goroutine as a detached task: nothing tracks or
// awaits it, its error or panic is logged and swallowed, and a detached task
// still in flight when the process exits is lost.
func Detach(name string, fn func(ctx context.Context) error) {
	go func() {
		var pc panics.Catcher
		var err error
		pc.Try(func() { err = fn(context.Background()) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		if err != nil {
			log.Debug().Err(err).Str("module", "app.detach").Str("task", name).Msg("detached task failed")
		}
	}()
}
