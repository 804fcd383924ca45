package ops

import (
	"context"

	"github.com/EstellaNines/Vertias-sub003/internal/engine"
)

// Stats summarizes what is on disk.
func Stats(ctx context.Context, e *engine.Engine) (*engine.Stats, error) {
	return e.GetStats(ctx)
}
