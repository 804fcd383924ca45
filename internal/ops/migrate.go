package ops

import (
	"context"
	"fmt"

	"github.com/EstellaNines/Vertias-sub003/internal/engine"
	"github.com/EstellaNines/Vertias-sub003/internal/migrate"
)

// MigrateOutput contains the result of the Migrate operation.
type MigrateOutput struct {
	Results []*migrate.Result `json:"results"`
	Changed int               `json:"changed"`
	Message string            `json:"message"`
}

// Migrate rewrites legacy keys and imports legacy preferences.
func Migrate(ctx context.Context, e *engine.Engine) (*MigrateOutput, error) {
	results, err := e.Migrate(ctx)
	if err != nil {
		return nil, err
	}
	out := &MigrateOutput{Results: results}
	if out.Results == nil {
		out.Results = []*migrate.Result{}
	}
	for _, r := range results {
		if r.Changed() {
			out.Changed++
		}
	}
	if out.Changed == 0 {
		out.Message = "Nothing to migrate"
	} else {
		out.Message = fmt.Sprintf("Migrated %s", plural(out.Changed, "file"))
	}
	return out, nil
}
