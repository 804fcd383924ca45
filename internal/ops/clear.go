package ops

import (
	"context"
	"fmt"

	"github.com/EstellaNines/Vertias-sub003/internal/engine"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
)

// ClearInput contains parameters for the Clear operation.
type ClearInput struct {
	// Confirm must be true; clearing cannot be undone.
	Confirm bool
}

// ClearOutput contains the result of the Clear operation.
type ClearOutput struct {
	*engine.ClearResult
	Message string `json:"message"`
}

// Clear deletes every persisted snapshot, backup, legacy preference and
// history row.
func Clear(ctx context.Context, e *engine.Engine, input ClearInput) (*ClearOutput, error) {
	if !input.Confirm {
		return nil, errors.NewInvalidRequest("clear requires confirm=true")
	}
	res, err := e.ClearAllData(ctx)
	if err != nil {
		return nil, err
	}
	return &ClearOutput{
		ClearResult: res,
		Message: fmt.Sprintf("Cleared %s, %s and %s",
			plural(len(res.Files), "file"),
			plural(int(res.PrefsCleared), "legacy preference"),
			plural(int(res.HistoryRows), "history row")),
	}, nil
}
