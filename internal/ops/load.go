package ops

import (
	"context"
	"fmt"

	"github.com/EstellaNines/Vertias-sub003/internal/engine"
	"github.com/EstellaNines/Vertias-sub003/internal/live"
	"github.com/EstellaNines/Vertias-sub003/internal/restore"
)

// LoadOutput contains the result of the Load operation.
type LoadOutput struct {
	Equipment  *restore.Result          `json:"equipment"`
	Containers *restore.ContainerResult `json:"containers,omitempty"`
	// State is the live equipment after the restore.
	State   live.StateDoc `json:"state"`
	Message string        `json:"message"`
}

// Load re-arms restore state and restores equipment and containers now.
func Load(ctx context.Context, e *engine.Engine) (*LoadOutput, error) {
	res, err := e.ManualLoad(ctx)
	if err != nil {
		return nil, err
	}
	out := &LoadOutput{
		Equipment:  res.Equipment,
		Containers: res.Containers,
		State:      live.Describe(e.Equipment()),
	}
	out.Message = formatLoadMessage(res)
	return out, nil
}

func formatLoadMessage(res *engine.LoadResult) string {
	eq := res.Equipment
	if eq == nil || eq.NoData {
		return "No saved equipment"
	}
	msg := fmt.Sprintf("Restored %s", plural(eq.Restored, "slot"))
	if eq.Unchanged > 0 {
		msg += fmt.Sprintf(", %d unchanged", eq.Unchanged)
	}
	if eq.Failed > 0 {
		msg += fmt.Sprintf(", %d skipped", eq.Failed)
	}
	if res.Containers != nil {
		restored := 0
		for _, c := range res.Containers.Containers {
			if c.Outcome == restore.OutcomeRestored {
				restored++
			}
		}
		msg += fmt.Sprintf("; %s restored", plural(restored, "container"))
	}
	return msg
}
