package ops

import (
	"context"
	"strings"

	"github.com/EstellaNines/Vertias-sub003/internal/engine"
)

// SaveOutput contains the result of the Save operation.
type SaveOutput struct {
	*engine.FlushResult
	Message string `json:"message"`
}

// Save collects the live state and writes it now.
func Save(ctx context.Context, e *engine.Engine) (*SaveOutput, error) {
	res, err := e.ManualSave(ctx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &engine.FlushResult{Reason: "manual"}
	}
	return &SaveOutput{FlushResult: res, Message: formatSaveMessage(res)}, nil
}

func formatSaveMessage(res *engine.FlushResult) string {
	var parts []string
	switch {
	case res.EquipmentWritten:
		parts = append(parts, "Saved equipment")
	case res.EquipmentRefused:
		parts = append(parts, "Refused empty equipment write during startup grace window")
	}
	if n := len(res.Containers); n > 0 {
		parts = append(parts, "saved "+plural(n, "container"))
	}
	if n := len(res.Refused); n > 0 {
		parts = append(parts, "refused "+plural(n, "empty container"))
	}
	if len(parts) == 0 {
		return "Nothing to save"
	}
	msg := strings.Join(parts, "; ")
	return strings.ToUpper(msg[:1]) + msg[1:]
}
