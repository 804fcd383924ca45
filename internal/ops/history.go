package ops

import (
	"strings"

	"github.com/EstellaNines/Vertias-sub003/internal/db"
	"github.com/EstellaNines/Vertias-sub003/internal/engine"
)

// HistoryInput contains parameters for the History operation.
type HistoryInput struct {
	Domain string // optional: equipment or containers
	Limit  int
}

// HistoryOutput contains the result of the History operation.
type HistoryOutput struct {
	Items []db.HistoryEntry `json:"items"`
	Limit int               `json:"limit"`
	Total int               `json:"total"`
}

// History lists recorded writes, newest first.
func History(e *engine.Engine, input HistoryInput) (*HistoryOutput, error) {
	domain := strings.ToLower(strings.TrimSpace(input.Domain))
	limit := clampLimit(input.Limit, DefaultHistoryLimit, MaxHistoryLimit)

	items, err := e.History(domain, limit)
	if err != nil {
		return nil, err
	}
	total, err := e.HistoryTotal(domain)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []db.HistoryEntry{}
	}
	return &HistoryOutput{Items: items, Limit: limit, Total: total}, nil
}
