package conflict

import (
	"log/slog"

	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/live"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
)

// Catalog returns every entry sharing a global id.
type Catalog interface {
	Lookup(globalID int64) []live.CatalogEntry
}

// Match describes how an entry was chosen.
type Match string

const (
	MatchUnique   Match = "unique"
	MatchName     Match = "name"
	MatchCategory Match = "category"
	MatchFallback Match = "fallback"
)

// Resolver breaks global id collisions.
type Resolver struct {
	catalog Catalog
	logger  *slog.Logger
}

// NewResolver creates a resolver over catalog.
func NewResolver(catalog Catalog, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{catalog: catalog, logger: logger.With(slog.String("component", "resolver"))}
}

// Resolve picks the entry for globalID: the one whose name equals name, else
// the one whose category equals expected, else the first candidate.
func (r *Resolver) Resolve(globalID int64, name string, expected model.Category) (live.CatalogEntry, Match, error) {
	candidates := r.catalog.Lookup(globalID)
	switch len(candidates) {
	case 0:
		return live.CatalogEntry{}, "", errors.NewMissingCatalogEntry(globalID)
	case 1:
		return candidates[0], MatchUnique, nil
	}

	// Name first; when several share the name, the category decides among them
	var named []live.CatalogEntry
	if name != "" {
		for _, c := range candidates {
			if c.Name == name {
				named = append(named, c)
			}
		}
	}
	if len(named) == 1 {
		return named[0], MatchName, nil
	}

	pool := candidates
	if len(named) > 1 {
		pool = named
	}
	if expected != "" {
		for _, c := range pool {
			if c.Category == expected {
				return c, MatchCategory, nil
			}
		}
	}

	r.logger.Info("ambiguous global id, using first candidate",
		slog.Int64("global_id", globalID),
		slog.String("name", name),
		slog.String("expected_category", string(expected)),
		slog.Int("candidates", len(candidates)),
	)
	return pool[0], MatchFallback, nil
}
