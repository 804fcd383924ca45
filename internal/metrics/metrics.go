// Package metrics declares the Prometheus collectors shared by the
// persistence components. All collectors register on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// StoreOperations counts store calls by operation, file and status.
	StoreOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vertias_store_operations_total",
		Help: "Persistence store operations by type and status",
	}, []string{"operation", "file", "status"})

	StoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vertias_store_duration_seconds",
		Help:    "Time spent in persistence store operations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation"})

	// BackupFallbacks counts loads served from the _backup sibling.
	BackupFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vertias_backup_fallbacks_total",
		Help: "Loads that fell back to the backup file",
	}, []string{"domain", "reason"})

	// SaveRequests counts scheduler requests by how they were handled.
	SaveRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vertias_save_requests_total",
		Help: "Save requests by outcome (scheduled, coalesced, dropped, immediate)",
	}, []string{"outcome"})

	SaveWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vertias_save_writes_total",
		Help: "Envelope writes by domain and status",
	}, []string{"domain", "status"})

	EmptyWritesRefused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vertias_empty_writes_refused_total",
		Help: "Empty snapshots refused inside the startup grace window",
	})

	// RestoreItems counts per-item restore outcomes.
	RestoreItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vertias_restore_items_total",
		Help: "Restored items by phase and outcome",
	}, []string{"phase", "outcome"})

	RestoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vertias_restore_duration_seconds",
		Help:    "Duration of restore passes",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
	}, []string{"phase", "status"})

	MigrationsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vertias_migrations_applied_total",
		Help: "Legacy data migrations applied",
	}, []string{"kind"})
)

// Counters is a point-in-time read of the process counters. Keys of the
// map fields join label values with "/" (domain/status, phase/outcome).
type Counters struct {
	SaveRequests       map[string]float64 `json:"save_requests,omitempty"`
	SaveWrites         map[string]float64 `json:"save_writes,omitempty"`
	EmptyWritesRefused float64            `json:"empty_writes_refused"`
	BackupFallbacks    float64            `json:"backup_fallbacks"`
	RestoreItems       map[string]float64 `json:"restore_items,omitempty"`
	MigrationsApplied  float64            `json:"migrations_applied"`
}

// Read gathers the vertias counters from g. Families not yet observed are
// left at zero.
func Read(g prometheus.Gatherer) (*Counters, error) {
	mfs, err := g.Gather()
	if err != nil {
		return nil, err
	}
	c := &Counters{
		SaveRequests: make(map[string]float64),
		SaveWrites:   make(map[string]float64),
		RestoreItems: make(map[string]float64),
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			switch mf.GetName() {
			case "vertias_save_requests_total":
				c.SaveRequests[label(m, "outcome")] += v
			case "vertias_save_writes_total":
				c.SaveWrites[label(m, "domain")+"/"+label(m, "status")] += v
			case "vertias_empty_writes_refused_total":
				c.EmptyWritesRefused += v
			case "vertias_backup_fallbacks_total":
				c.BackupFallbacks += v
			case "vertias_restore_items_total":
				c.RestoreItems[label(m, "phase")+"/"+label(m, "outcome")] += v
			case "vertias_migrations_applied_total":
				c.MigrationsApplied += v
			}
		}
	}
	return c, nil
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
