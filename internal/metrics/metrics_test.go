package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRead(t *testing.T) {
	reg := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vertias_save_requests_total"}, []string{"outcome"})
	writes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vertias_save_writes_total"}, []string{"domain", "status"})
	refused := prometheus.NewCounter(prometheus.CounterOpts{Name: "vertias_empty_writes_refused_total"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vertias_restore_items_total"}, []string{"phase", "outcome"})
	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "unrelated_total"})
	reg.MustRegister(requests, writes, refused, items, other)

	requests.WithLabelValues("coalesced").Add(4)
	requests.WithLabelValues("scheduled").Inc()
	writes.WithLabelValues("equipment", "ok").Add(2)
	refused.Inc()
	items.WithLabelValues("nested", "placement_conflict").Add(3)
	other.Add(99)

	c, err := Read(reg)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if c.SaveRequests["coalesced"] != 4 || c.SaveRequests["scheduled"] != 1 {
		t.Errorf("SaveRequests = %v", c.SaveRequests)
	}
	if c.SaveWrites["equipment/ok"] != 2 {
		t.Errorf("SaveWrites = %v", c.SaveWrites)
	}
	if c.EmptyWritesRefused != 1 {
		t.Errorf("EmptyWritesRefused = %v, want 1", c.EmptyWritesRefused)
	}
	if c.RestoreItems["nested/placement_conflict"] != 3 {
		t.Errorf("RestoreItems = %v", c.RestoreItems)
	}
	if c.BackupFallbacks != 0 || c.MigrationsApplied != 0 {
		t.Errorf("unobserved families = %v/%v, want 0", c.BackupFallbacks, c.MigrationsApplied)
	}
}

func TestRead_DefaultRegistry(t *testing.T) {
	before := testutil.ToFloat64(BackupFallbacks.WithLabelValues("equipment", "test"))
	BackupFallbacks.WithLabelValues("equipment", "test").Inc()

	c, err := Read(prometheus.DefaultGatherer)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if c.BackupFallbacks < before+1 {
		t.Errorf("BackupFallbacks = %v, want at least %v", c.BackupFallbacks, before+1)
	}
}
