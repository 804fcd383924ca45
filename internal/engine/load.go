package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/metrics"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
	"github.com/EstellaNines/Vertias-sub003/internal/store"
)

// Sources a loaded value came from.
const (
	SourcePrimary = "primary"
	SourceBackup  = "backup"
)

// loaded is a decoded, verified envelope payload.
type loaded[T any] struct {
	Key      string
	Value    *T
	Envelope *model.Envelope
	Source   string
	// Fallback is the reason the primary copy was rejected, empty when it was used.
	Fallback string
}

// openEnvelope decodes raw as an envelope, verifies its checksum and decodes
// the payload. prepare repairs and validates the payload.
func openEnvelope[T any](file, key string, raw json.RawMessage, prepare func(*T) error) (*T, *model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, errors.NewValidation(fmt.Sprintf("decode envelope %s in %s: %v", key, file, err))
	}
	if err := model.ValidateEnvelope(&env); err != nil {
		return nil, nil, err
	}
	if ok, got := env.ChecksumValid(); !ok {
		return nil, nil, errors.NewChecksumMismatch(file, key, env.Checksum, got)
	}
	var v T
	if err := env.Decode(&v); err != nil {
		return nil, nil, errors.NewValidation(fmt.Sprintf("%s in %s: %v", key, file, err))
	}
	if err := prepare(&v); err != nil {
		return nil, nil, err
	}
	return &v, &env, nil
}

// readVerified loads key from file, falling back to the backup sibling when
// the primary copy is missing, corrupt or fails its checksum. A nil Value
// with a nil error means neither copy is usable.
func readVerified[T any](ctx context.Context, s *store.Store, file, key string, prepare func(*T) error) (*loaded[T], error) {
	raw, err := s.Read(ctx, key, file)
	if err == nil {
		v, env, openErr := openEnvelope(file, key, raw, prepare)
		if openErr == nil {
			return &loaded[T]{Key: key, Value: v, Envelope: env, Source: SourcePrimary}, nil
		}
		err = openErr
	}
	if ctx.Err() != nil {
		return nil, errors.NewIOFailure("load", file, ctx.Err())
	}

	out := &loaded[T]{Key: key, Fallback: fallbackReason(err)}
	raw, backupErr := s.ReadBackup(ctx, key, file)
	if backupErr != nil {
		if errors.Is(err, errors.ErrNotFound) && errors.Is(backupErr, errors.ErrNotFound) {
			// Nothing stored at all
			return &loaded[T]{Key: key}, nil
		}
		return out, nil
	}
	v, env, backupErr := openEnvelope(store.BackupName(file), key, raw, prepare)
	if backupErr != nil {
		return out, nil
	}
	out.Value, out.Envelope, out.Source = v, env, SourceBackup
	return out, nil
}

func fallbackReason(err error) string {
	if code := errors.CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "unreadable"
}

func prepareEquipment(s *model.SystemSnapshot) error {
	s.ClampStates()
	return model.ValidateSnapshot(s)
}

func prepareContainer(key string) func(*model.ContainerSnapshot) error {
	return func(c *model.ContainerSnapshot) error {
		c.ClampStates()
		if err := model.ValidateContainer(c); err != nil {
			return err
		}
		if got := c.Key().String(); got != key {
			return errors.NewValidation(fmt.Sprintf("container stored under %s carries key %s", key, got))
		}
		return nil
	}
}

// readEquipment loads the stored equipment snapshot without side effects.
func (e *Engine) readEquipment(ctx context.Context) (*loaded[model.SystemSnapshot], error) {
	return readVerified(ctx, e.store, EquipmentFile, EquipmentKey, prepareEquipment)
}

// readContainers loads every stored container with a canonical key. Keys
// are taken from the primary file, or from the backup when the primary is
// unreadable.
func (e *Engine) readContainers(ctx context.Context) ([]*loaded[model.ContainerSnapshot], error) {
	keys, err := e.store.Keys(ContainersFile)
	if err != nil {
		keys, err = e.store.Keys(store.BackupName(ContainersFile))
		if err != nil {
			return nil, nil
		}
	}

	var out []*loaded[model.ContainerSnapshot]
	for _, key := range keys {
		if _, err := model.ParseContainerKey(key); err != nil {
			e.logger.Debug("non-canonical container key ignored", slog.String("key", key))
			continue
		}
		l, err := readVerified(ctx, e.store, ContainersFile, key, prepareContainer(key))
		if err != nil {
			return out, err
		}
		out = append(out, l)
	}
	return out, nil
}

// loadEquipmentForRestore is the restore orchestrator's loader. Fallbacks
// are counted, logged and announced on the gate.
func (e *Engine) loadEquipmentForRestore(ctx context.Context) (*model.SystemSnapshot, error) {
	l, err := e.readEquipment(ctx)
	if err != nil {
		return nil, err
	}
	e.reportFallback(DomainEquipment, EquipmentKey, l.Fallback, l.Source)
	if l.Value == nil {
		return nil, nil
	}
	e.observeTimestamp(l.Envelope.Timestamp)
	e.equipment = l.Value
	e.equipmentDirty = false
	return l.Value, nil
}

func (e *Engine) loadContainersForRestore(ctx context.Context) ([]*model.ContainerSnapshot, error) {
	all, err := e.readContainers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.ContainerSnapshot, 0, len(all))
	for _, l := range all {
		e.reportFallback(DomainContainers, l.Key, l.Fallback, l.Source)
		if l.Value == nil {
			continue
		}
		e.observeTimestamp(l.Envelope.Timestamp)
		out = append(out, l.Value)
	}
	return out, nil
}

func (e *Engine) reportFallback(domain, key, reason, source string) {
	if reason == "" {
		return
	}
	metrics.BackupFallbacks.WithLabelValues(domain, reason).Inc()
	if source == SourceBackup {
		e.logger.Warn("primary copy rejected, using backup",
			slog.String("domain", domain),
			slog.String("key", key),
			slog.String("reason", reason),
		)
	} else {
		e.logger.Warn("primary and backup unusable, continuing with empty state",
			slog.String("domain", domain),
			slog.String("key", key),
			slog.String("reason", reason),
		)
	}
	e.gate.PublishFallback(reason)
}
