// Package reconcile merges normalized offender records into the store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duiwatch/internal/logger"
	"duiwatch/internal/models"
	"duiwatch/internal/store"
)

// Outcome tells whether a reconcile inserted or updated a record.
type Outcome string

// Reconcile outcomes.
const (
	Created Outcome = "created"
	Updated Outcome = "updated"
)

// Result is the outcome of one reconcile.
type Result struct {
	Outcome Outcome
	ID      string
	Key     store.MatchKey
	// Filled lists the stored columns that were empty and got a value.
	Filled []string
}

// Reconciler decides new-vs-update against the store.
type Reconciler struct {
	store store.Store
	log   *logger.Logger
	now   func() time.Time
}

// New creates a reconciler over s.
func New(s store.Store, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewNop()
	}

	return &Reconciler{store: s, log: log, now: time.Now}
}

// Reconcile looks rec up by each of its match keys in precedence order
// (id number, license plate, case number). The first stored record that
// matches and has no conflicting stronger identifier gets its empty fields
// filled and a provenance row appended. Without a match rec is inserted with
// its first provenance row. Stored values are never overwritten.
func (r *Reconciler) Reconcile(ctx context.Context, rec *models.OffenderRecord, prov models.SourceProvenance) (Result, error) {
	keys := store.KeysFor(rec)
	if len(keys) == 0 {
		return Result{}, store.ErrNoMatchKey
	}

	if prov.SourceName == "" {
		prov.SourceName = rec.Source
	}

	if prov.CrawlTime.IsZero() {
		prov.CrawlTime = rec.CrawlTime
	}

	res := Result{Key: keys[0]}

	err := r.store.Transaction(ctx, func(tx store.Store) error {
		stored, key, err := r.match(ctx, tx, rec, keys)
		if err != nil {
			return err
		}

		if stored == nil {
			id, err := tx.Insert(ctx, rec)
			if err != nil {
				return err
			}

			res.Outcome, res.ID = Created, id

			return tx.AppendProvenance(ctx, id, prov)
		}

		patch := store.FillMissing(stored, rec)
		patch.UpdatedAt = r.now().UTC()

		if err := tx.UpdateFields(ctx, stored.ID, patch); err != nil {
			return err
		}

		for _, c := range patch.Columns() {
			res.Filled = append(res.Filled, c.Name)
		}

		res.Outcome, res.ID, res.Key = Updated, stored.ID, key

		return tx.AppendProvenance(ctx, stored.ID, prov)
	})
	if err != nil {
		return Result{}, fmt.Errorf("reconcile %s=%s: %w", res.Key.Field, res.Key.Value, err)
	}

	if len(res.Filled) > 0 {
		r.log.Debug("🧩 Filled missing fields", "id", res.ID, "fields", res.Filled)
	}

	return res, nil
}

// match returns the stored record for the first usable key, or nil.
func (r *Reconciler) match(ctx context.Context, tx store.Store, rec *models.OffenderRecord, keys []store.MatchKey) (*models.OffenderRecord, store.MatchKey, error) {
	for _, key := range keys {
		stored, err := tx.FindByMatchKey(ctx, key)

		switch {
		case errors.Is(err, store.ErrNotFound):
			continue
		case err != nil:
			return nil, key, err
		case key.Conflicts(stored, rec):
			r.log.Debug("⚠️ Match key shared by different identities", "field", key.Field, "id", stored.ID)

			continue
		default:
			return stored, key, nil
		}
	}

	return nil, store.MatchKey{}, nil
}
