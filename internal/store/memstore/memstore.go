// Package memstore keeps offender records in memory. It backs tests and
// dry runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"duiwatch/internal/models"
	"duiwatch/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	records    map[string]*models.OffenderRecord
	provenance map[string][]models.SourceProvenance
	now        func() time.Time
	mu         sync.Mutex
	txMu       sync.Mutex
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		records:    make(map[string]*models.OffenderRecord),
		provenance: make(map[string][]models.SourceProvenance),
		now:        time.Now,
	}
}

// FindByMatchKey implements store.Store. The oldest matching record wins.
func (s *Store) FindByMatchKey(ctx context.Context, key store.MatchKey) (*models.OffenderRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !key.Valid() {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidKey, key.Field)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var found *models.OffenderRecord

	for _, rec := range s.records {
		if !key.Matches(rec) {
			continue
		}

		if found == nil || rec.CreatedAt.Before(found.CreatedAt) ||
			(rec.CreatedAt.Equal(found.CreatedAt) && rec.ID < found.ID) {
			found = rec
		}
	}

	if found == nil {
		return nil, store.ErrNotFound
	}

	return clone(found), nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, id string) (*models.OffenderRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	return clone(rec), nil
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, rec *models.OffenderRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !rec.Valid() {
		return "", store.ErrNoMatchKey
	}

	stored := clone(rec)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}

	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[stored.ID] = stored

	return stored.ID, nil
}

// UpdateFields implements store.Store.
func (s *Store) UpdateFields(ctx context.Context, id string, patch store.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}

	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = s.now().UTC()
	}

	patch.Apply(rec)

	return nil
}

// AppendProvenance implements store.Store.
func (s *Store) AppendProvenance(ctx context.Context, offenderID string, prov models.SourceProvenance) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[offenderID]; !ok {
		return store.ErrNotFound
	}

	if prov.ID == "" {
		prov.ID = uuid.NewString()
	}

	prov.OffenderID = offenderID
	s.provenance[offenderID] = append(s.provenance[offenderID], prov)

	return nil
}

// ListProvenance implements store.Store.
func (s *Store) ListProvenance(ctx context.Context, offenderID string) ([]models.SourceProvenance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.SourceProvenance(nil), s.provenance[offenderID]...), nil
}

// Transaction implements store.Store. Transactions are serialized; when fn
// fails every change it made is rolled back.
func (s *Store) Transaction(ctx context.Context, fn func(store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	records, provenance := s.snapshot()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.records, s.provenance = records, provenance
		s.mu.Unlock()

		return err
	}

	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

// All returns every record ordered by creation time.
func (s *Store) All() []*models.OffenderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.OffenderRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, clone(rec))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}

		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

func (s *Store) snapshot() (map[string]*models.OffenderRecord, map[string][]models.SourceProvenance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make(map[string]*models.OffenderRecord, len(s.records))
	for id, rec := range s.records {
		records[id] = clone(rec)
	}

	provenance := make(map[string][]models.SourceProvenance, len(s.provenance))
	for id, list := range s.provenance {
		provenance[id] = append([]models.SourceProvenance(nil), list...)
	}

	return records, provenance
}

func clone(rec *models.OffenderRecord) *models.OffenderRecord {
	c := *rec

	copyStr := func(p *string) *string {
		if p == nil {
			return nil
		}

		v := *p

		return &v
	}

	c.IDNumber = copyStr(rec.IDNumber)
	c.LicensePlate = copyStr(rec.LicensePlate)
	c.Gender = copyStr(rec.Gender)
	c.CaseNumber = copyStr(rec.CaseNumber)
	c.ViolationClause = copyStr(rec.ViolationClause)
	c.Location = copyStr(rec.Location)
	c.Description = copyStr(rec.Description)
	c.SourceURL = copyStr(rec.SourceURL)
	c.ImageURL = copyStr(rec.ImageURL)

	if rec.ViolationDate != nil {
		d := *rec.ViolationDate
		c.ViolationDate = &d
	}

	if rec.RawData != nil {
		c.RawData = make(map[string]string, len(rec.RawData))
		for k, v := range rec.RawData {
			c.RawData[k] = v
		}
	}

	return &c
}
