// Package stable persists the protocol state on a storage.Database and runs
// every entry point as an atomic unit: writes are buffered in an overlay and
// committed through one batch, or dropped when the unit fails.
package stable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"hedgepool/core/events"
	"hedgepool/storage"
)

var errReadOnly = errors.New("stable: write inside a read-only unit")

type unitKey struct{ store *Store }

// unit is the overlay of one atomic unit.
type unit struct {
	writes   map[string][]byte
	deletes  map[string]struct{}
	events   []events.Event
	readOnly bool
}

func newUnit(readOnly bool) *unit {
	return &unit{
		writes:   make(map[string][]byte),
		deletes:  make(map[string]struct{}),
		readOnly: readOnly,
	}
}

// Store implements every repository used by the engines plus the
// common.Transactor that scopes their units. Units are serialised. Repository
// methods called outside a unit read and write the database directly.
type Store struct {
	mu      sync.Mutex
	db      storage.Database
	active  *unit
	emitter events.Emitter
	logger  *slog.Logger
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db, emitter: events.NoopEmitter{}, logger: slog.Default()}
}

// SetEmitter sets the downstream emitter committed events are delivered to.
func (s *Store) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	s.emitter = emitter
}

func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Emitter returns an emitter that holds events until the surrounding unit
// commits. Events of a failed unit are never delivered.
func (s *Store) Emitter() events.Emitter { return unitEmitter{s} }

type unitEmitter struct{ s *Store }

func (e unitEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if u := e.s.active; u != nil {
		if !u.readOnly {
			u.events = append(u.events, evt)
		}
		return
	}
	e.s.emitter.Emit(evt)
}

// Atomic runs fn as one unit and commits its writes only when fn succeeds.
// A ctx derived from an active unit joins it.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.run(ctx, false, fn)
}

// View runs fn against the committed state. Writes are rejected.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(ctx context.Context) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if joined, ok := ctx.Value(unitKey{s}).(*unit); ok && joined != nil && joined == s.active {
		if !readOnly && joined.readOnly {
			return errReadOnly
		}
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := newUnit(readOnly)
	s.active = u
	defer func() {
		s.active = nil
		if r := recover(); r != nil {
			s.logger.Error("atomic unit panicked, state discarded", "panic", r)
			panic(r)
		}
	}()
	if err := fn(context.WithValue(ctx, unitKey{s}, u)); err != nil {
		return err
	}
	if readOnly {
		return nil
	}
	if err := s.commit(u); err != nil {
		return fmt.Errorf("stable: commit: %w", err)
	}
	s.active = nil
	for _, evt := range u.events {
		s.emitter.Emit(evt)
	}
	return nil
}

func (s *Store) commit(u *unit) error {
	if len(u.writes) == 0 && len(u.deletes) == 0 {
		return nil
	}
	batch := new(storage.Batch)
	keys := make([]string, 0, len(u.writes)+len(u.deletes))
	for k := range u.writes {
		keys = append(keys, k)
	}
	for k := range u.deletes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := u.writes[k]; ok {
			batch.Put([]byte(k), v)
			continue
		}
		batch.Delete([]byte(k))
	}
	return s.db.Write(batch)
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	if u := s.active; u != nil {
		k := string(key)
		if _, gone := u.deletes[k]; gone {
			return nil, false, nil
		}
		if v, ok := u.writes[k]; ok {
			return bytes.Clone(v), true, nil
		}
	}
	v, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) put(key, value []byte) error {
	if u := s.active; u != nil {
		if u.readOnly {
			return errReadOnly
		}
		k := string(key)
		delete(u.deletes, k)
		u.writes[k] = bytes.Clone(value)
		return nil
	}
	return s.db.Put(key, value)
}

func (s *Store) del(key []byte) error {
	if u := s.active; u != nil {
		if u.readOnly {
			return errReadOnly
		}
		k := string(key)
		delete(u.writes, k)
		u.deletes[k] = struct{}{}
		return nil
	}
	return s.db.Delete(key)
}

// iterate visits every live key under prefix in ascending order, overlay
// included.
func (s *Store) iterate(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	if err := s.db.Iterate(prefix, func(k, v []byte) bool {
		merged[string(k)] = v
		return true
	}); err != nil {
		return err
	}
	if u := s.active; u != nil {
		for k := range u.deletes {
			delete(merged, k)
		}
		for k, v := range u.writes {
			if bytes.HasPrefix([]byte(k), prefix) {
				merged[k] = v
			}
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), bytes.Clone(merged[k])); err != nil {
			return err
		}
	}
	return nil
}
