package tracker

import (
	"context"
	"fmt"
	"sync"

	"sjsage522/estateworker/logger"
)

// Tracker decides whether a listing's identity key is new, across previous
// runs (the prior set) and the current run.
type Tracker struct {
	mu       sync.Mutex
	prior    map[string]struct{}
	run      map[string]struct{}
	backfill bool
	store    Store
	log      *logger.Logger
}

// Open loads the prior set from the store. In backfill mode the prior set
// is still loaded (so commit keeps it) but ignored when classifying.
func Open(ctx context.Context, store Store, backfill bool) (*Tracker, error) {
	prior, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load seen set: %w", err)
	}

	log := logger.ForComponent("tracker")
	if backfill {
		log.Warn().Int("prior_keys", len(prior)).Msg("Backfill mode: previously seen keys will be re-emitted")
	} else {
		log.Info().Int("prior_keys", len(prior)).Msg("Seen set loaded")
	}

	return &Tracker{
		prior:    prior,
		run:      make(map[string]struct{}),
		backfill: backfill,
		store:    store,
		log:      log,
	}, nil
}

// Classify reports whether key is new and records it in the run set. The
// check and the insert happen under one lock, so two concurrent calls with
// the same key yield exactly one true.
func (t *Tracker) Classify(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.run[key]; dup {
		return false
	}
	if !t.backfill {
		if _, dup := t.prior[key]; dup {
			return false
		}
	}
	t.run[key] = struct{}{}
	return true
}

// Forget removes a key recorded during this run, so a record held back
// (e.g. geocoding failed) is treated as new again on a later run.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.run, key)
}

// RunSize returns how many keys were recorded this run
func (t *Tracker) RunSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.run)
}

// Commit persists prior ∪ run through the store
func (t *Tracker) Commit(ctx context.Context) error {
	t.mu.Lock()
	union := make(map[string]struct{}, len(t.prior)+len(t.run))
	for k := range t.prior {
		union[k] = struct{}{}
	}
	for k := range t.run {
		union[k] = struct{}{}
	}
	added := len(union) - len(t.prior)
	t.mu.Unlock()

	if err := t.store.Replace(ctx, union); err != nil {
		return fmt.Errorf("commit seen set: %w", err)
	}

	t.mu.Lock()
	t.prior = union
	t.mu.Unlock()

	t.log.Info().Int("total_keys", len(union)).Int("added", added).Msg("Seen set committed")
	return nil
}
