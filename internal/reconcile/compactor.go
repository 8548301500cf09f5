package reconcile

import (
	"errors"
	"fmt"

	"github.com/drivelog-data/drivelog/internal/db"
	"github.com/drivelog-data/drivelog/internal/monitoring"
	"github.com/drivelog-data/drivelog/internal/telemetry"
)

// compactor merges the observation stream of one (entity, signal) into
// non-overlapping constant-value interval facts. It keeps only the ID
// of the newest fact and re-fetches it per call; a row deleted
// out-of-band triggers a re-query of the latest fact instead of an
// error.
type compactor struct {
	store  *db.DB
	entity telemetry.Entity
	signal telemetry.Signal
	factID int64 // 0 = no known fact
}

// newCompactor seeds the cursor from the newest stored fact so the
// first live observation is ordered against history, not applied blind.
func newCompactor(store *db.DB, entity telemetry.Entity, signal telemetry.Signal) (*compactor, error) {
	if store == nil {
		return nil, fmt.Errorf("compactor for %s/%s: nil store", entity.ID(), signal)
	}
	c := &compactor{store: store, entity: entity, signal: signal}
	latest, err := store.LatestFact(entity.ID(), string(signal))
	if err != nil {
		return nil, err
	}
	if latest != nil {
		c.factID = latest.ID
	}
	return c, nil
}

// current returns the fact the cursor points at, re-querying the latest
// fact when the row has vanished.
func (c *compactor) current() (*db.Fact, error) {
	if c.factID == 0 {
		return c.store.LatestFact(c.entity.ID(), string(c.signal))
	}
	f, err := c.store.FactByID(c.factID)
	if errors.Is(err, db.ErrRecordGone) {
		monitoring.Logf("[Compactor] fact %d for %s/%s vanished, re-querying latest", c.factID, c.entity.ID(), c.signal)
		c.factID = 0
		return c.store.LatestFact(c.entity.ID(), string(c.signal))
	}
	return f, err
}

// Apply merges one observation. Disabled or undated observations are
// skipped; at most one store write happens per call.
func (c *compactor) Apply(obs telemetry.Observation) error {
	if !obs.Enabled {
		return nil
	}
	w := obs.Watermark()
	if w == nil {
		return nil
	}

	prior, err := c.current()
	if err != nil {
		return err
	}

	var text *string
	var num *float64
	if obs.Value.Kind == telemetry.KindNumber {
		v := obs.Value.Number
		num = &v
	} else {
		s := obs.Value.Text
		text = &s
	}
	next := &db.Fact{
		EntityID:    c.entity.ID(),
		Signal:      string(c.signal),
		TextValue:   text,
		NumberValue: num,
	}

	// Out-of-order observation: what we hold is already newer.
	if prior != nil && !w.After(prior.LastDate) {
		return nil
	}

	if prior != nil && prior.SameValue(next) {
		if err := c.store.ExtendFact(prior.ID, prior.Version, *w); err != nil {
			if errors.Is(err, db.ErrStaleRecord) || errors.Is(err, db.ErrRecordGone) {
				monitoring.Logf("[Compactor] lost extend race on fact %d for %s/%s: %v", prior.ID, c.entity.ID(), c.signal, err)
				return nil
			}
			return err
		}
		c.factID = prior.ID
		return nil
	}

	first := *w
	if obs.ChangedAt != nil && (prior == nil || obs.ChangedAt.After(prior.LastDate)) {
		first = *obs.ChangedAt
	}
	last := *w
	if first.After(last) {
		last = first
	}
	next.FirstDate = first
	next.LastDate = last
	if err := c.store.InsertFact(next); err != nil {
		if errors.Is(err, db.ErrConflict) {
			monitoring.Logf("[Compactor] lost insert race for %s/%s: %v", c.entity.ID(), c.signal, err)
			return nil
		}
		return err
	}
	c.factID = next.ID
	return nil
}

// handler adapts the compactor to a bus subscription, serialized by the
// given lock.
func (c *compactor) handler(lk *timeoutLock) telemetry.Handler {
	return func(obs telemetry.Observation, _ telemetry.Event) {
		if !lk.lock(lockTimeout) {
			monitoring.Logf("[Compactor] lock timeout for %s/%s, skipping observation", c.entity.ID(), c.signal)
			return
		}
		defer lk.unlock()
		if err := c.Apply(obs); err != nil {
			monitoring.Logf("[Compactor] failed to apply %s/%s: %v", c.entity.ID(), c.signal, err)
		}
	}
}
