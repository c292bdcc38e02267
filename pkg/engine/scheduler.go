// ABOUTME: Debounced and immediate unit saves, lease gating and flush-all
// ABOUTME: Payloads are captured under the lock when a save fires, never at edit time

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nainya/draftsync/pkg/chunk"
	"github.com/nainya/draftsync/pkg/docstore"
)

// immediate schedules a save without a debounce window
const immediate = time.Duration(-1)

// touchLocked records an edit to key and (re)arms its save
func (e *Engine) touchLocked(key string, delay time.Duration) {
	u := e.units[key]
	if u == nil {
		u = &unit{state: StateEmpty}
		e.units[key] = u
	}
	u.version++
	u.dirty = true
	u.err = nil
	e.armLocked(key, u, delay)
	e.updatePendingLocked()
}

// armLocked replaces any pending timer for key. Offline units only record
// that they are dirty.
func (e *Engine) armLocked(key string, u *unit, delay time.Duration) {
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	if !e.online {
		u.state = StateOffline
		return
	}
	u.state = StateWriting

	epoch, seq := e.epoch, u.version
	if delay < 0 {
		e.inflight++
		go e.run(epoch, key)
		return
	}
	u.timer = time.AfterFunc(delay, func() { e.fire(epoch, key, seq) })
}

// delayFor is the debounce window used when a dirty unit is rearmed
func (e *Engine) delayFor(key string) time.Duration {
	switch key {
	case UnitMeta:
		return e.opts.MetaDebounce
	case UnitCharacters, UnitLocations, UnitStructure:
		return immediate
	}
	return e.opts.TextDebounce
}

// fire runs when a debounce timer expires. A timer superseded by a later
// edit or by another document does nothing.
func (e *Engine) fire(epoch uint64, key string, seq uint64) {
	e.mu.Lock()
	u := e.units[key]
	if e.epoch != epoch || u == nil || u.version != seq || u.timer == nil {
		e.mu.Unlock()
		return
	}
	u.timer = nil
	e.inflight++
	e.updatePendingLocked()
	e.mu.Unlock()

	e.run(epoch, key)
}

// run saves key with the engine's own timeout and releases its inflight slot
func (e *Engine) run(epoch uint64, key string) {
	defer e.done()

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.SaveTimeout)
	defer cancel()
	e.save(ctx, epoch, key)
}

func (e *Engine) done() {
	e.mu.Lock()
	e.inflight--
	if e.inflight == 0 {
		e.idle.Broadcast()
	}
	e.mu.Unlock()
}

func (e *Engine) updatePendingLocked() {
	n := 0
	for _, u := range e.units {
		if u.timer != nil {
			n++
		}
	}
	e.metrics.PendingSaves.Set(float64(n))
}

// unitLock serializes saves of one unit. refs counts holders and waiters.
type unitLock struct {
	sync.Mutex
	refs int
}

// lockUnit blocks until no other save of key runs and returns the release
// func. The entry is dropped once nobody holds or waits for it.
func (e *Engine) lockUnit(key string) func() {
	e.mu.Lock()
	l := e.saveLocks[key]
	if l == nil {
		l = &unitLock{}
		e.saveLocks[key] = l
	}
	l.refs++
	e.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.saveLocks, key)
		}
		e.mu.Unlock()
	}
}

// saveOp is one captured persistence call
type saveOp struct {
	write  func(ctx context.Context) error
	commit func() // under e.mu after write succeeds
	failed func() // under e.mu after write fails
	text   bool   // counts toward writing activity
}

// save persists the current in-memory value of key. Saves of one unit are
// serialized; the value written is whatever memory holds once the lease
// check passes, so a burst of edits collapses into a single write.
func (e *Engine) save(ctx context.Context, epoch uint64, key string) *SaveError {
	defer e.lockUnit(key)()

	e.mu.Lock()
	u := e.units[key]
	if e.epoch != epoch || e.doc == nil || u == nil || !u.dirty {
		e.mu.Unlock()
		return nil
	}
	userID, signedIn := e.ident.CurrentUser()
	if !signedIn || !e.online {
		u.state = StateOffline
		e.mu.Unlock()
		e.notify()
		return nil
	}
	u.state = StateSyncing
	log := e.log
	e.mu.Unlock()
	e.notify()

	start := time.Now()
	active, err := e.gate.IsActiveNow(ctx)
	switch {
	case err != nil:
		e.metrics.RecordGate("error")
		return e.fail(epoch, key, fmt.Errorf("lease check: %w", err), "error", start, nil)
	case !active:
		e.metrics.RecordGate("denied")
		return e.fail(epoch, key, ErrLeaseNotHeld, "denied", start, nil)
	}
	e.metrics.RecordGate("granted")

	e.mu.Lock()
	u = e.units[key]
	if e.epoch != epoch || e.doc == nil || u == nil {
		e.mu.Unlock()
		return nil
	}
	version := u.version
	op := e.prepareLocked(key, userID)
	e.mu.Unlock()

	if op == nil {
		e.settle(epoch, key, version, start)
		return nil
	}

	if err := op.write(ctx); err != nil {
		return e.fail(epoch, key, err, "error", start, op.failed)
	}

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return nil
	}
	if op.commit != nil {
		op.commit()
	}
	docID, words := e.doc.ID, e.doc.WordCount
	e.mu.Unlock()

	e.settle(epoch, key, version, start)
	log.LogSave(key, time.Since(start), nil)

	if op.text && e.opts.Activity != nil {
		if err := e.opts.Activity.Record(ctx, userID, docID, words); err != nil {
			log.Warn("activity update failed").Err(err).Send()
		}
	}
	return nil
}

// settle marks key saved unless it was edited again while the write ran
func (e *Engine) settle(epoch uint64, key string, version uint64, start time.Time) {
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return
	}
	if u := e.units[key]; u != nil {
		u.savedAt = e.opts.Now()
		u.err = nil
		if u.version == version {
			u.dirty = false
			u.state = e.settledLocked(key)
		} else if u.state == StateSyncing {
			u.state = StateWriting
		}
	}
	e.mu.Unlock()

	e.metrics.RecordSave(unitKind(key), "success", time.Since(start))
	e.notify()
}

// fail records a failed save. The unit stays dirty so a later flush retries it.
func (e *Engine) fail(epoch uint64, key string, err error, status string, start time.Time, failed func()) *SaveError {
	saveErr := &SaveError{Unit: key, Err: err}

	e.mu.Lock()
	log := e.log
	if e.epoch == epoch {
		if failed != nil {
			failed()
		}
		if u := e.units[key]; u != nil {
			u.state = StateError
			u.err = saveErr
		}
	}
	e.mu.Unlock()

	e.metrics.RecordSave(unitKind(key), status, time.Since(start))
	log.LogSave(key, time.Since(start), err)
	e.notify()
	return saveErr
}

// prepareLocked captures the payload for key. A nil op means there is
// nothing to write.
func (e *Engine) prepareLocked(key, userID string) *saveOp {
	now := e.opts.Now().UTC()
	docID := e.doc.ID

	switch key {
	case UnitMeta:
		var poem PoemStats
		if e.doc.Kind == KindPoem {
			poem = ComputePoemStats(e.body.text, e.opts.ReadingWPM)
		}
		rec := e.doc.toRecord(userID, poem, now)
		return &saveOp{
			write: func(ctx context.Context) error {
				return docstore.PutJSON(ctx, e.store, docstore.DocumentKey(docID), rec)
			},
			commit: func() {
				e.metaSaved = true
				if e.doc != nil {
					e.doc.UpdatedAt = now
				}
			},
		}

	case UnitCharacters:
		rec := charactersRecord{Characters: append([]Character{}, e.characters...)}
		return e.putOp(docstore.CharactersKey(docID), rec)

	case UnitLocations:
		rec := locationsRecord{Locations: append([]Location{}, e.locations...)}
		return e.putOp(docstore.LocationsKey(docID), rec)

	case UnitStructure:
		return e.putOp(docstore.StructureKey(docID), e.structureLocked(now))

	case UnitBody:
		return e.textOp(e.body, docstore.BodyTextKeys(docID), now)
	}

	t := e.textLocked(key)
	if t == nil {
		return nil
	}
	keys := docstore.ChapterTextKeys(docID, key[len(chapterUnitPrefix):])
	if t.removed {
		return e.removeOp(key, t, keys)
	}
	return e.textOp(t, keys, now)
}

func (e *Engine) putOp(key string, v interface{}) *saveOp {
	return &saveOp{
		write: func(ctx context.Context) error {
			return docstore.PutJSON(ctx, e.store, key, v)
		},
	}
}

// textOp writes a text unit's fragments, then its content record, then
// prunes fragments the previous save left behind
func (e *Engine) textOp(t *textUnit, keys docstore.TextKeys, now time.Time) *saveOp {
	text, words, chars, before := t.text, t.words, t.chars, t.parts
	attempted := len(chunk.Split(text, e.opts.MaxPartSize))
	state := nonEmpty(len(text))

	var res chunk.Result
	return &saveOp{
		text: true,
		write: func(ctx context.Context) error {
			var err error
			res, err = chunk.Save(ctx, e.store, keys, text, e.opts.MaxPartSize, before, func(parts int) error {
				return docstore.PutJSON(ctx, e.store, keys.Meta(), contentRecord{
					WordCount:   words,
					CharCount:   chars,
					State:       state,
					LastSavedAt: now,
					PartCount:   parts,
				})
			})
			return err
		},
		commit: func() {
			t.parts = res.Parts
			t.savedAt = now
			e.metrics.RecordChunkParts(res.Parts, res.Pruned)
		},
		failed: func() {
			// fragments may have been written before the failure
			if attempted > t.parts {
				t.parts = attempted
			}
		},
	}
}

// removeOp deletes a removed chapter's fragments and content record
func (e *Engine) removeOp(key string, t *textUnit, keys docstore.TextKeys) *saveOp {
	parts := t.parts
	id := key[len(chapterUnitPrefix):]
	return &saveOp{
		write: func(ctx context.Context) error {
			if err := chunk.Delete(ctx, e.store, keys, parts); err != nil {
				return err
			}
			return e.store.Delete(ctx, keys.Meta())
		},
		commit: func() {
			e.metrics.RecordChunkParts(0, parts)
			if u := e.units[key]; u != nil && u.timer != nil {
				u.timer.Stop()
			}
			delete(e.texts, id)
			delete(e.units, key)
		},
	}
}

func (e *Engine) structureLocked(now time.Time) structureRecord {
	rec := structureRecord{Acts: make([]actRecord, 0, len(e.acts)), UpdatedAt: now}
	for _, act := range e.acts {
		rec.Acts = append(rec.Acts, actRecord{Act: act, Chapters: e.chaptersForActLocked(act.ID)})
	}
	return rec
}

// FlushAll saves every unit with a pending or failed save using ctx and
// waits for all in-flight saves, including ones started elsewhere. The
// returned *FlushError names every unit whose edits are still unsaved: units
// left in StateError, and offline units held back with ErrOffline or
// ErrSignedOut. Units edited again during the flush are not reported.
func (e *Engine) FlushAll(ctx context.Context) error {
	e.mu.Lock()
	if e.doc == nil {
		e.mu.Unlock()
		return nil
	}
	epoch := e.epoch
	var keys []string
	for key, u := range e.units {
		if u.timer != nil {
			u.timer.Stop()
			u.timer = nil
		}
		if u.dirty {
			keys = append(keys, key)
		}
	}
	e.inflight += len(keys)
	e.updatePendingLocked()
	e.mu.Unlock()

	for _, key := range keys {
		go func(key string) {
			defer e.done()
			e.save(ctx, epoch, key)
		}(key)
	}

	e.mu.Lock()
	for e.inflight > 0 {
		e.idle.Wait()
	}
	var failures []*SaveError
	if e.epoch == epoch {
		held := ErrOffline
		if _, signedIn := e.ident.CurrentUser(); e.online && !signedIn {
			held = ErrSignedOut
		}
		for key, u := range e.units {
			if !u.dirty {
				continue
			}
			switch u.state {
			case StateError:
				var saveErr *SaveError
				if !errors.As(u.err, &saveErr) {
					saveErr = &SaveError{Unit: key, Err: u.err}
				}
				failures = append(failures, saveErr)
			case StateOffline:
				failures = append(failures, &SaveError{Unit: key, Err: held})
			}
		}
	}
	log := e.log
	e.mu.Unlock()

	var err error
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Unit < failures[j].Unit })
		err = &FlushError{Failures: failures}
	}
	e.metrics.RecordFlush(err)
	if err != nil {
		log.Warn("flush incomplete").Strs("units", err.(*FlushError).Units()).Send()
	} else {
		log.Debug("flush complete").Int("units", len(keys)).Send()
	}
	return err
}

// Pending lists units with edits not yet persisted
func (e *Engine) Pending() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var keys []string
	for key, u := range e.units {
		if u.dirty {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
