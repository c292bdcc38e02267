// Package engine holds the open document in memory, turns edits into
// debounced or immediate saves gated by the lease, and tracks a visible save
// state per unit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/draftsync/internal/logger"
	"github.com/nainya/draftsync/internal/metrics"
	"github.com/nainya/draftsync/pkg/activity"
	"github.com/nainya/draftsync/pkg/chunk"
	"github.com/nainya/draftsync/pkg/docstore"
	"github.com/nainya/draftsync/pkg/identity"
)

// Defaults applied by New
const (
	DefaultTextDebounce  = time.Second
	DefaultMaxCharacters = 20
	DefaultSaveTimeout   = 30 * time.Second
)

// Gate reports whether this session may write at this moment
type Gate interface {
	IsActiveNow(ctx context.Context) (bool, error)
}

// GateFunc adapts a function to Gate
type GateFunc func(ctx context.Context) (bool, error)

func (f GateFunc) IsActiveNow(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Options tunes an Engine. Zero values take the defaults; MetaDebounce of
// zero saves metadata on the next scheduler tick.
type Options struct {
	TextDebounce  time.Duration
	MetaDebounce  time.Duration
	MaxPartSize   int
	ReadingWPM    int
	MaxCharacters int
	SaveTimeout   time.Duration

	// Activity receives word counts after text saves; nil disables it
	Activity *activity.Recorder

	Logger  *logger.Logger
	Metrics *metrics.Metrics

	Now   func() time.Time
	NewID func() string
}

func (o *Options) defaults() {
	if o.TextDebounce <= 0 {
		o.TextDebounce = DefaultTextDebounce
	}
	if o.MetaDebounce < 0 {
		o.MetaDebounce = 0
	}
	if o.MaxPartSize <= 0 {
		o.MaxPartSize = chunk.DefaultMaxPartSize
	}
	if o.ReadingWPM <= 0 {
		o.ReadingWPM = DefaultReadingWPM
	}
	if o.MaxCharacters <= 0 {
		o.MaxCharacters = DefaultMaxCharacters
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = DefaultSaveTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewMetrics()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
}

// textUnit is the stored and in-memory state of one chunked text
type textUnit struct {
	text    string
	words   int
	chars   int
	parts   int   // highest part count that may exist in the store
	loadErr error // reassembly failed; text is unknown until rewritten
	removed bool  // chapter deleted; the next save removes stored content
	savedAt time.Time
}

func (t *textUnit) set(text string) {
	t.text = text
	t.words = CountWords(text)
	t.chars = CountChars(text)
	t.loadErr = nil
}

// unit is the save bookkeeping for one independently persisted record
type unit struct {
	state   State
	err     error
	timer   *time.Timer
	dirty   bool   // memory differs from the last successful save
	version uint64 // bumped on every edit
	savedAt time.Time
}

// Engine owns one open document at a time. Mutation methods are meant to be
// called from a single caller; saves run on their own goroutines.
type Engine struct {
	store   docstore.Store
	gate    Gate
	ident   identity.Provider
	opts    Options
	metrics *metrics.Metrics

	mu        sync.Mutex
	idle      *sync.Cond // signalled when inflight drops to zero
	inflight  int
	epoch     uint64
	log       *logger.Logger
	doc       *Document
	metaSaved bool

	characters []Character
	locations  []Location
	acts       []Act
	chapters   map[string]*Chapter
	texts      map[string]*textUnit // by chapter id
	body       *textUnit

	units        map[string]*unit
	saveLocks    map[string]*unitLock
	online       bool
	activeEditor string

	listenerMu   sync.Mutex
	listeners    map[int]func()
	nextListener int
}

// New creates an engine persisting to store. Every write is gated on gate
// and on ident reporting a signed-in user.
func New(store docstore.Store, gate Gate, ident identity.Provider, opts Options) *Engine {
	opts.defaults()
	e := &Engine{
		store:     store,
		gate:      gate,
		ident:     ident,
		opts:      opts,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		units:     make(map[string]*unit),
		saveLocks: make(map[string]*unitLock),
		online:    true,
		listeners: make(map[int]func()),
	}
	e.idle = sync.NewCond(&e.mu)
	e.resetLocked()
	return e
}

// resetLocked cancels pending timers without saving and clears the graph
func (e *Engine) resetLocked() {
	e.epoch++
	for _, u := range e.units {
		if u.timer != nil {
			u.timer.Stop()
		}
	}
	e.doc = nil
	e.metaSaved = false
	e.characters = nil
	e.locations = nil
	e.acts = nil
	e.chapters = make(map[string]*Chapter)
	e.texts = make(map[string]*textUnit)
	e.body = &textUnit{}
	e.units = make(map[string]*unit)
	e.activeEditor = ""
	e.updatePendingLocked()
}

// Open makes id the open document, loading its graph from the store. Pending
// saves of the previous document are dropped; callers flush first. An id with
// no stored records opens an empty document without writing anything, and an
// empty id opens a new document with a generated id. A chapter whose text
// cannot be reassembled opens in StateError rather than as empty text.
func (e *Engine) Open(ctx context.Context, id string, kind Kind) (Document, error) {
	switch kind {
	case "":
		kind = KindStory
	case KindStory, KindPoem:
	default:
		return Document{}, fmt.Errorf("%w: kind %q", ErrInvalidValue, kind)
	}

	e.mu.Lock()
	e.resetLocked()
	epoch := e.epoch
	fresh := id == ""
	if fresh {
		id = e.opts.NewID()
	}
	e.log = e.opts.Logger.EngineLogger(id)
	e.mu.Unlock()

	g := &graph{doc: Document{ID: id, Kind: kind}, chapters: make(map[string]*Chapter), texts: make(map[string]*textUnit), body: &textUnit{}}
	if !fresh {
		loaded, err := e.load(ctx, id, kind)
		if err != nil {
			e.notify()
			return Document{}, fmt.Errorf("open %s: %w", id, err)
		}
		g = loaded
	}

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return Document{}, ErrNoDocument
	}
	e.installLocked(g)
	doc := e.documentLocked()
	e.log.Info("document opened").Str("kind", string(doc.Kind)).Bool("stored", g.metaFound).Send()
	e.mu.Unlock()

	e.notify()
	return doc, nil
}

// Close drops pending saves and observers without flushing
func (e *Engine) Close() {
	e.mu.Lock()
	e.resetLocked()
	e.mu.Unlock()

	e.listenerMu.Lock()
	e.listeners = make(map[int]func())
	e.listenerMu.Unlock()
}

// Subscribe registers fn to run after every mutation and save state change.
// The returned func unsubscribes and may be called more than once.
func (e *Engine) Subscribe(fn func()) func() {
	e.listenerMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.listenerMu.Lock()
			delete(e.listeners, id)
			e.listenerMu.Unlock()
		})
	}
}

func (e *Engine) notify() {
	e.listenerMu.Lock()
	fns := make([]func(), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.listenerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// mutate runs fn against the open document under the lock, then notifies
func (e *Engine) mutate(fn func() error) error {
	e.mu.Lock()
	if e.doc == nil {
		e.mu.Unlock()
		return ErrNoDocument
	}
	err := fn()
	e.mu.Unlock()

	if err == nil {
		e.notify()
	}
	return err
}

// SetOnline reports connectivity. Going offline parks every unit in
// StateOffline; coming back reschedules units with unsaved edits and
// settles the rest.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	if e.online == online {
		e.mu.Unlock()
		return
	}
	e.online = online

	for key, u := range e.units {
		if !online {
			if u.timer != nil {
				u.timer.Stop()
				u.timer = nil
			}
			u.state = StateOffline
			continue
		}
		if u.dirty {
			e.armLocked(key, u, e.delayFor(key))
			continue
		}
		if t := e.textLocked(key); t != nil && t.loadErr != nil {
			u.state = StateError
			continue
		}
		u.state = e.settledLocked(key)
	}
	e.updatePendingLocked()
	e.log.Info("connectivity changed").Bool("online", online).Send()
	e.mu.Unlock()

	e.notify()
}

// SetActiveEditor records which editor currently has focus
func (e *Engine) SetActiveEditor(editorID string) {
	e.mu.Lock()
	if e.activeEditor == editorID {
		e.mu.Unlock()
		return
	}
	e.activeEditor = editorID
	e.mu.Unlock()

	e.notify()
}

// ActiveEditor returns the focused editor id
func (e *Engine) ActiveEditor() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeEditor
}

// graph is a loaded document before it is installed
type graph struct {
	doc        Document
	metaFound  bool
	characters []Character
	locations  []Location
	acts       []Act
	chapters   map[string]*Chapter
	texts      map[string]*textUnit
	body       *textUnit
}

func (e *Engine) load(ctx context.Context, id string, kind Kind) (*graph, error) {
	g := &graph{
		doc:      Document{ID: id, Kind: kind},
		chapters: make(map[string]*Chapter),
		texts:    make(map[string]*textUnit),
		body:     &textUnit{},
	}

	var meta metaRecord
	err := docstore.GetJSON(ctx, e.store, docstore.DocumentKey(id), &meta)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		g.metaFound = true
		g.doc = meta.toDocument()
		g.doc.ID = id
		if g.doc.Kind == "" {
			g.doc.Kind = kind
		}
	}

	if g.doc.Kind == KindPoem {
		g.body = e.loadText(ctx, docstore.BodyTextKeys(id))
		return g, nil
	}

	var chars charactersRecord
	if err := getOptional(ctx, e.store, docstore.CharactersKey(id), &chars); err != nil {
		return nil, err
	}
	g.characters = chars.Characters
	sort.SliceStable(g.characters, func(i, j int) bool { return g.characters[i].Order < g.characters[j].Order })

	var locs locationsRecord
	if err := getOptional(ctx, e.store, docstore.LocationsKey(id), &locs); err != nil {
		return nil, err
	}
	g.locations = locs.Locations
	sort.SliceStable(g.locations, func(i, j int) bool { return g.locations[i].Order < g.locations[j].Order })

	var structure structureRecord
	if err := getOptional(ctx, e.store, docstore.StructureKey(id), &structure); err != nil {
		return nil, err
	}
	for _, ar := range structure.Acts {
		g.acts = append(g.acts, ar.Act)
		for _, ch := range ar.Chapters {
			ch := ch.clone()
			ch.ActID = ar.ID
			g.chapters[ch.ID] = &ch
			g.texts[ch.ID] = e.loadText(ctx, docstore.ChapterTextKeys(id, ch.ID))
		}
	}
	sort.SliceStable(g.acts, func(i, j int) bool { return g.acts[i].Order < g.acts[j].Order })

	return g, nil
}

// loadText reads one chunked text. Failures are kept on the unit.
func (e *Engine) loadText(ctx context.Context, keys docstore.TextKeys) *textUnit {
	t := &textUnit{}

	var rec contentRecord
	err := docstore.GetJSON(ctx, e.store, keys.Meta(), &rec)
	if errors.Is(err, docstore.ErrNotFound) {
		return t
	}
	if err != nil {
		t.loadErr = err
		return t
	}

	// stored counts stand in for the text until it reassembles
	t.parts = rec.PartCount
	t.savedAt = rec.LastSavedAt
	t.words, t.chars = rec.WordCount, rec.CharCount
	text, err := chunk.Load(ctx, e.store, keys, rec.PartCount)
	if err != nil {
		t.loadErr = err
		e.log.Warn("text reassembly failed").Str("unit", keys.Unit).Err(err).Send()
		return t
	}
	t.set(text)
	return t
}

func getOptional(ctx context.Context, s docstore.Store, key string, v interface{}) error {
	err := docstore.GetJSON(ctx, s, key, v)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}

func (e *Engine) installLocked(g *graph) {
	doc := g.doc
	e.doc = &doc
	e.metaSaved = g.metaFound
	e.characters = g.characters
	e.locations = g.locations
	e.acts = g.acts
	e.chapters = g.chapters
	e.texts = g.texts
	e.body = g.body

	keys := []string{UnitMeta}
	if doc.Kind == KindPoem {
		keys = append(keys, UnitBody)
	} else {
		keys = append(keys, UnitCharacters, UnitLocations, UnitStructure)
		for id := range e.chapters {
			keys = append(keys, ChapterUnit(id))
		}
	}

	for _, key := range keys {
		u := &unit{state: e.settledLocked(key)}
		if t := e.textLocked(key); t != nil {
			u.savedAt = t.savedAt
			if t.loadErr != nil {
				u.state = StateError
				u.err = t.loadErr
			}
		}
		e.units[key] = u
	}
	e.recomputeLocked()
}

// recomputeLocked refreshes the document's derived totals
func (e *Engine) recomputeLocked() {
	words := 0
	if e.doc.Kind == KindPoem {
		words = e.body.words
	} else {
		for id, t := range e.texts {
			if _, ok := e.chapters[id]; ok {
				words += t.words
			}
		}
	}
	e.doc.WordCount = words
	e.doc.ReadingTime = ReadingTime(words, e.opts.ReadingWPM)
}

// textLocked returns the text unit behind a unit key, if any
func (e *Engine) textLocked(key string) *textUnit {
	if key == UnitBody {
		return e.body
	}
	if id, ok := strings.CutPrefix(key, chapterUnitPrefix); ok {
		return e.texts[id]
	}
	return nil
}

// settledLocked is the state of a unit with nothing left to save
func (e *Engine) settledLocked(key string) State {
	switch key {
	case UnitMeta:
		if e.metaSaved {
			return StateIdle
		}
		return StateEmpty
	case UnitCharacters:
		return nonEmpty(len(e.characters))
	case UnitLocations:
		return nonEmpty(len(e.locations))
	case UnitStructure:
		return nonEmpty(len(e.acts))
	}
	if t := e.textLocked(key); t != nil {
		return nonEmpty(len(t.text))
	}
	return StateEmpty
}

func nonEmpty(n int) State {
	if n == 0 {
		return StateEmpty
	}
	return StateIdle
}

func (e *Engine) requireKindLocked(kind Kind) error {
	if e.doc.Kind != kind {
		return fmt.Errorf("%w: %s document", ErrWrongKind, e.doc.Kind)
	}
	return nil
}
