// ABOUTME: Single-active-device lease for one user across devices
// ABOUTME: Claims by overwrite, watches for takeover, refreshes liveness, gates writes

package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/draftsync/internal/logger"
	"github.com/nainya/draftsync/internal/metrics"
	"github.com/nainya/draftsync/pkg/docstore"
)

// DefaultHeartbeatInterval is the liveness refresh period
const DefaultHeartbeatInterval = 30 * time.Second

// Device classes
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
)

// ErrNotStarted indicates an operation that needs a started session
var ErrNotStarted = errors.New("lease: session not started")

// Status is what this process knows about its own lease
type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusConflicted Status = "conflicted"
)

// Record is the lease record stored once per user. The record is
// authoritative: a session writes only while its id is the holder.
type Record struct {
	SessionID    string    `json:"sessionId"`
	DeviceClass  string    `json:"deviceType"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	UserAgent    string    `json:"userAgent,omitempty"`
}

// Conflict describes the session that took the lease from this one
type Conflict struct {
	Remote         Record
	LocalSessionID string
}

// Listener receives status changes. conflict is set only for StatusConflicted.
type Listener func(status Status, conflict *Conflict)

// Options configures a Coordinator
type Options struct {
	DeviceClass       string
	UserAgent         string
	HeartbeatInterval time.Duration

	Logger  *logger.Logger
	Metrics *metrics.Metrics

	// Now and NewSessionID are replaceable for tests
	Now          func() time.Time
	NewSessionID func() string
}

func (o *Options) defaults() {
	if o.DeviceClass == "" {
		o.DeviceClass = DeviceDesktop
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
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
	if o.NewSessionID == nil {
		o.NewSessionID = func() string { return uuid.NewString() }
	}
}

// Coordinator enforces single-writer semantics for one user
type Coordinator struct {
	store docstore.Store
	opts  Options
	log   *logger.Logger

	mu        sync.Mutex
	userID    string
	sessionID string
	status    Status
	cancel    context.CancelFunc // watch and heartbeat
	runCtx    context.Context
	hbCancel  context.CancelFunc // heartbeat only
	yielded   bool               // set by Deactivate until the next Claim

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int
}

// New creates a coordinator backed by store
func New(store docstore.Store, opts Options) *Coordinator {
	opts.defaults()
	return &Coordinator{
		store:     store,
		opts:      opts,
		log:       opts.Logger,
		status:    StatusInactive,
		listeners: make(map[int]Listener),
	}
}

// Start begins a session for userID with a fresh session id: it claims the
// lease, watches the record and starts the heartbeat. A running session is
// stopped first.
func (c *Coordinator) Start(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("lease: empty user id")
	}
	c.Stop()

	runCtx, cancel := context.WithCancel(context.Background())
	sessionID := c.opts.NewSessionID()

	c.mu.Lock()
	c.userID = userID
	c.sessionID = sessionID
	c.runCtx = runCtx
	c.cancel = cancel
	log := c.opts.Logger.LeaseLogger(userID).WithFields(map[string]interface{}{"session_id": sessionID})
	c.log = log
	c.mu.Unlock()

	if err := c.Claim(ctx); err != nil {
		c.Stop()
		return "", err
	}

	updates, err := c.store.Watch(runCtx, docstore.LeaseKey(userID))
	if err != nil {
		c.Stop()
		return "", fmt.Errorf("watch lease: %w", err)
	}
	go c.watch(sessionID, updates)

	log.Info("session started").Str("device", c.opts.DeviceClass).Send()
	return sessionID, nil
}

// Claim overwrites the lease record with this session as holder. It is
// last-writer-wins; used for the initial claim and for deliberate takeover.
func (c *Coordinator) Claim(ctx context.Context) error {
	c.mu.Lock()
	userID, sessionID := c.userID, c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return ErrNotStarted
	}

	rec := Record{
		SessionID:    sessionID,
		DeviceClass:  c.opts.DeviceClass,
		LastActiveAt: c.opts.Now().UTC(),
		UserAgent:    c.opts.UserAgent,
	}
	if err := docstore.PutJSON(ctx, c.store, docstore.LeaseKey(userID), rec); err != nil {
		return fmt.Errorf("claim lease: %w", err)
	}
	c.opts.Metrics.LeaseClaimsTotal.Inc()

	c.mu.Lock()
	c.yielded = false
	c.mu.Unlock()

	if !c.startHeartbeat(sessionID) {
		// stopped while claiming
		return ErrNotStarted
	}
	c.setStatus(sessionID, StatusActive, nil)
	return nil
}

// IsActiveNow reads the lease record and reports whether this session holds
// it. The cached status is not consulted. A stopped coordinator or an absent
// record yields false.
func (c *Coordinator) IsActiveNow(ctx context.Context) (bool, error) {
	c.mu.Lock()
	userID, sessionID := c.userID, c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return false, nil
	}

	rec, err := c.read(ctx, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.SessionID == sessionID, nil
}

// Current returns the stored lease record for the started user
func (c *Coordinator) Current(ctx context.Context) (Record, error) {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	if userID == "" {
		return Record{}, ErrNotStarted
	}
	return c.read(ctx, userID)
}

// Deactivate yields to another device: the heartbeat stops and listeners
// see StatusInactive. The watch keeps running so Claim can take the lease back.
func (c *Coordinator) Deactivate() {
	c.mu.Lock()
	sessionID, log := c.sessionID, c.log
	c.yielded = sessionID != ""
	if c.hbCancel != nil {
		c.hbCancel()
		c.hbCancel = nil
	}
	c.mu.Unlock()
	if sessionID == "" {
		return
	}

	log.Info("session deactivated").Send()
	c.setStatus(sessionID, StatusInactive, nil)
}

// Stop cancels the watch and heartbeat and forgets the session. Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.log.Info("session stopped").Send()
	}
	c.cancel = nil
	c.hbCancel = nil
	c.runCtx = nil
	c.yielded = false
	c.userID = ""
	c.sessionID = ""
	c.status = StatusInactive
}

// SessionID returns the local session id, empty when stopped
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Status returns the last signalled status
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnStatus registers fn for status changes and returns its unsubscribe func
func (c *Coordinator) OnStatus(fn Listener) func() {
	c.listenerMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenerMu.Lock()
			delete(c.listeners, id)
			c.listenerMu.Unlock()
		})
	}
}

func (c *Coordinator) logger() *logger.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}

func (c *Coordinator) read(ctx context.Context, userID string) (Record, error) {
	var rec Record
	if err := docstore.GetJSON(ctx, c.store, docstore.LeaseKey(userID), &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// watch handles lease record changes until the run context ends
func (c *Coordinator) watch(sessionID string, updates <-chan docstore.Snapshot) {
	for snap := range updates {
		if !snap.Exists {
			// not yet established; no signal
			continue
		}

		var rec Record
		if err := json.Unmarshal(snap.Value, &rec); err != nil {
			c.logger().Warn("unreadable lease record").Err(err).Send()
			continue
		}

		if rec.SessionID == sessionID {
			c.signal(sessionID, StatusActive, nil, true)
			continue
		}

		if c.setStatus(sessionID, StatusConflicted, &Conflict{Remote: rec, LocalSessionID: sessionID}) {
			c.opts.Metrics.LeaseConflictsTotal.Inc()
			c.logger().Warn("lease taken by another session").
				Str("remote_session", rec.SessionID).
				Str("remote_device", rec.DeviceClass).
				Send()
		}
	}
}

// startHeartbeat starts the liveness loop unless one is running. It reports
// false when sessionID is no longer the local session.
func (c *Coordinator) startHeartbeat(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID != sessionID || c.runCtx == nil {
		return false
	}
	if c.hbCancel != nil {
		return true
	}

	hbCtx, cancel := context.WithCancel(c.runCtx)
	c.hbCancel = cancel
	go c.heartbeat(hbCtx, c.userID, sessionID)
	return true
}

func (c *Coordinator) heartbeat(ctx context.Context, userID, sessionID string) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.beat(ctx, userID, sessionID)
		}
	}
}

// beat refreshes liveness only while this session still holds the lease.
// A failed beat never revokes anything.
func (c *Coordinator) beat(ctx context.Context, userID, sessionID string) {
	rec, err := c.read(ctx, userID)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		c.opts.Metrics.RecordHeartbeat("skipped")
		return
	case err != nil:
		c.opts.Metrics.RecordHeartbeat("error")
		c.logger().Warn("heartbeat read failed").Err(err).Send()
		return
	case rec.SessionID != sessionID:
		c.opts.Metrics.RecordHeartbeat("skipped")
		return
	}

	patch := map[string]interface{}{"lastActiveAt": c.opts.Now().UTC()}
	if err := docstore.MergeJSON(ctx, c.store, docstore.LeaseKey(userID), patch); err != nil {
		c.opts.Metrics.RecordHeartbeat("error")
		c.logger().Warn("heartbeat write failed").Err(err).Send()
		return
	}
	c.opts.Metrics.RecordHeartbeat("renewed")
}

// setStatus records and broadcasts status for sessionID. It reports false
// without signalling when sessionID is no longer the local session.
func (c *Coordinator) setStatus(sessionID string, status Status, conflict *Conflict) bool {
	return c.signal(sessionID, status, conflict, false)
}

// signal is setStatus that can also stay silent while the session has yielded
func (c *Coordinator) signal(sessionID string, status Status, conflict *Conflict, unlessYielded bool) bool {
	c.mu.Lock()
	if c.sessionID != sessionID || (unlessYielded && c.yielded) {
		c.mu.Unlock()
		return false
	}
	c.status = status
	c.mu.Unlock()

	c.listenerMu.Lock()
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn(status, conflict)
	}
	return true
}
