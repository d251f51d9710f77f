// Package registry owns the per-resource session table: the
// authoritative in-memory document, the connected sessions, and the
// bounded replay log for each resource key. Every mutating operation on
// a resource is serialized through its entry, which is the only
// consistency boundary in the system; nothing here requires a
// distributed lock because the cluster router sends all clients of one
// resource to the same process.
package registry

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/canvakit/graphsync/internal/document"
	"github.com/canvakit/graphsync/internal/logging"
	"github.com/canvakit/graphsync/internal/metrics"
	"github.com/canvakit/graphsync/internal/store"
	"github.com/canvakit/graphsync/pkg/schema"
)

// State is the lifecycle state of one registry entry.
type State int

const (
	StateLoading State = iota + 1
	StateActive
	StateIdle
)

// Config tunes the registry's bounds.
type Config struct {
	// LockTimeout bounds the wait for a resource entry's serialization
	// slot, so a stuck resource cannot wedge all its sessions.
	LockTimeout time.Duration
	// ReplayMaxEntries / ReplayMaxAge bound the per-resource replay log.
	ReplayMaxEntries int
	ReplayMaxAge     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LockTimeout:      5 * time.Second,
		ReplayMaxEntries: 4096,
		ReplayMaxAge:     10 * time.Minute,
	}
}

// entry is the per-resource unit of ownership. The slot channel (cap 1)
// serializes every operation touching the entry's document, replay log
// or session set.
type entry struct {
	key  string
	slot chan struct{}

	state     State
	doc       document.Document
	sessions  map[string]*Session
	replay    *replayLog
	dirty     bool
	idleSince time.Time
}

// Registry maps resource keys to their entries.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	store  store.Store
	logger *slog.Logger
	cfg    Config
}

// New creates a Registry backed by the given store.
func New(s store.Store, logger *slog.Logger, cfg Config) *Registry {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	return &Registry{
		entries: make(map[string]*entry),
		store:   s,
		logger:  logger,
		cfg:     cfg,
	}
}

// Registration is the result of a successful register call.
type Registration struct {
	Session *Session
	// Snapshot is the full document, present when the client asked for
	// one (fromTimestamp zero) or when the replay log cannot cover its
	// window.
	Snapshot json.RawMessage
	// Missing is every replay-log message applied after fromTimestamp,
	// with transient flags stripped.
	Missing      []*schema.Envelope
	LogTruncated bool
}

// Register attaches a session to a resource, loading the document from
// the store on first use. The load blocks only sessions of that
// resource; other entries stay available.
func (r *Registry) Register(ctx context.Context, resourceKey, userID string, fromTimestamp time.Time, sink Sink) (*Registration, error) {
	e, created := r.getOrCreate(resourceKey)

	if err := r.acquire(ctx, e); err != nil {
		if created {
			r.dropIfEmpty(e)
		}
		return nil, err
	}
	defer r.release(e)

	if e.doc == nil {
		if err := r.load(ctx, e); err != nil {
			r.dropIfEmpty(e)
			return nil, err
		}
	}
	e.state = StateActive

	sess := &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		ResourceKey:  resourceKey,
		RegisteredAt: time.Now(),
		sink:         sink,
	}
	e.sessions[sess.ID] = sess
	metrics.ActiveSessions.Inc()

	reg := &Registration{Session: sess}
	if fromTimestamp.IsZero() {
		snap, err := e.doc.Snapshot()
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeResourceUnavailable, "snapshot: %v", err).WithResource(resourceKey)
		}
		reg.Snapshot = snap
	} else {
		missing, truncated := e.replay.since(fromTimestamp)
		reg.Missing = missing
		reg.LogTruncated = truncated
		metrics.CatchupMessages.Observe(float64(len(missing)))
		if truncated {
			// The client's window predates retained history; hand it a
			// snapshot so it can rebuild instead of diverging.
			snap, err := e.doc.Snapshot()
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeResourceUnavailable, "snapshot: %v", err).WithResource(resourceKey)
			}
			reg.Snapshot = snap
		}
	}

	r.logger.InfoContext(logging.WithUserID(logging.WithResourceKey(ctx, resourceKey), userID),
		"session registered",
		slog.String("session_id", sess.ID),
		slog.Int("missing", len(reg.Missing)),
		slog.Bool("truncated", reg.LogTruncated))
	return reg, nil
}

// Unregister detaches a session. The document survives the last
// session; the entry turns idle and waits for the eviction sweep.
func (r *Registry) Unregister(ctx context.Context, resourceKey, sessionID string) {
	r.mu.Lock()
	e, ok := r.entries[resourceKey]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := r.acquire(ctx, e); err != nil {
		r.logger.WarnContext(ctx, "unregister could not acquire entry", slog.String("error", err.Error()))
		return
	}
	defer r.release(e)

	if _, ok := e.sessions[sessionID]; !ok {
		return
	}
	delete(e.sessions, sessionID)
	metrics.ActiveSessions.Dec()
	if len(e.sessions) == 0 {
		e.state = StateIdle
		e.idleSince = time.Now()
	}
}

// ApplyResult reports a committed instruction batch.
type ApplyResult struct {
	Applied   []schema.GraphInstruction
	AppliedAt time.Time
}

// ApplyInstructions applies a batch atomically against the resource's
// authoritative document. On the first failure the whole batch is
// rejected and the document is unchanged. On success the batch is
// appended to the replay log and broadcast to every other session;
// instructions flagged dontApplyToMySelf are never echoed to the
// originator.
func (r *Registry) ApplyInstructions(ctx context.Context, resourceKey, sessionID string, instructions []schema.GraphInstruction) (*ApplyResult, error) {
	if len(instructions) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "no instructions in batch")
	}
	e, err := r.lookup(resourceKey)
	if err != nil {
		return nil, err
	}
	if err := r.acquire(ctx, e); err != nil {
		return nil, err
	}
	defer r.release(e)

	doc := e.doc
	for i := range instructions {
		next, err := doc.Apply(&instructions[i])
		if err != nil {
			metrics.InstructionsRejected.Inc()
			return nil, err
		}
		doc = next
	}

	now := time.Now()
	doc.Touch(now)
	e.doc = doc
	e.dirty = true
	metrics.InstructionsApplied.Add(float64(len(instructions)))

	msg := &schema.Envelope{
		Type:         applyTypeFor(e.doc.Kind()),
		Instructions: instructions,
		Timestamp:    now.UnixMilli(),
	}
	e.replay.append(msg, now)
	r.broadcast(e, msg, sessionID)

	return &ApplyResult{Applied: instructions, AppliedAt: now}, nil
}

// BatchCreate inserts whole node/edge entries into one sheet of a graph
// resource and broadcasts the creation to the other sessions.
func (r *Registry) BatchCreate(ctx context.Context, resourceKey, sessionID, sheetID string, nodes, edges []schema.Element) (*ApplyResult, error) {
	e, err := r.lookup(resourceKey)
	if err != nil {
		return nil, err
	}
	if err := r.acquire(ctx, e); err != nil {
		return nil, err
	}
	defer r.release(e)

	gd, ok := e.doc.(*document.GraphDoc)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "batch create applies to graph resources only").WithResource(resourceKey)
	}
	next, err := gd.BatchCreate(sheetID, nodes, edges)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	next.Touch(now)
	e.doc = next
	e.dirty = true

	msg := &schema.Envelope{
		Type:      schema.MsgBatchCreateElements,
		SheetID:   sheetID,
		Nodes:     nodes,
		Edges:     edges,
		Timestamp: now.UnixMilli(),
	}
	e.replay.append(msg, now)
	r.broadcast(e, msg, sessionID)
	return &ApplyResult{AppliedAt: now}, nil
}

// DeleteOutcome reports what a batch delete removed and refused.
type DeleteOutcome struct {
	Result    *document.DeleteResult
	AppliedAt time.Time
}

// BatchDelete removes node/edge entries, cascading to incident edges
// and refusing nodes whose incident edges are protected by domain
// policy. The broadcast carries the keys actually removed.
func (r *Registry) BatchDelete(ctx context.Context, resourceKey, sessionID, sheetID string, nodeKeys, edgeKeys []string) (*DeleteOutcome, error) {
	e, err := r.lookup(resourceKey)
	if err != nil {
		return nil, err
	}
	if err := r.acquire(ctx, e); err != nil {
		return nil, err
	}
	defer r.release(e)

	gd, ok := e.doc.(*document.GraphDoc)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "batch delete applies to graph resources only").WithResource(resourceKey)
	}
	next, res, err := gd.BatchDelete(sheetID, nodeKeys, edgeKeys)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	next.Touch(now)
	e.doc = next
	e.dirty = true

	if len(res.NodeKeys) > 0 || len(res.EdgeKeys) > 0 {
		msg := &schema.Envelope{
			Type:      schema.MsgBatchDeleteElements,
			SheetID:   sheetID,
			NodeKeys:  res.NodeKeys,
			EdgeKeys:  res.EdgeKeys,
			Timestamp: now.UnixMilli(),
		}
		e.replay.append(msg, now)
		r.broadcast(e, msg, sessionID)
	}
	return &DeleteOutcome{Result: res, AppliedAt: now}, nil
}

// GenerateUniqueIDs issues count identifiers unique within the
// resource's namespace, serialized through the entry slot so two
// concurrent create flows can never race into the same id.
func (r *Registry) GenerateUniqueIDs(ctx context.Context, resourceKey string, count int) ([]string, error) {
	if count <= 0 || count > 1024 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid id count %d", count)
	}
	e, err := r.lookup(resourceKey)
	if err != nil {
		return nil, err
	}
	if err := r.acquire(ctx, e); err != nil {
		return nil, err
	}
	defer r.release(e)

	issued := make(map[string]struct{}, count)
	ids := make([]string, 0, count)
	for len(ids) < count {
		id := shortID()
		if _, dup := issued[id]; dup || e.doc.ContainsID(id) {
			continue
		}
		issued[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// Snapshot returns the current serialized document.
func (r *Registry) Snapshot(ctx context.Context, resourceKey string) (json.RawMessage, error) {
	e, err := r.lookup(resourceKey)
	if err != nil {
		return nil, err
	}
	if err := r.acquire(ctx, e); err != nil {
		return nil, err
	}
	defer r.release(e)
	return e.doc.Snapshot()
}

// LoadedKeys lists the resource keys currently held in memory, for the
// cluster presence announcements.
func (r *Registry) LoadedKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// --- maintenance, called by the scheduler ---

// FlushDirty writes every dirty document to the store. Failures are
// logged and retried on the next sweep; clients never see them.
func (r *Registry) FlushDirty(ctx context.Context) {
	for _, e := range r.snapshotEntries() {
		if err := r.flushEntry(ctx, e); err != nil {
			r.logger.ErrorContext(ctx, "document flush failed",
				slog.String("resource_key", e.key), slog.String("error", err.Error()))
		}
	}
}

// SweepIdle evicts entries that have had no sessions for at least ttl,
// flushing them first. Evicted resources reload from the store on the
// next registration.
func (r *Registry) SweepIdle(ctx context.Context, ttl time.Duration) {
	now := time.Now()
	for _, e := range r.snapshotEntries() {
		if err := r.acquire(ctx, e); err != nil {
			continue
		}
		evict := e.state == StateIdle && len(e.sessions) == 0 && now.Sub(e.idleSince) >= ttl
		if evict && e.dirty {
			if err := r.flushLocked(ctx, e); err != nil {
				r.logger.ErrorContext(ctx, "eviction flush failed, keeping entry",
					slog.String("resource_key", e.key), slog.String("error", err.Error()))
				evict = false
			}
		}
		r.release(e)
		if evict {
			r.mu.Lock()
			delete(r.entries, e.key)
			metrics.LoadedResources.Dec()
			r.mu.Unlock()
			r.logger.InfoContext(ctx, "resource evicted", slog.String("resource_key", e.key))
		}
	}
}

// PruneReplayLogs drops replay entries past the age bound.
func (r *Registry) PruneReplayLogs(ctx context.Context) {
	now := time.Now()
	for _, e := range r.snapshotEntries() {
		if err := r.acquire(ctx, e); err != nil {
			continue
		}
		e.replay.prune(now)
		r.release(e)
	}
}

// --- internals ---

func (r *Registry) getOrCreate(key string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e, false
	}
	e := &entry{
		key:      key,
		slot:     make(chan struct{}, 1),
		state:    StateLoading,
		sessions: make(map[string]*Session),
		replay:   newReplayLog(r.cfg.ReplayMaxEntries, r.cfg.ReplayMaxAge, time.Now()),
	}
	r.entries[key] = e
	metrics.LoadedResources.Inc()
	return e, true
}

func (r *Registry) lookup(key string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeResourceUnavailable, "resource not loaded; register first").WithResource(key)
	}
	return e, nil
}

// acquire takes the entry's serialization slot, bounded by the lock
// timeout and the caller's context.
func (r *Registry) acquire(ctx context.Context, e *entry) error {
	timer := time.NewTimer(r.cfg.LockTimeout)
	defer timer.Stop()
	select {
	case e.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return schema.NewErrorf(schema.ErrCodeTimeout, "cancelled waiting for resource lock: %v", ctx.Err()).WithResource(e.key)
	case <-timer.C:
		return schema.NewError(schema.ErrCodeTimeout, "timed out waiting for resource lock").WithResource(e.key)
	}
}

func (r *Registry) release(e *entry) {
	<-e.slot
}

// load fetches the document from the store, creating an empty one for
// a resource that has never been persisted. Caller holds the slot.
func (r *Registry) load(ctx context.Context, e *entry) error {
	kind := document.KindForKey(e.key)
	rec, err := r.store.GetDocument(ctx, e.key)
	if err != nil {
		if !store.IsNotFound(err) {
			return schema.NewErrorf(schema.ErrCodeResourceUnavailable, "load document: %v", err).WithResource(e.key).WithCause(err)
		}
		e.doc = document.New(kind, e.key)
		return nil
	}
	doc, err := document.Load(rec.Kind, e.key, rec.Body)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeResourceUnavailable, "decode document: %v", err).WithResource(e.key).WithCause(err)
	}
	e.doc = doc
	return nil
}

// dropIfEmpty removes an entry that never finished loading or has no
// sessions and no document.
func (r *Registry) dropIfEmpty(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[e.key]; ok && cur == e && len(e.sessions) == 0 && e.doc == nil {
		delete(r.entries, e.key)
		metrics.LoadedResources.Dec()
	}
}

func (r *Registry) snapshotEntries() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// flushEntry acquires the slot and flushes if dirty.
func (r *Registry) flushEntry(ctx context.Context, e *entry) error {
	if err := r.acquire(ctx, e); err != nil {
		return err
	}
	defer r.release(e)
	if !e.dirty {
		return nil
	}
	return r.flushLocked(ctx, e)
}

// flushLocked writes the document to the store. Caller holds the slot.
func (r *Registry) flushLocked(ctx context.Context, e *entry) error {
	snap, err := e.doc.Snapshot()
	if err != nil {
		return err
	}
	if err := r.store.PutDocument(ctx, e.key, e.doc.Kind(), snap); err != nil {
		return err
	}
	e.dirty = false
	metrics.DocumentFlushes.Inc()
	return nil
}

// broadcast fans the message out to every session on the entry. Caller
// holds the slot. Delivery is non-blocking; a slow session drops the
// message and recovers via re-registration.
func (r *Registry) broadcast(e *entry, msg *schema.Envelope, originSessionID string) {
	for id, sess := range e.sessions {
		if sess.deliver(msg, id == originSessionID) {
			metrics.BroadcastsSent.Inc()
		} else {
			metrics.BroadcastsDropped.Inc()
			r.logger.Warn("broadcast dropped for slow session",
				slog.String("resource_key", e.key), slog.String("session_id", id))
		}
	}
}

func applyTypeFor(kind string) string {
	if kind == document.KindNodeConfig {
		return schema.MsgApplyInstructionToNodeConfig
	}
	return schema.MsgApplyInstructionToGraph
}

// shortID derives a 10-character lowercase-hex id from fresh UUID bytes.
func shortID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:10]
}
