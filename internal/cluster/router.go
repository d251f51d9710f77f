// Package cluster routes every client of one resource to the single
// process instance owning that resource's registry entry. Instances
// announce themselves and their loaded resource keys over NATS;
// placement of unloaded resources falls to the least-loaded instance
// with a deterministic tie-break, so every router in the cluster picks
// the same owner. Without NATS the router degrades to a single-instance
// deployment that always answers with itself.
package cluster

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/canvakit/graphsync/pkg/schema"
)

// NATS subjects for cluster coordination.
const (
	presenceSubject      = "graphsync.cluster.presence"
	broadcastSubject     = "graphsync.cluster.broadcast"
	directSubjectPrefix  = "graphsync.cluster.direct."
	defaultAnnounceEvery = 5 * time.Second
	// peerTTL is how long an instance survives in the presence table
	// without a fresh announcement.
	peerTTL = 3 * defaultAnnounceEvery
)

// Instance is the network identity of one running process.
type Instance struct {
	ID   string `json:"instanceId"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// announcement is the periodic presence message an instance publishes.
type announcement struct {
	Instance
	Loaded []string `json:"loaded"`
}

// ControlMessage is an opaque operational event exchanged between
// instances. It never carries document state.
type ControlMessage struct {
	Kind     string          `json:"kind"` // "broadcast" or "direct"
	SenderID string          `json:"senderId"`
	Payload  json.RawMessage `json:"payload"`
}

// ControlHandler receives inbound control messages.
type ControlHandler func(msg *ControlMessage)

type peerState struct {
	ann    announcement
	seenAt time.Time
}

// Router maintains the cluster presence table and answers ownership
// queries for resource keys.
type Router struct {
	nc     *nats.Conn
	self   Instance
	logger *slog.Logger

	// loadedKeys reports the resource keys this process currently holds.
	loadedKeys func() []string

	announceEvery time.Duration

	mu        sync.Mutex
	peers     map[string]*peerState
	onControl ControlHandler
	draining  bool

	subs   []*nats.Subscription
	cancel context.CancelFunc
}

// NewRouter creates a Router. nc may be nil, in which case the cluster
// is this single instance.
func NewRouter(nc *nats.Conn, self Instance, loadedKeys func() []string, logger *slog.Logger) *Router {
	return &Router{
		nc:            nc,
		self:          self,
		logger:        logger,
		loadedKeys:    loadedKeys,
		announceEvery: defaultAnnounceEvery,
		peers:         make(map[string]*peerState),
	}
}

// OnControl installs the handler for inbound control messages.
func (r *Router) OnControl(h ControlHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onControl = h
}

// Start subscribes to the coordination subjects and begins announcing.
// A nil NATS connection makes Start a no-op.
func (r *Router) Start(ctx context.Context) error {
	if r.nc == nil {
		r.logger.Info("cluster routing disabled, running single-instance")
		return nil
	}

	sub, err := r.nc.Subscribe(presenceSubject, r.handlePresence)
	if err != nil {
		return err
	}
	r.subs = append(r.subs, sub)

	sub, err = r.nc.Subscribe(broadcastSubject, r.handleControl)
	if err != nil {
		return err
	}
	r.subs = append(r.subs, sub)

	sub, err = r.nc.Subscribe(directSubjectPrefix+r.self.ID, r.handleControl)
	if err != nil {
		return err
	}
	r.subs = append(r.subs, sub)

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.announceLoop(runCtx)
	return nil
}

// Stop unsubscribes and halts the announce loop.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
}

// Resolve returns the instance that owns (or will own) resourceKey.
// An instance already holding the key wins; otherwise the least-loaded
// live instance takes it, ties broken by instance id so every router
// agrees.
func (r *Router) Resolve(resourceKey string) (Instance, error) {
	for _, key := range r.loadedKeys() {
		if key == resourceKey {
			return r.self, nil
		}
	}
	if r.nc == nil {
		return r.self, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()

	for _, p := range r.peers {
		if now.Sub(p.seenAt) > peerTTL {
			continue
		}
		for _, key := range p.ann.Loaded {
			if key == resourceKey {
				return p.ann.Instance, nil
			}
		}
	}

	var best Instance
	bestLoad := -1
	if !r.draining {
		best = r.self
		bestLoad = len(r.loadedKeys())
	}
	for _, p := range r.peers {
		if now.Sub(p.seenAt) > peerTTL {
			continue
		}
		load := len(p.ann.Loaded)
		if bestLoad < 0 || load < bestLoad || (load == bestLoad && p.ann.ID < best.ID) {
			best = p.ann.Instance
			bestLoad = load
		}
	}
	if bestLoad < 0 {
		return Instance{}, schema.NewError(schema.ErrCodeNoServerAvailable, "no instance available").WithResource(resourceKey)
	}
	return best, nil
}

// SetDraining marks this instance as refusing new resource placements,
// used during graceful shutdown. Resources it already holds keep
// resolving to it until they are evicted.
func (r *Router) SetDraining(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draining = v
}

// Broadcast publishes an opaque control event to every instance.
func (r *Router) Broadcast(payload json.RawMessage) error {
	if r.nc == nil {
		return nil
	}
	return r.publishControl(broadcastSubject, &ControlMessage{
		Kind:     "broadcast",
		SenderID: r.self.ID,
		Payload:  payload,
	})
}

// DirectMessage publishes an opaque control event to one instance.
func (r *Router) DirectMessage(instanceID string, payload json.RawMessage) error {
	if r.nc == nil {
		return nil
	}
	return r.publishControl(directSubjectPrefix+instanceID, &ControlMessage{
		Kind:     "direct",
		SenderID: r.self.ID,
		Payload:  payload,
	})
}

func (r *Router) publishControl(subject string, msg *ControlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.nc.Publish(subject, data)
}

func (r *Router) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(r.announceEvery)
	defer ticker.Stop()
	r.announce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.announce()
		}
	}
}

func (r *Router) announce() {
	ann := announcement{Instance: r.self, Loaded: r.loadedKeys()}
	data, err := json.Marshal(ann)
	if err != nil {
		return
	}
	if err := r.nc.Publish(presenceSubject, data); err != nil {
		r.logger.Warn("presence announce failed", slog.String("error", err.Error()))
	}
}

func (r *Router) handlePresence(m *nats.Msg) {
	var ann announcement
	if err := json.Unmarshal(m.Data, &ann); err != nil {
		r.logger.Warn("malformed presence announcement", slog.String("error", err.Error()))
		return
	}
	if ann.ID == "" || ann.ID == r.self.ID {
		return
	}
	r.observe(ann, time.Now())
}

// observe records one peer announcement. Split from handlePresence so
// tests can drive the presence table without a broker.
func (r *Router) observe(ann announcement, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[ann.ID] = &peerState{ann: ann, seenAt: at}
}

func (r *Router) handleControl(m *nats.Msg) {
	var msg ControlMessage
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		r.logger.Warn("malformed control message", slog.String("error", err.Error()))
		return
	}
	if msg.SenderID == r.self.ID {
		return
	}
	r.mu.Lock()
	h := r.onControl
	r.mu.Unlock()
	if h != nil {
		h(&msg)
	}
}
