package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/canvakit/graphsync/internal/identity"
	"github.com/canvakit/graphsync/internal/logging"
	"github.com/canvakit/graphsync/internal/registry"
	"github.com/canvakit/graphsync/internal/store"
	"github.com/canvakit/graphsync/internal/validation"
	"github.com/canvakit/graphsync/pkg/schema"
)

// Dispatcher routes validated envelopes to the session registry and
// builds exactly one response per request. It holds no per-connection
// state of its own; everything session-scoped lives on the Conn.
type Dispatcher struct {
	registry  *registry.Registry
	store     store.Store
	validator *validation.MessageValidator
	pool      *dispatchPool
	logger    *slog.Logger
}

// NewDispatcher wires the message handling pipeline.
func NewDispatcher(reg *registry.Registry, st store.Store, v *validation.MessageValidator, poolSize int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  reg,
		store:     st,
		validator: v,
		pool:      newDispatchPool(poolSize),
		logger:    logger,
	}
}

// Shutdown drains in-flight handlers.
func (d *Dispatcher) Shutdown() {
	d.pool.shutdown()
}

// Handle processes one raw inbound message and returns the response to
// write back. It never returns nil: every request gets exactly one
// response, and internal panics become a generic failure instead of
// tearing down the connection.
func (d *Dispatcher) Handle(ctx context.Context, c *Conn, raw []byte) (resp *schema.Envelope) {
	// Best-effort requestId extraction so even a message that fails
	// validation gets a correlated response.
	var env schema.Envelope
	_ = json.Unmarshal(raw, &env)

	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "panic in message handler",
				slog.String("type", env.Type), slog.Any("panic", r))
			resp = schema.FailResponse(env.RequestID,
				schema.NewError(schema.ErrCodeStore, "internal error"))
		}
	}()

	if err := d.validator.ValidateMessage(raw); err != nil {
		return schema.FailResponse(env.RequestID, err)
	}

	err := d.pool.run(ctx, func() {
		resp = d.route(ctx, c, &env)
	})
	if err != nil {
		return schema.FailResponse(env.RequestID,
			schema.NewErrorf(schema.ErrCodeTimeout, "server busy: %v", err))
	}
	return resp
}

func (d *Dispatcher) route(ctx context.Context, c *Conn, env *schema.Envelope) *schema.Envelope {
	ctx = logging.WithConnID(ctx, c.ID())
	if env.UserID != "" {
		ctx = logging.WithUserID(ctx, env.UserID)
	}

	switch env.Type {
	case schema.MsgRegisterUserOnGraph:
		return d.handleRegister(ctx, c, env, schema.GraphKey(env.GraphID), env.GraphID != "")
	case schema.MsgRegisterUserOnNodeConfig:
		return d.handleRegister(ctx, c, env, schema.NodeConfigKey(env.NodeConfigID), env.NodeConfigID != "")
	case schema.MsgApplyInstructionToGraph, schema.MsgApplyInstructionToNodeConfig:
		return d.handleApply(ctx, c, env)
	case schema.MsgBatchCreateElements:
		return d.handleBatchCreate(ctx, c, env)
	case schema.MsgBatchDeleteElements:
		return d.handleBatchDelete(ctx, c, env)
	case schema.MsgGenerateUniqueID:
		return d.handleGenerateIDs(ctx, c, env)
	}
	// The schema validator pins the type enum; this is unreachable for
	// validated input.
	return schema.FailResponse(env.RequestID,
		schema.NewErrorf(schema.ErrCodeValidation, "unknown message type %q", env.Type))
}

func (d *Dispatcher) handleRegister(ctx context.Context, c *Conn, env *schema.Envelope, resourceKey string, hasID bool) *schema.Envelope {
	if !hasID {
		return schema.FailResponse(env.RequestID,
			schema.NewError(schema.ErrCodeValidation, "resource id is required"))
	}
	if _, err := identity.EnsureRegistered(ctx, d.store, env.UserID); err != nil {
		return schema.FailResponse(env.RequestID, err)
	}

	var from time.Time
	if env.FromTimestamp > 0 {
		from = time.UnixMilli(env.FromTimestamp)
	}
	reg, err := d.registry.Register(ctx, resourceKey, env.UserID, from, c)
	if err != nil {
		return schema.FailResponse(env.RequestID, err)
	}
	if prev, superseded := c.addRegistration(resourceKey, reg.Session.ID); superseded {
		d.registry.Unregister(ctx, resourceKey, prev)
	}

	resp := schema.OKResponse(env.RequestID)
	resp.Snapshot = reg.Snapshot
	resp.MissingMessages = reg.Missing
	resp.LogTruncated = reg.LogTruncated
	resp.Timestamp = time.Now().UnixMilli()
	return resp
}

func (d *Dispatcher) handleApply(ctx context.Context, c *Conn, env *schema.Envelope) *schema.Envelope {
	resourceKey, sessionID, fail := d.sessionScope(c, env)
	if fail != nil {
		return fail
	}
	res, err := d.registry.ApplyInstructions(ctx, resourceKey, sessionID, env.Instructions)
	if err != nil {
		return schema.FailResponse(env.RequestID, err)
	}
	resp := schema.OKResponse(env.RequestID)
	resp.Instructions = res.Applied
	resp.Timestamp = res.AppliedAt.UnixMilli()
	return resp
}

func (d *Dispatcher) handleBatchCreate(ctx context.Context, c *Conn, env *schema.Envelope) *schema.Envelope {
	resourceKey, sessionID, fail := d.sessionScope(c, env)
	if fail != nil {
		return fail
	}
	res, err := d.registry.BatchCreate(ctx, resourceKey, sessionID, env.SheetID, env.Nodes, env.Edges)
	if err != nil {
		return schema.FailResponse(env.RequestID, err)
	}
	resp := schema.OKResponse(env.RequestID)
	resp.SheetID = env.SheetID
	resp.Nodes = env.Nodes
	resp.Edges = env.Edges
	resp.Timestamp = res.AppliedAt.UnixMilli()
	return resp
}

func (d *Dispatcher) handleBatchDelete(ctx context.Context, c *Conn, env *schema.Envelope) *schema.Envelope {
	resourceKey, sessionID, fail := d.sessionScope(c, env)
	if fail != nil {
		return fail
	}
	out, err := d.registry.BatchDelete(ctx, resourceKey, sessionID, env.SheetID, env.NodeKeys, env.EdgeKeys)
	if err != nil {
		return schema.FailResponse(env.RequestID, err)
	}
	resp := schema.OKResponse(env.RequestID)
	resp.SheetID = env.SheetID
	resp.NodeKeys = out.Result.NodeKeys
	resp.EdgeKeys = out.Result.EdgeKeys
	resp.Conflicts = out.Result.Conflicts
	resp.Timestamp = out.AppliedAt.UnixMilli()
	return resp
}

func (d *Dispatcher) handleGenerateIDs(ctx context.Context, c *Conn, env *schema.Envelope) *schema.Envelope {
	resourceKey, _, fail := d.sessionScope(c, env)
	if fail != nil {
		return fail
	}
	ids, err := d.registry.GenerateUniqueIDs(ctx, resourceKey, len(env.IDs))
	if err != nil {
		return schema.FailResponse(env.RequestID, err)
	}
	resp := schema.OKResponse(env.RequestID)
	resp.IDs = make([]any, len(ids))
	for i, id := range ids {
		resp.IDs[i] = id
	}
	return resp
}

// sessionScope resolves the resource key addressed by the envelope and
// the session this connection holds on it. Requests against a resource
// the connection never registered on are refused.
func (d *Dispatcher) sessionScope(c *Conn, env *schema.Envelope) (resourceKey, sessionID string, fail *schema.Envelope) {
	switch {
	case env.GraphID != "":
		resourceKey = schema.GraphKey(env.GraphID)
	case env.NodeConfigID != "":
		resourceKey = schema.NodeConfigKey(env.NodeConfigID)
	default:
		return "", "", schema.FailResponse(env.RequestID,
			schema.NewError(schema.ErrCodeValidation, "resource id is required"))
	}
	sessionID, ok := c.sessionFor(resourceKey)
	if !ok {
		return "", "", schema.FailResponse(env.RequestID,
			schema.NewError(schema.ErrCodeResourceUnavailable, "not registered on resource").WithResource(resourceKey))
	}
	return resourceKey, sessionID, nil
}
