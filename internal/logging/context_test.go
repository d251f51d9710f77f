package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ResourceKey(ctx))
	assert.Empty(t, UserID(ctx))
	assert.Empty(t, ConnID(ctx))

	ctx = WithResourceKey(ctx, "graph-1")
	ctx = WithUserID(ctx, "u1")
	ctx = WithConnID(ctx, "c1")

	assert.Equal(t, "graph-1", ResourceKey(ctx))
	assert.Equal(t, "u1", UserID(ctx))
	assert.Equal(t, "c1", ConnID(ctx))
}

func TestCorrelationHandler_InjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithConnID(WithUserID(WithResourceKey(context.Background(), "graph-9"), "u7"), "c3")
	logger.InfoContext(ctx, "applied")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "resource_key=graph-9")
	assert.Contains(t, out, "user_id=u7")
	assert.Contains(t, out, "conn_id=c3")
}

func TestCorrelationHandler_NoIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))
	logger.Info("plain")

	out := buf.String()
	assert.NotContains(t, out, "resource_key")
	assert.NotContains(t, out, "user_id")
}
