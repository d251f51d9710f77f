package cluster

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(loaded ...string) *Router {
	self := Instance{ID: "i-local", Host: "10.0.0.1", Port: 8080}
	return NewRouter(nil, self, func() []string { return loaded }, testLogger())
}

func TestResolveSingleInstanceAlwaysSelf(t *testing.T) {
	r := newTestRouter()

	inst, err := r.Resolve("graph-g1")
	require.NoError(t, err)
	assert.Equal(t, "i-local", inst.ID)
}

func TestResolvePrefersInstanceHoldingResource(t *testing.T) {
	r := newTestRouter("graph-other")
	r.nc = &nats.Conn{} // non-nil marks cluster mode; never dialed in tests
	r.observe(announcement{
		Instance: Instance{ID: "i-peer", Host: "10.0.0.2", Port: 8080},
		Loaded:   []string{"graph-g1"},
	}, time.Now())

	inst, err := r.Resolve("graph-g1")
	require.NoError(t, err)
	assert.Equal(t, "i-peer", inst.ID)

	// A resource held locally resolves to self even with peers present.
	inst, err = r.Resolve("graph-other")
	require.NoError(t, err)
	assert.Equal(t, "i-local", inst.ID)
}

func TestResolvePlacesNewResourceOnLeastLoaded(t *testing.T) {
	r := newTestRouter("graph-a", "graph-b")
	r.nc = &nats.Conn{}
	r.observe(announcement{
		Instance: Instance{ID: "i-peer", Host: "10.0.0.2", Port: 8080},
		Loaded:   []string{"graph-c"},
	}, time.Now())

	inst, err := r.Resolve("graph-new")
	require.NoError(t, err)
	assert.Equal(t, "i-peer", inst.ID)
}

func TestResolveTieBreaksByInstanceID(t *testing.T) {
	r := newTestRouter("graph-a")
	r.nc = &nats.Conn{}
	now := time.Now()
	r.observe(announcement{
		Instance: Instance{ID: "i-aaa", Host: "10.0.0.2", Port: 8080},
		Loaded:   []string{"graph-b"},
	}, now)
	r.observe(announcement{
		Instance: Instance{ID: "i-zzz", Host: "10.0.0.3", Port: 8080},
		Loaded:   []string{"graph-c"},
	}, now)

	// Equal load everywhere: the smallest instance id wins so every
	// router in the cluster picks the same owner.
	inst, err := r.Resolve("graph-new")
	require.NoError(t, err)
	assert.Equal(t, "i-aaa", inst.ID)
}

func TestResolveIgnoresStalePeers(t *testing.T) {
	r := newTestRouter("graph-a", "graph-b")
	r.nc = &nats.Conn{}
	r.observe(announcement{
		Instance: Instance{ID: "i-dead", Host: "10.0.0.2", Port: 8080},
		Loaded:   []string{},
	}, time.Now().Add(-time.Hour))

	inst, err := r.Resolve("graph-new")
	require.NoError(t, err)
	assert.Equal(t, "i-local", inst.ID)
}

func TestResolveDrainingWithoutPeers(t *testing.T) {
	r := newTestRouter()
	r.nc = &nats.Conn{}
	r.SetDraining(true)

	_, err := r.Resolve("graph-new")
	require.Error(t, err)
}

func TestSyncHandler(t *testing.T) {
	r := newTestRouter()
	srv := httptest.NewServer(r.SyncHandler())
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"instanceId": "graph-g1"})
	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out syncResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "10.0.0.1", out.Host)
	assert.Equal(t, 8080, out.Port)
}

func TestSyncHandlerRejectsBadRequests(t *testing.T) {
	r := newTestRouter()
	srv := httptest.NewServer(r.SyncHandler())
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
