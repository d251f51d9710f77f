package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvakit/graphsync/pkg/schema"
)

func msgAt(n int) *schema.Envelope {
	return &schema.Envelope{
		Type: schema.MsgApplyInstructionToGraph,
		Instructions: []schema.GraphInstruction{{
			SheetID: "main",
			NodeID:  "n1",
			Instruction: schema.Instruction{
				Path: schema.Path("seq"),
				Op:   schema.OpSet,
				Value: n,
			},
		}},
	}
}

func TestReplayLogSinceIsStrictlyAfter(t *testing.T) {
	loaded := time.Now()
	l := newReplayLog(16, time.Minute, loaded)

	t1 := loaded.Add(1 * time.Second)
	t2 := loaded.Add(2 * time.Second)
	l.append(msgAt(1), t1)
	l.append(msgAt(2), t2)

	missing, truncated := l.since(t1)
	require.Len(t, missing, 1)
	assert.False(t, truncated)

	missing, truncated = l.since(loaded)
	assert.Len(t, missing, 2)
	assert.False(t, truncated)
}

func TestReplayLogPreLoadWindowIsTruncated(t *testing.T) {
	loaded := time.Now()
	l := newReplayLog(16, time.Minute, loaded)
	l.append(msgAt(1), loaded.Add(time.Second))

	// A client whose cursor predates the load cannot be served from the
	// log alone.
	missing, truncated := l.since(loaded.Add(-time.Hour))
	assert.Len(t, missing, 1)
	assert.True(t, truncated)
}

func TestReplayLogCountBoundAdvancesWatermark(t *testing.T) {
	loaded := time.Now()
	l := newReplayLog(3, time.Minute, loaded)

	var times []time.Time
	for i := 0; i < 5; i++ {
		at := loaded.Add(time.Duration(i+1) * time.Second)
		times = append(times, at)
		l.append(msgAt(i), at)
	}
	require.Equal(t, 3, l.len())

	// Cursor inside the dropped range: truncated.
	_, truncated := l.since(times[0])
	assert.True(t, truncated)

	// Cursor at the watermark (newest dropped entry): still coverable.
	missing, truncated := l.since(times[1])
	assert.False(t, truncated)
	assert.Len(t, missing, 3)
}

func TestReplayLogPruneByAge(t *testing.T) {
	loaded := time.Now()
	l := newReplayLog(100, 10*time.Second, loaded)

	old := loaded.Add(1 * time.Second)
	fresh := loaded.Add(30 * time.Second)
	l.append(msgAt(1), old)
	l.append(msgAt(2), fresh)

	l.prune(loaded.Add(31 * time.Second))
	assert.Equal(t, 1, l.len())

	_, truncated := l.since(old.Add(-time.Millisecond))
	assert.True(t, truncated)

	missing, truncated := l.since(old)
	assert.False(t, truncated)
	assert.Len(t, missing, 1)
}

func TestReplayLogStripsTransientFlags(t *testing.T) {
	loaded := time.Now()
	l := newReplayLog(16, time.Minute, loaded)

	m := msgAt(1)
	m.Instructions[0].DontApplyToMySelf = true
	m.Instructions[0].AnimatePos = true
	l.append(m, loaded.Add(time.Second))

	missing, _ := l.since(loaded)
	require.Len(t, missing, 1)
	assert.False(t, missing[0].Instructions[0].DontApplyToMySelf)
	assert.False(t, missing[0].Instructions[0].AnimatePos)
	// The stored entry keeps its flags for the live broadcast path.
	assert.True(t, m.Instructions[0].DontApplyToMySelf)
}
