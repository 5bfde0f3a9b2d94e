package persist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/statesync/pkg/events"
	"github.com/stacklok/statesync/pkg/remote"
	"github.com/stacklok/statesync/pkg/statetree"
	"github.com/stacklok/statesync/pkg/status"
)

func TestFlush_FirstWins(t *testing.T) {
	t.Parallel()

	st := events.NewLatest(status.Status{IsUpdateQueued: true})
	env := newTestEnv(t, remote.NewMemoryStore(nil), nil, map[string]statetree.Slice{}, WithStatusSource(st))

	env.bus.Publish(events.Flush{})
	env.bus.Publish(events.Flush{}, events.Flush{})
	time.Sleep(20 * time.Millisecond)
	env.rec.sync(t)
	assert.Empty(t, env.rec.ofKind(events.KindFlushSucceeded))

	st.Set(status.Status{PendingUpdateCount: 1})
	time.Sleep(20 * time.Millisecond)
	env.rec.sync(t)
	assert.Empty(t, env.rec.ofKind(events.KindFlushSucceeded))

	st.Set(status.Status{})
	env.rec.waitCount(t, events.KindFlushSucceeded, 1)
	time.Sleep(50 * time.Millisecond)
	env.rec.sync(t)
	assert.Len(t, env.rec.ofKind(events.KindFlushSucceeded), 1)

	// once answered, the next flush is served again
	env.bus.Publish(events.Flush{})
	env.rec.waitCount(t, events.KindFlushSucceeded, 2)
}

func TestFlush_SettledStatusAnswersImmediately(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, remote.NewMemoryStore(nil), nil, nil)

	require.NoError(t, env.engine.Flush(testContext(t)))
	env.rec.sync(t)

	assert.Equal(t, []events.Kind{events.KindFlush, events.KindFlushSucceeded},
		env.rec.kinds(events.KindFlush, events.KindFlushSucceeded))
	assert.False(t, env.engine.Status().IsFlushing)
}
