package gossip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"broadcast/internal/proto"
	"broadcast/internal/storage"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []proto.Message
	fail map[string]bool
}

func (r *recordingSender) Send(m proto.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[m.Dest] {
		return errors.New("unreachable")
	}
	r.sent = append(r.sent, m)
	return nil
}

func (r *recordingSender) messages() []proto.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]proto.Message(nil), r.sent...)
}

func newState(t *testing.T, values ...int) *storage.State {
	t.Helper()
	s := storage.NewState()
	require.NoError(t, s.Init("n1", []string{"n1", "n2", "n3"}))
	s.Merge(values)
	return s
}

func TestScheduler_TickEmptyLogIsNoop(t *testing.T) {
	sender := &recordingSender{}
	s := NewScheduler("n1", newState(t), sender, time.Hour, zaptest.NewLogger(t), nil)

	assert.Equal(t, 0, s.Tick())
	assert.Empty(t, sender.messages())
}

func TestScheduler_TickSendsSuffixes(t *testing.T) {
	st := newState(t, 1, 2, 3)
	st.AdvanceCursor("n3", 2)
	sender := &recordingSender{}
	s := NewScheduler("n1", st, sender, time.Hour, zaptest.NewLogger(t), nil)

	require.Equal(t, 2, s.Tick())
	msgs := sender.messages()
	require.Len(t, msgs, 2)

	byPeer := map[string]proto.Message{}
	for _, m := range msgs {
		assert.Equal(t, "n1", m.Src)
		require.NotNil(t, m.Body.MsgID)
		assert.Nil(t, m.Body.InReplyTo)
		byPeer[m.Dest] = m
	}
	assert.Equal(t, proto.Propagate{Messages: []int{1, 2, 3}, StartIdx: 0}, byPeer["n2"].Body.Payload)
	assert.Equal(t, proto.Propagate{Messages: []int{3}, StartIdx: 2}, byPeer["n3"].Body.Payload)
	assert.NotEqual(t, *byPeer["n2"].Body.MsgID, *byPeer["n3"].Body.MsgID)
}

func TestScheduler_ResendsUntilAcknowledged(t *testing.T) {
	st := newState(t, 7)
	sender := &recordingSender{}
	s := NewScheduler("n1", st, sender, time.Hour, zaptest.NewLogger(t), nil)

	s.Tick()
	s.Tick()
	assert.Len(t, sender.messages(), 4, "unacknowledged suffixes are resent every tick")

	seen := map[int]bool{}
	for _, m := range sender.messages() {
		id := *m.Body.MsgID
		assert.False(t, seen[id], "msg id %d reused", id)
		seen[id] = true
	}

	st.AdvanceCursor("n2", 1)
	st.AdvanceCursor("n3", 1)
	assert.Equal(t, 0, s.Tick())
	assert.Equal(t, []int{7}, st.Snapshot(), "gossip never removes values")
}

func TestScheduler_SendFailureDoesNotStopTick(t *testing.T) {
	st := newState(t, 1)
	sender := &recordingSender{fail: map[string]bool{"n2": true}}
	s := NewScheduler("n1", st, sender, time.Hour, zaptest.NewLogger(t), nil)

	assert.Equal(t, 1, s.Tick())
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "n3", msgs[0].Dest)
}

func TestScheduler_PeriodicTicks(t *testing.T) {
	st := newState(t, 1)
	sender := &recordingSender{}
	s := NewScheduler("n1", st, sender, 10*time.Millisecond, zaptest.NewLogger(t), nil)

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return len(sender.messages()) >= 4 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_KickTicksEarly(t *testing.T) {
	st := newState(t)
	sender := &recordingSender{}
	s := NewScheduler("n1", st, sender, time.Hour, zaptest.NewLogger(t), nil)

	s.Start(context.Background())
	defer s.Stop()

	st.Append(42)
	s.Kick()
	s.Kick() // coalesced, must not block

	assert.Eventually(t, func() bool { return len(sender.messages()) >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := NewScheduler("n1", newState(t), &recordingSender{}, 0, nil, nil)
	assert.Equal(t, DefaultInterval, s.interval)

	s.Stop()
	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestScheduler_StopsWithContext(t *testing.T) {
	st := newState(t, 1)
	sender := &recordingSender{}
	s := NewScheduler("n1", st, sender, 5*time.Millisecond, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	s.Stop()

	n := len(sender.messages())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(sender.messages()), "no ticks after stop")
}

func TestScheduler_KickIsRateLimited(t *testing.T) {
	st := newState(t, 1)
	sender := &recordingSender{}
	s := NewScheduler("n1", st, sender, time.Hour, zaptest.NewLogger(t), nil)

	s.Start(context.Background())
	defer s.Stop()

	start := time.Now()
	for i := 0; i < 50; i++ {
		s.Kick()
		time.Sleep(time.Millisecond)
	}
	elapsed := time.Since(start)

	// two lagging peers per tick, one burst tick plus one per MinKickInterval
	maxTicks := int(elapsed/MinKickInterval) + 2
	assert.LessOrEqual(t, len(sender.messages()), 2*maxTicks)
	assert.GreaterOrEqual(t, len(sender.messages()), 2)
}
