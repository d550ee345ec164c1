package trace

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingSize(t *testing.T) {
	assert.Nil(t, NewRing(0))
	assert.Nil(t, NewRing(16))
	assert.Nil(t, NewRing(100))
	assert.NotNil(t, NewRing(32))
	assert.NotNil(t, NewRing(1024))
}

func TestRingWrap(t *testing.T) {
	rb := NewRing(64)
	require.NotNil(t, rb)

	var ev Event
	for i := 0; i < 20; i++ {
		ok := rb.Write(Event{Time: int64(i), Core: 3, State: int32(-i), Kind: KindReady})
		require.True(t, ok)
		require.True(t, rb.Read(&ev))
		assert.Equal(t, int64(i), ev.Time)
		assert.Equal(t, int32(3), ev.Core)
		assert.Equal(t, int32(-i), ev.State)
		assert.Equal(t, KindReady, ev.Kind)
	}
	assert.False(t, rb.Read(&ev))
	assert.Zero(t, rb.Len())
}

func TestRingDrop(t *testing.T) {
	rb := NewRing(64)
	require.True(t, rb.Write(Event{Time: 1}))
	require.True(t, rb.Write(Event{Time: 2}))
	assert.False(t, rb.Write(Event{Time: 3}))
	assert.Equal(t, uint64(1), rb.Dropped())
	assert.Equal(t, 2, rb.Len())

	var ev Event
	require.True(t, rb.Read(&ev))
	assert.Equal(t, int64(1), ev.Time)
	assert.True(t, rb.Write(Event{Time: 4}))
	require.True(t, rb.Read(&ev))
	assert.Equal(t, int64(2), ev.Time)
	require.True(t, rb.Read(&ev))
	assert.Equal(t, int64(4), ev.Time)
}

func TestRingConcurrent(t *testing.T) {
	rb := NewRing(1024)
	const total = 100000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := int64(1); seq <= total; {
			if !rb.Write(Event{Time: seq, Kind: KindCommit}) {
				runtime.Gosched()
				continue
			}
			seq++
		}
	}()

	next := int64(1)
	var ev Event
	for next <= total {
		if !rb.Read(&ev) {
			runtime.Gosched()
			continue
		}
		if ev.Time != next || ev.Kind != KindCommit {
			t.Fatalf("read %v, want seq %d", ev, next)
		}
		next++
	}
	wg.Wait()
}

func TestRecorder(t *testing.T) {
	assert.Nil(t, NewRecorder(2, 10))

	var nilRec *Recorder
	nilRec.Record(0, KindWaiting, 1)
	nilRec.Drain(0, func(Event) bool { return true })
	assert.Zero(t, nilRec.Dropped(0))

	r := NewRecorder(2, 256)
	require.NotNil(t, r)
	r.Record(1, KindWaiting, 2)
	r.Record(1, KindCommit, 1)
	r.Record(1, KindDone, 1)

	var kinds []Kind
	r.Drain(1, func(ev Event) bool {
		assert.Equal(t, int32(1), ev.Core)
		kinds = append(kinds, ev.Kind)
		return len(kinds) < 2
	})
	assert.Equal(t, []Kind{KindWaiting, KindCommit}, kinds)

	kinds = nil
	r.Drain(1, func(ev Event) bool {
		kinds = append(kinds, ev.Kind)
		return true
	})
	assert.Equal(t, []Kind{KindDone}, kinds)

	r.Drain(0, func(Event) bool {
		t.Fatal("core 0 recorded nothing")
		return false
	})
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "safe-idle", KindSafeIdle.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
	assert.Contains(t, Event{Core: 2, State: 1, Kind: KindAbort}.String(), "core=2 abort state=1")
}
