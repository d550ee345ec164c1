package coupled

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryConfig(t *testing.T) {
	_, err := NewRegistry(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, _, err = newStubRegistry(0, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, _, err = newStubRegistry(2, func(cfg *Config) { cfg.Waker = nil })
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, _, err = newStubRegistry(2, func(cfg *Config) { cfg.MaxSets = -1 })
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, _, err = newStubRegistry(2, func(cfg *Config) { cfg.Online = []int{2} })
	assert.ErrorIs(t, err, ErrCoreOutOfRange)

	_, _, err = newStubRegistry(2, func(cfg *Config) { cfg.TraceSize = 100 })
	assert.ErrorIs(t, err, ErrInvalidConfig)

	r, _, err := newStubRegistry(2, func(cfg *Config) { cfg.TraceSize = 1024 })
	require.NoError(t, err)
	assert.NotNil(t, r.Trace())
	assert.Len(t, r.slots, 2)
}

func TestRegisterErrors(t *testing.T) {
	r, _, err := newStubRegistry(4, nil)
	require.NoError(t, err)

	_, err = r.Register(-1, NewCoreMask(0))
	assert.ErrorIs(t, err, ErrCoreOutOfRange)
	_, err = r.Register(4, NewCoreMask(4))
	assert.ErrorIs(t, err, ErrCoreOutOfRange)
	_, err = r.Register(0, NewCoreMask())
	assert.ErrorIs(t, err, ErrEmptyMask)
	_, err = r.Register(0, NewCoreMask(0, 9))
	assert.ErrorIs(t, err, ErrCoreOutOfRange)
	_, err = r.Register(0, NewCoreMask(1, 2))
	assert.ErrorIs(t, err, ErrCoreNotInMask)

	_, err = r.Register(0, NewCoreMask(0, 1))
	require.NoError(t, err)
	_, err = r.Register(0, NewCoreMask(0, 1))
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	assert.ErrorIs(t, r.Unregister(3), ErrNotRegistered)
	assert.ErrorIs(t, r.Unregister(7), ErrCoreOutOfRange)
	assert.ErrorIs(t, r.SetAlive(-2, true), ErrCoreOutOfRange)
	assert.Nil(t, r.Device(9))
	assert.False(t, r.Online(9))
}

func TestRegisterSharesSet(t *testing.T) {
	r, _, err := newStubRegistry(4, nil)
	require.NoError(t, err)

	d0, err := r.Register(0, NewCoreMask(0, 1))
	require.NoError(t, err)
	d1, err := r.Register(1, NewCoreMask(1, 0))
	require.NoError(t, err)
	d2, err := r.Register(2, NewCoreMask(2, 3))
	require.NoError(t, err)

	assert.Same(t, d0.Set(), d1.Set())
	assert.NotSame(t, d0.Set(), d2.Set())
	assert.Equal(t, d0.Handle(), d1.Handle())
	assert.Equal(t, 1, d1.Core())
	assert.Same(t, d1, r.Device(1))

	st, err := r.Stats(d0.Handle())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Alive)
	assert.Equal(t, 2, st.Refcount)
	assert.Zero(t, st.Waiting)
	assert.Zero(t, st.Ready)
	assert.Equal(t, map[int]int{0: NotIdle, 1: NotIdle}, st.Requested)

	st, err = r.Stats(d2.Handle())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Alive)
	assert.Equal(t, map[int]int{2: NotIdle, 3: Dead}, st.Requested)

	assert.Len(t, r.AllStats(), 2)
}

func TestSetsExhausted(t *testing.T) {
	r, _, err := newStubRegistry(4, func(cfg *Config) { cfg.MaxSets = 1 })
	require.NoError(t, err)

	_, err = r.Register(0, NewCoreMask(0, 1))
	require.NoError(t, err)
	_, err = r.Register(2, NewCoreMask(2, 3))
	assert.ErrorIs(t, err, ErrSetsExhausted)
	assert.Nil(t, r.Device(2))
	assert.Len(t, r.AllStats(), 1)

	require.NoError(t, r.Unregister(0))
	_, err = r.Register(2, NewCoreMask(2, 3))
	assert.NoError(t, err)
}

func TestUnregisterFreesSet(t *testing.T) {
	r, _, err := newStubRegistry(2, nil)
	require.NoError(t, err)

	d0, err := r.Register(0, NewCoreMask(0, 1))
	require.NoError(t, err)
	_, err = r.Register(1, NewCoreMask(0, 1))
	require.NoError(t, err)
	h := d0.Handle()

	require.NoError(t, r.Unregister(0))
	st, err := r.Stats(h)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Refcount)
	assert.Equal(t, 1, st.Alive)
	assert.Equal(t, Dead, st.Requested[0])
	assert.Nil(t, r.Device(0))

	res, err := d0.Enter(1)
	assert.ErrorIs(t, err, ErrDetached)
	assert.Equal(t, -1, res.State)

	require.NoError(t, r.Unregister(1))
	_, err = r.Set(h)
	assert.ErrorIs(t, err, ErrStaleHandle)
	_, err = r.Stats(h)
	assert.ErrorIs(t, err, ErrStaleHandle)
	_, err = r.Set(Handle{Index: 5})
	assert.ErrorIs(t, err, ErrStaleHandle)
	assert.Empty(t, r.AllStats())

	d, err := r.Register(1, NewCoreMask(1))
	require.NoError(t, err)
	assert.Equal(t, h.Index, d.Handle().Index)
	assert.Equal(t, h.Gen+1, d.Handle().Gen)
	assert.Equal(t, "set#0.1", d.Handle().String())
}

func TestRegisterOffline(t *testing.T) {
	r, p, err := newStubRegistry(3, func(cfg *Config) { cfg.Online = []int{0} })
	require.NoError(t, err)
	assert.True(t, r.Online(0))
	assert.False(t, r.Online(1))

	d0, err := r.Register(0, NewCoreMask(0, 1, 2))
	require.NoError(t, err)
	_, err = r.Register(1, NewCoreMask(0, 1, 2))
	require.NoError(t, err)

	st, _ := r.Stats(d0.Handle())
	assert.Equal(t, 1, st.Alive)
	assert.Equal(t, Dead, st.Requested[1])
	assert.Equal(t, 2, st.Refcount)

	// Core 2 is not registered yet: only the online mask changes.
	require.NoError(t, r.SetAlive(2, true))
	assert.True(t, r.Online(2))
	st, _ = r.Stats(d0.Handle())
	assert.Equal(t, 1, st.Alive)

	wakes := p.wakesOf(0)
	require.NoError(t, r.HotplugNotify(1, true))
	st, _ = r.Stats(d0.Handle())
	assert.Equal(t, 2, st.Alive)
	assert.Equal(t, NotIdle, st.Requested[1])
	assert.Equal(t, wakes+1, p.wakesOf(0))

	// Repeating the same transition is a no-op.
	require.NoError(t, r.SetAlive(1, true))
	st, _ = r.Stats(d0.Handle())
	assert.Equal(t, 2, st.Alive)

	_, err = r.Register(2, NewCoreMask(0, 1, 2))
	require.NoError(t, err)
	st, _ = r.Stats(d0.Handle())
	assert.Equal(t, 3, st.Alive)

	require.NoError(t, r.SetAlive(0, false))
	st, _ = r.Stats(d0.Handle())
	assert.Equal(t, 2, st.Alive)
	assert.Equal(t, Dead, st.Requested[0])
	assert.Zero(t, st.Ready)
}

func TestEnterInvalidState(t *testing.T) {
	r, p, err := newStubRegistry(1, nil)
	require.NoError(t, err)
	d, err := r.Register(0, NewCoreMask(0))
	require.NoError(t, err)

	p.LocalDisable(0)
	res, err := d.Enter(-1)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, -1, res.State)
	assert.True(t, p.enabledOn(0))
}

func TestEnterAbortStub(t *testing.T) {
	r, p, err := newStubRegistry(2, nil)
	require.NoError(t, err)
	d, err := r.Register(0, NewCoreMask(0, 1))
	require.NoError(t, err)
	_, err = r.Register(1, NewCoreMask(0, 1))
	require.NoError(t, err)

	p.LocalDisable(0)
	res, err := d.Enter(1)
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, -1, res.State)
	assert.True(t, p.enabledOn(0))
	assert.Equal(t, uint64(1), d.Stats().Aborted)

	st, _ := r.Stats(d.Handle())
	assert.Zero(t, st.Waiting)
	assert.Zero(t, st.Ready)
	assert.Equal(t, NotIdle, st.Requested[0])
}

func TestProtocolViolationError(t *testing.T) {
	var err error = &ProtocolViolation{Core: 3, Reason: "bad"}
	var v *ProtocolViolation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, "coupled: protocol violation on core 3: bad", err.Error())
}
