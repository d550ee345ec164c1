package trace

import (
	"encoding/binary"
	"sync/atomic"
)

// Ring is a single-producer single-consumer ring of fixed-size trace
// records. The producer owns head, the consumer owns tail.
type Ring struct {
	head    uint64
	_       [56]byte
	tail    uint64
	_       [56]byte
	size    uint32
	mask    uint32
	buffer  []byte
	dropped atomic.Uint64
}

// NewRing returns nil unless size is a power of two holding at least one record.
func NewRing(size uint32) *Ring {
	if size < eventSize || (size&(size-1)) != 0 {
		return nil
	}
	return &Ring{
		size:   size,
		mask:   size - 1,
		buffer: make([]byte, size),
	}
}

func (rb *Ring) freeSpace() uint32 {
	head := atomic.LoadUint64(&rb.head)
	tail := atomic.LoadUint64(&rb.tail)
	return rb.size - uint32(head-tail)
}

func (rb *Ring) usedSpace() uint32 {
	head := atomic.LoadUint64(&rb.head)
	tail := atomic.LoadUint64(&rb.tail)
	return uint32(head - tail)
}

// Len returns the number of records waiting to be read.
func (rb *Ring) Len() int {
	return int(rb.usedSpace() / eventSize)
}

// Dropped returns the number of records lost because the ring was full.
func (rb *Ring) Dropped() uint64 {
	return rb.dropped.Load()
}

func (rb *Ring) Write(ev Event) bool {
	if rb.freeSpace() < eventSize {
		rb.dropped.Add(1)
		return false
	}
	var rec [eventSize]byte
	ev.encode(rec[:])

	head := atomic.LoadUint64(&rb.head)
	pos := uint32(head & uint64(rb.mask))
	spaceAfter := rb.size - pos
	if spaceAfter >= eventSize {
		copy(rb.buffer[pos:], rec[:])
	} else {
		copy(rb.buffer[pos:], rec[:spaceAfter])
		copy(rb.buffer, rec[spaceAfter:])
	}

	atomic.StoreUint64(&rb.head, head+eventSize)
	return true
}

func (rb *Ring) Read(ev *Event) bool {
	if rb.usedSpace() < eventSize {
		return false
	}
	var rec [eventSize]byte

	tail := atomic.LoadUint64(&rb.tail)
	pos := uint32(tail & uint64(rb.mask))
	spaceAfter := rb.size - pos
	if spaceAfter >= eventSize {
		copy(rec[:], rb.buffer[pos:pos+eventSize])
	} else {
		copy(rec[:spaceAfter], rb.buffer[pos:])
		copy(rec[spaceAfter:], rb.buffer[:eventSize-spaceAfter])
	}
	ev.decode(rec[:])

	atomic.StoreUint64(&rb.tail, tail+eventSize)
	return true
}

const eventSize = 24

func (ev *Event) encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(ev.Time))
	binary.LittleEndian.PutUint32(b[8:12], uint32(ev.Core))
	binary.LittleEndian.PutUint32(b[12:16], uint32(ev.State))
	b[16] = uint8(ev.Kind)
}

func (ev *Event) decode(b []byte) {
	ev.Time = int64(binary.LittleEndian.Uint64(b[0:8]))
	ev.Core = int32(binary.LittleEndian.Uint32(b[8:12]))
	ev.State = int32(binary.LittleEndian.Uint32(b[12:16]))
	ev.Kind = Kind(b[16])
}
