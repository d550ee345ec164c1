package coupled

import (
	"math/bits"
	"strconv"
	"strings"
)

// CoreMask is an immutable set of core ids.
type CoreMask struct {
	words []uint64
}

func NewCoreMask(cores ...int) CoreMask {
	var m CoreMask
	for _, core := range cores {
		if core < 0 {
			continue
		}
		w := core / 64
		for len(m.words) <= w {
			m.words = append(m.words, 0)
		}
		m.words[w] |= 1 << uint(core%64)
	}
	m.trim()
	return m
}

func (m *CoreMask) trim() {
	n := len(m.words)
	for n > 0 && m.words[n-1] == 0 {
		n--
	}
	m.words = m.words[:n]
}

func (m CoreMask) Has(core int) bool {
	if core < 0 {
		return false
	}
	w := core / 64
	return w < len(m.words) && m.words[w]&(1<<uint(core%64)) != 0
}

func (m CoreMask) Count() int {
	n := 0
	for _, w := range m.words {
		n += bits.OnesCount64(w)
	}
	return n
}

func (m CoreMask) Empty() bool {
	return len(m.words) == 0
}

func (m CoreMask) Equal(o CoreMask) bool {
	if len(m.words) != len(o.words) {
		return false
	}
	for i := range m.words {
		if m.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// Max returns the highest core id in the mask, or -1 when empty.
func (m CoreMask) Max() int {
	if len(m.words) == 0 {
		return -1
	}
	last := len(m.words) - 1
	return last*64 + 63 - bits.LeadingZeros64(m.words[last])
}

// ForEach calls fn for every core id in ascending order until fn returns false.
func (m CoreMask) ForEach(fn func(core int) (next bool)) {
	for i, w := range m.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			if !fn(i*64 + b) {
				return
			}
			w &= w - 1
		}
	}
}

func (m CoreMask) Cores() []int {
	cores := make([]int, 0, m.Count())
	m.ForEach(func(core int) bool {
		cores = append(cores, core)
		return true
	})
	return cores
}

func (m CoreMask) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	m.ForEach(func(core int) bool {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(strconv.Itoa(core))
		return true
	})
	sb.WriteByte('}')
	return sb.String()
}
