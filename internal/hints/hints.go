// Package hints ingests host-provided placement hints and classifies file
// contents so placement strategies can steer writes by access class.
package hints

import (
	"bytes"
	"sync"

	"github.com/golang/glog"

	"github.com/nvmlab/go-ftl/internal/types"
)

// MaxPending caps the number of unconsumed hints held at once. Older hints
// are dropped first when the cap is hit.
const MaxPending = 128

var (
	ftypMagic   = []byte{0x66, 0x74, 0x79, 0x70}
	sqliteMagic = []byte{0x53, 0x51, 0x4C, 0x69}
)

type tracked struct {
	hint      types.InoHint
	isWrite   bool
	flags     types.TargetFlags
	processed uint32
}

// relevant reports whether a pending hint applies to an access: the io
// direction must match and the hint's flags must intersect the active mode.
func (t *tracked) relevant(l types.Addr, write bool, mode types.TargetFlags) bool {
	return t.isWrite == write && t.flags&mode != 0 && t.hint.Covers(l)
}

// Manager holds pending hints and the learned inode access classes.
type Manager struct {
	mu      sync.Mutex
	pending []*tracked
	inoCls  map[uint64]types.FileClass
}

// NewManager returns an empty hint store.
func NewManager() *Manager {
	return &Manager{inoCls: make(map[uint64]types.FileClass)}
}

// Submit records the ranges of a hint payload. Ranges carrying a concrete
// class also teach the inode class table.
func (m *Manager) Submit(p *types.HintPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range p.Hints {
		if h.Count == 0 {
			continue
		}
		if h.Class != types.ClassEmpty && h.Class != types.ClassUnknown {
			m.inoCls[h.Ino] = h.Class
		}
		if len(m.pending) >= MaxPending {
			glog.Warningf("hint store full, dropping oldest hint for ino %d", m.pending[0].hint.Ino)
			m.pending = m.pending[1:]
		}
		m.pending = append(m.pending, &tracked{hint: h, isWrite: p.IsWrite, flags: p.HintFlags})
	}
}

// Find returns the hint relevant to an access and counts the access against
// the hint's range; a hint leaves the store once it has matched as many
// accesses as its range has pages. Only hints matching the io direction and whose flags intersect
// the active mode are considered. The class is upgraded from the inode
// table when the hint itself carries none.
func (m *Manager) Find(l types.Addr, write bool, mode types.TargetFlags) (types.InoHint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.pending {
		if t.relevant(l, write, mode) {
			t.processed++
			h := m.resolve(t.hint)
			if t.processed >= t.hint.Count {
				m.pending = append(m.pending[:i], m.pending[i+1:]...)
			}
			return h, true
		}
	}
	return types.InoHint{}, false
}

// Peek finds the hint relevant to an access without consuming it.
func (m *Manager) Peek(l types.Addr, write bool, mode types.TargetFlags) (types.InoHint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.pending {
		if t.relevant(l, write, mode) {
			return m.resolve(t.hint), true
		}
	}
	return types.InoHint{}, false
}

// resolve fills in a hint's class from the inode table. Caller holds m.mu.
func (m *Manager) resolve(h types.InoHint) types.InoHint {
	if h.Class == types.ClassEmpty || h.Class == types.ClassUnknown {
		if c, ok := m.inoCls[h.Ino]; ok {
			h.Class = c
		}
	}
	return h
}

// ClassOf returns the learned class for an inode.
func (m *Manager) ClassOf(ino uint64) (types.FileClass, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.inoCls[ino]
	return c, ok
}

// Learn records an inode's class directly.
func (m *Manager) Learn(ino uint64, c types.FileClass) {
	if c == types.ClassEmpty || c == types.ClassUnknown {
		return
	}
	m.mu.Lock()
	m.inoCls[ino] = c
	m.mu.Unlock()
}

// Pending returns the number of unconsumed hints.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Reset drops all pending hints and learned classes.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.pending = nil
	m.inoCls = make(map[uint64]types.FileClass)
	m.mu.Unlock()
}

// Classify inspects the first page of a file's data for known container
// signatures and returns the inferred access class. Video containers carry
// the ftyp box at byte 4; database files lead with the SQLite header.
func Classify(data []byte) types.FileClass {
	if len(data) >= 8 && bytes.Equal(data[4:8], ftypMagic) {
		return types.ClassVideoSlow
	}
	if len(data) >= 4 && bytes.Equal(data[:4], sqliteMagic) {
		return types.ClassDBIndex
	}
	return types.ClassUnknown
}
