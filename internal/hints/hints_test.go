package hints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvmlab/go-ftl/internal/types"
)

func submitWrite(m *Manager, mode types.TargetFlags, hs ...types.InoHint) {
	m.Submit(&types.HintPayload{IsWrite: true, HintFlags: mode, Hints: hs})
}

func TestManagerFindCountsDownRange(t *testing.T) {
	m := NewManager()
	submitWrite(m, types.EngineSwap,
		types.InoHint{Ino: 42, StartLBA: 100, Count: 2, Class: types.ClassVideoSlow})
	require.Equal(t, 1, m.Pending())

	h, ok := m.Find(types.Addr(100), true, types.EngineSwap)
	require.True(t, ok)
	assert.Equal(t, uint64(42), h.Ino)
	assert.Equal(t, 1, m.Pending(), "hint stays until its range is used up")

	_, ok = m.Find(types.Addr(101), true, types.EngineSwap)
	require.True(t, ok)
	assert.Equal(t, 0, m.Pending())

	_, ok = m.Find(types.Addr(100), true, types.EngineSwap)
	assert.False(t, ok)
}

func TestManagerFindMiss(t *testing.T) {
	m := NewManager()
	submitWrite(m, types.EngineSwap,
		types.InoHint{Ino: 1, StartLBA: 0, Count: 4, Class: types.ClassUnknown})
	_, ok := m.Find(types.Addr(4), true, types.EngineSwap)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Pending())
}

func TestManagerFindFiltersMode(t *testing.T) {
	m := NewManager()
	submitWrite(m, types.EngineLatency,
		types.InoHint{Ino: 3, StartLBA: 0, Count: 1, Class: types.ClassDBIndex})

	_, ok := m.Find(types.Addr(0), true, types.EngineSwap)
	assert.False(t, ok, "hint flagged for another mode must not match")
	assert.Equal(t, 1, m.Pending())

	_, ok = m.Find(types.Addr(0), true, types.EngineLatency)
	assert.True(t, ok)
	assert.Equal(t, 0, m.Pending())
}

func TestManagerFindFiltersDirection(t *testing.T) {
	m := NewManager()
	m.Submit(&types.HintPayload{IsWrite: false, HintFlags: types.EngineLatency, Hints: []types.InoHint{
		{Ino: 5, StartLBA: 10, Count: 1},
	}})

	_, ok := m.Find(types.Addr(10), true, types.EngineLatency)
	assert.False(t, ok, "read hint must not match a write lookup")
	assert.Equal(t, 1, m.Pending())

	_, ok = m.Find(types.Addr(10), false, types.EngineLatency)
	assert.True(t, ok)
}

func TestManagerClassUpgrade(t *testing.T) {
	m := NewManager()
	// A classed hint teaches the inode table.
	submitWrite(m, types.EnginePack,
		types.InoHint{Ino: 7, StartLBA: 0, Count: 1, Class: types.ClassDBIndex})
	_, _ = m.Find(types.Addr(0), true, types.EnginePack)

	// A later classless hint for the same inode resolves to the learned class.
	submitWrite(m, types.EnginePack,
		types.InoHint{Ino: 7, StartLBA: 50, Count: 1, Class: types.ClassUnknown})
	h, ok := m.Peek(types.Addr(50), true, types.EnginePack)
	require.True(t, ok)
	assert.Equal(t, types.ClassDBIndex, h.Class)

	c, ok := m.ClassOf(7)
	require.True(t, ok)
	assert.Equal(t, types.ClassDBIndex, c)
}

func TestManagerLearnIgnoresEmpty(t *testing.T) {
	m := NewManager()
	m.Learn(9, types.ClassUnknown)
	_, ok := m.ClassOf(9)
	assert.False(t, ok)

	m.Learn(9, types.ClassImageSlow)
	c, ok := m.ClassOf(9)
	require.True(t, ok)
	assert.Equal(t, types.ClassImageSlow, c)
}

func TestManagerSkipsZeroCountRanges(t *testing.T) {
	m := NewManager()
	submitWrite(m, types.EngineSwap,
		types.InoHint{Ino: 1, StartLBA: 0, Count: 0, Class: types.ClassVideoSlow})
	assert.Equal(t, 0, m.Pending())
}

func TestManagerCapDropsOldest(t *testing.T) {
	m := NewManager()
	for i := 0; i <= MaxPending; i++ {
		submitWrite(m, types.EngineSwap,
			types.InoHint{Ino: uint64(i + 1), StartLBA: uint32(i * 10), Count: 1})
	}
	assert.Equal(t, MaxPending, m.Pending())
	_, ok := m.Peek(types.Addr(0), true, types.EngineSwap)
	assert.False(t, ok, "oldest hint must have been dropped")
}

func TestManagerReset(t *testing.T) {
	m := NewManager()
	submitWrite(m, types.EngineSwap,
		types.InoHint{Ino: 1, StartLBA: 0, Count: 4, Class: types.ClassDBIndex})
	m.Reset()
	assert.Equal(t, 0, m.Pending())
	_, ok := m.ClassOf(1)
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	video := make([]byte, 16)
	copy(video[4:], []byte{0x66, 0x74, 0x79, 0x70})
	assert.Equal(t, types.ClassVideoSlow, Classify(video))

	db := append([]byte{0x53, 0x51, 0x4C, 0x69}, make([]byte, 12)...)
	assert.Equal(t, types.ClassDBIndex, Classify(db))

	assert.Equal(t, types.ClassUnknown, Classify(make([]byte, 16)))
	assert.Equal(t, types.ClassUnknown, Classify(nil))
}
