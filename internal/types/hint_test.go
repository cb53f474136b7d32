package types

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHintPayloadRoundTrip(t *testing.T) {
	in := HintPayload{
		LBA:          128,
		SectorsCount: 64,
		IsWrite:      true,
		HintFlags:    EngineSwap,
		Hints: []InoHint{
			{Ino: 42, StartLBA: 128, Count: 8, Class: ClassVideoSlow},
			{Ino: 7, StartLBA: 512, Count: 1, Class: ClassUnknown},
		},
	}
	raw, err := in.MarshalBinary()
	require.NoError(t, err)

	var out HintPayload
	require.NoError(t, out.UnmarshalBinary(raw))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestHintPayloadTooManyRanges(t *testing.T) {
	p := HintPayload{Hints: make([]InoHint, HintDataMaxInos+1)}
	_, err := p.MarshalBinary()
	assert.Error(t, err)
}

func TestHintPayloadTruncated(t *testing.T) {
	var p HintPayload
	assert.Error(t, p.UnmarshalBinary(make([]byte, 4)))

	// Header claims one range but the record is missing.
	full := HintPayload{Hints: []InoHint{{Ino: 1, StartLBA: 0, Count: 4}}}
	raw, err := full.MarshalBinary()
	require.NoError(t, err)
	assert.Error(t, p.UnmarshalBinary(raw[:len(raw)-1]))
}

func TestHintPayloadBogusCount(t *testing.T) {
	raw := make([]byte, hintHeaderSize)
	raw[16] = 0xFF
	var p HintPayload
	assert.Error(t, p.UnmarshalBinary(raw))
}

func TestInoHintCovers(t *testing.T) {
	h := InoHint{Ino: 1, StartLBA: 100, Count: 10}
	assert.False(t, h.Covers(Addr(99)))
	assert.True(t, h.Covers(Addr(100)))
	assert.True(t, h.Covers(Addr(109)))
	assert.False(t, h.Covers(Addr(110)))
}
