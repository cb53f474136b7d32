package types

import (
	"encoding/binary"
	"fmt"
)

// HintDataMaxInos caps the number of inode ranges in one hint payload.
const HintDataMaxInos = 8

const (
	hintHeaderSize  = 5 * 4
	inoHintWireSize = 8 + 4 + 4 + 1
)

// InoHint associates an inode's LBA range with an access class.
type InoHint struct {
	Ino      uint64
	StartLBA uint32
	Count    uint32 // number of sequential LBAs starting from StartLBA
	Class    FileClass
}

// HintPayload is the wire format of one hint submission.
//
// Layout (little endian): lba u32, sectors_count u32, is_write u32,
// hint_flags u32, count u32, then count InoHint records of
// (ino u64, start_lba u32, count u32, class u8).
type HintPayload struct {
	LBA          uint32
	SectorsCount uint32
	IsWrite      bool
	HintFlags    TargetFlags
	Hints        []InoHint
}

// MarshalBinary encodes the payload into its wire format.
func (p *HintPayload) MarshalBinary() ([]byte, error) {
	if len(p.Hints) > HintDataMaxInos {
		return nil, fmt.Errorf("hint payload holds %d ranges, max is %d", len(p.Hints), HintDataMaxInos)
	}
	buf := make([]byte, hintHeaderSize+len(p.Hints)*inoHintWireSize)
	le := binary.LittleEndian

	le.PutUint32(buf[0:4], p.LBA)
	le.PutUint32(buf[4:8], p.SectorsCount)
	var w uint32
	if p.IsWrite {
		w = 1
	}
	le.PutUint32(buf[8:12], w)
	le.PutUint32(buf[12:16], uint32(p.HintFlags))
	le.PutUint32(buf[16:20], uint32(len(p.Hints)))

	off := hintHeaderSize
	for _, h := range p.Hints {
		le.PutUint64(buf[off:off+8], h.Ino)
		le.PutUint32(buf[off+8:off+12], h.StartLBA)
		le.PutUint32(buf[off+12:off+16], h.Count)
		buf[off+16] = byte(h.Class)
		off += inoHintWireSize
	}
	return buf, nil
}

// UnmarshalBinary decodes a payload from its wire format.
func (p *HintPayload) UnmarshalBinary(data []byte) error {
	if len(data) < hintHeaderSize {
		return fmt.Errorf("hint payload too short: got %d bytes, need at least %d", len(data), hintHeaderSize)
	}
	le := binary.LittleEndian

	p.LBA = le.Uint32(data[0:4])
	p.SectorsCount = le.Uint32(data[4:8])
	p.IsWrite = le.Uint32(data[8:12]) != 0
	p.HintFlags = TargetFlags(le.Uint32(data[12:16]))

	count := le.Uint32(data[16:20])
	if count > HintDataMaxInos {
		return fmt.Errorf("hint payload declares %d ranges, max is %d", count, HintDataMaxInos)
	}
	need := hintHeaderSize + int(count)*inoHintWireSize
	if len(data) < need {
		return fmt.Errorf("hint payload truncated: got %d bytes, need %d for %d ranges", len(data), need, count)
	}

	p.Hints = make([]InoHint, count)
	off := hintHeaderSize
	for i := range p.Hints {
		p.Hints[i] = InoHint{
			Ino:      le.Uint64(data[off : off+8]),
			StartLBA: le.Uint32(data[off+8 : off+12]),
			Count:    le.Uint32(data[off+12 : off+16]),
			Class:    FileClass(data[off+16]),
		}
		off += inoHintWireSize
	}
	return nil
}

// Covers reports whether the hint range contains the logical address.
func (h InoHint) Covers(l Addr) bool {
	return uint32(l) >= h.StartLBA && uint32(l) < h.StartLBA+h.Count
}
