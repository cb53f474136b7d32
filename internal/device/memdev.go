package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nvmlab/go-ftl/internal/types"
)

// MemDevice is an in-memory flash simulator. It enforces NAND write
// discipline: a page may be written only once between erases of its block.
type MemDevice struct {
	mu      sync.Mutex
	geo     types.Geometry
	tRead   time.Duration
	tWrite  time.Duration
	tErase  time.Duration
	pages   [][]byte
	written []bool
	closed  bool
}

// NewMemDevice builds a zeroed in-memory device for the given geometry.
func NewMemDevice(geo types.Geometry, tRead, tWrite, tErase time.Duration) (*MemDevice, error) {
	if err := geo.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create memory device: %w", err)
	}
	n := geo.TotalPages()
	return &MemDevice{
		geo:     geo,
		tRead:   tRead,
		tWrite:  tWrite,
		tErase:  tErase,
		pages:   make([][]byte, n),
		written: make([]bool, n),
	}, nil
}

// Identify reports one channel per pool with the configured service timings.
func (d *MemDevice) Identify() Identity {
	perPool := int64(d.geo.NrBlksPerPool) * int64(d.geo.HostPagesPerBlk())
	chans := make([]ChannelIdentity, d.geo.NrPools)
	for i := range chans {
		begin := types.Addr(int64(i) * perPool)
		chans[i] = ChannelIdentity{
			LAddrBegin: begin,
			LAddrEnd:   begin + types.Addr(perPool),
			GranErase:  d.geo.HostPagesPerBlk(),
			GranRead:   d.geo.HostPagesPerFlashPage,
			GranWrite:  d.geo.HostPagesPerFlashPage,
			TRead:      d.tRead,
			TWrite:     d.tWrite,
			TErase:     d.tErase,
		}
	}
	return Identity{Channels: chans}
}

// ReadPage returns a copy of the page contents. A never-written page reads
// as zeroes.
func (d *MemDevice) ReadPage(ctx context.Context, p types.Addr) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(p); err != nil {
		return nil, err
	}
	buf := make([]byte, types.ExposedPageSize)
	if d.pages[p] != nil {
		copy(buf, d.pages[p])
	}
	return buf, nil
}

// WritePage stores one host page. Writing a page that has not been erased
// since its last write fails.
func (d *MemDevice) WritePage(ctx context.Context, p types.Addr, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) != types.ExposedPageSize {
		return fmt.Errorf("%w: write of %d bytes, page size is %d", types.ErrBadAddress, len(data), types.ExposedPageSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(p); err != nil {
		return err
	}
	if d.written[p] {
		return fmt.Errorf("%w: rewrite of page %d without erase", types.ErrDevice, p)
	}
	d.pages[p] = append([]byte(nil), data...)
	d.written[p] = true
	return nil
}

// EraseBlock clears every page of a block and makes them writable again.
func (d *MemDevice) EraseBlock(ctx context.Context, blockID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("%w: device closed", types.ErrDevice)
	}
	if blockID < 0 || blockID >= d.geo.NrBlocks() {
		return fmt.Errorf("%w: block %d out of range", types.ErrBadAddress, blockID)
	}
	start := int64(d.geo.BlockToAddr(blockID))
	for i := int64(0); i < int64(d.geo.HostPagesPerBlk()); i++ {
		d.pages[start+i] = nil
		d.written[start+i] = false
	}
	return nil
}

// Close releases the device. Further operations fail.
func (d *MemDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *MemDevice) check(p types.Addr) error {
	if d.closed {
		return fmt.Errorf("%w: device closed", types.ErrDevice)
	}
	if p < 0 || int64(p) >= d.geo.TotalPages() {
		return fmt.Errorf("%w: page %d out of range", types.ErrBadAddress, p)
	}
	return nil
}
