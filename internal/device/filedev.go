package device

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ncw/directio"

	"github.com/nvmlab/go-ftl/internal/types"
)

// FileDevice backs the flash address space with a flat file opened for
// direct I/O. Erase state is tracked in memory, so the write-once rule is
// enforced just like on real flash even though the file itself is rewritable.
type FileDevice struct {
	mu      sync.Mutex
	geo     types.Geometry
	tRead   time.Duration
	tWrite  time.Duration
	tErase  time.Duration
	f       *os.File
	written []bool
	closed  bool
}

// NewFileDevice opens or creates the backing file and sizes it to the
// geometry's full address space.
func NewFileDevice(path string, geo types.Geometry, tRead, tWrite, tErase time.Duration) (*FileDevice, error) {
	if err := geo.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create file device: %w", err)
	}
	if types.ExposedPageSize%directio.BlockSize != 0 {
		return nil, fmt.Errorf("%w: page size %d not a multiple of direct I/O block size %d",
			types.ErrDevice, types.ExposedPageSize, directio.BlockSize)
	}
	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open backing file %s: %w", path, err)
	}
	size := geo.TotalPages() * types.ExposedPageSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to size backing file to %d bytes: %w", size, err)
	}
	return &FileDevice{
		geo:     geo,
		tRead:   tRead,
		tWrite:  tWrite,
		tErase:  tErase,
		f:       f,
		written: make([]bool, geo.TotalPages()),
	}, nil
}

// Identify reports one channel per pool with the configured service timings.
func (d *FileDevice) Identify() Identity {
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

// ReadPage reads one host page from the backing file. Pages never written
// since their last erase read as zeroes without touching the file.
func (d *FileDevice) ReadPage(ctx context.Context, p types.Addr) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(p); err != nil {
		return nil, err
	}
	buf := directio.AlignedBlock(types.ExposedPageSize)
	if !d.written[p] {
		return buf, nil
	}
	if _, err := d.f.ReadAt(buf, int64(p)*types.ExposedPageSize); err != nil {
		return nil, fmt.Errorf("%w: read of page %d: %v", types.ErrDevice, p, err)
	}
	return buf, nil
}

// WritePage writes one host page to the backing file.
func (d *FileDevice) WritePage(ctx context.Context, p types.Addr, data []byte) error {
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
	buf := directio.AlignedBlock(types.ExposedPageSize)
	copy(buf, data)
	if _, err := d.f.WriteAt(buf, int64(p)*types.ExposedPageSize); err != nil {
		return fmt.Errorf("%w: write of page %d: %v", types.ErrDevice, p, err)
	}
	d.written[p] = true
	return nil
}

// EraseBlock marks every page of a block writable again. The file contents
// are left in place; the written map makes stale data unreachable.
func (d *FileDevice) EraseBlock(ctx context.Context, blockID int) error {
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
		d.written[start+i] = false
	}
	return nil
}

// Close syncs and closes the backing file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return fmt.Errorf("failed to sync backing file: %w", err)
	}
	return d.f.Close()
}

func (d *FileDevice) check(p types.Addr) error {
	if d.closed {
		return fmt.Errorf("%w: device closed", types.ErrDevice)
	}
	if p < 0 || int64(p) >= d.geo.TotalPages() {
		return fmt.Errorf("%w: page %d out of range", types.ErrBadAddress, p)
	}
	return nil
}
