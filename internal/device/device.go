// Package device abstracts the raw NAND-like storage consumed by the FTL:
// page-granular reads and writes, block-granular erases, and an identify
// call describing channel geometry and service timings.
package device

import (
	"context"
	"time"

	"github.com/nvmlab/go-ftl/internal/types"
)

// ChannelIdentity describes one flash channel of a device.
type ChannelIdentity struct {
	LAddrBegin types.Addr
	LAddrEnd   types.Addr // exclusive
	GranErase  int        // host pages per erase unit
	GranRead   int        // host pages per read unit
	GranWrite  int        // host pages per write unit
	TRead      time.Duration
	TWrite     time.Duration
	TErase     time.Duration
}

// Identity is the device self-description returned by Identify.
type Identity struct {
	Channels []ChannelIdentity
}

// Device is the consumed driver interface. A page written once must not be
// written again before its block is erased.
type Device interface {
	Identify() Identity

	// ReadPage reads one host page. Reading a never-written page returns
	// a zero-filled buffer.
	ReadPage(ctx context.Context, p types.Addr) ([]byte, error)

	// WritePage writes one host page of exactly types.ExposedPageSize bytes.
	WritePage(ctx context.Context, p types.Addr, data []byte) error

	// EraseBlock erases one block, making all its pages writable again.
	EraseBlock(ctx context.Context, blockID int) error

	Close() error
}
