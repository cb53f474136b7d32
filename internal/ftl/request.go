// Package ftl is the translation engine: it accepts page-sized host
// requests, routes them through a placement strategy onto append points,
// keeps the translation tables current, and reclaims space with a
// background collector.
package ftl

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nvmlab/go-ftl/internal/types"
)

// Op selects the request kind.
type Op int

const (
	// OpRead fetches one host page.
	OpRead Op = iota
	// OpWrite stores one host page out of place.
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "invalid"
	}
}

// Request is one host command. Sector addresses 512-byte units and must be
// page aligned; writes carry exactly one page of data. Reads receive their
// result in Data after Submit returns.
type Request struct {
	ID     uuid.UUID
	Op     Op
	Sector int64
	Data   []byte
}

// NewRequest builds a tagged request.
func NewRequest(op Op, sector int64, data []byte) *Request {
	return &Request{ID: uuid.New(), Op: op, Sector: sector, Data: data}
}

// laddr validates the request shape and returns its logical page address.
func (r *Request) laddr(geo types.Geometry) (types.Addr, error) {
	if r.Sector < 0 || r.Sector%types.NrPhyInLog != 0 {
		return types.AddrEmpty, fmt.Errorf("%w: sector %d not page aligned", types.ErrBadAddress, r.Sector)
	}
	l := types.Addr(r.Sector / types.NrPhyInLog)
	if int64(l) >= geo.TotalPages() {
		return types.AddrEmpty, fmt.Errorf("%w: sector %d beyond device end", types.ErrBadAddress, r.Sector)
	}
	switch r.Op {
	case OpRead:
	case OpWrite:
		if len(r.Data) != types.ExposedPageSize {
			return types.AddrEmpty, fmt.Errorf("%w: write payload of %d bytes, page size is %d",
				types.ErrTransient, len(r.Data), types.ExposedPageSize)
		}
	default:
		return types.AddrEmpty, fmt.Errorf("%w: unknown op %d", types.ErrBadAddress, int(r.Op))
	}
	return l, nil
}
