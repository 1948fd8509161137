package sponsor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
)

// FeePool hands out pre-split fee units so concurrent submissions never
// spend the same gas object.
type FeePool struct {
	units chan string
	size  int
}

// NewFeePool builds a pool over units. An empty list yields a pool whose
// leases carry an empty unit, letting the relay choose.
func NewFeePool(units []string) *FeePool {
	var cleaned []string
	seen := map[string]bool{}
	for _, u := range units {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		cleaned = append(cleaned, u)
	}
	p := &FeePool{units: make(chan string, len(cleaned)), size: len(cleaned)}
	for _, u := range cleaned {
		p.units <- u
	}
	return p
}

// Size returns the number of units the pool manages.
func (p *FeePool) Size() int {
	return p.size
}

// Available returns the number of idle units.
func (p *FeePool) Available() int {
	return len(p.units)
}

// Lease blocks until a unit is free or ctx ends. release must be called
// exactly once when the submission reaches a terminal result.
func (p *FeePool) Lease(ctx context.Context) (unit string, release func(), err error) {
	if p == nil || p.size == 0 {
		return "", func() {}, nil
	}
	select {
	case unit := <-p.units:
		released := false
		return unit, func() {
			if released {
				return
			}
			released = true
			p.units <- unit
		}, nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return "", nil, apperrors.Wrap(apperrors.CodeFeeUnitBusy, fmt.Sprintf("all %d fee units busy", p.size), err)
		}
		return "", nil, err
	}
}
