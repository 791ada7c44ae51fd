//go:build test

package testutils

import (
	"context"
	"sync/atomic"

	"github.com/srg/openstrap/internal/device"
)

// FakeScanningDevice replays a fixed set of advertisements, then blocks until
// the scan context ends, like a real adapter.
type FakeScanningDevice struct {
	Advertisements []device.Advertisement
	Err            error
	Scans          atomic.Int32
}

func (f *FakeScanningDevice) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	f.Scans.Add(1)
	if f.Err != nil {
		return f.Err
	}
	for _, adv := range f.Advertisements {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}
