// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upload

import (
	"context"

	"golang.org/x/time/rate"
)

const minBurst = 64 << 10

// Bandwidth throttles upload bytes. The limit can be changed while uploads
// are running; zero means unlimited.
type Bandwidth struct {
	lim *rate.Limiter
}

// NewBandwidth creates a limiter of bytesPerSec.
func NewBandwidth(bytesPerSec int64) *Bandwidth {
	b := &Bandwidth{lim: rate.NewLimiter(rate.Inf, minBurst)}
	b.SetLimit(bytesPerSec)
	return b
}

// SetLimit applies a new rate. One second worth of bytes may be sent at once.
func (b *Bandwidth) SetLimit(bytesPerSec int64) {
	if bytesPerSec <= 0 {
		b.lim.SetLimit(rate.Inf)
		return
	}
	b.lim.SetBurst(int(max(bytesPerSec, minBurst)))
	b.lim.SetLimit(rate.Limit(bytesPerSec))
}

// Limit returns the current rate in bytes per second, 0 when unlimited.
func (b *Bandwidth) Limit() int64 {
	l := b.lim.Limit()
	if l == rate.Inf {
		return 0
	}
	return int64(l)
}

// WaitN blocks until n bytes may be sent. Requests above the burst are split.
func (b *Bandwidth) WaitN(ctx context.Context, n int) error {
	for n > 0 {
		step := min(n, b.lim.Burst())
		if err := b.lim.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
