// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/segrelay/internal/media"
)

var errEncoderClosed = errors.New("ffmpeg: encoder closed")

// outbox is an unbounded packet FIFO between a stdout reader and Poll. It
// never blocks the reader, so ffmpeg keeps draining its input pipe.
type outbox struct {
	mu     sync.Mutex
	pkts   []media.Packet
	err    error
	closed bool
	notify chan struct{}
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

func (o *outbox) put(pkts ...media.Packet) {
	if len(pkts) == 0 {
		return
	}
	o.mu.Lock()
	o.pkts = append(o.pkts, pkts...)
	o.mu.Unlock()
	o.wake()
}

// fail records a terminal reader error, reported after queued packets.
func (o *outbox) fail(err error) {
	o.mu.Lock()
	if o.err == nil {
		o.err = err
	}
	o.mu.Unlock()
	o.wake()
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wake()
}

func (o *outbox) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *outbox) take() (media.Packet, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pkts) > 0 {
		p := o.pkts[0]
		o.pkts[0] = media.Packet{}
		o.pkts = o.pkts[1:]
		return p, true, nil
	}
	if o.err != nil {
		return media.Packet{}, false, o.err
	}
	if o.closed {
		return media.Packet{}, false, errEncoderClosed
	}
	return media.Packet{}, false, nil
}

func (o *outbox) poll(timeout time.Duration) (media.Packet, bool, error) {
	if p, ok, err := o.take(); ok || err != nil || timeout <= 0 {
		return p, ok, err
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-o.notify:
			if p, ok, err := o.take(); ok || err != nil {
				return p, ok, err
			}
		case <-t.C:
			return o.take()
		}
	}
}
