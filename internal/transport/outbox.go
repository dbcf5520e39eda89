package transport

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/spaces/internal/util"
)

const (
	highWaterMark = 256 * 1024 // SCTP bytes in flight above which the writer pauses
	lowWaterMark  = 64 * 1024  // pion signals the writer again below this
	outboxSize    = 64
)

// outbox is the single writer of a link's DataChannel. Session messages
// queued before the channel opens are held until it does.
type outbox struct {
	queue   chan []byte
	drained chan struct{}
}

// startOutbox starts the writer for dc. It stops when ctx ends; a failed
// write calls fail, which ends the link.
func startOutbox(ctx context.Context, dc *webrtc.DataChannel, opened <-chan struct{}, fail func()) *outbox {
	o := &outbox{
		queue:   make(chan []byte, outboxSize),
		drained: make(chan struct{}, 1),
	}

	dc.SetBufferedAmountLowThreshold(lowWaterMark)
	dc.OnBufferedAmountLow(func() {
		select {
		case o.drained <- struct{}{}:
		default:
		}
	})

	go o.run(ctx, dc, opened, fail)
	return o
}

func (o *outbox) run(ctx context.Context, dc *webrtc.DataChannel, opened <-chan struct{}, fail func()) {
	select {
	case <-opened:
	case <-ctx.Done():
		return
	}

	for {
		var msg []byte
		select {
		case msg = <-o.queue:
		case <-ctx.Done():
			return
		}

		if dc.BufferedAmount() > highWaterMark {
			select {
			case <-o.drained:
			case <-ctx.Done():
				return
			}
		}

		if err := dc.Send(msg); err != nil {
			util.LogWarning("direct link write failed, falling back to the relay: %v", err)
			fail()
			return
		}
		util.Stats.AddSent(len(msg))
	}
}

// push queues msg, waiting while the queue is full. It reports false once
// ctx has ended.
func (o *outbox) push(ctx context.Context, msg []byte) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case o.queue <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
