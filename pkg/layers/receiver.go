package layers

import (
	"context"
	"time"

	"Dot11/pkg/medium"

	"k8s.io/utils/clock"
)

// Receiver validates frames from the medium, hands ACKs to the sender,
// answers unicast data with ACKs and tracks beacon time.
type Receiver struct {
	Address MACAddress
	Medium  medium.Medium
	Clock   clock.Clock
	Context *AccessContext
	Config  Config

	incoming chan<- Frame
	acks     chan<- ack

	// last accepted sequence number per source, owned by the receive loop
	lastSeen map[MACAddress]uint16
}

func newReceiver(l *LinkLayer) *Receiver {
	return &Receiver{
		Address:  l.Address,
		Medium:   l.Medium,
		Clock:    l.Clock,
		Context:  l.context(),
		Config:   l.Config,
		incoming: l.incoming,
		acks:     l.acks,
		lastSeen: make(map[MACAddress]uint16),
	}
}

func (r *Receiver) Run(ctx context.Context) {
	for {
		data, err := r.Medium.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.Context.Logger().Warnf("[Receiver] Receive failed: %v", err)
			if !sleep(ctx, r.Clock, r.Config.PollInterval) {
				return
			}
			continue
		}
		r.handle(ctx, data)
	}
}

func (r *Receiver) handle(ctx context.Context, data []byte) {
	r.Context.debugf("[Receiver] Received %d bytes at %v", len(data), r.Medium.Clock())

	frame, err := DecodeFrame(data)
	if err != nil {
		r.Context.debugf("[Receiver] Dropping frame: %v", err)
		return
	}
	if !frame.IsValid() {
		r.Context.debugf("[Receiver] Checksum failed, dropping frame")
		return
	}
	dest := frame.Destination()
	if dest != r.Address && !dest.IsBroadcast() {
		r.Context.debugf("[Receiver] Frame for %d is not for us", dest)
		return
	}

	switch {
	case frame.IsAck():
		r.handleAck(frame)
	case frame.IsBeacon():
		r.handleBeacon(frame)
	case dest.IsBroadcast():
		if r.deliver(frame) {
			r.Context.debugf("[Receiver] Received broadcast %v", frame)
		}
	default:
		r.handleData(ctx, frame)
	}
}

func (r *Receiver) handleAck(frame Frame) {
	select {
	case r.acks <- ack{Source: frame.Source(), Sequence: frame.Sequence()}:
		r.Context.debugf("[Receiver] Received ACK for seq %d from %d", frame.Sequence(), frame.Source())
	default:
		// the sender's ACK timeout recovers from this
		r.Context.debugf("[Receiver] ACK queue full, dropping ACK for seq %d", frame.Sequence())
	}
}

func (r *Receiver) handleBeacon(frame Frame) {
	ms, err := frame.BeaconTime()
	if err != nil {
		r.Context.debugf("[Receiver] Dropping beacon: %v", err)
		return
	}
	remote := time.Duration(ms)*time.Millisecond + r.Config.BeaconReceiveLatency
	now := r.Medium.Clock()
	offset, advanced := r.Context.AdvanceClockOffset(remote - now)
	r.Context.beaconf("[Receiver] Beacon from %d with time %dms at %v, offset %v (advanced %t)",
		frame.Source(), ms, now, offset, advanced)
}

// handleData accepts a unicast frame unless it repeats the last sequence number
// seen from its source. Accepted and repeated frames are both acknowledged; a
// frame that does not fit in the incoming queue is neither recorded nor
// acknowledged so that the sender retries it.
func (r *Receiver) handleData(ctx context.Context, frame Frame) {
	src, seq := frame.Source(), frame.Sequence()
	last, seen := r.lastSeen[src]

	if seen && seq == last {
		r.Context.debugf("[Receiver] Duplicate seq %d from %d", seq, src)
	} else {
		if !r.deliver(frame) {
			return
		}
		expected := uint16(0)
		if seen {
			expected = (last + 1) & sequenceMask
		}
		if seq != expected {
			r.Context.Logger().Infof("[Receiver] Out of order sequence number from %d: got %d, expected %d", src, seq, expected)
		}
		r.lastSeen[src] = seq
		r.Context.debugf("[Receiver] Received %v", frame)
	}

	r.sendAck(ctx, frame)
}

func (r *Receiver) deliver(frame Frame) bool {
	if len(r.incoming) < r.Config.IncomingLimit {
		select {
		case r.incoming <- frame:
			return true
		default:
		}
	}
	r.Context.SetStatus(StatusInsufficientBufferSpace)
	r.Context.debugf("[Receiver] Incoming queue size limit reached, dropping %v", frame)
	return false
}

func (r *Receiver) sendAck(ctx context.Context, frame Frame) {
	if !sleep(ctx, r.Clock, r.Medium.Constants().SIFSTime) {
		return
	}
	if r.Medium.InUse() {
		r.Context.debugf("[Receiver] Medium busy after SIFS, ACK for seq %d not sent", frame.Sequence())
		return
	}
	reply := NewFrame(MACHeader{
		Type:        MACTypeACK,
		Sequence:    frame.Sequence(),
		Destination: frame.Source(),
		Source:      r.Address,
	}, nil, 0, 0)
	if _, err := r.Medium.Transmit(reply); err != nil {
		r.Context.Logger().Warnf("[Receiver] ACK transmit failed: %v", err)
		return
	}
	r.Context.debugf("[Receiver] ACK sent for seq %d to %d", frame.Sequence(), frame.Source())
}
