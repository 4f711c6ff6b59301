package layers

import (
	"context"
	"fmt"
	"time"

	"Dot11/pkg/medium"

	"golang.org/x/exp/rand"
	"k8s.io/utils/clock"
)

type senderState int

const (
	stateAwaitData senderState = iota
	stateIdleDIFSWait
	stateBusyIdleWait
	stateBusyDIFSWait
	stateSlotWait
	stateAwaitAck
)

var senderStateNames = [...]string{"AwaitData", "IdleDIFSWait", "BusyIdleWait", "BusyDIFSWait", "SlotWait", "AwaitAck"}

func (s senderState) String() string {
	if int(s) < len(senderStateNames) {
		return senderStateNames[s]
	}
	return fmt.Sprintf("senderState(%d)", int(s))
}

type senderEvent int

const (
	eventFrameReadyIdle senderEvent = iota // a frame is in hand and the medium is idle
	eventFrameReadyBusy                    // a frame is in hand and the medium is busy
	eventMediumIdle
	eventStillIdle  // a DIFS or slot wait ended with the medium idle
	eventBecameBusy // a DIFS or slot wait ended with the medium busy
	eventCountdownDone
	eventBroadcastSent
	eventAckReceived
	eventAckTimeout
	eventRetriesExhausted
)

var senderEventNames = [...]string{"FrameReadyIdle", "FrameReadyBusy", "MediumIdle", "StillIdle", "BecameBusy",
	"CountdownDone", "BroadcastSent", "AckReceived", "AckTimeout", "RetriesExhausted"}

func (e senderEvent) String() string {
	if int(e) < len(senderEventNames) {
		return senderEventNames[e]
	}
	return fmt.Sprintf("senderEvent(%d)", int(e))
}

type effect uint16

const (
	effectTransmit effect = 1 << iota
	effectDrawSlots
	effectDecrementSlot
	effectDoubleWindow
	effectResetWindow
	effectCountRetry
	effectDrop
	effectDelivered
)

// transition is total: events that mean nothing in a state leave it unchanged.
func transition(state senderState, event senderEvent) (senderState, effect) {
	switch state {
	case stateAwaitData:
		switch event {
		case eventFrameReadyIdle:
			return stateIdleDIFSWait, 0
		case eventFrameReadyBusy:
			return stateBusyIdleWait, effectDrawSlots
		}
	case stateIdleDIFSWait:
		switch event {
		case eventStillIdle:
			return stateAwaitAck, effectTransmit
		case eventBecameBusy:
			return stateBusyIdleWait, effectDrawSlots
		}
	case stateBusyIdleWait:
		if event == eventMediumIdle {
			return stateBusyDIFSWait, 0
		}
	case stateBusyDIFSWait:
		switch event {
		case eventStillIdle:
			return stateSlotWait, 0
		case eventBecameBusy:
			return stateBusyIdleWait, 0
		}
	case stateSlotWait:
		switch event {
		case eventStillIdle:
			return stateSlotWait, effectDecrementSlot
		case eventBecameBusy:
			return stateBusyIdleWait, 0
		case eventCountdownDone:
			return stateAwaitAck, effectTransmit
		}
	case stateAwaitAck:
		switch event {
		case eventBroadcastSent:
			return stateAwaitData, effectResetWindow
		case eventAckReceived:
			return stateAwaitData, effectResetWindow | effectDelivered
		case eventAckTimeout:
			// a retry always contends again, even on an idle medium
			return stateBusyIdleWait, effectCountRetry | effectDoubleWindow | effectDrawSlots
		case eventRetriesExhausted:
			return stateAwaitData, effectDrop | effectResetWindow
		}
	}
	return state, 0
}

type contention struct {
	min, max int
	window   int
	slots    int
	retries  int
}

func newContention(c medium.Constants) contention {
	return contention{min: c.CWMin, max: max(c.CWMax, c.CWMin), window: c.CWMin}
}

func (c *contention) double() {
	c.window = min(max(c.window*2, 1), c.max)
}

func (c *contention) reset() {
	c.window = c.min
	c.retries = 0
}

func (c *contention) draw(random bool) {
	if random {
		c.slots = rand.Intn(c.window + 1)
	} else {
		c.slots = c.window
	}
}

// ack identifies an acknowledgement by the station that sent it and the
// sequence number it confirms.
type ack struct {
	Source   MACAddress
	Sequence uint16
}

// Sender drains the outgoing queue one frame at a time, contending for the
// medium with DIFS and slot backoff and waiting for an ACK for unicast frames.
type Sender struct {
	Address MACAddress
	Medium  medium.Medium
	Clock   clock.Clock
	Context *AccessContext
	Config  Config

	outgoing <-chan Frame
	acks     <-chan ack

	constants  medium.Constants
	state      senderState
	frame      Frame
	cw         contention
	lastBeacon time.Duration
}

func newSender(l *LinkLayer) *Sender {
	constants := l.Medium.Constants()
	return &Sender{
		Address:   l.Address,
		Medium:    l.Medium,
		Clock:     l.Clock,
		Context:   l.context(),
		Config:    l.Config,
		outgoing:  l.outgoing,
		acks:      l.acks,
		constants: constants,
		cw:        newContention(constants),
	}
}

func (s *Sender) Run(ctx context.Context) {
	s.lastBeacon = s.Medium.Clock()
	for ctx.Err() == nil {
		if event, ok := s.observe(ctx); ok {
			s.fire(event)
		}
	}
}

func (s *Sender) fire(event senderEvent) {
	next, effects := transition(s.state, event)
	s.apply(effects)
	if next != s.state {
		s.Context.debugf("[Sender] %v -> %v", s.state, next)
	}
	s.state = next
}

// observe performs the wait belonging to the current state and reports what
// happened. It returns false when nothing happened.
func (s *Sender) observe(ctx context.Context) (senderEvent, bool) {
	switch s.state {
	case stateAwaitData:
		frame, ok := s.nextFrame(ctx)
		if !ok {
			return 0, false
		}
		s.frame = frame
		s.discardAcks()
		if s.Medium.InUse() {
			return eventFrameReadyBusy, true
		}
		return eventFrameReadyIdle, true

	case stateIdleDIFSWait, stateBusyDIFSWait:
		if !sleep(ctx, s.Clock, s.constants.DIFS()) {
			return 0, false
		}
		return s.sense(), true

	case stateBusyIdleWait:
		if !s.waitIdle(ctx) {
			return 0, false
		}
		return eventMediumIdle, true

	case stateSlotWait:
		if s.cw.slots <= 0 {
			return eventCountdownDone, true
		}
		if !sleep(ctx, s.Clock, s.constants.SlotTime) {
			return 0, false
		}
		return s.sense(), true

	case stateAwaitAck:
		if s.frame.Destination().IsBroadcast() {
			return eventBroadcastSent, true
		}
		return s.awaitAck(ctx)
	}
	return 0, false
}

func (s *Sender) apply(effects effect) {
	if effects&effectCountRetry != 0 {
		s.cw.retries++
		s.Context.debugf("[Sender] ACK timeout for seq %d, retry %d", s.frame.Sequence(), s.cw.retries)
	}
	if effects&effectDrop != 0 {
		s.Context.SetStatus(StatusTxFailed)
		s.Context.Logger().Warnf("[Sender] Dropping frame seq %d to %d after %d retries",
			s.frame.Sequence(), s.frame.Destination(), s.cw.retries)
	}
	if effects&effectDelivered != 0 {
		s.Context.SetStatus(StatusTxDelivered)
		s.Context.debugf("[Sender] ACK received for seq %d", s.frame.Sequence())
	}
	if effects&effectDoubleWindow != 0 {
		s.cw.double()
	}
	if effects&effectResetWindow != 0 {
		s.cw.reset()
		s.frame = nil
	}
	if effects&effectDrawSlots != 0 {
		s.cw.draw(s.Context.RandomSlots())
		s.Context.debugf("[Sender] Backing off %d slots (window %d)", s.cw.slots, s.cw.window)
	}
	if effects&effectDecrementSlot != 0 && s.cw.slots > 0 {
		s.cw.slots--
	}
	if effects&effectTransmit != 0 {
		s.transmit()
	}
}

func (s *Sender) sense() senderEvent {
	if s.Medium.InUse() {
		return eventBecameBusy
	}
	return eventStillIdle
}

func (s *Sender) transmit() {
	frame := s.frame
	if s.cw.retries > 0 {
		frame = frame.WithRetry()
	}
	if _, err := s.Medium.Transmit(frame); err != nil {
		s.Context.SetStatus(StatusUnspecifiedError)
		s.Context.Logger().Warnf("[Sender] Transmit failed: %v", err)
		return
	}
	if frame.IsBeacon() {
		s.Context.beaconf("[Sender] Transmitted beacon at %v", s.Medium.Clock())
	} else {
		s.Context.debugf("[Sender] Transmitted %v", frame)
	}
}

// nextFrame prefers queued data; a beacon is only built when nothing is queued.
func (s *Sender) nextFrame(ctx context.Context) (Frame, bool) {
	select {
	case frame := <-s.outgoing:
		return frame, true
	default:
	}

	interval := s.Context.BeaconInterval()
	wait := s.Config.PollInterval
	if interval > 0 {
		untilBeacon := s.lastBeacon + interval - s.Medium.Clock()
		if untilBeacon <= 0 {
			return s.beacon(), true
		}
		wait = min(wait, untilBeacon)
	}

	timer := s.Clock.NewTimer(wait)
	defer timer.Stop()
	select {
	case frame := <-s.outgoing:
		return frame, true
	case <-timer.C():
	case <-ctx.Done():
	}
	return nil, false
}

func (s *Sender) beacon() Frame {
	s.lastBeacon = s.Medium.Clock()
	timestamp := s.Context.LocalTime(s.lastBeacon) + s.Config.BeaconSendLatency
	header := MACHeader{Type: MACTypeBeacon, Destination: Broadcast, Source: s.Address}
	s.Context.beaconf("[Sender] Built beacon with time %dms", timestamp.Milliseconds())
	return NewFrame(header, beaconPayload(timestamp.Milliseconds()), BeaconPayloadSize, -1)
}

func (s *Sender) waitIdle(ctx context.Context) bool {
	for s.Medium.InUse() {
		if notifier, ok := s.Medium.(medium.IdleNotifier); ok {
			select {
			case <-notifier.IdleAsync():
			case <-ctx.Done():
				return false
			}
		} else if !sleep(ctx, s.Clock, s.Config.PollInterval) {
			return false
		}
	}
	return true
}

// discardAcks drops ACKs left over from earlier exchanges, such as the answer
// to a retransmission that arrived after the original was already confirmed.
func (s *Sender) discardAcks() {
	for {
		select {
		case a := <-s.acks:
			s.Context.debugf("[Sender] Discarding stale ACK for seq %d from %d", a.Sequence, a.Source)
		default:
			return
		}
	}
}

// awaitAck ignores ACKs from other stations or for other sequence numbers
// without restarting the timeout.
func (s *Sender) awaitAck(ctx context.Context) (senderEvent, bool) {
	timer := s.Clock.NewTimer(s.Config.AckTimeout)
	defer timer.Stop()
	want := ack{Source: s.frame.Destination(), Sequence: s.frame.Sequence()}
	for {
		select {
		case a := <-s.acks:
			if a == want {
				return eventAckReceived, true
			}
			s.Context.debugf("[Sender] Ignoring ACK for seq %d from %d, expected seq %d from %d",
				a.Sequence, a.Source, want.Sequence, want.Source)
		case <-timer.C():
			if s.cw.retries+1 > s.constants.RetryLimit {
				return eventRetriesExhausted, true
			}
			return eventAckTimeout, true
		case <-ctx.Done():
			return 0, false
		}
	}
}

// sleep waits for d on clk and reports false if ctx ended first.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
		return true
	case <-ctx.Done():
		return false
	}
}
