package layers

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"Dot11/pkg/async"
	"Dot11/pkg/medium"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

type Command int

const (
	CommandSettings Command = iota
	CommandDebugLevel
	CommandSlotSelection
	CommandBeaconInterval
)

// Transmission carries a received frame's addresses and payload to the caller.
type Transmission struct {
	Source      MACAddress
	Destination MACAddress
	Buf         []byte
}

// sequencer hands out per-destination sequence numbers starting at 0.
type sequencer struct {
	mu   sync.Mutex
	last map[MACAddress]uint16
}

func (s *sequencer) Next(dest MACAddress) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		s.last = make(map[MACAddress]uint16)
	}
	seq := uint16(0)
	if last, ok := s.last[dest]; ok {
		seq = (last + 1) & sequenceMask
	}
	s.last[dest] = seq
	return seq
}

// LinkLayer is the station-facing API. Open starts a Sender and a Receiver
// that share the queues and the AccessContext until Close.
type LinkLayer struct {
	Address MACAddress
	Medium  medium.Medium
	Config  Config
	Clock   clock.Clock // nil means the real clock

	once       sync.Once
	access     *AccessContext
	sendMu     sync.Mutex // orders the capacity check, sequence numbers and enqueueing
	sequence   sequencer
	outgoing   chan Frame
	incoming   chan Frame
	acks       chan ack
	maxPayload int

	open   atomic.Bool
	cancel context.CancelFunc
	done   <-chan struct{}
}

func NewLinkLayer(address MACAddress, m medium.Medium, cfg Config) *LinkLayer {
	return &LinkLayer{Address: address, Medium: m, Config: cfg}
}

func (l *LinkLayer) context() *AccessContext {
	l.once.Do(func() {
		l.access = NewAccessContext(l.Config, nil)
	})
	return l.access
}

func (l *LinkLayer) SetLogger(logger *zap.SugaredLogger) {
	if logger != nil {
		logger = logger.With("mac", uint16(l.Address))
	}
	l.context().SetLogger(logger)
}

func (l *LinkLayer) Open() error {
	c := l.context()
	if l.Medium == nil {
		c.SetStatus(StatusRFInitFailed)
		return ErrRFInitFailed
	}
	if l.Address.IsBroadcast() {
		c.SetStatus(StatusBadMACAddress)
		return fmt.Errorf("%w: %d", ErrBadMACAddress, l.Address)
	}
	if l.open.Load() {
		return nil
	}

	l.Config = l.Config.withDefaults()
	if l.Clock == nil {
		l.Clock = clock.RealClock{}
	}
	l.maxPayload = l.Medium.Constants().MaxFrameLength - Overhead
	l.outgoing = make(chan Frame, l.Config.QueueCapacity)
	l.incoming = make(chan Frame, l.Config.QueueCapacity)
	l.acks = make(chan ack, l.Config.QueueCapacity)

	sender, receiver := newSender(l), newReceiver(l)
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = async.Gather0(
		async.Job(func() { sender.Run(ctx) }),
		async.Job(func() { receiver.Run(ctx) }),
	)
	l.open.Store(true)

	c.SetStatus(StatusSuccess)
	c.debugf("[LinkLayer] Opened station %d", l.Address)
	return nil
}

// Close stops both engines and waits for them. Frames still queued are discarded.
func (l *LinkLayer) Close() {
	if !l.open.CompareAndSwap(true, false) {
		return
	}
	l.cancel()
	<-l.done
}

// MaxPayload is the largest payload a single frame can carry.
func (l *LinkLayer) MaxPayload() int {
	return l.maxPayload
}

// Send queues up to length bytes of data for dest and returns how many bytes
// were accepted. It never blocks: a full outgoing queue is reported as
// ErrInsufficientBufferSpace.
func (l *LinkLayer) Send(dest MACAddress, data []byte, length int) (int, error) {
	c := l.context()
	if length < 0 {
		c.SetStatus(StatusBadBufSize)
		return 0, fmt.Errorf("%w: %d", ErrBadBufSize, length)
	}
	if data == nil {
		c.SetStatus(StatusBadAddress)
		return 0, ErrBadAddress
	}
	if !l.open.Load() {
		c.SetStatus(StatusUnspecifiedError)
		return 0, ErrClosed
	}

	// Only Send adds to the queue, so once the limit check passes under
	// sendMu the enqueue below cannot block and no sequence number is lost.
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if len(l.outgoing) >= l.Config.OutgoingLimit {
		c.SetStatus(StatusInsufficientBufferSpace)
		c.debugf("[LinkLayer] Outgoing queue size limit reached")
		return 0, ErrInsufficientBufferSpace
	}

	frame := NewFrame(MACHeader{
		Type:        MACTypeData,
		Sequence:    l.sequence.Next(dest),
		Destination: dest,
		Source:      l.Address,
	}, data, length, l.maxPayload)
	l.outgoing <- frame

	c.debugf("[LinkLayer] Sending %d bytes to %d", frame.PayloadLength(), dest)
	return frame.PayloadLength(), nil
}

// Recv blocks until a frame has been delivered or ctx is done and copies its
// addresses and payload into t.
func (l *LinkLayer) Recv(ctx context.Context, t *Transmission) (int, error) {
	c := l.context()
	if t == nil {
		c.SetStatus(StatusIllegalArgument)
		return 0, fmt.Errorf("%w: nil transmission", ErrIllegalArgument)
	}
	if l.incoming == nil {
		c.SetStatus(StatusUnspecifiedError)
		return 0, ErrClosed
	}
	c.debugf("[LinkLayer] Waiting for data...")

	select {
	case frame := <-l.incoming:
		t.Source = frame.Source()
		t.Destination = frame.Destination()
		t.Buf = bytes.Clone(frame.Payload())
		if t.Buf == nil {
			t.Buf = []byte{}
		}
		c.debugf("[LinkLayer] Packet written to transmission")
		return len(t.Buf), nil
	case <-ctx.Done():
		c.SetStatus(StatusUnspecifiedError)
		return 0, ctx.Err()
	}
}

type Received struct {
	Transmission
	Err error
}

func (l *LinkLayer) RecvAsync(ctx context.Context) <-chan Received {
	return async.Promise(func() Received {
		var r Received
		_, r.Err = l.Recv(ctx, &r.Transmission)
		return r
	})
}

// Status returns the most recent status code without clearing it.
func (l *LinkLayer) Status() Status {
	return l.context().Status()
}

func (l *LinkLayer) Settings() Settings {
	return l.context().Settings()
}

// LocalTime is the medium clock corrected by the offset learned from beacons.
func (l *LinkLayer) LocalTime() time.Duration {
	if l.Medium == nil {
		return l.context().ClockOffset()
	}
	return l.context().LocalTime(l.Medium.Clock())
}

func (l *LinkLayer) Command(cmd Command, value int) (int, error) {
	c := l.context()
	logger := c.Logger()
	switch cmd {
	case CommandSettings:
		s := c.Settings()
		logger.Infof("-------------- Commands and Settings -----------------")
		logger.Infof("Debug level: 0 disables all, -1 enables all, -2 enables beacon output only")
		logger.Infof("Current value: %d", s.DebugLevel)
		logger.Infof("Slot selection: 0 selects slots randomly, any other value always waits the full contention window")
		logger.Infof("Current value: %d", s.SlotSelection)
		logger.Infof("Beacon interval: seconds between beacon transmissions, a value <= 0 disables beacons")
		logger.Infof("Current value: %d", s.BeaconInterval)
		logger.Infof("Clock offset: %v", s.ClockOffset)
		logger.Infof("------------------------------------------------------")
	case CommandDebugLevel:
		c.SetDebugLevel(value)
		logger.Infof("Debug level value: %d", value)
	case CommandSlotSelection:
		c.SetSlotSelection(value)
		logger.Infof("Slot selection value: %d", value)
	case CommandBeaconInterval:
		c.SetBeaconInterval(value)
		logger.Infof("Beacon interval value: %d", value)
	default:
		c.SetStatus(StatusIllegalArgument)
		return 0, fmt.Errorf("%w: unknown command %d", ErrIllegalArgument, cmd)
	}
	return 0, nil
}
