package layers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Dot11/pkg/medium"

	"go.uber.org/zap/zaptest"
	"k8s.io/utils/clock"
)

var testConstants = medium.Constants{
	SlotTime:       time.Millisecond,
	SIFSTime:       time.Millisecond,
	CWMin:          3,
	CWMax:          31,
	RetryLimit:     5,
	MaxFrameLength: 2048,
}

func testConfig() Config {
	return Config{
		AckTimeout:   20 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
	}.withDefaults()
}

// mockMedium records transmissions and delivers injected frames.
type mockMedium struct {
	constants medium.Constants
	clock     clock.PassiveClock
	epoch     time.Time
	busy      atomic.Bool
	rx        chan []byte

	mu         sync.Mutex
	txLog      []Frame
	onTransmit func(Frame)
}

func newMockMedium(c clock.PassiveClock) *mockMedium {
	if c == nil {
		c = clock.RealClock{}
	}
	return &mockMedium{
		constants: testConstants,
		clock:     c,
		epoch:     c.Now(),
		rx:        make(chan []byte, 64),
	}
}

// autoAck answers every unicast data frame with an ACK from its destination.
func (m *mockMedium) autoAck() *mockMedium {
	m.onTransmit = func(f Frame) {
		if f.Type() != MACTypeData || f.Destination().IsBroadcast() {
			return
		}
		m.rx <- NewFrame(MACHeader{
			Type:        MACTypeACK,
			Sequence:    f.Sequence(),
			Destination: f.Source(),
			Source:      f.Destination(),
		}, nil, 0, 0)
	}
	return m
}

func (m *mockMedium) Transmit(frame []byte) (int, error) {
	f := make(Frame, len(frame))
	copy(f, frame)

	m.mu.Lock()
	m.txLog = append(m.txLog, f)
	hook := m.onTransmit
	m.mu.Unlock()

	if hook != nil {
		hook(f)
	}
	return len(frame), nil
}

func (m *mockMedium) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-m.rx:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *mockMedium) InUse() bool { return m.busy.Load() }
func (m *mockMedium) Clock() time.Duration { return m.clock.Since(m.epoch) }
func (m *mockMedium) Constants() medium.Constants { return m.constants }
func (m *mockMedium) Inject(frame []byte) { m.rx <- frame }

func (m *mockMedium) Transmitted() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Frame(nil), m.txLog...)
}

func (m *mockMedium) Count(match func(Frame) bool) int {
	n := 0
	for _, f := range m.Transmitted() {
		if match(f) {
			n++
		}
	}
	return n
}

func isData(f Frame) bool { return f.Type() == MACTypeData }
func isAck(f Frame) bool  { return f.IsAck() }

func openTestLink(t *testing.T, address MACAddress, m medium.Medium, cfg Config) *LinkLayer {
	t.Helper()
	l := NewLinkLayer(address, m, cfg)
	l.SetLogger(zaptest.NewLogger(t).Sugar())
	if err := l.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(l.Close)
	return l
}
