package medium

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"Dot11/pkg/async"

	"golang.org/x/exp/rand"
	"k8s.io/utils/clock"
)

// Network simulates a single shared radio channel. Every frame transmitted by
// one port is delivered to all other ports once its airtime has passed.
// Transmissions that overlap in time collide and are delivered corrupted.
type Network struct {
	Constants  Constants
	Clock      clock.Clock   // nil means the real clock
	ByteTime   time.Duration // airtime per byte, 0 means instantaneous
	LossRate   float64       // probability that a single delivery is lost
	BufferSize int           // receive buffer of each port, 16 if unset

	// Filter may alter or drop (by returning nil) a delivery.
	Filter func(from, to *Port, frame []byte) []byte
	// Tap observes every transmitted frame at the time it goes on the air.
	Tap func(at time.Duration, frame []byte)

	once  sync.Once
	mu    sync.Mutex
	epoch time.Time
	ports []*Port
	onAir []*transmission
}

type transmission struct {
	from     *Port
	frame    []byte
	collided bool
}

type Port struct {
	network *Network
	index   int
	rx      chan []byte
	idle    async.Signal
}

func (n *Network) init() {
	n.once.Do(func() {
		if n.Clock == nil {
			n.Clock = clock.RealClock{}
		}
		if n.Constants == (Constants{}) {
			n.Constants = DefaultConstants
		}
		if n.BufferSize == 0 {
			n.BufferSize = 16
		}
		n.epoch = n.Clock.Now()
	})
}

// Join attaches a new station to the network.
func (n *Network) Join() *Port {
	n.init()
	n.mu.Lock()
	defer n.mu.Unlock()
	p := &Port{
		network: n,
		index:   len(n.ports),
		rx:      make(chan []byte, n.BufferSize),
	}
	n.ports = append(n.ports, p)
	return p
}

func (n *Network) complete(tx *transmission) {
	n.mu.Lock()
	n.onAir = slices.DeleteFunc(n.onAir, func(t *transmission) bool { return t == tx })
	idle := len(n.onAir) == 0
	ports := slices.Clone(n.ports)
	n.mu.Unlock()

	for _, to := range ports {
		if to == tx.from {
			continue
		}
		if n.LossRate > 0 && rand.Float64() < n.LossRate {
			continue
		}
		data := slices.Clone(tx.frame)
		if tx.collided {
			garble(data)
		}
		if n.Filter != nil {
			if data = n.Filter(tx.from, to, data); data == nil {
				continue
			}
		}
		select {
		case to.rx <- data:
		default:
			// receiver overrun, the frame is lost like on a real radio
		}
	}

	if idle {
		for _, p := range ports {
			p.idle.Notify()
		}
	}
}

func garble(data []byte) {
	if len(data) > 0 {
		data[len(data)/2] ^= 0xFF
	}
}

func (p *Port) Index() int {
	return p.index
}

func (p *Port) Transmit(frame []byte) (int, error) {
	n := p.network
	if len(frame) > n.Constants.MaxFrameLength {
		return 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLong, len(frame), n.Constants.MaxFrameLength)
	}

	tx := &transmission{from: p, frame: slices.Clone(frame)}
	airtime := n.ByteTime * time.Duration(len(frame))

	n.mu.Lock()
	for _, other := range n.onAir {
		other.collided = true
		tx.collided = true
	}
	n.onAir = append(n.onAir, tx)
	done := n.Clock.After(airtime)
	n.mu.Unlock()

	if n.Tap != nil {
		n.Tap(p.Clock(), tx.frame)
	}

	go func() {
		<-done
		n.complete(tx)
	}()
	return len(frame), nil
}

func (p *Port) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.rx:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Port) InUse() bool {
	n := p.network
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.onAir) > 0
}

func (p *Port) IdleAsync() <-chan struct{} {
	n := p.network
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.onAir) == 0 {
		return async.Closed()
	}
	return p.idle.Wait()
}

func (p *Port) Clock() time.Duration {
	return p.network.Clock.Since(p.network.epoch)
}

func (p *Port) Constants() Constants {
	return p.network.Constants
}
