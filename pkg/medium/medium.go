package medium

import (
	"context"
	"errors"
	"time"
)

// Constants are the timing and sizing parameters a medium publishes to the MAC.
type Constants struct {
	SlotTime       time.Duration
	SIFSTime       time.Duration
	CWMin          int
	CWMax          int
	RetryLimit     int
	MaxFrameLength int // maximum on-air frame length (MPDU) in bytes
}

var DefaultConstants = Constants{
	SlotTime:       200 * time.Millisecond,
	SIFSTime:       100 * time.Millisecond,
	CWMin:          3,
	CWMax:          31,
	RetryLimit:     5,
	MaxFrameLength: 2048,
}

func (c Constants) DIFS() time.Duration {
	return c.SIFSTime + 2*c.SlotTime
}

// Medium is a half-duplex shared radio channel as seen from one station.
type Medium interface {
	// Transmit puts frame on the air and returns without waiting for it to finish.
	Transmit(frame []byte) (int, error)
	// Receive blocks until a frame arrives or ctx is done.
	Receive(ctx context.Context) ([]byte, error)
	// InUse is true while any transmission is on the air, including our own.
	InUse() bool
	// Clock is the medium's monotonic time.
	Clock() time.Duration
	Constants() Constants
}

// IdleNotifier is implemented by media that can announce the end of activity.
type IdleNotifier interface {
	// IdleAsync returns a channel that is closed once the medium becomes idle.
	// The medium may be busy again by the time the receiver runs.
	IdleAsync() <-chan struct{}
}

var ErrFrameTooLong = errors.New("frame exceeds maximum frame length")
