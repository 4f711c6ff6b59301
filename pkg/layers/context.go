package layers

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Debug levels accepted by CommandDebugLevel.
const (
	DebugOff     = 0
	DebugAll     = -1
	DebugBeacons = -2
)

// SlotRandom selects backoff slots uniformly from [0, CW]; any other value
// makes the sender always wait the full contention window.
const SlotRandom = 0

// AccessContext is the state shared by the sender, the receiver and the link
// layer. Every field is read and written independently and atomically.
type AccessContext struct {
	debugLevel     atomic.Int32
	slotSelection  atomic.Int32
	beaconInterval atomic.Int32 // seconds, <= 0 disables beacons
	status         atomic.Int32
	clockOffset    atomic.Int64 // nanoseconds added to the medium clock
	logger         atomic.Pointer[zap.SugaredLogger]
}

type Settings struct {
	DebugLevel     int
	SlotSelection  int
	BeaconInterval int
	ClockOffset    time.Duration
}

func NewAccessContext(cfg Config, logger *zap.SugaredLogger) *AccessContext {
	c := &AccessContext{}
	c.debugLevel.Store(int32(cfg.DebugLevel))
	c.slotSelection.Store(int32(cfg.SlotSelection))
	c.beaconInterval.Store(int32(cfg.BeaconInterval))
	c.SetLogger(logger)
	return c
}

func (c *AccessContext) SetLogger(logger *zap.SugaredLogger) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c.logger.Store(logger)
}

func (c *AccessContext) Logger() *zap.SugaredLogger {
	return c.logger.Load()
}

func (c *AccessContext) DebugLevel() int { return int(c.debugLevel.Load()) }
func (c *AccessContext) SetDebugLevel(v int) { c.debugLevel.Store(int32(v)) }
func (c *AccessContext) SlotSelection() int { return int(c.slotSelection.Load()) }
func (c *AccessContext) SetSlotSelection(v int) { c.slotSelection.Store(int32(v)) }
func (c *AccessContext) RandomSlots() bool { return c.SlotSelection() == SlotRandom }
func (c *AccessContext) SetBeaconInterval(v int) { c.beaconInterval.Store(int32(v)) }

func (c *AccessContext) BeaconInterval() time.Duration {
	return time.Duration(c.beaconInterval.Load()) * time.Second
}

func (c *AccessContext) Status() Status { return Status(c.status.Load()) }
func (c *AccessContext) SetStatus(s Status) { c.status.Store(int32(s)) }

func (c *AccessContext) ClockOffset() time.Duration {
	return time.Duration(c.clockOffset.Load())
}

// LocalTime converts a raw medium clock reading into the station's logical time.
func (c *AccessContext) LocalTime(raw time.Duration) time.Duration {
	return raw + c.ClockOffset()
}

// AdvanceClockOffset raises the offset to candidate if that is larger; the
// offset never moves backwards. It returns the resulting offset.
func (c *AccessContext) AdvanceClockOffset(candidate time.Duration) (time.Duration, bool) {
	for {
		current := c.clockOffset.Load()
		if int64(candidate) <= current {
			return time.Duration(current), false
		}
		if c.clockOffset.CompareAndSwap(current, int64(candidate)) {
			return candidate, true
		}
	}
}

func (c *AccessContext) Settings() Settings {
	return Settings{
		DebugLevel:     c.DebugLevel(),
		SlotSelection:  c.SlotSelection(),
		BeaconInterval: int(c.beaconInterval.Load()),
		ClockOffset:    c.ClockOffset(),
	}
}

func (c *AccessContext) debugf(template string, args ...any) {
	if c.DebugLevel() == DebugAll {
		c.Logger().Debugf(template, args...)
	}
}

func (c *AccessContext) beaconf(template string, args ...any) {
	if level := c.DebugLevel(); level == DebugAll || level == DebugBeacons {
		c.Logger().Debugf(template, args...)
	}
}
