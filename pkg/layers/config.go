package layers

import "time"

type Config struct {
	QueueCapacity int // capacity of the outgoing, incoming and ack queues
	OutgoingLimit int // Send fails once this many frames are waiting
	IncomingLimit int // received data is dropped once this many frames are waiting

	AckTimeout   time.Duration
	PollInterval time.Duration // upper bound on idle waits of the sender

	DebugLevel     int
	SlotSelection  int
	BeaconInterval int // seconds, <= 0 disables beacons

	// Added to the timestamp of outgoing beacons and of received beacons to
	// account for the time a beacon spends in the sender and on the air.
	BeaconSendLatency    time.Duration
	BeaconReceiveLatency time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueCapacity:     10,
		OutgoingLimit:     4,
		IncomingLimit:     5,
		AckTimeout:        5 * time.Second,
		PollInterval:      20 * time.Millisecond,
		DebugLevel:        DebugOff,
		SlotSelection:     SlotRandom,
		BeaconInterval:    5,
		BeaconSendLatency: 50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.OutgoingLimit <= 0 {
		c.OutgoingLimit = d.OutgoingLimit
	}
	if c.IncomingLimit <= 0 {
		c.IncomingLimit = d.IncomingLimit
	}
	// the limits are enforced on channels of QueueCapacity
	c.OutgoingLimit = min(c.OutgoingLimit, c.QueueCapacity)
	c.IncomingLimit = min(c.IncomingLimit, c.QueueCapacity)
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}
