package layers

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

type MACAddress uint16

// Broadcast is the all-ones station address.
const Broadcast MACAddress = 0xFFFF

func (a MACAddress) IsBroadcast() bool {
	return a == Broadcast
}

type MACType uint8

const (
	MACTypeData MACType = iota
	MACTypeACK
	MACTypeBeacon
)

func (t MACType) String() string {
	switch t {
	case MACTypeData:
		return "Data"
	case MACTypeACK:
		return "ACK"
	case MACTypeBeacon:
		return "Beacon"
	default:
		return fmt.Sprintf("MACType(%d)", uint8(t))
	}
}

const (
	HeaderSize   = 6
	ChecksumSize = 4
	Overhead     = HeaderSize + ChecksumSize

	SequenceModulus = 1 << 12
	sequenceMask    = SequenceModulus - 1
)

// Type (3 bit) | Retry (1 bit) | Sequence (12 bit) | Destination (16 bit) | Source (16 bit)
type MACHeader struct {
	Type        MACType
	Retry       bool
	Sequence    uint16
	Destination MACAddress
	Source      MACAddress
}

// ToBytes masks out-of-range fields instead of rejecting them.
func (m MACHeader) ToBytes() []byte {
	bytes := make([]byte, HeaderSize)
	m.put(bytes)
	return bytes
}

func (m MACHeader) put(bytes []byte) {
	control := uint16(m.Type&0x7)<<13 | m.Sequence&sequenceMask
	if m.Retry {
		control |= 1 << 12
	}
	binary.BigEndian.PutUint16(bytes[0:2], control)
	binary.BigEndian.PutUint16(bytes[2:4], uint16(m.Destination))
	binary.BigEndian.PutUint16(bytes[4:6], uint16(m.Source))
}

func (m *MACHeader) FromBytes(data []byte) {
	control := binary.BigEndian.Uint16(data[0:2])
	m.Type = MACType(control >> 13)
	m.Retry = control&(1<<12) != 0
	m.Sequence = control & sequenceMask
	m.Destination = MACAddress(binary.BigEndian.Uint16(data[2:4]))
	m.Source = MACAddress(binary.BigEndian.Uint16(data[4:6]))
}

func (m MACHeader) NumBytes() int {
	return HeaderSize
}

// Frame is the raw on-air representation of a MAC frame:
// header | payload | CRC-32 (big endian) over header and payload.
type Frame []byte

// NewFrame copies at most min(length, len(payload), maxPayload) bytes of payload.
// A negative maxPayload means no limit beyond the payload itself.
func NewFrame(header MACHeader, payload []byte, length, maxPayload int) Frame {
	n := max(min(length, len(payload)), 0)
	if maxPayload >= 0 {
		n = min(n, maxPayload)
	}
	f := make(Frame, n+Overhead)
	header.put(f)
	copy(f[HeaderSize:], payload[:n])
	f.seal()
	return f
}

// DecodeFrame returns a view over data; it does not check the checksum.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}
	return Frame(data), nil
}

func (f Frame) seal() {
	n := len(f) - ChecksumSize
	binary.BigEndian.PutUint32(f[n:], crc32.ChecksumIEEE(f[:n]))
}

func (f Frame) Header() (h MACHeader) {
	h.FromBytes(f)
	return
}

func (f Frame) Type() MACType {
	return MACType(f[0] >> 5)
}

func (f Frame) Retry() bool {
	return f[0]&0x10 != 0
}

func (f Frame) Sequence() uint16 {
	return binary.BigEndian.Uint16(f[0:2]) & sequenceMask
}

func (f Frame) Destination() MACAddress {
	return MACAddress(binary.BigEndian.Uint16(f[2:4]))
}

func (f Frame) Source() MACAddress {
	return MACAddress(binary.BigEndian.Uint16(f[4:6]))
}

func (f Frame) Payload() []byte {
	return f[HeaderSize : len(f)-ChecksumSize]
}

func (f Frame) PayloadLength() int {
	return len(f) - Overhead
}

func (f Frame) Checksum() uint32 {
	return binary.BigEndian.Uint32(f[len(f)-ChecksumSize:])
}

func (f Frame) IsValid() bool {
	if len(f) < Overhead {
		return false
	}
	n := len(f) - ChecksumSize
	return crc32.ChecksumIEEE(f[:n]) == f.Checksum()
}

func (f Frame) IsAck() bool {
	return f.Type() == MACTypeACK
}

func (f Frame) IsBeacon() bool {
	return f.Type() == MACTypeBeacon
}

// WithRetry returns a copy with the retry bit set and the checksum recomputed.
func (f Frame) WithRetry() Frame {
	c := make(Frame, len(f))
	copy(c, f)
	c[0] |= 0x10
	c.seal()
	return c
}

func (f Frame) String() string {
	if len(f) < Overhead {
		return fmt.Sprintf("Frame(%d bytes, truncated)", len(f))
	}
	h := f.Header()
	return fmt.Sprintf("%v seq=%d %d->%d retry=%t len=%d", h.Type, h.Sequence, h.Source, h.Destination, h.Retry, f.PayloadLength())
}

// Beacon payloads carry the sender's logical time in milliseconds.
const BeaconPayloadSize = 8

func beaconPayload(ms int64) []byte {
	payload := make([]byte, BeaconPayloadSize)
	binary.BigEndian.PutUint64(payload, uint64(ms))
	return payload
}

func (f Frame) BeaconTime() (int64, error) {
	payload := f.Payload()
	if len(payload) < BeaconPayloadSize {
		return 0, fmt.Errorf("%w: beacon payload of %d bytes", ErrFrameTooShort, len(payload))
	}
	return int64(binary.BigEndian.Uint64(payload)), nil
}
