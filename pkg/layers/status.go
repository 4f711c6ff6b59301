package layers

import (
	"errors"
	"fmt"
)

type Status int32

const (
	StatusSuccess Status = iota + 1
	StatusUnspecifiedError
	StatusRFInitFailed
	StatusTxDelivered
	StatusTxFailed
	StatusBadBufSize
	StatusBadAddress
	StatusBadMACAddress
	StatusIllegalArgument
	StatusInsufficientBufferSpace
)

var statusNames = map[Status]string{
	StatusSuccess:                 "Success",
	StatusUnspecifiedError:        "UnspecifiedError",
	StatusRFInitFailed:            "RFInitFailed",
	StatusTxDelivered:             "TxDelivered",
	StatusTxFailed:                "TxFailed",
	StatusBadBufSize:              "BadBufSize",
	StatusBadAddress:              "BadAddress",
	StatusBadMACAddress:           "BadMACAddress",
	StatusIllegalArgument:         "IllegalArgument",
	StatusInsufficientBufferSpace: "InsufficientBufferSpace",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

var (
	ErrFrameTooShort           = errors.New("frame too short")
	ErrBadBufSize              = errors.New("negative buffer length")
	ErrBadAddress              = errors.New("nil data buffer")
	ErrBadMACAddress           = errors.New("invalid station address")
	ErrInsufficientBufferSpace = errors.New("insufficient buffer space")
	ErrIllegalArgument         = errors.New("illegal argument")
	ErrRFInitFailed            = errors.New("medium not available")
	ErrClosed                  = errors.New("link layer closed")
)
