package core

import "errors"

// Frame is one encoded envelope, ready to be written to the wire.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking. It returns ErrBackpressure when the
	// send buffer is full and ErrClosed after Close.
	TrySend(Frame) error
	Close()
}
