package app

import (
	"fmt"

	"github.com/dkeye/Relay/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a recipient whose send buffer was full.
type Policy interface {
	OnBackPressure(room domain.RoomName, conn domain.ConnID) BackpressureAction
}

// DropPolicy loses the frame for that recipient only.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.RoomName, domain.ConnID) BackpressureAction {
	return DropFrame
}

// KickPolicy closes slow readers; their disconnect runs the offline path.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(domain.RoomName, domain.ConnID) BackpressureAction {
	return KickMember
}

func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
