package core

import "github.com/dkeye/Relay/internal/domain"

// PublishResult reports delivery stats/backpressure to the dispatcher.
type PublishResult struct {
	SentTo  int
	Dropped []domain.ConnID
}

func (r *PublishResult) Merge(o PublishResult) {
	r.SentTo += o.SentTo
	r.Dropped = append(r.Dropped, o.Dropped...)
}

// Router owns room membership and performs fan-out. Delivery is best-effort
// and at-most-once; emitting to a room nobody joined is a no-op.
type Router interface {
	Attach(id domain.ConnID, conn SignalConnection)
	// Detach removes the connection from every room it joined.
	Detach(id domain.ConnID)

	Join(id domain.ConnID, room domain.RoomName)
	Leave(id domain.ConnID, room domain.RoomName)
	Rooms(id domain.ConnID) []domain.RoomName

	Send(id domain.ConnID, event string, payload any) error
	Emit(room domain.RoomName, event string, payload any) PublishResult
	EmitExcept(room domain.RoomName, event string, payload any, except domain.ConnID) PublishResult
	Broadcast(event string, payload any) PublishResult
	BroadcastExcept(event string, payload any, except domain.ConnID) PublishResult

	// Close releases the connection's transport, e.g. when the backpressure
	// policy kicks a slow reader.
	Close(id domain.ConnID)
}
