package core

// Inbound events.
const (
	EventSetup       = "setup"
	EventJoinChat    = "join chat"
	EventNewMessage  = "new message"
	EventTyping      = "typing"
	EventStopTyping  = "stop typing"
	EventMessageRead = "message read"
	EventChatUpdated = "chat updated"
	EventChatDeleted = "chat deleted"
	EventPing        = "ping"
)

// Outbound events. typing, stop typing, message read, chat updated and
// chat deleted keep their inbound names.
const (
	EventOnlineUsers     = "online users"
	EventStatusUpdate    = "user status update"
	EventMessageReceived = "message received"
	EventPong            = "pong"
	EventError           = "error"
)
