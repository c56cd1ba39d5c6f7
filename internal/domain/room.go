package domain

// RoomName names a broadcast group. User rooms are named by the user id and
// chat rooms by the chat id; both share one namespace.
type RoomName string

type ChatID string

func UserRoom(id UserID) RoomName { return RoomName(id) }

func ChatRoom(id ChatID) RoomName { return RoomName(id) }
