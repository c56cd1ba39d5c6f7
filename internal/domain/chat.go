package domain

import "github.com/goccy/go-json"

// The types below are routing views over objects owned by the REST layer.
// Only the fields needed to pick recipients are decoded; the relay forwards
// the original payload untouched.

// ChatMember accepts both a populated user object and a bare id string.
type ChatMember struct {
	ID UserID `json:"_id" validate:"required"`
}

func (m *ChatMember) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		m.ID = UserID(id)
		return nil
	}
	var obj struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	m.ID = UserID(obj.ID)
	return nil
}

type ChatRef struct {
	ID    ChatID       `json:"_id"`
	Users []ChatMember `json:"users" validate:"required,min=1,dive"`
}

// MemberIDs returns the member ids in order, without duplicates.
func (c ChatRef) MemberIDs() []UserID {
	seen := make(map[UserID]struct{}, len(c.Users))
	out := make([]UserID, 0, len(c.Users))
	for _, u := range c.Users {
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u.ID)
	}
	return out
}

type NewMessage struct {
	Chat   ChatRef    `json:"chat"`
	Sender ChatMember `json:"sender"`
}

type MessageRead struct {
	MessageID string `json:"messageId" validate:"required"`
	UserID    UserID `json:"userId" validate:"required"`
	ChatID    ChatID `json:"chatId" validate:"required"`
}

// ReadReceipt is what the other members of a chat receive.
type ReadReceipt struct {
	MessageID string `json:"messageId"`
	UserID    UserID `json:"userId"`
}

// Setup carries the identity of a connecting client. Clients send their user
// object, so both `_id` and `userId` are accepted.
type Setup struct {
	ID     string `json:"_id"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

func (s Setup) Identity() (UserID, error) {
	raw := s.ID
	if raw == "" {
		raw = s.UserID
	}
	return NewUserID(raw)
}
