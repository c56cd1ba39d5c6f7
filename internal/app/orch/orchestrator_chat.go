package orch

import (
	"fmt"
	"strings"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

func decodeChatID(data json.RawMessage) (domain.ChatID, error) {
	id, _, err := decodeChatIDRaw(data)
	return id, err
}

// decodeChatIDRaw also returns the string as received; the trimmed id only
// selects the room.
func decodeChatIDRaw(data json.RawMessage) (domain.ChatID, string, error) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", "", fmt.Errorf("%w: chat id must be a string", domain.ErrMalformedPayload)
	}
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", "", fmt.Errorf("%w: empty chat id", domain.ErrMalformedPayload)
	}
	return domain.ChatID(id), raw, nil
}

func (o *Orchestrator) handleJoinChat(p *Peer, data json.RawMessage) error {
	chatID, err := decodeChatID(data)
	if err != nil {
		return err
	}
	o.Router.Join(p.ID, domain.ChatRoom(chatID))
	log.Info().Str("module", "orch").Str("sid", string(p.ID)).Str("room", string(chatID)).Msg("joined chat")
	return nil
}

// handleNewMessage targets user rooms, not the chat room, so members that
// have not opened the conversation still get it on every tab.
func (o *Orchestrator) handleNewMessage(p *Peer, data json.RawMessage) error {
	var msg domain.NewMessage
	if err := o.decode(data, &msg); err != nil {
		return err
	}
	recipients := lo.Without(msg.Chat.MemberIDs(), msg.Sender.ID)
	var total core.PublishResult
	for _, uid := range recipients {
		room := domain.UserRoom(uid)
		res := o.Router.EmitExcept(room, core.EventMessageReceived, data, p.ID)
		o.applyPolicy(room, res)
		total.Merge(res)
	}
	log.Debug().Str("module", "orch").Str("sid", string(p.ID)).Str("chat", string(msg.Chat.ID)).
		Int("recipients", len(recipients)).Int("delivered", total.SentTo).Int("dropped", len(total.Dropped)).
		Msg("message relayed")
	return nil
}

func (o *Orchestrator) handleTyping(p *Peer, data json.RawMessage) error {
	return o.relayTyping(p, core.EventTyping, data)
}

func (o *Orchestrator) handleStopTyping(p *Peer, data json.RawMessage) error {
	return o.relayTyping(p, core.EventStopTyping, data)
}

// relayTyping reaches only connections that joined the chat room.
func (o *Orchestrator) relayTyping(p *Peer, event string, data json.RawMessage) error {
	chatID, raw, err := decodeChatIDRaw(data)
	if err != nil {
		return err
	}
	room := domain.ChatRoom(chatID)
	o.applyPolicy(room, o.Router.EmitExcept(room, event, raw, p.ID))
	return nil
}

func (o *Orchestrator) handleMessageRead(p *Peer, data json.RawMessage) error {
	var read domain.MessageRead
	if err := o.decode(data, &read); err != nil {
		return err
	}
	room := domain.ChatRoom(read.ChatID)
	receipt := domain.ReadReceipt{MessageID: read.MessageID, UserID: read.UserID}
	o.applyPolicy(room, o.Router.EmitExcept(room, core.EventMessageRead, receipt, p.ID))
	return nil
}

// handleChatUpdated goes through user rooms since members may not have
// joined the chat room.
func (o *Orchestrator) handleChatUpdated(p *Peer, data json.RawMessage) error {
	var chat domain.ChatRef
	if err := o.decode(data, &chat); err != nil {
		return err
	}
	var total core.PublishResult
	for _, uid := range chat.MemberIDs() {
		room := domain.UserRoom(uid)
		res := o.Router.EmitExcept(room, core.EventChatUpdated, data, p.ID)
		o.applyPolicy(room, res)
		total.Merge(res)
	}
	log.Debug().Str("module", "orch").Str("sid", string(p.ID)).Str("chat", string(chat.ID)).
		Int("delivered", total.SentTo).Msg("chat update relayed")
	return nil
}

// handleChatDeleted accepts a bare chat id, broadcast to everyone as legacy
// clients expect, or a chat object whose members are notified individually.
func (o *Orchestrator) handleChatDeleted(p *Peer, data json.RawMessage) error {
	if chatID, raw, err := decodeChatIDRaw(data); err == nil {
		o.applyPolicy("", o.Router.Broadcast(core.EventChatDeleted, raw))
		log.Info().Str("module", "orch").Str("sid", string(p.ID)).Str("chat", string(chatID)).Msg("chat deletion broadcast")
		return nil
	}

	var chat struct {
		ID    domain.ChatID       `json:"_id" validate:"required"`
		Users []domain.ChatMember `json:"users" validate:"omitempty,dive"`
	}
	if err := o.decode(data, &chat); err != nil {
		return err
	}
	if o.ChatDeletedScope == ChatDeletedGlobal || len(chat.Users) == 0 {
		o.applyPolicy("", o.Router.Broadcast(core.EventChatDeleted, chat.ID))
		log.Info().Str("module", "orch").Str("sid", string(p.ID)).Str("chat", string(chat.ID)).Msg("chat deletion broadcast")
		return nil
	}
	members := domain.ChatRef{ID: chat.ID, Users: chat.Users}.MemberIDs()
	for _, uid := range members {
		room := domain.UserRoom(uid)
		o.applyPolicy(room, o.Router.Emit(room, core.EventChatDeleted, chat.ID))
	}
	log.Info().Str("module", "orch").Str("sid", string(p.ID)).Str("chat", string(chat.ID)).
		Int("members", len(members)).Msg("chat deletion sent to members")
	return nil
}
