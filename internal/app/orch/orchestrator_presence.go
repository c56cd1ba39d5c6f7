package orch

import (
	"fmt"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) handleSetup(p *Peer, data json.RawMessage) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: empty payload", domain.ErrMalformedSetup)
	}
	var s domain.Setup
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedSetup, err)
	}
	uid, err := s.Identity()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedSetup, err)
	}
	if p.State == Registered && p.UserID != uid {
		return fmt.Errorf("%w: connection already set up as %q", domain.ErrProtocol, p.UserID)
	}

	_, res := o.Presence.Connected(uid, p.ID, p.Device)
	o.applyPolicy("", res)
	p.UserID = uid
	p.State = Registered
	log.Info().Str("module", "orch").Str("sid", string(p.ID)).Str("user", string(uid)).Str("name", s.Name).
		Msg("user connected and joined own room")
	return nil
}
