package voicegateway

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/diamondburned/arivoice/discord"
)

var (
	// ErrMissingForIdentify is an error when we are missing information to
	// identify.
	ErrMissingForIdentify = errors.New("missing GuildID, UserID, SessionID, or Token for identify")

	// ErrMissingForSelectProtocol is an error when we are missing information
	// to select protocol.
	ErrMissingForSelectProtocol = errors.New("missing address or port for select protocol")
)

// OPCode 0
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-websocket-connection-example-voice-identify-payload
type IdentifyData struct {
	GuildID   discord.GuildID `json:"server_id"` // yes, this should be "server_id"
	UserID    discord.UserID  `json:"user_id"`
	SessionID string          `json:"session_id"`
	Token     string          `json:"token"`
}

// Identify sends an Identify operation (opcode 0) to the Voice Gateway.
func (c *Gateway) Identify(ctx context.Context) error {
	state := c.state

	if !state.GuildID.IsValid() || !state.UserID.IsValid() ||
		state.SessionID == "" || state.Token == "" {

		return ErrMissingForIdentify
	}

	return c.Send(ctx, IdentifyOP, IdentifyData{
		GuildID:   state.GuildID,
		UserID:    state.UserID,
		SessionID: state.SessionID,
		Token:     state.Token,
	})
}

// OPCode 1
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-udp-connection-example-select-protocol-payload
type SelectProtocolData struct {
	Protocol string                `json:"protocol"` // "udp"
	Data     SelectProtocolAddress `json:"data"`
}

// SelectProtocolAddress is the externally visible address found by IP
// discovery along with the chosen encryption mode.
type SelectProtocolAddress struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// SelectProtocol sends a Select Protocol operation (opcode 1) to the Voice
// Gateway.
func (c *Gateway) SelectProtocol(ctx context.Context, addr SelectProtocolAddress) error {
	if addr.Address == "" || addr.Port == 0 {
		return ErrMissingForSelectProtocol
	}

	return c.Send(ctx, SelectProtocolOP, SelectProtocolData{
		Protocol: "udp",
		Data:     addr,
	})
}

// OPCode 3
// https://discord.com/developers/docs/topics/voice-connections#heartbeating-example-heartbeat-payload
// type HeartbeatData uint64

// Heartbeat sends a Heartbeat operation (opcode 3) to the Voice Gateway. The
// payload is the current time in Unix milliseconds.
func (c *Gateway) Heartbeat(ctx context.Context) error {
	return c.Send(ctx, HeartbeatOP, discord.UnixMillis(time.Now()))
}

// OPCode 5
// https://discord.com/developers/docs/topics/voice-connections#speaking
type SpeakingData struct {
	Speaking bool   `json:"speaking"`
	Delay    int    `json:"delay"`
	SSRC     uint32 `json:"ssrc"`
}

// Speaking sends a Speaking operation (opcode 5) to the Voice Gateway. The
// SSRC is the one given by the last Ready event.
func (c *Gateway) Speaking(ctx context.Context, speaking bool) error {
	return c.Send(ctx, SpeakingOP, SpeakingData{
		Speaking: speaking,
		Delay:    0,
		SSRC:     c.ssrc.Load(),
	})
}
