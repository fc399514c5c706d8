package voicegateway

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/diamondburned/arivoice/discord"
)

// Event is an inbound voice gateway event. The set of events is closed: it is
// exactly the pointer types in this file, so handlers can type-switch over it
// exhaustively.
type Event interface {
	Op() OPCode
	isEvent()
}

// OPCode 2
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-websocket-connection-example-voice-ready-payload
type ReadyEvent struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip,omitempty"`
	Port  int      `json:"port"`
	Modes []string `json:"modes,omitempty"`

	// HeartbeatInterval is only sent by older gateway versions. Newer ones
	// send it in Hello instead, in which case it's zero here.
	HeartbeatInterval discord.Milliseconds `json:"heartbeat_interval,omitempty"`
}

// OPCode 4
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-udp-connection-example-session-description-payload
type SessionDescriptionEvent struct {
	Mode      string   `json:"mode"`
	SecretKey [32]byte `json:"secret_key"`
}

// OPCode 5
type SpeakingEvent struct {
	UserID   discord.UserID `json:"user_id"`
	SSRC     uint32         `json:"ssrc"`
	Speaking Speaking       `json:"speaking"`
}

// OPCode 6
// https://discord.com/developers/docs/topics/voice-connections#heartbeating-example-heartbeat-ack-payload
type HeartbeatACKEvent uint64

// OPCode 8
// https://discord.com/developers/docs/topics/voice-connections#heartbeating-example-hello-payload-since-v3
type HelloEvent struct {
	HeartbeatInterval discord.Milliseconds `json:"heartbeat_interval"`
}

// OPCode 9
// https://discord.com/developers/docs/topics/voice-connections#resuming-voice-connection-example-resumed-payload
type ResumedEvent struct{}

// OPCode 13
// Undocumented, existence mentioned in below issue
// https://github.com/discord/discord-api-docs/issues/510
type ClientDisconnectEvent struct {
	UserID discord.UserID `json:"user_id"`
}

func (*ReadyEvent) Op() OPCode              { return ReadyOP }
func (*SessionDescriptionEvent) Op() OPCode { return SessionDescriptionOP }
func (*SpeakingEvent) Op() OPCode           { return SpeakingOP }
func (*HeartbeatACKEvent) Op() OPCode       { return HeartbeatAckOP }
func (*HelloEvent) Op() OPCode              { return HelloOP }
func (*ResumedEvent) Op() OPCode            { return ResumedOP }
func (*ClientDisconnectEvent) Op() OPCode   { return ClientDisconnectOP }

func (*ReadyEvent) isEvent()              {}
func (*SessionDescriptionEvent) isEvent() {}
func (*SpeakingEvent) isEvent()           {}
func (*HeartbeatACKEvent) isEvent()       {}
func (*HelloEvent) isEvent()              {}
func (*ResumedEvent) isEvent()            {}
func (*ClientDisconnectEvent) isEvent()   {}

// Speaking is the speaking state of a user. Older gateways send it as a
// boolean and newer ones as a bitmask; both decode into it.
type Speaking bool

func (s *Speaking) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)

	switch string(b) {
	case "true":
		*s = true
		return nil
	case "false", "null":
		*s = false
		return nil
	}

	var flags json.Number
	if err := json.Unmarshal(b, &flags); err != nil {
		return err
	}

	n, err := strconv.ParseUint(flags.String(), 10, 64)
	if err != nil {
		return err
	}

	*s = n != 0
	return nil
}
