package voice

import (
	"github.com/diamondburned/arivoice/discord"
)

// Event is an event dispatched to Session.Handler. It is one of the pointer
// types in this file.
type Event interface {
	isVoiceEvent()
}

// SpeakingEvent is dispatched when the voice server says that a user started
// or stopped speaking. It does not change our own speaking state.
type SpeakingEvent struct {
	GuildID  discord.GuildID
	UserID   discord.UserID
	SSRC     uint32
	Speaking bool
}

// DisconnectedEvent is dispatched once when a session starts disconnecting,
// before anything is torn down.
type DisconnectedEvent struct {
	GuildID discord.GuildID
	Reason  Reason
}

// SignalingClosedEvent is dispatched when the voice websocket is closed by
// either side. It's informational; the session state is left as is.
type SignalingClosedEvent struct {
	GuildID discord.GuildID
	Code    int
	Reason  string
}

// StateChangedEvent is dispatched on every lifecycle transition.
type StateChangedEvent struct {
	GuildID discord.GuildID
	From    State
	To      State
}

func (*SpeakingEvent) isVoiceEvent()        {}
func (*DisconnectedEvent) isVoiceEvent()    {}
func (*SignalingClosedEvent) isVoiceEvent() {}
func (*StateChangedEvent) isVoiceEvent()    {}
