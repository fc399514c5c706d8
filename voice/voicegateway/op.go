package voicegateway

import (
	"github.com/pkg/errors"

	"github.com/diamondburned/arivoice/utils/wsutil"
)

// OPCode represents a Discord Voice Gateway operation code.
type OPCode = wsutil.OPCode

const (
	IdentifyOP           OPCode = 0  // send
	SelectProtocolOP     OPCode = 1  // send
	ReadyOP              OPCode = 2  // receive
	HeartbeatOP          OPCode = 3  // send
	SessionDescriptionOP OPCode = 4  // receive
	SpeakingOP           OPCode = 5  // send/receive
	HeartbeatAckOP       OPCode = 6  // receive
	ResumeOP             OPCode = 7  // send
	HelloOP              OPCode = 8  // receive
	ResumedOP            OPCode = 9  // receive
	ClientDisconnectOP   OPCode = 13 // receive
)

// DecodeEvent turns an OP into its event. Unknown OP codes return an
// wsutil.UnknownOPError.
func DecodeEvent(codec wsutil.Codec, op *wsutil.OP) (Event, error) {
	var ev Event

	switch op.Code {
	// Gives information required to make a UDP connection
	case ReadyOP:
		ev = new(ReadyEvent)
	// Gives information about the encryption mode and secret key for sending
	// voice packets
	case SessionDescriptionOP:
		ev = new(SessionDescriptionEvent)
	// Someone started or stopped speaking.
	case SpeakingOP:
		ev = new(SpeakingEvent)
	// Heartbeat response from the server
	case HeartbeatAckOP:
		ev = new(HeartbeatACKEvent)
	// Hello server, we hear you! :)
	case HelloOP:
		ev = new(HelloEvent)
	// Server is saying the connection was resumed, no data here.
	case ResumedOP:
		return new(ResumedEvent), nil
	case ClientDisconnectOP:
		ev = new(ClientDisconnectEvent)
	default:
		return nil, wsutil.UnknownOPError{Code: op.Code, Data: op.Data}
	}

	if !op.HasData() {
		return nil, errors.Errorf("OP %d has no data", op.Code)
	}

	if err := codec.Unmarshal(op.Data, ev); err != nil {
		return nil, errors.Wrapf(err, "failed to decode OP %d", op.Code)
	}

	return ev, nil
}
