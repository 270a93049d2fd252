package voiceagent

import "github.com/codewandler/voiceagent-go/audio"

// ErrInvalidState is returned for operations not allowed in the current
// state. It is the same value as audio.ErrInvalidState.
var ErrInvalidState = audio.ErrInvalidState

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

type TurnDetection string

const (
	// TurnDetectionServerVAD lets the server decide when the user stopped
	// speaking; the microphone streams continuously.
	TurnDetectionServerVAD TurnDetection = "server_vad"
	// TurnDetectionNone is push to talk: StartTurn and EndTurn delimit a turn.
	TurnDetectionNone TurnDetection = "none"
)

func (t TurnDetection) valid() bool {
	return t == TurnDetectionServerVAD || t == TurnDetectionNone
}
