// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

// State is the transport protocol state of a Session
type State int

const (
	StateIdle State = iota
	StateAwaitInitialDLE
	StateAwaitDLEToRequest
	StateAwaitSTXForReaction
	StateAwaitReactionTelegram
	StateAwaitSTXForResponse
	StateAwaitResponseMessage
	StateAwaitDLEBeforeReactionEcho
	StateAwaitDLEAfterReactionEcho

	numStates
)

var stateNames = [numStates]string{
	StateIdle:                       "IDLE",
	StateAwaitInitialDLE:            "AWAIT_INITIAL_DLE",
	StateAwaitDLEToRequest:          "AWAIT_DLE_TO_REQUEST",
	StateAwaitSTXForReaction:        "AWAIT_STX_FOR_REACTION",
	StateAwaitReactionTelegram:      "AWAIT_REACTION_TELEGRAM",
	StateAwaitSTXForResponse:        "AWAIT_STX_FOR_RESPONSE",
	StateAwaitResponseMessage:       "AWAIT_RESPONSE_MESSAGE",
	StateAwaitDLEBeforeReactionEcho: "AWAIT_DLE_BEFORE_REACTION_ECHO",
	StateAwaitDLEAfterReactionEcho:  "AWAIT_DLE_AFTER_REACTION_ECHO",
}

func (s State) String() string {
	if s < 0 || s >= numStates {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// stateHandler consumes one read from the port. A returned error ends the
// exchange.
type stateHandler func(s *Session, data []byte) error

// stateHandlers holds one handler per state. Idle has none: bytes arriving
// outside an exchange are dropped.
var stateHandlers [numStates]stateHandler

func init() {
	stateHandlers = [numStates]stateHandler{
		StateAwaitInitialDLE:            (*Session).onInitialDLE,
		StateAwaitDLEToRequest:          (*Session).onDLEToRequest,
		StateAwaitSTXForReaction:        (*Session).onSTXForReaction,
		StateAwaitReactionTelegram:      (*Session).onReactionTelegram,
		StateAwaitSTXForResponse:        (*Session).onSTXForResponse,
		StateAwaitResponseMessage:       (*Session).onResponseMessage,
		StateAwaitDLEBeforeReactionEcho: (*Session).onDLEBeforeReactionEcho,
		StateAwaitDLEAfterReactionEcho:  (*Session).onDLEAfterReactionEcho,
	}
}
