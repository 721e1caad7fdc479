package ws

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// CallState is the lifecycle position of one call attempt. Terminal states
// are never stored; reaching one removes the attempt from the registry.
type CallState int

const (
	CallRinging CallState = iota
	CallAccepted
	CallOfferSent
	CallAnswered
)

func (s CallState) String() string {
	switch s {
	case CallRinging:
		return "ringing"
	case CallAccepted:
		return "accepted"
	case CallOfferSent:
		return "offer-sent"
	case CallAnswered:
		return "answered"
	}
	return "unknown"
}

// CallAttempt is the transient state of one signaling session. TargetID is
// zero while ringing in a group room (any other member may accept) and is
// fixed by the accepting party.
type CallAttempt struct {
	ID             string
	ConversationID int64
	InitiatorID    int64
	TargetID       int64
	IsVideo        bool
	State          CallState
}

// CallRegistry tracks live call attempts, keyed by the server-assigned call
// id generated at ringing. It holds no durable state: attempts vanish on any
// terminal transition, on the initiator's or target's disconnect, and when
// their room empties. All signaling relay decisions defer to it so
// concurrent attempts in one room stay distinguishable.
type CallRegistry struct {
	mu       sync.Mutex
	attempts map[string]*CallAttempt
	byRoom   map[int64]map[string]struct{}
}

func NewCallRegistry() *CallRegistry {
	return &CallRegistry{
		attempts: make(map[string]*CallAttempt),
		byRoom:   make(map[int64]map[string]struct{}),
	}
}

// Start creates a ringing attempt and returns it with a fresh call id.
func (r *CallRegistry) Start(conversationID, initiatorID int64, isVideo bool) *CallAttempt {
	att := &CallAttempt{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		InitiatorID:    initiatorID,
		IsVideo:        isVideo,
		State:          CallRinging,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[att.ID] = att
	if r.byRoom[conversationID] == nil {
		r.byRoom[conversationID] = make(map[string]struct{})
	}
	r.byRoom[conversationID][att.ID] = struct{}{}
	return att
}

func (r *CallRegistry) get(callID string) (*CallAttempt, error) {
	att, ok := r.attempts[callID]
	if !ok {
		return nil, fmt.Errorf("no live call %s", callID)
	}
	return att, nil
}

// Get returns a copy of the live attempt, for relay decisions that do not
// change state (ICE candidates).
func (r *CallRegistry) Get(callID string) (CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, err := r.get(callID)
	if err != nil {
		return CallAttempt{}, err
	}
	return *att, nil
}

// Accept moves a ringing attempt to accepted and fixes the accepting user as
// the call target. The initiator cannot accept its own call.
func (r *CallRegistry) Accept(callID string, userID int64) (CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, err := r.get(callID)
	if err != nil {
		return CallAttempt{}, err
	}
	if att.State != CallRinging {
		return CallAttempt{}, fmt.Errorf("call %s cannot be accepted while %s", callID, att.State)
	}
	if userID == att.InitiatorID {
		return CallAttempt{}, fmt.Errorf("initiator cannot accept own call")
	}
	att.State = CallAccepted
	att.TargetID = userID
	return *att, nil
}

// Reject terminates a ringing attempt. Like Accept, only a callee may do it.
func (r *CallRegistry) Reject(callID string, userID int64) (CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, err := r.get(callID)
	if err != nil {
		return CallAttempt{}, err
	}
	if att.State != CallRinging {
		return CallAttempt{}, fmt.Errorf("call %s cannot be rejected while %s", callID, att.State)
	}
	if userID == att.InitiatorID {
		return CallAttempt{}, fmt.Errorf("initiator cannot reject own call")
	}
	r.remove(att)
	return *att, nil
}

// OfferSent records that the initiator relayed its connection offer. The
// offer is only constructed after the callee accepted, so the transition is
// guarded on the accepted state and on the caller being the initiator.
func (r *CallRegistry) OfferSent(callID string, userID int64) (CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, err := r.get(callID)
	if err != nil {
		return CallAttempt{}, err
	}
	if att.State != CallAccepted {
		return CallAttempt{}, fmt.Errorf("call %s cannot carry an offer while %s", callID, att.State)
	}
	if userID != att.InitiatorID {
		return CallAttempt{}, fmt.Errorf("only the initiator sends the offer")
	}
	att.State = CallOfferSent
	return *att, nil
}

// Answered records the callee's connection answer.
func (r *CallRegistry) Answered(callID string, userID int64) (CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, err := r.get(callID)
	if err != nil {
		return CallAttempt{}, err
	}
	if att.State != CallOfferSent {
		return CallAttempt{}, fmt.Errorf("call %s cannot be answered while %s", callID, att.State)
	}
	if userID != att.TargetID {
		return CallAttempt{}, fmt.Errorf("only the callee sends the answer")
	}
	att.State = CallAnswered
	return *att, nil
}

// End terminates an attempt from any live state. A ringing attempt ended by
// its initiator is a cancel; the distinction matters only to clients.
func (r *CallRegistry) End(callID string) (CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, err := r.get(callID)
	if err != nil {
		return CallAttempt{}, err
	}
	r.remove(att)
	return *att, nil
}

// EndAllFor terminates every attempt in the room the user is party to, and
// returns them. Used when a connection drops so peers receive a synthetic
// call-end instead of ringing forever.
func (r *CallRegistry) EndAllFor(roomID, userID int64) []CallAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ended []CallAttempt
	for callID := range r.byRoom[roomID] {
		att := r.attempts[callID]
		if att == nil {
			continue
		}
		if att.InitiatorID != userID && att.TargetID != userID {
			continue
		}
		r.remove(att)
		ended = append(ended, *att)
	}
	return ended
}

// DropRoom discards every attempt scoped to a now-empty room.
func (r *CallRegistry) DropRoom(roomID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for callID := range r.byRoom[roomID] {
		if att := r.attempts[callID]; att != nil {
			delete(r.attempts, callID)
		}
	}
	delete(r.byRoom, roomID)
}

// remove expects r.mu held.
func (r *CallRegistry) remove(att *CallAttempt) {
	delete(r.attempts, att.ID)
	if ids, ok := r.byRoom[att.ConversationID]; ok {
		delete(ids, att.ID)
		if len(ids) == 0 {
			delete(r.byRoom, att.ConversationID)
		}
	}
}
