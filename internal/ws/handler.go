package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"social_backend/internal/domain"
	"social_backend/internal/protocol"
	"social_backend/internal/security"
	"social_backend/internal/service"
)

// TokenCookieName is the cookie carrying the signed session token on the
// websocket handshake. The cookie is the only credential transport honored;
// there is deliberately no header fallback so deployments cannot drift into
// accepting both.
const TokenCookieName = "token"

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// session is the per-connection event handler. Events arrive one at a time
// from the connection's read loop, so per-sender ordering falls out of the
// dispatch being sequential.
type session struct {
	hub    *Hub
	relay  Relay
	calls  *CallRegistry
	msgSvc *service.MessageService
	client *Client
}

// MakeHandler returns the HTTP handler for the /ws endpoint. The handshake
// is authenticated before the upgrade: a missing, malformed, expired, or
// badly signed token cookie refuses the connection with 401 and no event is
// ever read from it. After the upgrade the handler dispatches events:
//   - join-conversation -> verify participant, register room membership
//   - message-send      -> persist, then broadcast message-receive to room
//   - call-*            -> call state machine transition + scoped relay
func MakeHandler(
	hub *Hub,
	relay Relay,
	calls *CallRegistry,
	tokens *security.TokenService,
	users domain.UserRepository,
	msgSvc *service.MessageService,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		cookie, err := r.Cookie(TokenCookieName)
		if err != nil || cookie.Value == "" {
			http.Error(w, "authentication error", http.StatusUnauthorized)
			return
		}
		username, err := tokens.Parse(cookie.Value)
		if err != nil {
			http.Error(w, "authentication error", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := users.GetByUsername(ctx, username)
		if err != nil || user == nil || !user.IsActive {
			http.Error(w, "authentication error", http.StatusUnauthorized)
			return
		}

		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer wsConn.Close()

		if err := users.SetOnlineStatus(ctx, user.ID, true); err != nil {
			log.Printf("ws: set online for %d: %v", user.ID, err)
		}

		client := hub.Register(user.ID, user.Username, wsConn)
		s := &session{
			hub:    hub,
			relay:  relay,
			calls:  calls,
			msgSvc: msgSvc,
			client: client,
		}
		defer func() {
			s.teardown()
			if err := users.SetOnlineStatus(context.Background(), user.ID, false); err != nil {
				log.Printf("ws: set offline for %d: %v", user.ID, err)
			}
			hub.BroadcastAll(protocol.Presence{
				Event:    protocol.EventUserOffline,
				UserID:   user.ID,
				Username: user.Username,
			})
		}()
		hub.BroadcastAll(protocol.Presence{
			Event:    protocol.EventUserOnline,
			UserID:   user.ID,
			Username: user.Username,
		})

		for {
			var ev protocol.ClientEvent
			if err := wsConn.ReadJSON(&ev); err != nil {
				break
			}
			s.dispatch(ctx, ev)
		}
	}
}

// teardown runs the implicit-leave path: the client drops out of every room,
// and any live call attempt it was party to ends with a synthetic call-end so
// peers do not ring or talk into a vanished connection.
func (s *session) teardown() {
	roomIDs := s.hub.Unregister(s.client)
	for _, roomID := range roomIDs {
		for _, att := range s.calls.EndAllFor(roomID, s.client.UserID) {
			s.relay.ToRoom(roomID, protocol.CallEvent{
				Event:          protocol.EventCallEnd,
				ConversationID: roomID,
				CallID:         att.ID,
				FromUserID:     s.client.UserID,
				FromUsername:   s.client.Username,
			})
		}
		if !s.hub.RoomOccupied(roomID) {
			s.calls.DropRoom(roomID)
		}
	}
}

func (s *session) dispatch(ctx context.Context, ev protocol.ClientEvent) {
	switch ev.Event {
	case protocol.EventJoinConversation:
		s.handleJoin(ctx, ev)
	case protocol.EventMessageSend:
		s.handleMessageSend(ctx, ev)
	case protocol.EventCallRinging:
		s.handleCallRinging(ev)
	case protocol.EventCallAccepted:
		s.handleCallAccepted(ev)
	case protocol.EventCallInitiate:
		s.handleCallInitiate(ev)
	case protocol.EventCallAnswer:
		s.handleCallAnswer(ev)
	case protocol.EventCallReject:
		s.handleCallReject(ev)
	case protocol.EventCallCandidate:
		s.handleCallCandidate(ev)
	case protocol.EventCallEnd:
		s.handleCallEnd(ev)
	default:
		log.Printf("ws: unknown event %q from user %d", ev.Event, s.client.UserID)
		s.sendError("unknown event")
	}
}

func (s *session) handleJoin(ctx context.Context, ev protocol.ClientEvent) {
	if ev.ConversationID == 0 {
		s.sendError("join-conversation requires conversationId")
		return
	}
	// Membership is never client-asserted: the bound identity must actually
	// participate in the conversation before the room admits it.
	isParticipant, err := s.msgSvc.IsParticipant(ctx, ev.ConversationID, s.client.UserID)
	if err != nil {
		log.Printf("ws: join check: %v", err)
		s.sendError("failed to join conversation")
		return
	}
	if !isParticipant {
		s.sendError("not a participant of this conversation")
		return
	}
	s.hub.Join(s.client, ev.ConversationID)
}

func (s *session) handleMessageSend(ctx context.Context, ev protocol.ClientEvent) {
	if ev.ConversationID == 0 {
		s.sendError("message-send requires conversationId")
		return
	}
	// The pipeline persists and broadcasts; the sender identity comes from
	// the connection, not the payload.
	if _, err := s.msgSvc.SendMessage(ctx, s.client.UserID, ev.ConversationID, ev.Content, ev.Kind); err != nil {
		switch {
		case errors.Is(err, domain.ErrForbidden):
			s.sendError("not a participant of this conversation")
		case errors.Is(err, domain.ErrNotFound):
			s.sendError("conversation not found")
		case errors.Is(err, domain.ErrInvalidInput):
			s.sendError(err.Error())
		default:
			log.Printf("ws: send message: %v", err)
			s.sendError("failed to send message")
		}
	}
}

// inRoom gates every signaling event: the sender must have joined the room
// it is signaling into.
func (s *session) inRoom(conversationID int64) bool {
	if conversationID == 0 || !s.hub.InRoom(s.client, conversationID) {
		s.sendError("not joined to this conversation")
		return false
	}
	return true
}

func (s *session) handleCallRinging(ev protocol.ClientEvent) {
	if !s.inRoom(ev.ConversationID) {
		return
	}
	att := s.calls.Start(ev.ConversationID, s.client.UserID, ev.IsVideo)
	s.relay.ToRoomExcept(ev.ConversationID, s.client.UserID, protocol.CallEvent{
		Event:          protocol.EventCallRinging,
		ConversationID: att.ConversationID,
		CallID:         att.ID,
		FromUserID:     s.client.UserID,
		FromUsername:   s.client.Username,
		IsVideo:        att.IsVideo,
	})
}

func (s *session) handleCallAccepted(ev protocol.ClientEvent) {
	if !s.inRoom(ev.ConversationID) {
		return
	}
	att, err := s.calls.Accept(ev.CallID, s.client.UserID)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	// Only the initiator acts on the acceptance: it now captures media and
	// constructs the offer.
	s.relay.ToRoomUser(att.ConversationID, att.InitiatorID, protocol.CallEvent{
		Event:          protocol.EventCallAccepted,
		ConversationID: att.ConversationID,
		CallID:         att.ID,
		FromUserID:     s.client.UserID,
		FromUsername:   s.client.Username,
		ToUserID:       att.InitiatorID,
		IsVideo:        att.IsVideo,
	})
}

func (s *session) handleCallInitiate(ev protocol.ClientEvent) {
	if !s.inRoom(ev.ConversationID) {
		return
	}
	att, err := s.calls.OfferSent(ev.CallID, s.client.UserID)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	s.relay.ToRoomUser(att.ConversationID, att.TargetID, protocol.CallEvent{
		Event:          protocol.EventCallIncoming,
		ConversationID: att.ConversationID,
		CallID:         att.ID,
		FromUserID:     s.client.UserID,
		FromUsername:   s.client.Username,
		ToUserID:       att.TargetID,
		IsVideo:        att.IsVideo,
		Offer:          ev.Offer,
	})
}

func (s *session) handleCallAnswer(ev protocol.ClientEvent) {
	if !s.inRoom(ev.ConversationID) {
		return
	}
	att, err := s.calls.Answered(ev.CallID, s.client.UserID)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	s.relay.ToRoomUser(att.ConversationID, att.InitiatorID, protocol.CallEvent{
		Event:          protocol.EventCallAnswered,
		ConversationID: att.ConversationID,
		CallID:         att.ID,
		FromUserID:     s.client.UserID,
		FromUsername:   s.client.Username,
		ToUserID:       att.InitiatorID,
		Answer:         ev.Answer,
	})
}

func (s *session) handleCallReject(ev protocol.ClientEvent) {
	if !s.inRoom(ev.ConversationID) {
		return
	}
	att, err := s.calls.Reject(ev.CallID, s.client.UserID)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	s.relay.ToRoomUser(att.ConversationID, att.InitiatorID, protocol.CallEvent{
		Event:          protocol.EventCallRejected,
		ConversationID: att.ConversationID,
		CallID:         att.ID,
		FromUserID:     s.client.UserID,
		FromUsername:   s.client.Username,
		ToUserID:       att.InitiatorID,
	})
}

func (s *session) handleCallCandidate(ev protocol.ClientEvent) {
	if !s.inRoom(ev.ConversationID) {
		return
	}
	att, err := s.calls.Get(ev.CallID)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	// Candidates never change call state. Before accept the counterpart is
	// not fixed yet, so the candidate goes to the whole room minus the
	// sender; afterwards it goes to the peer only.
	out := protocol.CallEvent{
		Event:          protocol.EventCallCandidate,
		ConversationID: att.ConversationID,
		CallID:         att.ID,
		FromUserID:     s.client.UserID,
		FromUsername:   s.client.Username,
		Candidate:      ev.Candidate,
	}
	switch {
	case att.TargetID == 0:
		s.relay.ToRoomExcept(att.ConversationID, s.client.UserID, out)
	case s.client.UserID == att.InitiatorID:
		out.ToUserID = att.TargetID
		s.relay.ToRoomUser(att.ConversationID, att.TargetID, out)
	case s.client.UserID == att.TargetID:
		out.ToUserID = att.InitiatorID
		s.relay.ToRoomUser(att.ConversationID, att.InitiatorID, out)
	default:
		s.sendError("not a party to this call")
	}
}

func (s *session) handleCallEnd(ev protocol.ClientEvent) {
	if !s.inRoom(ev.ConversationID) {
		return
	}
	att, err := s.calls.End(ev.CallID)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	// The whole room hears the end so every participant tears down call UI.
	s.relay.ToRoom(att.ConversationID, protocol.CallEvent{
		Event:          protocol.EventCallEnd,
		ConversationID: att.ConversationID,
		CallID:         att.ID,
		FromUserID:     s.client.UserID,
		FromUsername:   s.client.Username,
	})
}

// sendError reports a failure to the originating connection only; failures
// are never broadcast.
func (s *session) sendError(msg string) {
	_ = s.client.Send(protocol.ErrorEvent{
		Event:   protocol.EventError,
		Message: msg,
	})
}
