package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

const fabricChannel = "rooms.events"

// Delivery scopes carried in a fabric envelope.
const (
	scopeRoom   = "room"
	scopeExcept = "except"
	scopeUser   = "user"
)

type fabricEnvelope struct {
	Room    int64           `json:"room"`
	Scope   string          `json:"scope"`
	UserID  int64           `json:"userId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// RedisFabric is a Relay that routes room broadcasts through Redis pub/sub,
// so rooms can be spread across server processes. Every process publishes to
// one channel and delivers incoming envelopes to its local hub; local
// delivery happens only via the subscription, which keeps single- and
// multi-process ordering identical.
type RedisFabric struct {
	rdb *redis.Client
	hub *Hub
}

func NewRedisFabric(rdb *redis.Client, hub *Hub) *RedisFabric {
	return &RedisFabric{rdb: rdb, hub: hub}
}

var _ Relay = (*RedisFabric)(nil)

// Run subscribes to the fabric channel and delivers envelopes to the local
// hub until the context is cancelled.
func (f *RedisFabric) Run(ctx context.Context) error {
	sub := f.rdb.Subscribe(ctx, fabricChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe fabric channel: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env fabricEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("fabric: bad envelope: %v", err)
				continue
			}
			f.deliver(env)
		}
	}
}

func (f *RedisFabric) deliver(env fabricEnvelope) {
	switch env.Scope {
	case scopeRoom:
		f.hub.ToRoom(env.Room, env.Payload)
	case scopeExcept:
		f.hub.ToRoomExcept(env.Room, env.UserID, env.Payload)
	case scopeUser:
		f.hub.ToRoomUser(env.Room, env.UserID, env.Payload)
	default:
		log.Printf("fabric: unknown scope %q", env.Scope)
	}
}

func (f *RedisFabric) publish(roomID int64, scope string, userID int64, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("fabric: marshal payload: %v", err)
		return
	}
	env, err := json.Marshal(fabricEnvelope{
		Room:    roomID,
		Scope:   scope,
		UserID:  userID,
		Payload: raw,
	})
	if err != nil {
		log.Printf("fabric: marshal envelope: %v", err)
		return
	}
	// Best-effort, like any signaling relay: a publish failure degrades to a
	// missed event, never an error surfaced to the sender.
	if err := f.rdb.Publish(context.Background(), fabricChannel, env).Err(); err != nil {
		log.Printf("fabric: publish: %v", err)
	}
}

func (f *RedisFabric) ToRoom(roomID int64, payload any) {
	f.publish(roomID, scopeRoom, 0, payload)
}

func (f *RedisFabric) ToRoomExcept(roomID, exceptUserID int64, payload any) {
	f.publish(roomID, scopeExcept, exceptUserID, payload)
}

func (f *RedisFabric) ToRoomUser(roomID, userID int64, payload any) {
	f.publish(roomID, scopeUser, userID, payload)
}
