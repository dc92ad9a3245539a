package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"syncboard/internal/models"
	"syncboard/internal/redis"
)

// PresenceDirectory is told about membership changes so other processes
// can see who is on which board. Implementations log their own failures.
type PresenceDirectory interface {
	Joined(ctx context.Context, sessionID string, p models.ClientPresence)
	Left(ctx context.Context, sessionID string, p models.ClientPresence)
	Closed(ctx context.Context, sessionID string)
}

type nopPresence struct{}

func (nopPresence) Joined(context.Context, string, models.ClientPresence) {}
func (nopPresence) Left(context.Context, string, models.ClientPresence)   {}
func (nopPresence) Closed(context.Context, string)                        {}

const (
	presenceChannel   = "board:presence"
	presenceKeyPrefix = "board:members:"
	presenceTTL       = 30 * time.Minute
)

const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
	PresenceClosed = "closed"
)

// PresenceEvent is published on the presence channel.
type PresenceEvent struct {
	Kind      string                 `json:"kind"`
	SessionID string                 `json:"session_id"`
	Member    *models.ClientPresence `json:"member,omitempty"`
}

// RedisPresence keeps one set of members per board and publishes every
// change on a shared channel.
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func presenceKey(sessionID string) string {
	return presenceKeyPrefix + sessionID
}

func (r *RedisPresence) Joined(ctx context.Context, sessionID string, p models.ClientPresence) {
	if r == nil || r.client == nil {
		return
	}
	member, err := json.Marshal(p)
	if err != nil {
		log.Printf("presence marshal failed: %v", err)
		return
	}
	if err := r.client.SAdd(ctx, presenceKey(sessionID), presenceTTL, string(member)); err != nil {
		log.Printf("presence add %s failed: %v", sessionID, err)
	}
	r.publish(ctx, PresenceEvent{Kind: PresenceJoined, SessionID: sessionID, Member: &p})
}

func (r *RedisPresence) Left(ctx context.Context, sessionID string, p models.ClientPresence) {
	if r == nil || r.client == nil {
		return
	}
	member, err := json.Marshal(p)
	if err != nil {
		log.Printf("presence marshal failed: %v", err)
		return
	}
	if err := r.client.SRem(ctx, presenceKey(sessionID), string(member)); err != nil {
		log.Printf("presence remove %s failed: %v", sessionID, err)
	}
	r.publish(ctx, PresenceEvent{Kind: PresenceLeft, SessionID: sessionID, Member: &p})
}

func (r *RedisPresence) Closed(ctx context.Context, sessionID string) {
	if r == nil || r.client == nil {
		return
	}
	if err := r.client.Del(ctx, presenceKey(sessionID)); err != nil && err != redis.ErrCacheMiss {
		log.Printf("presence clear %s failed: %v", sessionID, err)
	}
	r.publish(ctx, PresenceEvent{Kind: PresenceClosed, SessionID: sessionID})
}

// Members lists the members recorded for a board, ordered by client id.
func (r *RedisPresence) Members(ctx context.Context, sessionID string) ([]models.ClientPresence, error) {
	if r == nil || r.client == nil {
		return nil, nil
	}
	raw, err := r.client.SMembers(ctx, presenceKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	out := make([]models.ClientPresence, 0, len(raw))
	for _, item := range raw {
		var p models.ClientPresence
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			log.Printf("presence decode failed: %v", err)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// Listen subscribes to the presence channel and calls handler for every
// event until ctx is done.
func (r *RedisPresence) Listen(ctx context.Context, handler func(PresenceEvent)) {
	if r == nil || r.client == nil || handler == nil {
		return
	}
	raw := r.client.Raw()
	if raw == nil {
		return
	}
	pubsub := raw.Subscribe(ctx, presenceChannel)
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev PresenceEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("presence event decode failed: %v", err)
					continue
				}
				handler(ev)
			}
		}
	}()
}

func (r *RedisPresence) publish(ctx context.Context, ev PresenceEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("presence event marshal failed: %v", err)
		return
	}
	if err := r.client.Publish(ctx, presenceChannel, payload); err != nil {
		log.Printf("presence publish failed: %v", err)
	}
}
