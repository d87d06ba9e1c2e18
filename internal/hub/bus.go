package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultChannel = "canvas:events"

// Envelope carries one encoded frame between instances.
type Envelope struct {
	Room    string          `json:"room"`
	Exclude string          `json:"exclude_conn,omitempty"`
	Frame   json.RawMessage `json:"payload"`
}

// Bus relays room traffic across server instances and keeps a shared
// presence list.
type Bus interface {
	// Publish reports how many subscribers received the envelope.
	Publish(ctx context.Context, env Envelope) (int64, error)
	// Subscribe calls ready once the subscription is live, then blocks
	// handing envelopes to handle until ctx is done.
	Subscribe(ctx context.Context, ready func(), handle func(Envelope)) error
	Track(ctx context.Context, room, connID string, m Member) error
	Untrack(ctx context.Context, room, connID string) error
	Members(ctx context.Context, room string) ([]Member, error)
}

type RedisBus struct {
	client  *redis.Client
	channel string
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, channel: DefaultChannel}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) (int64, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}
	return b.client.Publish(ctx, b.channel, data).Result()
}

func (b *RedisBus) Subscribe(ctx context.Context, ready func(), handle func(Envelope)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	log.Info().Str("channel", b.channel).Msg("relay subscribed")
	ready()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Msg("discarding malformed relay message")
				continue
			}
			handle(env)
		}
	}
}

func presenceKey(room string) string {
	return "presence:" + room
}

// TODO: entries written by an instance that crashed are never removed;
// they need a per-instance heartbeat key to expire against.
func (b *RedisBus) Track(ctx context.Context, room, connID string, m Member) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.client.HSet(ctx, presenceKey(room), connID, data).Err()
}

func (b *RedisBus) Untrack(ctx context.Context, room, connID string) error {
	return b.client.HDel(ctx, presenceKey(room), connID).Err()
}

func (b *RedisBus) Members(ctx context.Context, room string) ([]Member, error) {
	vals, err := b.client.HVals(ctx, presenceKey(room)).Result()
	if err != nil {
		return nil, err
	}

	out := []Member{}
	seen := make(map[uint64]bool, len(vals))
	for _, v := range vals {
		var m Member
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		if seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		out = append(out, m)
	}
	return out, nil
}
