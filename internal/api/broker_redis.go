package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"allocplan/internal/logging"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that every replica
// sees plans generated elsewhere.
type RedisBroker struct {
	rdb *redis.Client
	log logging.Logger

	mu   sync.Mutex
	subs map[chan PlanEvent]*redis.PubSub
}

func NewRedisBroker(url string, log logging.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Noop()
	}
	return &RedisBroker{rdb: redis.NewClient(opt), log: log, subs: map[chan PlanEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func (b *RedisBroker) Subscribe(ctx context.Context, tenantID string) (chan PlanEvent, error) {
	ps := b.rdb.Subscribe(ctx, chanName(tenantID))
	// wait for the subscription confirmation so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	ch := make(chan PlanEvent, 16)
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt PlanEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.log.Warn(context.Background(), "dropping malformed plan event", logging.Err(err))
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch, nil
}

// Unsubscribe closes the Redis subscription; the channel closes once its
// reader goroutine drains.
func (b *RedisBroker) Unsubscribe(_ string, ch chan PlanEvent) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(tenantID string, evt PlanEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		b.log.Error(ctx, "marshal plan event", logging.Err(err))
		return
	}
	if err := b.rdb.Publish(ctx, chanName(tenantID), data).Err(); err != nil {
		b.log.Warn(ctx, "publish plan event failed", logging.String("tenant_id", tenantID), logging.Err(err))
	}
}

func chanName(tenantID string) string { return "plans:" + tenantID }
