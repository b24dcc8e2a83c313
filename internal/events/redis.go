package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "agentdeck:"

// RedisBridge mirrors bus traffic over redis pub/sub so a second panel
// process can observe runs it did not start. Frames carry the origin
// instance id; a bridge ignores its own frames to avoid echo loops.
type RedisBridge struct {
	client   *redis.Client
	bus      *Bus
	origin   string
	logf     func(format string, args ...any)
	cancelFn context.CancelFunc
}

type redisFrame struct {
	Origin  string `json:"origin"`
	Channel string `json:"channel"`
	Data    any    `json:"data,omitempty"`
}

func NewRedisBridge(redisURL string, bus *Bus, origin string, logf func(format string, args ...any)) (*RedisBridge, error) {
	url := strings.TrimSpace(redisURL)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	if bus == nil {
		return nil, errors.New("bus is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	b := &RedisBridge{
		client: client,
		bus:    bus,
		origin: strings.TrimSpace(origin),
		logf:   logf,
	}
	bus.Tap(b.mirror)
	return b, nil
}

// mirror runs as a bus tap; it hands the frame off to a goroutine because
// taps execute under the bus lock.
func (b *RedisBridge) mirror(evt Event) {
	frame := redisFrame{Origin: b.origin, Channel: evt.Channel, Data: evt.Data}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := b.client.Publish(ctx, redisChannelPrefix+evt.Channel, data).Err(); err != nil {
			b.logf("redis mirror publish failed: %v", err)
		}
	}()
}

// Run forwards remote frames into the local bus until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) {
	if b == nil || b.client == nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancelFn = cancel

	sub := b.client.PSubscribe(runCtx, redisChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-runCtx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame redisFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				b.logf("redis bridge: dropping malformed frame: %v", err)
				continue
			}
			if frame.Origin != "" && frame.Origin == b.origin {
				continue
			}
			b.bus.PublishRemote(frame.Channel, frame.Data)
		}
	}
}

func (b *RedisBridge) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	if b.cancelFn != nil {
		b.cancelFn()
	}
	return b.client.Close()
}
