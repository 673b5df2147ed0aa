// Package transport delivers keyspace notifications from Redis and manages
// the live channel subscriptions.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/commensal-automator/internal/channel"
	"github.com/signalsfoundry/commensal-automator/internal/logging"
)

// ErrClosed is reported once the notification stream has ended.
var ErrClosed = errors.New("transport closed")

// keyspaceEvents enables keyspace notifications for hash commands.
const keyspaceEvents = "Kh"

// Options configures a Redis connection.
type Options struct {
	Addr                   string
	DB                     int
	Password               string
	ConfigureNotifications bool
	Buffer                 int
}

// Redis is a pub/sub subscription over a single Redis connection. A read
// error ends the stream: the connection is not transparently re-established,
// because notifications missed while disconnected would leave local state
// silently stale.
type Redis struct {
	client *redis.Client
	ps     *redis.PubSub
	log    logging.Logger
	out    chan channel.Notification

	startOnce sync.Once
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Dial connects to Redis, verifies the connection and optionally enables
// keyspace notifications.
func Dial(ctx context.Context, opts Options, log logging.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		DB:       opts.DB,
		Password: opts.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if opts.ConfigureNotifications {
		if err := client.ConfigSet(ctx, "notify-keyspace-events", keyspaceEvents).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("enable keyspace notifications: %w", err)
		}
	}
	return New(client, opts.Buffer, log), nil
}

// New wraps an existing client. The transport owns client from here on and
// closes it in Close.
func New(client *redis.Client, buffer int, log logging.Logger) *Redis {
	if buffer <= 0 {
		buffer = 64
	}
	return &Redis{
		client: client,
		ps:     client.Subscribe(context.Background()),
		log:    logging.Component(log, "transport"),
		out:    make(chan channel.Notification, buffer),
	}
}

// Client exposes the underlying client for command traffic that shares the
// connection pool.
func (r *Redis) Client() *redis.Client { return r.client }

// Subscribe adds channels to the live subscription.
func (r *Redis) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	if err := r.ps.Subscribe(ctx, channels...); err != nil {
		return fmt.Errorf("subscribe %v: %w", channels, err)
	}
	return nil
}

// Unsubscribe removes channels from the live subscription.
func (r *Redis) Unsubscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	if err := r.ps.Unsubscribe(ctx, channels...); err != nil {
		return fmt.Errorf("unsubscribe %v: %w", channels, err)
	}
	return nil
}

// Notifications starts the receive pump on first use and returns the stream.
// The channel is closed when ctx ends, Close is called, or the connection
// fails; Err reports why.
func (r *Redis) Notifications(ctx context.Context) <-chan channel.Notification {
	r.startOnce.Do(func() {
		go r.pump(ctx)
	})
	return r.out
}

func (r *Redis) pump(ctx context.Context) {
	defer close(r.out)
	for {
		msg, err := r.ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.setErr(ctx.Err())
				return
			}
			r.log.Error(ctx, "notification stream failed", logging.Err(err))
			r.setErr(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		m, ok := msg.(*redis.Message)
		if !ok {
			// Subscription confirmations and pongs.
			continue
		}
		select {
		case r.out <- channel.Notification{Channel: m.Channel, Event: m.Payload}:
		case <-ctx.Done():
			r.setErr(ctx.Err())
			return
		}
	}
}

func (r *Redis) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Err returns the reason the stream ended, or nil while it is running.
func (r *Redis) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close ends the subscription and the client connection.
func (r *Redis) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.setErr(ErrClosed)
		err = errors.Join(r.ps.Close(), r.client.Close())
	})
	return err
}
