// ABOUTME: Fan-out bus adapter: publishes envelopes and runs the per-process listener
// ABOUTME: Routes chat, user, and global channels to locally held connections

package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/bus"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/envelope"
	"github.com/2389/coven-chat/internal/registry"
	"github.com/2389/coven-chat/internal/topic"
)

// Options tunes the adapter. Zero values take defaults.
type Options struct {
	EchoPolicy     EchoPolicy
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	DedupeTTL      time.Duration
	DedupeSize     int
	SendTimeout    time.Duration
	HealthInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.EchoPolicy == "" {
		o.EchoPolicy = EchoExcludeSender
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = 100 * time.Millisecond
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = max(30*time.Second, o.ReconnectMin)
	}
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = 5 * time.Minute
	}
	if o.DedupeSize <= 0 {
		o.DedupeSize = 10000
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 15 * time.Second
	}
	return o
}

// FailureHandler is called, on its own goroutine, when a send to c fails.
type FailureHandler func(c registry.Conn, err error)

// Adapter publishes to the bus and delivers bus traffic to local connections.
type Adapter struct {
	bus    bus.Bus
	reg    *registry.Registry
	seen   *dedupe.Cache
	opts   Options
	logger *slog.Logger

	healthy   atomic.Bool
	delivered atomic.Uint64
	dropped   atomic.Uint64

	mu        sync.RWMutex
	onFailure FailureHandler
}

// New creates an adapter over b delivering to connections in reg.
func New(b bus.Bus, reg *registry.Registry, opts Options, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Adapter{
		bus:    b,
		reg:    reg,
		seen:   dedupe.New(opts.DedupeTTL, opts.DedupeSize),
		opts:   opts,
		logger: logger.With("component", "fanout"),
	}
}

// OnSendFailure installs the handler invoked when a connection cannot be
// written to.
func (a *Adapter) OnSendFailure(fn FailureHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onFailure = fn
}

// EchoPolicy returns the active echo policy.
func (a *Adapter) EchoPolicy() EchoPolicy {
	return a.opts.EchoPolicy
}

// Healthy reports whether the listener currently holds a live subscription.
func (a *Adapter) Healthy() bool {
	return a.healthy.Load()
}

// Stats returns the number of frames delivered and bus messages dropped.
func (a *Adapter) Stats() (delivered, dropped uint64) {
	return a.delivered.Load(), a.dropped.Load()
}

// Publish sends env to every connection watching t, on every process. A
// non-nil sender tags the envelope for echo suppression.
func (a *Adapter) Publish(ctx context.Context, t topic.Topic, env envelope.Envelope, sender registry.Conn) error {
	if sender != nil {
		env = env.WithSender(sender.UserID(), sender.ID())
	}
	return a.publish(ctx, ChatChannel(t), env)
}

// PublishToUser sends env to the user's handle on whichever process holds it.
func (a *Adapter) PublishToUser(ctx context.Context, userID int64, env envelope.Envelope) error {
	return a.publish(ctx, UserChannel(userID), env)
}

// PublishGlobal sends env to every live connection on every process.
func (a *Adapter) PublishGlobal(ctx context.Context, env envelope.Envelope) error {
	return a.publish(ctx, GlobalChannel, env)
}

func (a *Adapter) publish(ctx context.Context, channel string, env envelope.Envelope) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	payload, err := envelope.Encode(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if err := a.bus.Publish(ctx, channel, payload); err != nil {
		a.logger.Error("bus publish failed, real-time delivery degraded",
			"channel", channel,
			"error", err,
		)
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// Echo sends env straight to c without a bus round-trip. It is how a sender
// sees their own action even when the bus is down.
func (a *Adapter) Echo(ctx context.Context, c registry.Conn, env envelope.Envelope) error {
	frame, err := env.ClientFrame()
	if err != nil {
		return fmt.Errorf("encoding echo: %w", err)
	}
	if !a.send(ctx, c, frame) {
		return fmt.Errorf("echo to %s failed", c.ID())
	}
	return nil
}

// Run is the process's bus listener. It blocks until ctx is cancelled,
// resubscribing with backoff whenever the bus is lost.
func (a *Adapter) Run(ctx context.Context) error {
	defer a.seen.Close()
	defer a.healthy.Store(false)

	backoff := a.opts.ReconnectMin
	for {
		if ctx.Err() != nil {
			return nil
		}

		sub, err := a.bus.Subscribe(ctx, Patterns...)
		if err != nil {
			a.healthy.Store(false)
			if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			wait := jitter(backoff)
			a.logger.Error("bus subscribe failed, real-time delivery halted",
				"error", err,
				"retry_in", wait,
			)
			if !sleep(ctx, wait) {
				return nil
			}
			backoff = min(backoff*2, a.opts.ReconnectMax)
			continue
		}

		a.healthy.Store(true)
		backoff = a.opts.ReconnectMin
		a.logger.Info("bus listener subscribed", "patterns", Patterns)

		lost := a.consume(ctx, sub)
		_ = sub.Close()
		if !lost {
			return nil
		}
		a.healthy.Store(false)
		a.logger.Error("bus subscription lost, reconnecting")
	}
}

// consume drains sub until ctx ends (false) or the subscription closes (true).
func (a *Adapter) consume(ctx context.Context, sub bus.Subscription) bool {
	ticker := time.NewTicker(a.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-sub.Messages():
			if !ok {
				return true
			}
			a.Dispatch(ctx, msg)
		case <-ticker.C:
			a.checkHealth(ctx)
		}
	}
}

func (a *Adapter) checkHealth(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, a.opts.HealthInterval/2)
	defer cancel()

	err := a.bus.Ping(pingCtx)
	was := a.healthy.Swap(err == nil)
	switch {
	case err != nil && was:
		a.logger.Error("bus ping failed", "error", err)
	case err == nil && !was:
		a.logger.Info("bus reachable again")
	}
}

// Dispatch delivers one bus message to the matching local connections.
// Malformed payloads and duplicates are dropped.
func (a *Adapter) Dispatch(ctx context.Context, msg bus.Message) {
	defer func() {
		if r := recover(); r != nil {
			a.dropped.Add(1)
			a.logger.Error("dispatch panicked", "channel", msg.Channel, "panic", r)
		}
	}()

	env, err := envelope.Decode(msg.Payload)
	if err != nil {
		a.dropped.Add(1)
		a.logger.Warn("dropping malformed bus message", "channel", msg.Channel, "error", err)
		return
	}
	if env.ID != "" && a.seen.Seen(env.ID) {
		a.dropped.Add(1)
		a.logger.Debug("dropping duplicate envelope", "channel", msg.Channel, "envelope_id", env.ID)
		return
	}

	frame, err := env.ClientFrame()
	if err != nil {
		a.dropped.Add(1)
		a.logger.Warn("dropping undeliverable envelope", "channel", msg.Channel, "error", err)
		return
	}

	ns, t, userID := route(msg.Channel)
	switch ns {
	case nsUser:
		if c, ok := a.reg.Lookup(userID); ok {
			a.send(ctx, c, frame)
		}
	case nsChat:
		for _, c := range a.reg.Local() {
			if a.opts.EchoPolicy.suppressed(env, c) {
				continue
			}
			a.deliverToSubscriber(ctx, c, t, frame)
		}
	case nsGlobal:
		for _, c := range a.reg.Local() {
			if a.opts.EchoPolicy.suppressed(env, c) {
				continue
			}
			a.send(ctx, c, frame)
		}
	default:
		a.dropped.Add(1)
		a.logger.Warn("dropping message on unknown channel", "channel", msg.Channel)
	}
}

func (a *Adapter) deliverToSubscriber(ctx context.Context, c registry.Conn, t topic.Topic, frame []byte) {
	sendCtx, cancel := context.WithTimeout(ctx, a.opts.SendTimeout)
	defer cancel()

	delivered, err := a.reg.DeliverIfSubscribed(sendCtx, c, t, frame)
	if err != nil {
		a.sendFailed(c, err)
		return
	}
	if delivered {
		a.delivered.Add(1)
	}
}

func (a *Adapter) send(ctx context.Context, c registry.Conn, frame []byte) bool {
	sendCtx, cancel := context.WithTimeout(ctx, a.opts.SendTimeout)
	defer cancel()

	if err := c.Send(sendCtx, frame); err != nil {
		a.sendFailed(c, err)
		return false
	}
	a.delivered.Add(1)
	return true
}

func (a *Adapter) sendFailed(c registry.Conn, err error) {
	a.logger.Warn("send to connection failed",
		"conn_id", c.ID(),
		"user_id", c.UserID(),
		"error", err,
	)

	a.mu.RLock()
	handler := a.onFailure
	a.mu.RUnlock()
	if handler != nil {
		go handler(c, err)
	}
}

// jitter spreads reconnect attempts by up to a fifth of d.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(int64(d)/5+1))
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
