package automator

import (
	"context"
	"fmt"
	"sort"

	"github.com/signalsfoundry/commensal-automator/internal/channel"
	"github.com/signalsfoundry/commensal-automator/internal/logging"
	"github.com/signalsfoundry/commensal-automator/model"
)

// Subscriber issues subscribe and unsubscribe requests on the notification
// connection. Both are idempotent at the protocol level.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
}

// SubscriptionManager keeps the live instance subscriptions and the
// RecordingTracker's entries in lockstep: an instance has a state entry if
// and only if its channel is subscribed.
type SubscriptionManager struct {
	sub       Subscriber
	codec     *channel.Codec
	recording *RecordingTracker
	antenna   string
	log       logging.Logger
}

// NewSubscriptionManager wires a manager over sub.
func NewSubscriptionManager(sub Subscriber, codec *channel.Codec, recording *RecordingTracker, log logging.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		sub:       sub,
		codec:     codec,
		recording: recording,
		log:       logging.Component(log, "subscriptions"),
	}
}

// SubscribeAntenna subscribes to the antenna hash channel. It stays
// subscribed for the life of the process.
func (m *SubscriptionManager) SubscribeAntenna(ctx context.Context, ch string) error {
	if err := m.sub.Subscribe(ctx, ch); err != nil {
		return fmt.Errorf("subscribe %s: %w", ch, err)
	}
	m.antenna = ch
	m.log.Info(ctx, "subscribed to antenna channel", logging.String(logging.FieldChannel, ch))
	return nil
}

// Subscribe starts watching instances and records state for each of them.
// On failure nothing is recorded, so no entry exists without a
// subscription.
func (m *SubscriptionManager) Subscribe(ctx context.Context, instances []model.Instance, state model.InstanceState) error {
	if len(instances) == 0 {
		return nil
	}
	channels := m.channels(instances)
	if err := m.sub.Subscribe(ctx, channels...); err != nil {
		return fmt.Errorf("subscribe instances: %w", err)
	}
	for _, inst := range instances {
		m.recording.Set(inst, state)
	}
	m.log.Info(ctx, "subscribed to instance channels",
		logging.Strings(logging.FieldChannel, channels),
		logging.String(logging.FieldTo, state.String()),
	)
	return nil
}

// Unsubscribe stops watching instances and drops their state. Instances that
// are not watched are skipped. Entries are dropped even when the request
// fails; late notifications for them are ignored by the RecordingTracker.
func (m *SubscriptionManager) Unsubscribe(ctx context.Context, instances []model.Instance) error {
	watched := make([]model.Instance, 0, len(instances))
	for _, inst := range instances {
		if _, ok := m.recording.Get(inst); ok {
			watched = append(watched, inst)
		}
	}
	if len(watched) == 0 {
		return nil
	}
	for _, inst := range watched {
		m.recording.Remove(inst)
	}
	channels := m.channels(watched)
	if err := m.sub.Unsubscribe(ctx, channels...); err != nil {
		return fmt.Errorf("unsubscribe instances: %w", err)
	}
	m.log.Info(ctx, "unsubscribed from instance channels", logging.Strings(logging.FieldChannel, channels))
	return nil
}

// Channels returns every channel currently subscribed, antenna first.
func (m *SubscriptionManager) Channels() []string {
	out := make([]string, 0, m.recording.Len()+1)
	if m.antenna != "" {
		out = append(out, m.antenna)
	}
	instances := m.channels(m.recording.Watched())
	sort.Strings(instances)
	return append(out, instances...)
}

func (m *SubscriptionManager) channels(instances []model.Instance) []string {
	out := make([]string, len(instances))
	for i, inst := range instances {
		out[i] = m.codec.Encode(inst)
	}
	return out
}
