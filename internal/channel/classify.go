package channel

import "github.com/signalsfoundry/commensal-automator/model"

// Kind labels how a notification should be routed.
type Kind int

const (
	// KindIgnored is a notification for an event type we do not act on.
	KindIgnored Kind = iota
	// KindAntenna is an update to the antenna assignment hash.
	KindAntenna
	// KindInstance is an update to a known instance's status hash.
	KindInstance
	// KindUnparseable matches neither grammar.
	KindUnparseable
	// KindUnknownInstance parses as an instance channel for our domain but
	// names an instance outside the configured set.
	KindUnknownInstance
)

func (k Kind) String() string {
	switch k {
	case KindAntenna:
		return "antenna"
	case KindInstance:
		return "instance"
	case KindUnparseable:
		return "unparseable"
	case KindUnknownInstance:
		return "unknown_instance"
	default:
		return "ignored"
	}
}

// Classification is the typed result of parsing a notification.
type Classification struct {
	Kind     Kind
	Key      string
	Instance model.Instance
}

// Classifier routes notifications for one antenna key and one event type.
type Classifier struct {
	codec      *Codec
	antennaKey string
	event      string
}

// NewClassifier builds a classifier. event is the keyspace command that
// signals a state change, normally "hset".
func NewClassifier(codec *Codec, antennaKey, event string) *Classifier {
	return &Classifier{codec: codec, antennaKey: antennaKey, event: event}
}

// AntennaChannel returns the channel the antenna hash is announced on.
func (c *Classifier) AntennaChannel() string {
	return c.codec.EncodeKey(c.antennaKey)
}

// Classify parses n. It never panics on malformed input.
func (c *Classifier) Classify(n Notification) Classification {
	if n.Event != c.event {
		return Classification{Kind: KindIgnored}
	}
	key, ok := c.codec.Key(n.Channel)
	if !ok {
		return Classification{Kind: KindUnparseable}
	}
	if key == c.antennaKey {
		return Classification{Kind: KindAntenna, Key: key}
	}
	inst, kind := c.codec.decodeKey(key)
	return Classification{Kind: kind, Key: key, Instance: inst}
}
