// Package channel names the keyspace channels the automator listens on and
// parses incoming notification channels back into typed results.
//
// An instance's status hash lives under the key "<domain>://<instance>/status";
// the store announces mutations of that key on the keyspace channel
// "__keyspace@<db>__:<key>". Parsing never fails loudly: malformed channels
// are an expected, frequent input (every antenna notification fails the
// instance grammar) and are reported through the returned Kind.
package channel

import (
	"strconv"
	"strings"

	"github.com/signalsfoundry/commensal-automator/model"
)

const (
	schemeSep    = "://"
	statusSuffix = "/status"
	setSuffix    = "/set"
)

// Notification is a single keyspace event delivered by the transport.
// Event carries the mutating command name, e.g. "hset" or "del".
type Notification struct {
	Channel string
	Event   string
}

// StatusKey composes the status hash key for an instance.
func StatusKey(domain string, inst model.Instance) string {
	return domain + schemeSep + string(inst) + statusSuffix
}

// SetChannel composes the gateway command channel for an instance.
func SetChannel(domain string, inst model.Instance) string {
	return domain + schemeSep + string(inst) + setSuffix
}

// KeyspacePrefix returns the keyspace channel prefix for a database index.
func KeyspacePrefix(db int) string {
	return "__keyspace@" + strconv.Itoa(db) + "__:"
}

// ParseStatusKey splits "<domain>://<instance>/status" into its parts. It
// reports false when key does not have that shape.
func ParseStatusKey(key string) (domain string, inst model.Instance, ok bool) {
	sep := strings.Index(key, schemeSep)
	if sep <= 0 {
		return "", "", false
	}
	domain = key[:sep]
	rest := key[sep+len(schemeSep):]
	if !strings.HasSuffix(rest, statusSuffix) {
		return "", "", false
	}
	name := strings.TrimSuffix(rest, statusSuffix)
	if name == "" || strings.Contains(name, schemeSep) {
		return "", "", false
	}
	return domain, model.Instance(name), true
}

// Codec encodes and decodes channels for one DAQ domain, database and set of
// known instances.
type Codec struct {
	domain    string
	prefix    string
	instances model.InstanceSet
}

// NewCodec builds a codec for the given domain, database and instance set.
func NewCodec(domain string, db int, instances model.InstanceSet) *Codec {
	return &Codec{
		domain:    domain,
		prefix:    KeyspacePrefix(db),
		instances: instances,
	}
}

// Domain returns the DAQ domain the codec was built for.
func (c *Codec) Domain() string { return c.domain }

// Instances returns the known instance set.
func (c *Codec) Instances() model.InstanceSet { return c.instances }

// Encode returns the keyspace channel for inst.
func (c *Codec) Encode(inst model.Instance) string {
	return c.prefix + StatusKey(c.domain, inst)
}

// EncodeKey wraps an arbitrary key in the keyspace channel convention.
func (c *Codec) EncodeKey(key string) string {
	return c.prefix + key
}

// Key strips the keyspace prefix from channel.
func (c *Codec) Key(channel string) (string, bool) {
	if !strings.HasPrefix(channel, c.prefix) {
		return "", false
	}
	key := channel[len(c.prefix):]
	if key == "" {
		return "", false
	}
	return key, true
}

// Decode maps a keyspace channel back to a known instance.
func (c *Codec) Decode(channel string) (model.Instance, bool) {
	key, ok := c.Key(channel)
	if !ok {
		return "", false
	}
	inst, kind := c.decodeKey(key)
	return inst, kind == KindInstance
}

func (c *Codec) decodeKey(key string) (model.Instance, Kind) {
	domain, inst, ok := ParseStatusKey(key)
	if !ok || domain != c.domain {
		return "", KindUnparseable
	}
	if !c.instances.Contains(inst) {
		return inst, KindUnknownInstance
	}
	return inst, KindInstance
}
