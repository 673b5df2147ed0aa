package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/commensal-automator/internal/channel"
	"github.com/signalsfoundry/commensal-automator/model"
)

// Hashpipe status fields that describe a recording window.
const (
	fieldPacketIndex = "PKTIDX"
	fieldPacketStart = "PKTSTART"
	fieldPacketStop  = "PKTSTOP"
	fieldDwell       = "DWELL"
)

// Options configures a Redis gateway.
type Options struct {
	// MetaHash and SourceField locate the current target name.
	MetaHash    string
	SourceField string
	// StartLead is how many packets ahead of the current index a
	// conditional recording is scheduled to start.
	StartLead int64
	// Timeout bounds every store round trip. Zero means no extra deadline.
	Timeout time.Duration
}

// Redis implements Interface against a hashpipe-redis-gateway deployment:
// instance state is read from status hashes and commands are published on
// each instance's set channel.
type Redis struct {
	client redis.Cmdable
	opts   Options
}

var _ Interface = (*Redis)(nil)

// NewRedis wraps a Redis client.
func NewRedis(client redis.Cmdable, opts Options) *Redis {
	return &Redis{client: client, opts: opts}
}

func (r *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opts.Timeout)
}

// TelescopeState reads the antenna hash, whose fields name antennas and
// whose values are on-source flags. The array is on source only when every
// listed antenna is.
func (r *Redis) TelescopeState(ctx context.Context, antennaHash string) (model.TelescopeState, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	flags, err := r.client.HGetAll(ctx, antennaHash).Result()
	if err != nil {
		return model.TelescopeUnknown, fmt.Errorf("read antenna hash %s: %w", antennaHash, err)
	}
	if len(flags) == 0 {
		return model.TelescopeUnknown, nil
	}

	onSource := true
	for antenna, raw := range flags {
		on, ok := parseFlag(raw)
		if !ok {
			return model.TelescopeUnknown, fmt.Errorf("antenna %s: unrecognised flag %q", antenna, raw)
		}
		if !on {
			onSource = false
		}
	}
	if onSource {
		return model.TelescopeOnSource, nil
	}
	return model.TelescopeOffSource, nil
}

func parseFlag(raw string) (on bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "on_source", "true", "1", "yes":
		return true, true
	case "off", "off_source", "false", "0", "no":
		return false, true
	}
	return false, false
}

// packetWindow is the subset of a status hash that decides recording state.
type packetWindow struct {
	index, start, stop int64
	hasIndex           bool
}

// state classifies the window. A start ahead of the current index is armed
// even before the pipeline has written a matching PKTSTOP: right after a
// conditional record the hash still carries the previous stop (0, or none).
func (w packetWindow) state() model.InstanceState {
	switch {
	case !w.hasIndex:
		return model.InstanceUnknown
	case w.start > 0 && w.index < w.start:
		return model.InstanceArmed
	case w.start > 0 && w.stop > w.start && w.index < w.stop:
		return model.InstanceRecording
	default:
		return model.InstanceIdle
	}
}

func (r *Redis) readWindow(ctx context.Context, domain string, inst model.Instance) (packetWindow, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	key := channel.StatusKey(domain, inst)
	vals, err := r.client.HMGet(ctx, key, fieldPacketIndex, fieldPacketStart, fieldPacketStop).Result()
	if err != nil {
		return packetWindow{}, fmt.Errorf("read %s: %w", key, err)
	}

	var w packetWindow
	ints := make([]int64, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(fmt.Sprint(v)), 10, 64)
		if err != nil {
			return packetWindow{}, fmt.Errorf("%s: parse field %d: %w", key, i, err)
		}
		ints[i] = n
		if i == 0 {
			w.hasIndex = true
		}
	}
	w.index, w.start, w.stop = ints[0], ints[1], ints[2]
	return w, nil
}

// DAQRecordState derives the recording state from the packet window in the
// instance status hash.
func (r *Redis) DAQRecordState(ctx context.Context, domain string, inst model.Instance) (model.InstanceState, error) {
	w, err := r.readWindow(ctx, domain, inst)
	if err != nil {
		return model.InstanceUnknown, err
	}
	return w.state(), nil
}

// DAQStates queries each instance. Per-instance failures are reported as
// unknown and joined into the returned error.
func (r *Redis) DAQStates(ctx context.Context, domain string, instances []model.Instance) (States, error) {
	states := make(States)
	var errs []error
	for _, inst := range instances {
		st, err := r.DAQRecordState(ctx, domain, inst)
		if err != nil {
			errs = append(errs, err)
		}
		states.Add(st, inst)
	}
	return states, errors.Join(errs...)
}

// RecordConditional arms every idle instance to start recording StartLead
// packets from now for the given duration.
func (r *Redis) RecordConditional(ctx context.Context, domain string, instances []model.Instance, duration time.Duration) ([]model.Instance, error) {
	started := make([]model.Instance, 0, len(instances))
	var errs []error
	for _, inst := range instances {
		w, err := r.readWindow(ctx, domain, inst)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if w.state() != model.InstanceIdle {
			continue
		}
		msg := fmt.Sprintf("%s=%d\n%s=%d", fieldPacketStart, w.index+r.opts.StartLead, fieldDwell, int64(duration/time.Second))
		if err := r.publish(ctx, channel.SetChannel(domain, inst), msg); err != nil {
			errs = append(errs, err)
			continue
		}
		started = append(started, inst)
	}
	return started, errors.Join(errs...)
}

// StopRecording clears the stop packet on every instance, ending any
// recording in progress.
func (r *Redis) StopRecording(ctx context.Context, domain string, instances []model.Instance) error {
	var errs []error
	for _, inst := range instances {
		if err := r.publish(ctx, channel.SetChannel(domain, inst), fieldPacketStop+"=0"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SourceName reads the current target from the metadata hash. A missing
// field yields an empty name.
func (r *Redis) SourceName(ctx context.Context) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	name, err := r.client.HGet(ctx, r.opts.MetaHash, r.opts.SourceField).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read source name: %w", err)
	}
	return name, nil
}

func (r *Redis) publish(ctx context.Context, ch, msg string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.Publish(ctx, ch, msg).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ch, err)
	}
	return nil
}
