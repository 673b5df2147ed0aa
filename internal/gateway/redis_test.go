package gateway

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/commensal-automator/model"
)

func newTestGateway(t *testing.T) (*Redis, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	gw := NewRedis(client, Options{
		MetaHash:    "META",
		SourceField: "src",
		StartLead:   100,
		Timeout:     time.Second,
	})
	return gw, srv, client
}

func TestTelescopeState(t *testing.T) {
	ctx := context.Background()
	gw, srv, _ := newTestGateway(t)

	if st, err := gw.TelescopeState(ctx, "ants"); err != nil || st != model.TelescopeUnknown {
		t.Fatalf("missing hash: state=%v err=%v", st, err)
	}

	srv.HSet("ants", "ea01", "on", "ea02", "True")
	if st, err := gw.TelescopeState(ctx, "ants"); err != nil || st != model.TelescopeOnSource {
		t.Fatalf("all on: state=%v err=%v", st, err)
	}

	srv.HSet("ants", "ea03", "off_source")
	if st, err := gw.TelescopeState(ctx, "ants"); err != nil || st != model.TelescopeOffSource {
		t.Fatalf("one off: state=%v err=%v", st, err)
	}

	srv.HSet("ants", "ea04", "maybe")
	if st, err := gw.TelescopeState(ctx, "ants"); err == nil || st != model.TelescopeUnknown {
		t.Fatalf("bad flag: state=%v err=%v", st, err)
	}
}

func TestDAQRecordState(t *testing.T) {
	ctx := context.Background()
	gw, srv, _ := newTestGateway(t)

	cases := []struct {
		inst   model.Instance
		fields []string
		want   model.InstanceState
	}{
		{"rec", []string{"PKTIDX", "150", "PKTSTART", "100", "PKTSTOP", "200"}, model.InstanceRecording},
		{"armed", []string{"PKTIDX", "50", "PKTSTART", "100", "PKTSTOP", "200"}, model.InstanceArmed},
		{"done", []string{"PKTIDX", "250", "PKTSTART", "100", "PKTSTOP", "200"}, model.InstanceIdle},
		{"stopped", []string{"PKTIDX", "150", "PKTSTART", "100", "PKTSTOP", "0"}, model.InstanceIdle},
		{"bare", []string{"PKTIDX", "10"}, model.InstanceIdle},
		{"rearmed", []string{"PKTIDX", "1000", "PKTSTART", "1100", "PKTSTOP", "0"}, model.InstanceArmed},
		{"fresh", []string{"PKTIDX", "10", "PKTSTART", "20"}, model.InstanceArmed},
		{"noidx", []string{"PKTSTART", "100"}, model.InstanceUnknown},
	}
	for _, tc := range cases {
		srv.HSet("hashpipe://"+string(tc.inst)+"/status", tc.fields...)
	}
	for _, tc := range cases {
		got, err := gw.DAQRecordState(ctx, "hashpipe", tc.inst)
		if err != nil {
			t.Fatalf("%s: %v", tc.inst, err)
		}
		if got != tc.want {
			t.Errorf("%s: state = %v, want %v", tc.inst, got, tc.want)
		}
	}

	if got, err := gw.DAQRecordState(ctx, "hashpipe", "absent"); err != nil || got != model.InstanceUnknown {
		t.Fatalf("absent: state=%v err=%v", got, err)
	}

	srv.HSet("hashpipe://junk/status", "PKTIDX", "NaN")
	if got, err := gw.DAQRecordState(ctx, "hashpipe", "junk"); err == nil || got != model.InstanceUnknown {
		t.Fatalf("junk: state=%v err=%v", got, err)
	}
}

func TestDAQStatesGroups(t *testing.T) {
	ctx := context.Background()
	gw, srv, _ := newTestGateway(t)
	srv.HSet("hashpipe://a/status", "PKTIDX", "150", "PKTSTART", "100", "PKTSTOP", "200")
	srv.HSet("hashpipe://b/status", "PKTIDX", "10")
	srv.HSet("hashpipe://c/status", "PKTIDX", "160", "PKTSTART", "100", "PKTSTOP", "200")

	states, err := gw.DAQStates(ctx, "hashpipe", []model.Instance{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("DAQStates: %v", err)
	}
	if got := states.Recording(); !reflect.DeepEqual(got, []model.Instance{"a", "c"}) {
		t.Fatalf("recording = %v", got)
	}
	if got := states[model.InstanceIdle]; !reflect.DeepEqual(got, []model.Instance{"b"}) {
		t.Fatalf("idle = %v", got)
	}
	if got := states[model.InstanceUnknown]; !reflect.DeepEqual(got, []model.Instance{"d"}) {
		t.Fatalf("unknown = %v", got)
	}
}

func TestRecordConditionalArmsIdleInstances(t *testing.T) {
	ctx := context.Background()
	gw, srv, client := newTestGateway(t)
	srv.HSet("hashpipe://idle/status", "PKTIDX", "1000")
	srv.HSet("hashpipe://busy/status", "PKTIDX", "150", "PKTSTART", "100", "PKTSTOP", "200")

	sub := client.Subscribe(ctx, "hashpipe://idle/set", "hashpipe://busy/set")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	started, err := gw.RecordConditional(ctx, "hashpipe", []model.Instance{"idle", "busy", "gone"}, 30*time.Second)
	if err != nil {
		t.Fatalf("RecordConditional: %v", err)
	}
	if !reflect.DeepEqual(started, []model.Instance{"idle"}) {
		t.Fatalf("started = %v", started)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Channel != "hashpipe://idle/set" {
		t.Fatalf("published on %q", msg.Channel)
	}
	if !strings.Contains(msg.Payload, "PKTSTART=1100") || !strings.Contains(msg.Payload, "DWELL=30") {
		t.Fatalf("payload = %q", msg.Payload)
	}
}

// applySet writes a "KEY=VALUE" per line command to the status hash, as the
// hashpipe gateway does for messages on the set channel.
func applySet(t *testing.T, srv *miniredis.Miniredis, statusKey, payload string) {
	t.Helper()
	for _, line := range strings.Split(payload, "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			t.Fatalf("malformed set line %q", line)
		}
		srv.HSet(statusKey, k, v)
	}
}

func TestArmedInstanceStaysArmedBeforeStopIsKnown(t *testing.T) {
	ctx := context.Background()
	gw, srv, client := newTestGateway(t)
	const statusKey = "hashpipe://nodeA/status"
	srv.HSet(statusKey, "PKTIDX", "1000", "PKTSTART", "500", "PKTSTOP", "0")

	sub := client.Subscribe(ctx, "hashpipe://nodeA/set")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	started, err := gw.RecordConditional(ctx, "hashpipe", []model.Instance{"nodeA"}, 30*time.Second)
	if err != nil {
		t.Fatalf("RecordConditional: %v", err)
	}
	if !reflect.DeepEqual(started, []model.Instance{"nodeA"}) {
		t.Fatalf("started = %v", started)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	applySet(t, srv, statusKey, msg.Payload)

	st, err := gw.DAQRecordState(ctx, "hashpipe", "nodeA")
	if err != nil {
		t.Fatalf("DAQRecordState: %v", err)
	}
	if st != model.InstanceArmed {
		t.Fatalf("state after arming = %v, want armed", st)
	}

	// A second conditional record leaves the armed instance alone.
	again, err := gw.RecordConditional(ctx, "hashpipe", []model.Instance{"nodeA"}, 30*time.Second)
	if err != nil {
		t.Fatalf("RecordConditional: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("re-armed %v", again)
	}
}

func TestStopRecordingPublishesStop(t *testing.T) {
	ctx := context.Background()
	gw, _, client := newTestGateway(t)

	sub := client.Subscribe(ctx, "hashpipe://a/set")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := gw.StopRecording(ctx, "hashpipe", []model.Instance{"a"}); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Payload != "PKTSTOP=0" {
		t.Fatalf("payload = %q", msg.Payload)
	}
}

func TestSourceName(t *testing.T) {
	ctx := context.Background()
	gw, srv, _ := newTestGateway(t)

	if name, err := gw.SourceName(ctx); err != nil || name != "" {
		t.Fatalf("missing: name=%q err=%v", name, err)
	}
	srv.HSet("META", "src", "J1939-6342")
	if name, err := gw.SourceName(ctx); err != nil || name != "J1939-6342" {
		t.Fatalf("name=%q err=%v", name, err)
	}
}

func TestUnreachableStoreYieldsUnknown(t *testing.T) {
	ctx := context.Background()
	gw, srv, _ := newTestGateway(t)
	srv.Close()

	if st, err := gw.TelescopeState(ctx, "ants"); err == nil || st != model.TelescopeUnknown {
		t.Fatalf("telescope: state=%v err=%v", st, err)
	}
	if st, err := gw.DAQRecordState(ctx, "hashpipe", "a"); err == nil || st != model.InstanceUnknown {
		t.Fatalf("daq: state=%v err=%v", st, err)
	}
}
