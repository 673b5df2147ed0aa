package automator

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/signalsfoundry/commensal-automator/internal/channel"
	"github.com/signalsfoundry/commensal-automator/internal/gateway"
	"github.com/signalsfoundry/commensal-automator/model"
)

const (
	testAntennaKey = "META_flagant"
	testDomain     = "hashpipe"
)

var errBoom = errors.New("boom")

type fakeGateway struct {
	telescope    model.TelescopeState
	telescopeErr error
	daq          map[model.Instance]model.InstanceState
	statesErr    error
	recordErr    error
	source       string

	telescopeQueries int
	daqQueries       int
	recordCalls      [][]model.Instance
	recordDurations  []time.Duration
	stopCalls        [][]model.Instance
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{daq: make(map[model.Instance]model.InstanceState), source: "3C286"}
}

func (g *fakeGateway) TelescopeState(context.Context, string) (model.TelescopeState, error) {
	g.telescopeQueries++
	if g.telescopeErr != nil {
		return model.TelescopeUnknown, g.telescopeErr
	}
	return g.telescope, nil
}

func (g *fakeGateway) DAQRecordState(_ context.Context, _ string, inst model.Instance) (model.InstanceState, error) {
	g.daqQueries++
	return g.daq[inst], nil
}

func (g *fakeGateway) DAQStates(_ context.Context, _ string, instances []model.Instance) (gateway.States, error) {
	if g.statesErr != nil {
		return nil, g.statesErr
	}
	out := gateway.States{}
	for _, inst := range instances {
		out.Add(g.daq[inst], inst)
	}
	return out, nil
}

func (g *fakeGateway) RecordConditional(_ context.Context, _ string, instances []model.Instance, d time.Duration) ([]model.Instance, error) {
	g.recordCalls = append(g.recordCalls, append([]model.Instance(nil), instances...))
	g.recordDurations = append(g.recordDurations, d)
	if g.recordErr != nil {
		return nil, g.recordErr
	}
	var started []model.Instance
	for _, inst := range instances {
		if g.daq[inst] == model.InstanceIdle {
			started = append(started, inst)
		}
	}
	return started, nil
}

func (g *fakeGateway) StopRecording(_ context.Context, _ string, instances []model.Instance) error {
	g.stopCalls = append(g.stopCalls, append([]model.Instance(nil), instances...))
	for _, inst := range instances {
		g.daq[inst] = model.InstanceIdle
	}
	return nil
}

func (g *fakeGateway) SourceName(context.Context) (string, error) { return g.source, nil }

type fakeSubscriber struct {
	channels       map[string]bool
	subscribeErr   error
	unsubscribeErr error
	subscribes     int
	unsubscribes   int
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{channels: make(map[string]bool)}
}

func (s *fakeSubscriber) Subscribe(_ context.Context, channels ...string) error {
	s.subscribes++
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	for _, ch := range channels {
		s.channels[ch] = true
	}
	return nil
}

func (s *fakeSubscriber) Unsubscribe(_ context.Context, channels ...string) error {
	s.unsubscribes++
	if s.unsubscribeErr != nil {
		return s.unsubscribeErr
	}
	for _, ch := range channels {
		delete(s.channels, ch)
	}
	return nil
}

func (s *fakeSubscriber) list() []string {
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

type fakeProcessor struct {
	requests []ProcessRequest
}

func (p *fakeProcessor) Process(_ context.Context, req ProcessRequest) error {
	p.requests = append(p.requests, req)
	return nil
}

type journalEntry struct {
	op       string
	instance model.Instance
	detail   string
}

type fakeJournal struct {
	entries []journalEntry
}

func (j *fakeJournal) Begin(_ context.Context, inst model.Instance, source string) (string, error) {
	j.entries = append(j.entries, journalEntry{op: "begin", instance: inst, detail: source})
	return "id-" + string(inst), nil
}

func (j *fakeJournal) End(_ context.Context, inst model.Instance, reason string) (int64, error) {
	j.entries = append(j.entries, journalEntry{op: "end", instance: inst, detail: reason})
	return 1, nil
}

func testConfig(instances ...string) Config {
	if len(instances) == 0 {
		instances = []string{"nodeA", "nodeB"}
	}
	return Config{
		AntennaKey:  testAntennaKey,
		Domain:      testDomain,
		Instances:   model.NewInstanceSet(instances),
		Duration:    300 * time.Second,
		NotifyEvent: "hset",
	}
}

func antennaNotification() channel.Notification {
	return channel.Notification{Channel: "__keyspace@0__:" + testAntennaKey, Event: "hset"}
}

func instanceChannel(inst model.Instance) string {
	return channel.KeyspacePrefix(0) + channel.StatusKey(testDomain, inst)
}

func instanceNotification(inst string) channel.Notification {
	return channel.Notification{Channel: instanceChannel(model.Instance(inst)), Event: "hset"}
}

// assertConsistent checks that the watched instances are exactly the
// subscribed instance channels.
func assertConsistent(t *testing.T, ctrl *Controller, sub *fakeSubscriber) {
	t.Helper()
	want := map[string]bool{}
	for inst := range ctrl.Watched() {
		want[instanceChannel(inst)] = true
	}
	antenna := ctrl.Classifier().AntennaChannel()
	for ch := range sub.channels {
		if ch == antenna {
			continue
		}
		if !want[ch] {
			t.Fatalf("channel %s subscribed but not watched", ch)
		}
		delete(want, ch)
	}
	for ch := range want {
		t.Fatalf("instance %s watched but not subscribed", ch)
	}
}
