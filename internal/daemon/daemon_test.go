package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/commensal-automator/internal/automator"
	"github.com/signalsfoundry/commensal-automator/internal/config"
	"github.com/signalsfoundry/commensal-automator/internal/history"
	"github.com/signalsfoundry/commensal-automator/internal/logging"
)

const antennaChannel = "__keyspace@0__:META_flagant"

func testConfig(t *testing.T, addr string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Redis.Endpoint = addr
	cfg.Automator.Instances = []string{"nodeA"}
	cfg.Automator.LockPath = filepath.Join(dir, "automator.lock")
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Health.GRPCAddr = "127.0.0.1:0"
	cfg.Gateway.TimeoutSeconds = 1
	return &cfg
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(nil, logging.Noop()); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestRunRefusesWhenLockHeld(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := testConfig(t, srv.Addr())

	held := flock.New(cfg.Automator.LockPath)
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	t.Cleanup(func() { _ = held.Unlock() })

	d, err := New(cfg, logging.Noop(), WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = d.Run(context.Background())
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("Run err = %v, want lock contention", err)
	}
}

func TestRunFailsWhenRedisUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := testConfig(t, srv.Addr())
	srv.Close()

	d, err := New(cfg, logging.Noop(), WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestSnapshotOutsideRun(t *testing.T) {
	d, err := New(testConfig(t, "127.0.0.1:1"), logging.Noop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := d.Snapshot(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Snapshot err = %v, want ErrNotRunning", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunObservingCycle(t *testing.T) {
	srv := miniredis.RunT(t)
	srv.HSet("META_flagant", "ant1", "on", "ant2", "on")
	srv.HSet("META", "src", "3C286")
	srv.HSet("hashpipe://nodeA/status", "PKTIDX", "100")

	cfg := testConfig(t, srv.Addr())
	d, err := New(cfg, logging.Noop(), WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(cancel)

	snapshot := func() automator.Snapshot {
		sctx, scancel := context.WithTimeout(context.Background(), time.Second)
		defer scancel()
		s, _ := d.Snapshot(sctx)
		return s
	}
	waitFor(t, "nodeA to be watched", func() bool {
		return snapshot().Watched["nodeA"] == "recording"
	})

	httpAddr, grpcAddr := d.Addrs()
	if httpAddr == "" || grpcAddr == "" {
		t.Fatalf("listeners not bound: http=%q grpc=%q", httpAddr, grpcAddr)
	}

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()
	hctx, hcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer hcancel()
	resp, err := healthpb.NewHealthClient(conn).Check(hctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health = %v, want SERVING", resp.GetStatus())
	}

	res, err := http.Get("http://" + httpAddr + "/debug/state")
	if err != nil {
		t.Fatalf("GET /debug/state: %v", err)
	}
	var state automator.Snapshot
	err = json.NewDecoder(res.Body).Decode(&state)
	res.Body.Close()
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Telescope != "on_source" {
		t.Fatalf("telescope = %q, want on_source", state.Telescope)
	}

	// The antenna flags drop; announce it until the daemon reacts.
	srv.HSet("META_flagant", "ant2", "off")
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	waitFor(t, "nodeA to be released", func() bool {
		_ = client.Publish(context.Background(), antennaChannel, "hset").Err()
		s := snapshot()
		return s.Telescope == "off_source" && len(s.Watched) == 0
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer store.Close()
	sessions, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Reason != history.ReasonOffSource || sessions[0].Source != "3C286" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestRunReturnsErrorOnConnectionLoss(t *testing.T) {
	srv := miniredis.RunT(t)
	srv.HSet("META_flagant", "ant1", "off")
	cfg := testConfig(t, srv.Addr())
	cfg.Metrics.Addr = ""
	cfg.Health.GRPCAddr = ""
	cfg.History.Path = ""

	d, err := New(cfg, logging.Noop(), WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	waitFor(t, "dispatcher to start", func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		s, err := d.Snapshot(ctx)
		return err == nil && s.Telescope == "off_source"
	})
	srv.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("Run returned nil after connection loss")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after connection loss")
	}
}

func TestStateHandler(t *testing.T) {
	h := StateHandler(func(context.Context) (automator.Snapshot, error) {
		return automator.Snapshot{Telescope: "on_source", Watched: map[string]string{"nodeA": "recording"}}, nil
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var s automator.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Watched["nodeA"] != "recording" {
		t.Fatalf("snapshot = %+v", s)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/state", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", rec.Code)
	}

	failing := StateHandler(func(context.Context) (automator.Snapshot, error) {
		return automator.Snapshot{}, ErrNotRunning
	})
	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/state", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unavailable status = %d", rec.Code)
	}
}
