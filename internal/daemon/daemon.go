// Package daemon runs the automator as a long-lived process: it holds the
// single-instance lock, owns the Redis connection, and serves metrics, debug
// state and gRPC health alongside the dispatcher.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/commensal-automator/internal/automator"
	"github.com/signalsfoundry/commensal-automator/internal/config"
	"github.com/signalsfoundry/commensal-automator/internal/gateway"
	"github.com/signalsfoundry/commensal-automator/internal/history"
	"github.com/signalsfoundry/commensal-automator/internal/logging"
	"github.com/signalsfoundry/commensal-automator/internal/observability"
	"github.com/signalsfoundry/commensal-automator/internal/transport"
	"github.com/signalsfoundry/commensal-automator/model"
)

// HealthService is the name the automator reports under in gRPC health.
const HealthService = "commensal.automator"

const shutdownTimeout = 5 * time.Second

// ErrNotRunning is returned by Snapshot outside Run.
var ErrNotRunning = errors.New("daemon not running")

// ErrLockHeld means another automator process owns the lock file.
var ErrLockHeld = errors.New("another automator instance is running")

// Option configures a Daemon.
type Option func(*Daemon)

// WithRegisterer registers metrics against reg instead of the global
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Daemon) { d.registry = reg }
}

// WithProcessor overrides the post-recording processor.
func WithProcessor(p automator.Processor) Option {
	return func(d *Daemon) { d.processor = p }
}

// Daemon wires configuration into a running automator.
type Daemon struct {
	cfg       *config.Config
	log       logging.Logger
	registry  prometheus.Registerer
	processor automator.Processor

	lockPath string
	lock     *flock.Flock

	running atomic.Bool

	mu         sync.Mutex
	dispatcher *automator.Dispatcher
	httpAddr   string
	grpcAddr   string
}

// New validates dependencies and prepares the lock.
func New(cfg *config.Config, log logging.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if log == nil {
		log = logging.Noop()
	}
	d := &Daemon{
		cfg:      cfg,
		log:      logging.Component(log, "daemon"),
		lockPath: cfg.Automator.LockPath,
		lock:     flock.New(cfg.Automator.LockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run acquires the lock, connects, and dispatches notifications until ctx
// ends (nil) or the notification stream fails (error).
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.running.Store(false)

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: lock held on %s", ErrLockHeld, d.lockPath)
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.log.Warn(ctx, "failed to release lock", logging.Err(err))
		}
	}()

	tr, err := transport.Dial(ctx, transport.Options{
		Addr:                   d.cfg.Redis.Endpoint,
		DB:                     d.cfg.Redis.DB,
		Password:               d.cfg.Redis.Password,
		ConfigureNotifications: d.cfg.Redis.ConfigureNotifications,
	}, d.log)
	if err != nil {
		return err
	}
	defer tr.Close()

	store, err := d.openHistory(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	collector, err := observability.NewAutomatorCollector(d.registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	gw := gateway.NewRedis(tr.Client(), gateway.Options{
		MetaHash:    d.cfg.Gateway.MetaHash,
		SourceField: d.cfg.Gateway.SourceField,
		StartLead:   d.cfg.Gateway.StartLeadPackets,
		Timeout:     d.cfg.GatewayTimeout(),
	})
	opts := []automator.Option{
		automator.WithMetricsRecorder(collector),
		automator.WithProcessor(d.processor),
	}
	if store != nil {
		opts = append(opts, automator.WithJournal(store))
	}
	ctrl := automator.New(automator.Config{
		AntennaKey:  d.cfg.Automator.AntennaKey,
		Domain:      d.cfg.Automator.DAQDomain,
		DB:          d.cfg.Redis.DB,
		Instances:   model.NewInstanceSet(d.cfg.Automator.Instances),
		Duration:    d.cfg.Duration(),
		NotifyEvent: d.cfg.Automator.NotifyEvent,
	}, gw, tr, d.log, opts...)
	dispatcher := automator.NewDispatcher(ctrl, d.log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hs := health.NewServer()
	grpcSrv, err := d.serveHealth(runCtx, hs)
	if err != nil {
		return err
	}
	httpSrv, err := d.serveHTTP(runCtx, collector, dispatcher)
	if err != nil {
		if grpcSrv != nil {
			grpcSrv.Stop()
		}
		return err
	}
	defer d.shutdown(grpcSrv, httpSrv)

	d.setDispatcher(dispatcher)
	defer d.setDispatcher(nil)

	setServing(hs, healthpb.HealthCheckResponse_SERVING)
	d.log.Info(ctx, "automator daemon started",
		logging.String("lock", d.lockPath),
		logging.String("redis", d.cfg.Redis.Endpoint),
		logging.Strings(logging.FieldInstance, d.cfg.Automator.Instances),
	)

	err = dispatcher.Run(runCtx, tr.Notifications(runCtx))
	setServing(hs, healthpb.HealthCheckResponse_NOT_SERVING)

	if errors.Is(err, automator.ErrStreamClosed) {
		if ctx.Err() != nil {
			err = nil
		} else {
			err = fmt.Errorf("notification stream ended: %w", tr.Err())
		}
	}
	if err != nil {
		d.log.Error(ctx, "automator daemon failed", logging.Err(err))
		return err
	}
	d.log.Info(ctx, "automator daemon stopped")
	return nil
}

// Snapshot returns the dispatcher's state while Run is active.
func (d *Daemon) Snapshot(ctx context.Context) (automator.Snapshot, error) {
	d.mu.Lock()
	disp := d.dispatcher
	d.mu.Unlock()
	if disp == nil {
		return automator.Snapshot{}, ErrNotRunning
	}
	return disp.Snapshot(ctx)
}

// Addrs returns the bound HTTP and gRPC listener addresses, empty when
// disabled or not running.
func (d *Daemon) Addrs() (httpAddr, grpcAddr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.httpAddr, d.grpcAddr
}

func (d *Daemon) setDispatcher(disp *automator.Dispatcher) {
	d.mu.Lock()
	d.dispatcher = disp
	d.mu.Unlock()
}

// openHistory opens the journal and closes sessions left open by a previous
// process.
func (d *Daemon) openHistory(ctx context.Context) (*history.Store, error) {
	if d.cfg.History.Path == "" {
		return nil, nil
	}
	store, err := history.Open(d.cfg.History.Path)
	if err != nil {
		return nil, err
	}
	closed, err := store.EndAll(ctx, history.ReasonRestart)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("close stale sessions: %w", err)
	}
	if closed > 0 {
		d.log.Info(ctx, "closed stale sessions", logging.Int("count", int(closed)))
	}
	return store, nil
}

func (d *Daemon) serveHealth(ctx context.Context, hs *health.Server) (*grpc.Server, error) {
	addr := d.cfg.Health.GRPCAddr
	if addr == "" {
		return nil, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for gRPC health on %s: %w", addr, err)
	}
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthpb.RegisterHealthServer(srv, hs)
	setServing(hs, healthpb.HealthCheckResponse_NOT_SERVING)

	d.mu.Lock()
	d.grpcAddr = lis.Addr().String()
	d.mu.Unlock()

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			d.log.Warn(ctx, "gRPC health server exited", logging.Err(err))
		}
	}()
	d.log.Info(ctx, "serving gRPC health", logging.String("addr", lis.Addr().String()))
	return srv, nil
}

func (d *Daemon) serveHTTP(ctx context.Context, collector *observability.AutomatorCollector, disp *automator.Dispatcher) (*http.Server, error) {
	addr := d.cfg.Metrics.Addr
	if addr == "" {
		return nil, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.Handle("/debug/state", StateHandler(disp.Snapshot))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.mu.Lock()
	d.httpAddr = lis.Addr().String()
	d.mu.Unlock()

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()
	d.log.Info(ctx, "serving Prometheus metrics", logging.String("addr", lis.Addr().String()))
	return srv, nil
}

func (d *Daemon) shutdown(grpcSrv *grpc.Server, httpSrv *http.Server) {
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
	}
	d.mu.Lock()
	d.httpAddr, d.grpcAddr = "", ""
	d.mu.Unlock()
}

func setServing(hs *health.Server, status healthpb.HealthCheckResponse_ServingStatus) {
	hs.SetServingStatus("", status)
	hs.SetServingStatus(HealthService, status)
}
