// Package app assembles the shard router from configuration and manages
// its lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	apihttp "github.com/nurcahyapriantoro/Agrilends-sub001/internal/api/http"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/breaker"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/config"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/core"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/partition"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/router"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/scaler"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/storage"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// App holds the assembled router and its HTTP server.
type App struct {
	cfg    *config.Config
	core   *core.Core
	server *http.Server
	errCh  chan error
}

// New assembles the application from configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	// Snapshot archiving is driven by the capacity monitor's ticker, so a
	// store configured without the scaler would never run. Build it only
	// when the monitor exists to drive it.
	var archiver scaler.Archiver
	if cfg.Scaler.Enabled {
		var err error
		archiver, err = buildArchiver(cfg)
		if err != nil {
			return nil, err
		}
	}

	opts := core.Options{
		StorePath: cfg.RegistryPath(),
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			CoolDown:         cfg.Breaker.CoolDown,
			Window:           cfg.Breaker.Window,
		},
		Balancer: types.BalancerConfig{
			Strategy:      types.Strategy(cfg.Balancer.Strategy),
			StorageWeight: cfg.Balancer.StorageWeight,
			LatencyWeight: cfg.Balancer.LatencyWeight,
			Version:       1,
		},
		Router: router.Config{
			FanoutDeadline: cfg.Router.FanoutDeadline,
			CacheTTL:       cfg.Router.CacheTTL,
			Concurrency:    cfg.Router.Concurrency,
		},
		Archiver: archiver,
		OnDecision: func(d scaler.Decision) {
			log.Printf("app: scaling decision %s for %s: %s", d.Action, d.Partition, d.Reason)
		},
	}

	if cfg.Scaler.Enabled {
		opts.Scaler = scaler.Config{
			CheckInterval:    cfg.Scaler.CheckInterval,
			StorageHighWater: cfg.Scaler.StorageHighWater,
			RecordSoftCap:    cfg.Scaler.RecordSoftCap,
			LatencyThreshold: cfg.Scaler.LatencyThreshold,
		}
		// Without an orchestrator integration, provisioned partitions are
		// placeholders the operator points at real capacity.
		opts.Provisioner = scaler.ProvisionFunc(
			func(ctx context.Context, id types.PartitionID) (types.PartitionInfo, error) {
				return types.PartitionInfo{ID: id, Endpoint: ""}, nil
			})
	}

	a := &App{cfg: cfg, errCh: make(chan error, 1)}

	// The fleet client resolves endpoints through the registry, which lives
	// inside core; wire it up with a late-bound resolver.
	resolver := &lazyResolver{}
	opts.Fleet = partition.NewHTTPClient(resolver)

	c, err := core.New(opts)
	if err != nil {
		return nil, err
	}
	resolver.core = c
	a.core = c
	if da, ok := archiver.(*deferredArchiver); ok {
		da.Bind(fleetSource{c})
	}

	a.server = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      apihttp.NewHandler(c).Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	return a, nil
}

// Core exposes the routing core, mainly for tests.
func (a *App) Core() *core.Core {
	return a.core
}

// Start launches background daemons and the admin HTTP server.
func (a *App) Start(ctx context.Context) error {
	if err := a.core.Start(ctx); err != nil {
		return err
	}

	go func() {
		log.Printf("app: admin API listening on %s", a.cfg.HTTP.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.errCh <- err
		}
	}()
	return nil
}

// Stop drains the HTTP server and shuts the core down.
func (a *App) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := a.core.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}

	select {
	case err := <-a.errCh:
		if firstErr == nil {
			firstErr = err
		}
	default:
	}
	return firstErr
}

func buildArchiver(cfg *config.Config) (scaler.Archiver, error) {
	switch cfg.Storage.Type {
	case "":
		return nil, nil
	case "local":
		store, err := storage.NewLocalStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("local archive store: %w", err)
		}
		return &deferredArchiver{store: store, keep: cfg.Storage.KeepSnapshots}, nil
	case "s3":
		store, err := storage.NewS3Store(context.Background(), cfg.Storage.S3.Bucket, storage.S3Config{
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 archive store: %w", err)
		}
		return &deferredArchiver{store: store, keep: cfg.Storage.KeepSnapshots}, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// lazyResolver breaks the construction cycle between the fleet client and
// the core that owns the registry.
type lazyResolver struct {
	core *core.Core
}

func (r *lazyResolver) Get(id types.PartitionID) (types.PartitionSnapshot, error) {
	return r.core.GetPartition(id)
}

// deferredArchiver binds the fleet source at first use, for the same reason.
type deferredArchiver struct {
	store  storage.ObjectStore
	keep   int
	source storage.FleetSource
	inner  *storage.SnapshotArchiver
}

func (d *deferredArchiver) Bind(source storage.FleetSource) {
	d.source = source
	d.inner = storage.NewSnapshotArchiver(d.store, source, d.keep)
}

func (d *deferredArchiver) Archive(ctx context.Context) error {
	if d.inner == nil {
		return nil
	}
	return d.inner.Archive(ctx)
}

// fleetSource adapts the core's partition listing to the archiver.
type fleetSource struct {
	core *core.Core
}

func (f fleetSource) List() []types.PartitionSnapshot {
	return f.core.ListPartitions()
}

var _ core.Fleet = (*partition.HTTPClient)(nil)
