package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/engine"
	"github.com/corefin/fifo-engine/internal/httpapi"
	"github.com/corefin/fifo-engine/internal/ledger"
	"github.com/corefin/fifo-engine/internal/scheduler"
	"github.com/corefin/fifo-engine/internal/storage"
	"github.com/corefin/fifo-engine/pkg/cache"
	"github.com/corefin/fifo-engine/pkg/config"
	"github.com/corefin/fifo-engine/pkg/healthprobe"
)

// App wires the allocation engine service: storage, orchestrator, scheduler,
// and the read API.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpapi.Server
	scheduler     *scheduler.Scheduler
	orchestrator  *engine.Orchestrator
	storage       *storage.Postgres
	ledger        ledger.Reader
	pointerCache  cache.Cache
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// Options holds application options.
type Options struct {
	DisableScheduler bool // serve the read API without triggering runs
}
