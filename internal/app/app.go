// Package app wires every subsystem into one running process: the
// Postgres/gorm store, the Neo4j long-term graph, the optional
// Temporal client, the three memory tiers, the plugin host and
// permission manager, the event manager and scheduler, the message
// bus, and the gin router fronting the adapter and inspection HTTP
// surface. Grounded on the teacher's internal/app/app.go: a single App
// struct built by New(), started by Start(), run by Run(), and torn
// down by Close() in the reverse order it was built.
package app

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/coreagent/platform/internal/bus"
	"github.com/coreagent/platform/internal/bus/wsadapter"
	"github.com/coreagent/platform/internal/envelope"
	"github.com/coreagent/platform/internal/event"
	"github.com/coreagent/platform/internal/llm"
	"github.com/coreagent/platform/internal/llm/mock"
	"github.com/coreagent/platform/internal/memory/longterm"
	"github.com/coreagent/platform/internal/memory/perceptual"
	"github.com/coreagent/platform/internal/memory/retrieval"
	"github.com/coreagent/platform/internal/memory/shortterm"
	"github.com/coreagent/platform/internal/memory/vectorstore"
	"github.com/coreagent/platform/internal/permission"
	"github.com/coreagent/platform/internal/persistence"
	"github.com/coreagent/platform/internal/persistence/graph"
	"github.com/coreagent/platform/internal/persistence/model"
	"github.com/coreagent/platform/internal/platform/envutil"
	"github.com/coreagent/platform/internal/platform/logger"
	"github.com/coreagent/platform/internal/platform/neo4jdb"
	"github.com/coreagent/platform/internal/plugin"
	"github.com/coreagent/platform/internal/reply"
	"github.com/coreagent/platform/internal/scheduler"
	"github.com/coreagent/platform/internal/temporalx"

	temporalsdkclient "go.temporal.io/sdk/client"
	temporalsdkworker "go.temporal.io/sdk/worker"
)

// decayTickInterval is how often the short-term layer's ApplyDecay
// pass runs once the process is started; spec.md leaves the cadence
// unspecified, only the per-pass decay factor.
const decayTickInterval = 10 * time.Minute

// App bundles every wired subsystem behind the same construction and
// teardown lifecycle the teacher's App follows.
type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config

	Store *persistence.Store

	Host  *plugin.Host
	Perms *permission.Manager

	Events   *event.Manager
	Fanout   *event.Fanout
	Sched    *scheduler.Scheduler
	Bus      *bus.Runtime

	VectorStore vectorstore.Store
	LLM         llm.Engine
	Perceptual  *perceptual.Manager
	ShortTerm   *shortterm.Manager
	LongTerm    *longterm.Manager
	Retrieval   *retrieval.Engine
	Reply       *reply.Generator

	Neo4j    *neo4jdb.Client
	Temporal temporalsdkclient.Client

	wsUpgrader        *wsadapter.Upgrader
	maintenanceWorker temporalsdkworker.Worker

	cancel context.CancelFunc
}

// New builds every subsystem in dependency order: logger, config,
// Postgres (connect + AutoMigrate), the journaled persistence store,
// Neo4j (best-effort, absent without NEO4J_URI), Temporal (best-effort,
// absent without TEMPORAL_ADDRESS), the vector store and LLM engine,
// the three memory tiers, the plugin host, the permission manager, the
// event manager (plus an optional Redis fanout), the scheduler, the
// message bus with the reply generator mounted as its default route,
// and finally the HTTP router.
func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("loading configuration")
	cfg := LoadConfig(log)

	db, err := openPostgres(log, cfg)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := autoMigrate(db); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}

	dataDir := envutil.String("DATA_DIR", "./data")
	store, err := persistence.New(log, db, dataDir)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init persistence store: %w", err)
	}

	neo4jClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("neo4j unavailable, long-term graph disabled", "error", err)
	}
	if neo4jClient != nil {
		if err := graph.EnsureSchema(context.Background(), neo4jClient, log); err != nil {
			log.Warn("neo4j schema init failed", "error", err)
		}
	}

	temporalClient, err := temporalx.NewClient(log)
	if err != nil {
		log.Warn("temporal unavailable", "error", err)
	}

	vecStore, err := openVectorStore(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	llmEngine := llm.Engine(mock.New())

	perceptualMgr := perceptual.New(log, llmEngine, vecStore, cfg.Perceptual)
	shortTermMgr := shortterm.New(log, llmEngine, vecStore, cfg.ShortTerm)
	longTermMgr := longterm.New(log, neo4jClient, llmEngine, vecStore, store, cfg.LongTerm)
	retrievalEngine := retrieval.New(llmEngine, vecStore, shortTermMgr, neo4jClient, cfg.Retrieval)

	host := plugin.NewHost(log, nil)
	perms := permission.New(log, store.Permission, cfg.MasterUsers)
	events := event.New(log)
	sched := scheduler.New(log, events)
	busRuntime := bus.New(log)

	replyGen := reply.New(log, envelope.NewStreamRegistry(), host, perms, retrievalEngine, llmEngine, events, busRuntime, perceptualMgr, shortTermMgr, cfg.Reply)
	busRuntime.AddRoute("reply-generator", isIncoming, replyGen.Handle, "")

	wsUpgrader := wsadapter.NewUpgrader(log, makeWSConnHandler(log, busRuntime))

	a := &App{
		Log:    log,
		DB:     db,
		Cfg:    cfg,
		Store:  store,

		Host:  host,
		Perms: perms,

		Events: events,
		Sched:  sched,
		Bus:    busRuntime,

		VectorStore: vecStore,
		LLM:         llmEngine,
		Perceptual:  perceptualMgr,
		ShortTerm:   shortTermMgr,
		LongTerm:    longTermMgr,
		Retrieval:   retrievalEngine,
		Reply:       replyGen,

		Neo4j:    neo4jClient,
		Temporal: temporalClient,

		wsUpgrader: wsUpgrader,
	}

	if redisAddr := envutil.String("REDIS_ADDR", ""); redisAddr != "" {
		fanout, err := event.NewFanout(log, events, redisAddr, envutil.String("REDIS_EVENT_CHANNEL", ""))
		if err != nil {
			log.Warn("redis event fanout unavailable", "error", err)
		} else {
			a.Fanout = fanout
		}
	}

	if a.Temporal != nil {
		activities := &temporalx.MaintenanceActivities{ShortTerm: shortTermMgr, LongTerm: longTermMgr}
		a.maintenanceWorker = temporalx.RunMaintenanceWorker(log, a.Temporal, activities)
	}

	a.Router = a.wireRouter()
	return a, nil
}

// openVectorStore picks the embedding-index backend. VECTOR_STORE_PATH
// unset (the default) keeps the in-process InMemoryStore every test in
// this module also uses; setting it to a file path (or ":memory:")
// switches to the cgo-free modernc.org/sqlite-backed SQLiteStore, which
// survives a process restart without requiring a cgo toolchain or an
// external vector database — meant for local development, not
// production scale.
func openVectorStore(log *logger.Logger) (vectorstore.Store, error) {
	path := envutil.String("VECTOR_STORE_PATH", "")
	if path == "" {
		return vectorstore.NewInMemoryStore(), nil
	}
	log.Info("using sqlite vector store fallback", "path", path)
	return vectorstore.OpenSQLiteStore(path)
}

func openPostgres(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresName,
	)
	gormLog := gormlogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}
	return db, nil
}

// autoMigrate brings every durable SQL table spec.md §6 and §4.5
// name up to date: permission nodes/grants, chat streams, and the SQL
// mirror of the long-term memory graph.
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.PermissionNode{},
		&model.UserPermission{},
		&model.ChatStream{},
		&model.MemoryNode{},
		&model.MemoryEdge{},
		&model.LongTermMemory{},
	)
}

// isIncoming is the bus predicate the reply generator's default route
// is registered under: it handles every incoming envelope regardless
// of message type, deferring type-specific routing to plugin commands
// dispatched from within the generator itself.
func isIncoming(e envelope.MessageEnvelope) bool {
	return e.Direction == envelope.Incoming
}

// makeWSConnHandler reads each accepted websocket connection's frames,
// decodes them, and pushes them into the runtime as incoming envelopes.
// The connection is not registered as an outbound sink, so nothing is
// sent back over it.
func makeWSConnHandler(log *logger.Logger, runtime *bus.Runtime) func(*wsadapter.Conn) {
	return func(conn *wsadapter.Conn) {
		go func() {
			for frame := range conn.Frames() {
				e, err := envelope.Decode(frame.Payload)
				if err != nil {
					log.Warn("dropping malformed adapter frame", "error", err)
					continue
				}
				if err := runtime.PushIncoming(e); err != nil {
					log.Warn("failed to enqueue adapter envelope", "error", err)
				}
			}
		}()
	}
}

// Start launches every background loop: the short-term decay ticker,
// the short-term to long-term transfer loop and, if configured, the
// Redis event fanout's forwarding loop. It also replays journaled
// long-term batches and schedules the nightly maintenance workflow when
// a Temporal client is present. The
// scheduler and message bus already started their own loops inside
// their constructors, matching how those packages are built to be
// immediately live once constructed.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.ShortTerm != nil {
		a.ShortTerm.StartDecayLoop(decayTickInterval)
	}
	if a.ShortTerm != nil && a.LongTerm != nil {
		go a.runTransferLoop(ctx)
	}
	if a.Fanout != nil {
		if err := a.Fanout.StartForwarding(ctx); err != nil {
			a.Log.Warn("redis fanout forwarding failed to start", "error", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.ReplayFailedBatches(ctx); err != nil {
			a.Log.Warn("failed to replay journaled long-term batches", "error", err)
		}
	}
	if a.Temporal != nil {
		if err := temporalx.ScheduleNightlyMaintenance(ctx, a.Temporal); err != nil {
			a.Log.Warn("failed to schedule nightly memory maintenance workflow", "error", err)
		}
	}
}

// runTransferLoop drains the short-term transfer queue and hands each
// batch to the long-term consolidator on cfg.TransferInterval, the
// long_term_auto_transfer_interval spec.md §6/§8 names. A batch that
// fails consolidation is requeued (minus any memories dropped after
// exceeding the retry cap); a batch that succeeds is cleared from
// short-term storage.
func (a *App) runTransferLoop(ctx context.Context) {
	interval := a.Cfg.TransferInterval
	if interval <= 0 {
		interval = shortterm.DefaultTransferInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.drainAndConsolidate(ctx)
		}
	}
}

func (a *App) drainAndConsolidate(ctx context.Context) {
	batch := a.ShortTerm.DrainTransferBatch()
	if len(batch) == 0 {
		return
	}

	result, err := a.LongTerm.ConsolidateBatch(ctx, batch)
	dropped := map[string]bool{}
	for _, id := range result.DroppedMemoryIDs {
		dropped[id] = true
	}
	if err != nil {
		a.Log.Warn("long-term consolidation failed, requeuing batch", "error", err, "batch_size", len(batch))
		var requeue []*shortterm.Memory
		for _, mem := range batch {
			if !dropped[mem.ID] {
				requeue = append(requeue, mem)
			}
		}
		a.ShortTerm.Requeue(requeue)
		if len(result.DroppedMemoryIDs) > 0 {
			a.ShortTerm.Clear(ctx, result.DroppedMemoryIDs)
		}
		return
	}

	a.ShortTerm.Clear(ctx, result.AppliedMemoryIDs)
}

// Run blocks serving the HTTP router on addr.
func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

// Close tears down every subsystem in the reverse order New built it:
// background loops, then the message bus, then the scheduler, then the
// event fanout, then the long-lived external clients, then the
// logger's buffered output.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.ShortTerm != nil {
		a.ShortTerm.Shutdown()
	}
	if a.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.Bus.Shutdown(ctx)
		cancel()
	}
	if a.Sched != nil {
		a.Sched.Shutdown()
	}
	if a.Fanout != nil {
		_ = a.Fanout.Close()
	}
	if a.maintenanceWorker != nil {
		a.maintenanceWorker.Stop()
	}
	if a.Temporal != nil {
		a.Temporal.Close()
	}
	if a.Neo4j != nil {
		_ = a.Neo4j.Close(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
