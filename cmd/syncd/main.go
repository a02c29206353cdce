package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reciperage/syncd/internal/config"
	"github.com/reciperage/syncd/internal/core/event"
	coresys "github.com/reciperage/syncd/internal/core/system"
	"github.com/reciperage/syncd/internal/data"
	"github.com/reciperage/syncd/internal/eventsync"
	"github.com/reciperage/syncd/internal/handler"
	gonet "github.com/reciperage/syncd/internal/net"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"github.com/reciperage/syncd/internal/persist"
	"github.com/reciperage/syncd/internal/phase"
	"github.com/reciperage/syncd/internal/scene"
	"github.com/reciperage/syncd/internal/scripting"
	"github.com/reciperage/syncd/internal/status"
	"github.com/reciperage/syncd/internal/system"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, id peer.ID) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            RecipeRage syncd  v0.1.0       \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m        session authority · scene sync     \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mServer:\033[0m %s \033[90m(authority: %s)\033[0m\n\n", serverName, id.Short())
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("SYNCD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	localID := peer.NewID()
	printBanner(cfg.Server.Name, localID)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. Optional history database
	var (
		journal *persist.Journal
		history *persist.HistoryRepo
	)
	if cfg.Database.Enabled {
		printSection("Database")
		dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		db, err := persist.NewDB(dbCtx, cfg.Database, log)
		if err != nil {
			cancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		version, err := persist.RunMigrations(dbCtx, db.Pool, log)
		if err != nil {
			cancel()
			return fmt.Errorf("migrations: %w", err)
		}
		printOK(fmt.Sprintf("schema at version %d", version))

		history = persist.NewHistoryRepo(db)
		if err := history.OpenSession(dbCtx, localID.String(), cfg.Server.Name); err != nil {
			cancel()
			return fmt.Errorf("open session history: %w", err)
		}
		cancel()
		journal = persist.NewJournal(history, log)
		fmt.Println()
	}

	// 4. Scene catalog and rules
	printSection("Data")
	catalog, err := data.LoadSceneTable(cfg.Scenes.CatalogPath)
	if err != nil {
		return fmt.Errorf("load scene table: %w", err)
	}
	printStat("scenes", catalog.Count())

	rules, err := scripting.NewEngine(cfg.Scripting.Dir, cfg.Phase.Playing, log)
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	defer rules.Close()
	printOK("round rules loaded")
	fmt.Println()

	// 5. Session state
	peers := peer.NewAuthorityRegistry(localID)
	bus := event.NewBus(peers, log)
	event.RegisterSessionEvents(bus)
	event.WatchPeers(bus, peers)

	sessions := gonet.NewSessionStore()

	phaseOpts := phase.Options{Preparation: cfg.Phase.Preparation, Policy: rules}
	sceneOpts := scene.Options{DefaultTimeout: cfg.Scenes.DefaultTimeout}
	if journal != nil {
		phaseOpts.Recorder = journal
		sceneOpts.Recorder = journal
	}
	machine := phase.NewMachine(peers, sessions, bus, phaseOpts, log)

	loader := scene.SimulatedLoader{Step: 100 * time.Millisecond, Steps: 5}
	scenes := scene.NewCoordinator(peers, sessions, bus, catalog, loader, sceneOpts, log)

	peers.OnConnected(scenes.PeerConnected)
	peers.OnConnected(machine.SyncPeer)
	peers.OnDisconnected(scenes.PeerDisconnected)

	followPhases(ctx, bus, scenes, catalog, cfg.Scenes, log)

	// 6. Handlers and transport
	pktReg := packet.NewRegistry(log)
	handler.RegisterAll(pktReg, &handler.Deps{
		Ctx:      ctx,
		Config:   cfg,
		Log:      log,
		Peers:    peers,
		Sessions: sessions,
		Phase:    machine,
		Scenes:   scenes,
	})

	netServer, err := gonet.NewServer(cfg.Network.BindAddress, gonet.SessionOptions{
		InQueueSize:  cfg.Network.InQueueSize,
		OutQueueSize: cfg.Network.OutQueueSize,
		MaxPerSecond: cfg.Network.PacketsPerSecond,
		WriteTimeout: cfg.Network.WriteTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.AcceptLoop()

	// 7. Tick systems
	receiver := eventsync.NewReceiver(bus, peers, log)
	flusher := eventsync.NewFlusher(bus, peers, sessions, cfg.Events.MaxBatchSize, cfg.Events.FlushInterval, log)
	flusher.LoopBack(receiver)

	runner := coresys.NewRunner()
	runner.WatchBudget(cfg.Network.TickRate, func(tick uint64, took time.Duration) {
		log.Warn("tick overran budget", zap.Uint64("tick", tick), zap.Duration("took", took))
	})
	runner.Register(system.NewInputSystem(netServer.NewSessions(), pktReg, sessions, peers,
		cfg.Network.MaxPacketsPerTick, cfg.Network.HandshakeTimeout, log))
	runner.Register(system.NewPhaseSystem(machine, time.Now))
	runner.Register(flusher)
	runner.Register(system.NewOutputSystem(sessions))
	var persistSys *system.PersistenceSystem
	if journal != nil {
		persistSys = system.NewPersistenceSystem(journal, cfg.Database.FlushInterval, log)
		runner.Register(persistSys)
	}

	// 8. Status surface
	var statusSrv *status.Server
	var feed *status.Feed
	if cfg.Status.Enabled {
		feed = status.NewFeed(log)
		feed.Attach(bus)
		statusSrv = status.NewServer(cfg.Status.BindAddress, status.Deps{
			Name:    cfg.Server.Name,
			Ctx:     ctx,
			Peers:   peers,
			Phase:   machine,
			Scenes:  scenes,
			Catalog: catalog,
			Feed:    feed,
			Log:     log,
		})
		go func() {
			if err := statusSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status server stopped", zap.Error(err))
			}
		}()
		printOK("status surface on " + cfg.Status.BindAddress)
	}

	// 9. Startup scenes
	go func() {
		for _, name := range cfg.Scenes.Startup {
			if err := scenes.RequestLoadByName(ctx, localID, name); err != nil {
				log.Error("startup scene failed", zap.String("scene", name), zap.Error(err))
			}
		}
	}()

	printReady(fmt.Sprintf("listening on %s (tick %s)", netServer.Addr(), cfg.Network.TickRate))
	fmt.Println()

	// 10. Game loop
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Network.TickRate)

		case sig := <-sigCh:
			log.Info("shutting down", zap.String("signal", sig.String()))
			stop()

			if statusSrv != nil {
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := statusSrv.Shutdown(shutCtx); err != nil {
					log.Warn("status shutdown", zap.Error(err))
				}
				cancel()
				feed.Close()
			}

			netServer.Shutdown()
			// Deliver any outcome broadcasts produced by the cancellation.
			runner.TickPhase(cfg.Events.FlushInterval, coresys.PhasePostUpdate, coresys.PhaseOutput)

			if persistSys != nil {
				persistSys.Flush()
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := history.CloseSession(closeCtx); err != nil {
					log.Warn("close session history", zap.Error(err))
				}
				cancel()
			}
			log.Info("server stopped")
			return nil
		}
	}
}

// followPhases swaps the match and lobby scenes as rounds start and end.
func followPhases(ctx context.Context, bus *event.Bus, scenes *scene.Coordinator, catalog scene.Catalog, cfg config.ScenesConfig, log *zap.Logger) {
	load := func(name string) {
		if name == "" || scenes.IsLoaded(name) {
			return
		}
		p, ok := catalog.Resolve(name)
		if !ok {
			log.Warn("phase scene not in catalog", zap.String("scene", name))
			return
		}
		go func() {
			if err := scenes.RequestLoad(ctx, p); err != nil {
				log.Warn("phase scene load failed", zap.String("scene", name), zap.Error(err))
			}
		}()
	}
	event.SubscribeLocal(bus, func(c phase.Changed) {
		switch {
		case c.Current == phase.Preparation:
			load(cfg.Match)
		case c.Current == phase.Waiting && c.Previous != phase.Waiting:
			load(cfg.Lobby)
		}
	}, 0)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
