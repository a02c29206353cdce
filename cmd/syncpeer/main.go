package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reciperage/syncd/internal/config"
	"github.com/reciperage/syncd/internal/core/event"
	coresys "github.com/reciperage/syncd/internal/core/system"
	"github.com/reciperage/syncd/internal/eventsync"
	"github.com/reciperage/syncd/internal/handler"
	gonet "github.com/reciperage/syncd/internal/net"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"github.com/reciperage/syncd/internal/phase"
	"github.com/reciperage/syncd/internal/scene"
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

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run() error {
	fs := flag.NewFlagSet("syncpeer", flag.ExitOnError)
	addr := fs.String("addr", envOr("SYNCPEER_ADDR", "127.0.0.1:7777"), "authority address")
	name := fs.String("name", envOr("SYNCPEER_NAME", "peer"), "display name sent in hello")
	joinKey := fs.String("key", os.Getenv("SYNCPEER_JOIN_KEY"), "session join key")
	tick := fs.Duration("tick", 50*time.Millisecond, "tick rate")
	loadStep := fs.Duration("load-step", 100*time.Millisecond, "simulated scene load step")
	level := fs.String("log-level", envOr("SYNCPEER_LOG_LEVEL", "info"), "log level")
	_ = fs.Parse(os.Args[1:])

	log, err := newLogger(config.LoggingConfig{Level: *level, Format: "console"})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	sess, err := gonet.Dial(dialCtx, *addr, gonet.SessionOptions{}, log)
	cancel()
	if err != nil {
		return err
	}
	defer sess.Close()

	peers := peer.NewPeerRegistry()
	bus := event.NewBus(peers, log)
	event.RegisterSessionEvents(bus)
	event.WatchPeers(bus, peers)
	event.FollowRoster(bus, peers)
	logPresentation(bus, log)

	uplink := gonet.Uplink{Session: sess, Authority: peers.AuthorityID}
	follower := scene.NewFollower(peers, uplink, bus, scene.SimulatedLoader{Step: *loadStep, Steps: 5}, log)
	defer follower.Close()

	pktReg := packet.NewRegistry(log)
	handler.RegisterPeer(pktReg, &handler.PeerDeps{
		Log:      log,
		Peers:    peers,
		Uplink:   sess,
		Follower: follower,
		Mirror:   phase.NewMirror(bus, log),
		Events:   eventsync.NewReceiver(bus, peers, log),
	})

	if err := uplink.SendTo(peer.None, packet.Hello{Name: *name, JoinKey: *joinKey}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	log.Info("hello sent", zap.String("authority", *addr), zap.String("name", *name))

	runner := coresys.NewRunner()
	runner.Register(system.NewUplinkSystem(sess, pktReg, 64, log))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runner.Tick(*tick)

		case <-sess.Done():
			// Frames already queued are still dispatched before exiting.
			runner.Tick(*tick)
			log.Info("connection to authority closed")
			return nil

		case sig := <-sigCh:
			log.Info("leaving session", zap.String("signal", sig.String()))
			return nil
		}
	}
}

// logPresentation stands in for a loading screen.
func logPresentation(bus *event.Bus, log *zap.Logger) {
	event.SubscribeLocal(bus, func(e scene.LoadStarted) {
		log.Info("loading", zap.String("scene", e.Scene))
	}, 0)
	event.SubscribeLocal(bus, func(e scene.LoadCompleted) {
		log.Info("scene ready", zap.String("scene", e.Scene))
	}, 0)
	event.SubscribeLocal(bus, func(e scene.LoadTimedOut) {
		log.Warn("scene load timed out", zap.String("scene", e.Scene))
	}, 0)
	event.SubscribeLocal(bus, func(e scene.LoadFailed) {
		log.Warn("scene load failed", zap.String("scene", e.Scene), zap.String("reason", e.Reason))
	}, 0)
	event.SubscribeLocal(bus, func(e phase.Changed) {
		log.Info("phase", zap.Stringer("from", e.Previous), zap.Stringer("to", e.Current), zap.Duration("duration", e.Duration))
	}, 0)
	event.SubscribeLocal(bus, func(e event.PeerConnected) {
		log.Info("peer joined", zap.String("peer", e.ID.Short()))
	}, 0)
	event.SubscribeLocal(bus, func(e event.PeerDisconnected) {
		log.Info("peer left", zap.String("peer", e.ID.Short()))
	}, 0)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	zapCfg.EncoderConfig.ConsoleSeparator = "  "
	zapCfg.DisableCaller = true
	zapCfg.DisableStacktrace = true
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
