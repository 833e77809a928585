// Command dispatchernode runs a standalone service runtime dispatcher node:
// it loads a YAML configuration, opens a storage backend, wires the native
// runtime hosting the wallet and reconfig services, and replays genesis and
// any persisted state. There is no P2P layer or consensus loop in this
// module's scope (spec.md §1 Non-goals); driving blocks through the
// dispatcher is left to a caller embedding this package or a future
// transport.
package main

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/nspcc-dev/dispatchernode/pkg/config"
	"github.com/nspcc-dev/dispatchernode/pkg/dispatcher"
	runtimepkg "github.com/nspcc-dev/dispatchernode/pkg/runtime"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime/native"
	"github.com/nspcc-dev/dispatchernode/pkg/services/reconfig"
	"github.com/nspcc-dev/dispatchernode/pkg/services/wallet"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

func main() {
	app := &cli.App{
		Name:  "dispatchernode",
		Usage: "deploy/register/start/execute services against a Merkleized dispatcher state",
		Commands: []*cli.Command{
			newRunCommand(),
			newDBCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var configFileFlag = &cli.StringFlag{
	Name:     "config-file",
	Usage:    "path to the node's YAML configuration",
	Required: true,
}

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "open storage, wire the native runtime, replay genesis and the persisted state",
		Flags: []cli.Flag{
			configFileFlag,
			&cli.BoolFlag{Name: "debug", Usage: "force debug log level"},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadFile(ctx.String("config-file"))
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			log, closer, err := handleLoggingParams(ctx, cfg.ApplicationConfiguration)
			if err != nil {
				return fmt.Errorf("logging: %w", err)
			}
			defer closer()

			store, err := openStorage(cfg.ApplicationConfiguration.Storage)
			if err != nil {
				return fmt.Errorf("storage: %w", err)
			}
			defer store.Close()

			if len(cfg.ApplicationConfiguration.Runtimes) == 0 {
				return fmt.Errorf("at least one runtime must be configured")
			}
			runtimeID := cfg.ApplicationConfiguration.Runtimes[0].ID
			d, rt, err := buildDispatcher(runtimeID, cfg.ApplicationConfiguration.Services, log)
			if err != nil {
				return err
			}

			restoreSnapshot := storage.NewFork(store)
			if err := d.RestoreFromSnapshot(restoreSnapshot); err != nil {
				return fmt.Errorf("restore: %w", err)
			}

			fork := storage.NewFork(store)
			if err := processGenesis(d, fork, runtimeID, cfg.ApplicationConfiguration.Genesis); err != nil {
				return fmt.Errorf("genesis: %w", err)
			}
			if d.Modified() {
				if _, err := fork.Commit(); err != nil {
					return fmt.Errorf("commit genesis: %w", err)
				}
				d.ResetModified()
			}

			log.Info("dispatcher node ready", zap.Uint32("native_runtime_id", rt.ID()))

			if cfg.ApplicationConfiguration.Prometheus.Enabled {
				serveMetrics(cfg.ApplicationConfiguration.Prometheus, log)
			}
			return nil
		},
	}
}

func newDBCommand() *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "storage maintenance",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "create an empty storage backend at the configured path",
				Flags: []cli.Flag{configFileFlag},
				Action: func(ctx *cli.Context) error {
					cfg, err := config.LoadFile(ctx.String("config-file"))
					if err != nil {
						return fmt.Errorf("config: %w", err)
					}
					store, err := openStorage(cfg.ApplicationConfiguration.Storage)
					if err != nil {
						return fmt.Errorf("storage: %w", err)
					}
					return store.Close()
				},
			},
		},
	}
}

func openStorage(sc config.StorageConfiguration) (storage.Store, error) {
	switch sc.Backend {
	case config.StorageBolt:
		return storage.NewBoltStore(storage.BoltOptions{FilePath: sc.BoltDBPath})
	case config.StorageLevel:
		return storage.NewLevelStore(storage.LevelOptions{DataDirectoryPath: sc.LevelDBPath})
	case config.StorageMemory, "":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

// buildDispatcher constructs the dispatcher and its one native runtime,
// registering every service artifact named in services. Only "wallet" and
// "reconfig" are known factories; anything else in the config is a
// configuration error, not a runtime one.
func buildDispatcher(runtimeID uint32, services []config.ServiceArtifact, log *zap.Logger) (*dispatcher.Dispatcher, *native.Runtime, error) {
	dispatcher.InitMetrics()
	d := dispatcher.New(log)

	rt := native.New(runtimeID, log)
	for _, svc := range services {
		switch svc.Name {
		case wallet.ArtifactName:
			rt.Register(wallet.ArtifactName, wallet.NewFactory(runtimeID))
		case reconfig.ArtifactName:
			rt.Register(reconfig.ArtifactName, reconfig.NewFactory(runtimeID))
		default:
			return nil, nil, fmt.Errorf("no native factory for service artifact %q", svc.Name)
		}
	}
	d.AddRuntime(rt)
	return d, rt, nil
}

// processGenesis deploys, registers and starts every configured genesis
// instance in order (spec.md §4.2.2): AddBuiltinService handles the full
// deploy-register-start sequence atomically per instance. Instances already
// running after RestoreFromSnapshot are skipped.
func processGenesis(d *dispatcher.Dispatcher, fork *storage.Fork, runtimeID uint32, instances []config.GenesisInstance) error {
	for _, gi := range instances {
		if d.IsRunning(gi.ID) {
			continue
		}
		constructor, err := hex.DecodeString(gi.ConstructorHex)
		if err != nil {
			return fmt.Errorf("genesis instance %s: malformed ConstructorHex: %w", gi.Name, err)
		}
		artifact := runtimepkg.ArtifactID{
			RuntimeID: runtimeID,
			Name:      gi.Artifact.Name,
			Version:   gi.Artifact.Version,
		}
		spec := runtimepkg.InstanceSpec{ID: gi.ID, Name: gi.Name, Artifact: artifact}
		if err := d.AddBuiltinService(fork, spec, constructor, true); err != nil {
			return fmt.Errorf("genesis instance %s: %w", gi.Name, err)
		}
	}
	return nil
}

func serveMetrics(svc config.BasicService, log *zap.Logger) {
	for _, addr := range svc.Addresses {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func(s *http.Server) {
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("prometheus listener stopped", zap.Error(err))
			}
		}(srv)
	}
}

// handleLoggingParams mirrors the node's production logger assembly:
// console encoding (JSON is not selectable), a dynamically adjustable level, and a timestamp
// that is only emitted when attached to a terminal (cron/CI log files stay
// diffable without a churning timestamp column).
func handleLoggingParams(ctx *cli.Context, cfg config.ApplicationConfiguration) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	encoding := "console"
	var err error
	if cfg.LogLevel != "" {
		level, err = zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
	}
	if ctx.Bool("debug") {
		level = zapcore.DebugLevel
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if term.IsTerminal(int(os.Stdout.Fd())) {
		cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cc.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {}
	}
	cc.Encoding = encoding
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil

	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0750); err != nil {
			return nil, nil, err
		}
		cc.OutputPaths = []string{cfg.LogPath}
		cc.ErrorOutputPaths = []string{cfg.LogPath}
	}

	log, err := cc.Build()
	if err != nil {
		return nil, nil, err
	}
	return log, log.Sync, nil
}
