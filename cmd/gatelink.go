package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gatelink/internal/adapter"
	"gatelink/internal/adapter/vless"
	"gatelink/internal/adapter/wireguard"
	"gatelink/internal/config"
	"gatelink/internal/creds"
	"gatelink/internal/manager"
	"gatelink/internal/models"
	"gatelink/internal/netmon"
	"gatelink/internal/reconnect"
	"gatelink/internal/storage"
	"gatelink/internal/tun"
	"gatelink/pkg/jsonhelper"
	logg "gatelink/pkg/logger"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	connectCmd = &cobra.Command{
		Use:   "connect <profile-id>",
		Short: "connect a saved profile and keep the tunnel alive",
		Args:  cobra.ExactArgs(1),
		RunE:  runConnect,
	}

	testCmd = &cobra.Command{
		Use:   "test <profile-id>",
		Short: "probe a profile's server without disturbing the current tunnel",
		Args:  cobra.ExactArgs(1),
		RunE:  runTest,
	}

	jsonOut bool
)

type app struct {
	cfg      *config.Config
	storage  *storage.AppStorage
	profiles *storage.SQLiteProfileStore
	creds    creds.Store
	mgr      *manager.Manager
	engine   *reconnect.Engine
	monitor  *netmon.Monitor
}

func buildApp() (*app, error) {
	cfg := resolveConfig()

	logger := logg.New(cfg.Logger).Desugar()
	zap.ReplaceGlobals(logger)
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	appStorage, err := storage.NewAppStorage("gatelink")
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	profiles, err := storage.OpenProfileStore(appStorage)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}

	credStore, err := buildCredStore(cfg, appStorage)
	if err != nil {
		return nil, err
	}

	wgAdapter := wireguard.New(
		wireguard.NewToolEngine(filepath.Join(appStorage.ConfigPath(), "wg")),
		credStore,
		wireguardOptions(cfg),
	)
	vlessAdapter := vless.New(credStore, vlessOptions(cfg))

	mgr := manager.New(profiles, map[models.Protocol]adapter.Adapter{
		models.ProtocolWireGuard: wgAdapter,
		models.ProtocolVLESS:     vlessAdapter,
	})

	engine := reconnect.NewEngine(reconnect.Config{
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		InitialDelay: time.Duration(cfg.Reconnect.InitialDelaySec) * time.Second,
		MaxDelay:     time.Duration(cfg.Reconnect.MaxDelaySec) * time.Second,
	}, mgr)
	mgr.SetReconnect(engine)

	return &app{
		cfg:      cfg,
		storage:  appStorage,
		profiles: profiles,
		creds:    credStore,
		mgr:      mgr,
		engine:   engine,
		monitor:  netmon.NewMonitor(time.Duration(cfg.Netmon.PollIntervalSec) * time.Second),
	}, nil
}

func buildCredStore(cfg *config.Config, appStorage *storage.AppStorage) (creds.Store, error) {
	switch cfg.Creds.Backend {
	case "", "keyring":
		return creds.NewKeyringStore(), nil
	case "file":
		if cfg.Creds.Passphrase == "" {
			return nil, fmt.Errorf("the file credential backend needs CREDS_PASSPHRASE")
		}
		return creds.NewFileStore(
			filepath.Join(appStorage.ConfigPath(), "vault.json"),
			cfg.Creds.Passphrase,
		)
	default:
		return nil, fmt.Errorf("unknown credential backend %q", cfg.Creds.Backend)
	}
}

func wireguardOptions(cfg *config.Config) wireguard.Options {
	opts := wireguard.DefaultOptions()
	opts.VerifyWindow = time.Duration(cfg.Verify.WindowSec) * time.Second
	opts.MonitorInterval = time.Duration(cfg.Verify.MonitorIntervalSec) * time.Second
	opts.LostAfterPolls = cfg.Verify.LostAfterPolls
	opts.MinUptimeForLost = time.Duration(cfg.Verify.MinUptimeForLostSec) * time.Second
	return opts
}

func vlessOptions(cfg *config.Config) vless.Options {
	opts := vless.DefaultOptions()
	opts.ProbeHost = cfg.Vless.ProbeHost
	opts.ProbePort = uint16(cfg.Vless.ProbePort)
	opts.ProbeInterval = time.Duration(cfg.Vless.ProbeIntervalSec) * time.Second
	if cfg.Tun.Enabled {
		opts.Tun = tun.NewDevice()
		opts.TunConfig = &tun.Config{
			DeviceName: cfg.Tun.DeviceName,
			Address:    cfg.Tun.Address,
			Gateway:    cfg.Tun.Gateway,
			MTU:        cfg.Tun.MTU,
		}
	}
	return opts
}

func (a *app) close() {
	if err := a.profiles.Close(); err != nil {
		log.WithError(err).Warn("Closing profile store failed")
	}
}

func runConnect(_ *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.monitor.Run(ctx)
	go a.engine.Run(ctx, a.mgr, a.monitor.Events())

	sub := a.mgr.ObserveState()
	defer sub.Cancel()
	go func() {
		for state := range sub.C {
			switch state.Phase {
			case models.PhaseConnected:
				fmt.Printf("connected to %s\n", state.Connection.ServerAddr)
			case models.PhaseError:
				fmt.Printf("error: %v\n", state.Err)
			default:
				fmt.Println(state.Phase)
			}
		}
	}()

	if err := a.mgr.Connect(ctx, args[0]); err != nil {
		return err
	}

	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			a.mgr.Disconnect(disconnectCtx)
			cancel()
			return nil
		case <-statsTicker.C:
			stats := a.mgr.Statistics()
			if stats == nil {
				continue
			}
			if jsonOut {
				fmt.Println(string(jsonhelper.Encode(stats)))
				continue
			}
			fmt.Printf("rx %d B (%.0f B/s)  tx %d B (%.0f B/s)  up %s\n",
				stats.BytesReceived, stats.DownloadRate,
				stats.BytesSent, stats.UploadRate,
				stats.Duration.Round(time.Second))
		}
	}
}

func runTest(_ *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := a.mgr.TestConnection(ctx, args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		fmt.Println(string(jsonhelper.Encode(result)))
		return nil
	}
	if !result.Success {
		return fmt.Errorf("test failed: %s", result.ErrorMessage)
	}
	fmt.Printf("ok, %d ms\n", result.LatencyMs)
	return nil
}

func init() {
	connectCmd.Flags().BoolVar(&jsonOut, "json", false, "emit statistics as JSON lines")
	testCmd.Flags().BoolVar(&jsonOut, "json", false, "emit the result as JSON")
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(testCmd)
}
