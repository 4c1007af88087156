package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iotpanel/config"
	"iotpanel/crypto"
	"iotpanel/dashboard"
	"iotpanel/device"
	"iotpanel/discovery"
	"iotpanel/ledger"
	"iotpanel/message"
)

func main() {
	fund := flag.Uint64("fund", 0, "request an airdrop of this many lamports to the signer before serving")
	browse := flag.Bool("browse", false, "list other dashboards on the LAN and exit")
	flag.Parse()

	cfg, cfgPath, dataDir, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("startup failed while configuring logging: %v", err)
	}
	slog.SetDefault(logger)

	signerKey, err := crypto.EnsureSignerKey(cfg.KeypairPath, os.Getenv(config.EnvKeyPassphrase))
	if err != nil {
		log.Fatalf("startup failed while preparing signer key: %v", err)
	}
	signer := signerKey.PublicKey()

	payload, err := ledger.ParsePayloadMode(cfg.PayloadMode)
	if err != nil {
		log.Fatalf("startup failed while reading payload mode: %v", err)
	}
	source, err := dashboard.ParseDeviceSource(cfg.DeviceSource)
	if err != nil {
		log.Fatalf("startup failed while reading device source: %v", err)
	}

	fmt.Printf("Signer:          %s\n", signer)
	fmt.Printf("Fingerprint:     %s\n", crypto.FormatFingerprint(crypto.KeyFingerprint(signer)))
	fmt.Printf("Program ID:      %s\n", cfg.ProgramID)
	fmt.Printf("Endpoint:        %s (%s)\n", cfg.Endpoint, cfg.Commitment)
	fmt.Printf("Payload Mode:    %s\n", payload)
	fmt.Printf("Device Source:   %s\n", source)
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	adapter := ledger.NewAdapter(ledger.AdapterOptions{Logger: logger.With("component", "ledger")})
	defer func() {
		if err := adapter.Close(); err != nil {
			logger.Warn("ledger close error", "error", err)
		}
	}()
	if err := adapter.SetSigner(signerKey); err != nil {
		log.Fatalf("startup failed while setting signer: %v", err)
	}
	if err := adapter.SetProgramID(cfg.ProgramID); err != nil {
		log.Fatalf("startup failed while setting program ID: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *browse {
		if err := listDashboards(ctx, cfg, signer.String()); err != nil {
			log.Fatalf("browse failed: %v", err)
		}
		return
	}

	messages := message.NewService(adapter, message.Options{
		Payload: payload,
		Logger:  logger.With("component", "message"),
	})
	devices := device.NewService(adapter, device.Options{
		Payload: payload,
		Logger:  logger.With("component", "device"),
	})

	connection := cfg.Connection()
	view := dashboard.NewView(messages, devices, dashboard.ViewOptions{
		Connect: func(ctx context.Context) error {
			return adapter.EstablishConnection(ctx, connection)
		},
		DeviceSource: source,
		Wallet:       adapter,
		Logger:       logger.With("component", "view"),
	})

	// A failed mount is shown in the dashboard status; the server still starts.
	if err := view.Mount(ctx); err != nil {
		logger.Warn("dashboard mount failed", "error", err)
	}

	if *fund > 0 {
		signature, err := adapter.Fund(ctx, *fund)
		if err != nil {
			logger.Warn("airdrop failed", "lamports", *fund, "error", err)
		} else {
			fmt.Printf("Airdrop:         %d lamports (%s)\n", *fund, signature)
		}
		if wallet, err := view.RefreshWallet(ctx); err != nil {
			logger.Warn("wallet refresh failed", "error", err)
		} else {
			fmt.Printf("Balance:         %d lamports\n", wallet.Lamports)
		}
	}

	if cfg.Advertise {
		advertiser, err := advertise(cfg, signer.String())
		if err != nil {
			logger.Warn("discovery startup failed", "error", err)
		} else {
			defer advertiser.Stop()
			fmt.Println("Discovery:       advertising")
		}
	}

	server, err := dashboard.NewServer(view, dashboard.ServerOptions{
		Addr:   cfg.ListenAddr,
		Logger: logger.With("component", "http"),
	})
	if err != nil {
		log.Fatalf("startup failed while building dashboard: %v", err)
	}

	fmt.Printf("Dashboard:       http://%s/\n", cfg.ListenAddr)
	fmt.Println("Status:          running (press Ctrl+C to stop)")
	if err := server.Start(ctx); err != nil {
		log.Fatalf("dashboard server failed: %v", err)
	}
	fmt.Println("Status:          shutting down")
}

func newLogger(cfg *config.PanelConfig) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.LogFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, errors.New("unknown log format " + cfg.LogFormat)
	}
}

func discoveryConfig(cfg *config.PanelConfig, signer string) (discovery.Config, error) {
	port, err := discovery.ListenPort(cfg.ListenAddr)
	if err != nil {
		return discovery.Config{}, err
	}
	return discovery.Config{
		InstanceName: cfg.InstanceName,
		Port:         port,
		ProgramID:    cfg.ProgramID,
		Signer:       signer,
	}, nil
}

func advertise(cfg *config.PanelConfig, signer string) (*discovery.Advertiser, error) {
	dcfg, err := discoveryConfig(cfg, signer)
	if err != nil {
		return nil, err
	}
	return discovery.Advertise(dcfg)
}

func listDashboards(ctx context.Context, cfg *config.PanelConfig, signer string) error {
	dcfg, err := discoveryConfig(cfg, signer)
	if err != nil {
		return err
	}
	dcfg.BrowseTimeout = 5 * time.Second

	found, err := discovery.Browse(ctx, dcfg)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No other dashboards found.")
		return nil
	}
	for _, d := range found {
		fmt.Printf("%-24s %v:%d program=%s signer=%s\n", d.Instance, d.Addresses, d.Port, d.ProgramID, d.Signer)
	}
	return nil
}
