package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hypo-app/hypo-core/internal/discovery"
	"github.com/hypo-app/hypo-core/internal/health"
	"github.com/hypo-app/hypo-core/internal/incoming"
	"github.com/hypo-app/hypo-core/internal/logger"
	"github.com/hypo-app/hypo-core/internal/metrics"
	"github.com/hypo-app/hypo-core/internal/model"
	"github.com/hypo-app/hypo-core/internal/pairing"
	"github.com/hypo-app/hypo-core/internal/syncer"
	"github.com/hypo-app/hypo-core/internal/transport/cloud"
	"github.com/hypo-app/hypo-core/internal/transport/lan"
	"github.com/hypo-app/hypo-core/internal/transportmgr"
	"github.com/hypo-app/hypo-core/pkg/history"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync engine daemon",
	Long: `serve starts discovery, the LAN and cloud-relay transports, the
pairing responder, the sync coordinator, and the /metrics and /health HTTP
surfaces, and blocks until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := buildLogger(cfg)

	dev, err := loadIdentity()
	if err != nil {
		return err
	}
	log.Info("identity loaded", logger.String("device_id", string(dev.ID)), logger.String("name", dev.Name))

	vault, err := openKeyStore(cfg)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	roster, err := openPairedStore()
	if err != nil {
		return fmt.Errorf("open paired-device roster: %w", err)
	}
	hist := history.NewMemoryStore()
	pairSession := pairing.NewSession(dev.ID, dev.Name)

	_, lanPortStr, err := net.SplitHostPort(cfg.Transport.LanListenAddr)
	if err != nil {
		return fmt.Errorf("parse lan_listen_addr: %w", err)
	}
	lanPort, err := strconv.Atoi(lanPortStr)
	if err != nil {
		return fmt.Errorf("parse lan_listen_addr port: %w", err)
	}

	// inHandler and coord are wired in after the transport layer is built,
	// since lan.NewServer/cloud.NewClient need their frame callback up
	// front but incoming.New/syncer.New need the transport manager to
	// already exist. The closures below close over these pointers and are
	// only invoked once Start() is called, by which point both are set.
	var inHandler *incoming.Handler
	var lanServer *lan.Server
	var cloudClient *cloud.Client

	routeFrame := func(ctx context.Context, peer model.DeviceId, transport model.Transport, frame []byte) {
		switch peekEnvelopeType(frame) {
		case model.EnvelopePairingChallenge:
			var cloudSend func([]byte) error
			if transport == model.TransportCloud && cloudClient != nil {
				cloudSend = cloudClient.Send
			}
			respondToPairing(ctx, log, pairSession, dev, vault, roster, peer, transport, frame, lanServer, cloudSend)
		case model.EnvelopePairingAck:
			log.Debug("serve: unsolicited pairing ack, discarding", logger.String("peer", string(peer)))
		default:
			if inHandler != nil {
				inHandler.HandleFrame(ctx, transport, frame)
			}
		}
	}

	lanFrameHandler := func(ctx context.Context, peer model.DeviceId, frame []byte) {
		routeFrame(ctx, peer, model.TransportLAN, frame)
	}
	lanServer = lan.NewServer(lanFrameHandler, log)

	if cfg.Transport.CloudURL != "" {
		cloudClient = cloud.NewClient(cloud.Options{
			URL:             cfg.Transport.CloudURL,
			LocalDeviceID:   dev.ID,
			Platform:        dev.Platform,
			ClientVersion:   "1",
			PinnedSHA256Hex: cfg.Transport.CloudPinnedSHA256,
			DialTimeout:     cfg.Transport.DialTimeout,
			WriteTimeout:    cfg.Transport.WriteTimeout,
			PingInterval:    cfg.Transport.PingInterval,
			SendQueueSize:   cfg.Transport.SendQueueSize,
			MaxBackoff:      cfg.Transport.MaxBackoff,
			Logger:          log,
			OnPinningFailure: func(host string) {
				metrics.PinningFailures.WithLabelValues(host).Inc()
			},
		}, func(ctx context.Context, origin model.DeviceId, frame []byte) {
			routeFrame(ctx, origin, model.TransportCloud, frame)
		})
	}

	discoverySvc := discovery.NewService(discovery.Options{
		ServiceName:     cfg.Discovery.ServiceName,
		Domain:          cfg.Discovery.Domain,
		Port:            lanPort,
		StaleAfter:      cfg.Discovery.StaleAfter,
		RegisterBackoff: cfg.Discovery.RegisterBackoff,
		Logger:          log,
	})

	transportMgr := transportmgr.NewManager(transportmgr.Options{
		LocalDeviceID:  dev.ID,
		PreferenceFile: cfg.Transport.PreferenceFile,
		Logger:         log,
	}, discoverySvc, lanServer, cloudClient)

	coord := syncer.New(dev.ID, vault, transportMgr, hist, log, cfg.History.PlaintextDebug)

	inHandler = incoming.New(incoming.Options{
		LocalDeviceID: dev.ID,
		Keys:          vault,
		Dispatch: func(ctx context.Context, entry model.ClipboardEntry) {
			coord.Dispatch(ctx, entry)
		},
		Logger: log,
		OnRoundTrip: func(envelopeID string, elapsed time.Duration) {
			metrics.RoundTripDuration.WithLabelValues("sync").Observe(elapsed.Seconds())
		},
	})

	checker := health.NewChecker(5 * time.Second)
	checker.SetLogger(log)
	checker.RegisterCheck("discovery", health.DiscoveryCheck(func() string {
		return string(discoverySvc.State())
	}, string(discovery.StateAdvertised), string(discovery.StateRegistering)))
	checker.RegisterCheck("keystore", health.KeyStoreCheck(func() error {
		vault.ListIDs()
		return nil
	}))
	checker.RegisterCheck("transport", health.TransportCheck(func(ctx context.Context) error {
		return transportMgr.Probe(ctx, nil)
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id := discovery.Identity{
		DeviceID:          dev.ID,
		PubKeyB64:         base64.StdEncoding.EncodeToString(dev.KX.PublicBytes()),
		SigningPubKeyB64:  base64.StdEncoding.EncodeToString(dev.Signing.Public),
		FingerprintSHA256: dev.Signing.Fingerprint(),
		Version:           "1",
		Protocols:         []string{"hypo/1"},
	}

	lanHTTP := &http.Server{Addr: cfg.Transport.LanListenAddr, Handler: lanServer.Handler()}
	go func() {
		if err := lanHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("lan http server failed", logger.Error(err))
		}
	}()

	var metricsHTTP, healthHTTP *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		metricsHTTP = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics http server failed", logger.Error(err))
			}
		}()
	}

	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) {
			sys := checker.GetSystemHealth(r.Context())
			w.Header().Set("Content-Type", "application/json")
			if sys.Status != health.StatusHealthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(sys)
		})
		healthHTTP = &http.Server{Addr: cfg.Health.Addr, Handler: mux}
		go func() {
			if err := healthHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("health http server failed", logger.Error(err))
			}
		}()
	}

	if err := transportMgr.Start(ctx, id); err != nil {
		return fmt.Errorf("start transport manager: %w", err)
	}
	go autoDialPairedPeers(ctx, log, discoverySvc, transportMgr, roster, cfg, lanFrameHandler)

	log.Info("hypo-core serving", logger.String("device_id", string(dev.ID)), logger.String("lan_addr", cfg.Transport.LanListenAddr))
	<-ctx.Done()
	log.Info("hypo-core shutting down")
	transportMgr.Stop()
	if metricsHTTP != nil {
		_ = metricsHTTP.Close()
	}
	if healthHTTP != nil {
		_ = healthHTTP.Close()
	}
	_ = lanHTTP.Close()
	return nil
}

