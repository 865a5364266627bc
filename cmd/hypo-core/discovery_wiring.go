package main

import (
	"context"
	"fmt"

	"github.com/hypo-app/hypo-core/config"
	"github.com/hypo-app/hypo-core/internal/discovery"
	"github.com/hypo-app/hypo-core/internal/logger"
	"github.com/hypo-app/hypo-core/internal/pairedstore"
	"github.com/hypo-app/hypo-core/internal/transport/lan"
	"github.com/hypo-app/hypo-core/internal/transportmgr"
)

// autoDialPairedPeers watches discovery events for the lifetime of ctx and,
// for every added peer already present in the paired-device roster, dials a
// LanClient and registers it with transportMgr. Strangers are left alone:
// pairing is only ever initiated explicitly via the pair subcommand.
func autoDialPairedPeers(
	ctx context.Context,
	log logger.Logger,
	discoverySvc *discovery.Service,
	transportMgr *transportmgr.Manager,
	roster *pairedstore.Store,
	cfg *config.Config,
	onFrame lan.FrameHandler,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-discoverySvc.Events():
			if !ok {
				return
			}
			if ev.Kind != discovery.KindAdded {
				continue
			}
			if !roster.IsPaired(ev.Peer.DeviceID) {
				continue
			}

			url := fmt.Sprintf("ws://%s:%d/", ev.Peer.Host, ev.Peer.Port)
			client := lan.NewClient(ev.Peer.DeviceID, url, lan.ClientOptions{
				DialTimeout:   cfg.Transport.DialTimeout,
				WriteTimeout:  cfg.Transport.WriteTimeout,
				SendQueueSize: cfg.Transport.SendQueueSize,
				MaxBackoff:    cfg.Transport.MaxBackoff,
				Logger:        log,
			}, onFrame)

			client.Start(ctx)
			transportMgr.RegisterLANClient(ev.Peer.DeviceID, client)
			log.Info("lan: auto-dialed paired peer", logger.String("peer", string(ev.Peer.DeviceID)))
		}
	}
}
