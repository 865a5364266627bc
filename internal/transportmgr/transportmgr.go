// Package transportmgr implements C8: TransportManager, owning discovery
// output, the cloud client handle, the LAN per-peer connection map, the
// peer reachability table, and the last-successful-transport map, grounded
// on the teacher's session/connection-registry pattern in core/session.
package transportmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hypo-app/hypo-core/internal/discovery"
	"github.com/hypo-app/hypo-core/internal/logger"
	"github.com/hypo-app/hypo-core/internal/metrics"
	"github.com/hypo-app/hypo-core/internal/model"
	"github.com/hypo-app/hypo-core/internal/transport/cloud"
	"github.com/hypo-app/hypo-core/internal/transport/lan"
)

// lanFirstTimeout is the window within which a LAN ack, if it arrives, wins
// the recorded transport even if the cloud branch also succeeds later.
const lanFirstTimeout = 3 * time.Second

// Result reports the outcome of one Send call.
type Result struct {
	Succeeded bool
	Winner    model.Transport
	LANErr    error
	CloudErr  error
}

// peerState is the per-device-id reachability record.
type peerState struct {
	LastSuccessTransport model.Transport
	LastSeen             time.Time
}

// Manager is the C8 TransportManager.
type Manager struct {
	localID model.DeviceId
	log     logger.Logger

	discoverySvc *discovery.Service
	lanServer    *lan.Server
	cloudClient  *cloud.Client

	mu          sync.Mutex
	lanClients  map[model.DeviceId]*lan.Client
	peerStates  map[model.DeviceId]*peerState

	prefsPath string

	started bool
}

// Options configures a Manager.
type Options struct {
	LocalDeviceID  model.DeviceId
	PreferenceFile string
	Logger         logger.Logger
}

// NewManager constructs a Manager wired to discovery/LAN/cloud components.
// Each component is supplied already-constructed so callers can configure
// transport-specific options (timeouts, pinning) independently.
func NewManager(opts Options, discoverySvc *discovery.Service, lanServer *lan.Server, cloudClient *cloud.Client) *Manager {
	log := opts.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	m := &Manager{
		localID:      opts.LocalDeviceID.Canonical(),
		log:          log,
		discoverySvc: discoverySvc,
		lanServer:    lanServer,
		cloudClient:  cloudClient,
		lanClients:   make(map[model.DeviceId]*lan.Client),
		peerStates:   make(map[model.DeviceId]*peerState),
		prefsPath:    opts.PreferenceFile,
	}
	m.loadPreferences()
	return m
}

// Start is idempotent: it starts discovery and the cloud client.
func (m *Manager) Start(ctx context.Context, id discovery.Identity) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if m.discoverySvc != nil {
		if err := m.discoverySvc.Start(ctx, id); err != nil {
			return fmt.Errorf("transportmgr: start discovery: %w", err)
		}
	}
	if m.cloudClient != nil {
		m.cloudClient.Start(ctx)
	}
	return nil
}

// Stop is idempotent: it closes all LAN client connections, the LAN server,
// and the cloud client, draining up to 2s per spec §5.
func (m *Manager) Stop() {
	m.mu.Lock()
	started := m.started
	m.started = false
	clients := make([]*lan.Client, 0, len(m.lanClients))
	for _, c := range m.lanClients {
		clients = append(clients, c)
	}
	m.lanClients = make(map[model.DeviceId]*lan.Client)
	m.mu.Unlock()

	if !started {
		return
	}

	drain := make(chan struct{})
	go func() {
		for _, c := range clients {
			c.Stop()
		}
		if m.lanServer != nil {
			m.lanServer.Close()
		}
		if m.cloudClient != nil {
			m.cloudClient.Stop()
		}
		if m.discoverySvc != nil {
			m.discoverySvc.Stop()
		}
		close(drain)
	}()

	select {
	case <-drain:
	case <-time.After(2 * time.Second):
		m.log.Warn("transportmgr: stop drain timed out")
	}
}

// RegisterLANClient installs a dialed LanClient for a discovered peer.
func (m *Manager) RegisterLANClient(peerID model.DeviceId, client *lan.Client) {
	m.mu.Lock()
	_, existed := m.lanClients[peerID.Canonical()]
	m.lanClients[peerID.Canonical()] = client
	m.mu.Unlock()

	if !existed {
		metrics.ConnectionsActive.WithLabelValues("lan").Inc()
	}
}

// Send resolves target, hands frame concurrently to the LAN client registered
// for target (if any) and to the cloud client (if configured), and returns
// once both branches have reported; it succeeds if either branch enqueued.
func (m *Manager) Send(ctx context.Context, target model.DeviceId, frame []byte) Result {
	target = target.Canonical()

	ctx, cancel := context.WithTimeout(ctx, lanFirstTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	_ = gctx

	var lanErr, cloudErr error
	var lanOK, cloudOK bool

	m.mu.Lock()
	lanClient := m.lanClients[target]
	m.mu.Unlock()

	if lanClient != nil {
		g.Go(func() error {
			lanErr = lanClient.Send(frame)
			lanOK = lanErr == nil
			metrics.SendAttempts.WithLabelValues("lan", sendStatus(lanOK)).Inc()
			return nil
		})
	} else {
		lanErr = fmt.Errorf("transportmgr: no lan client for %s", target)
	}

	if m.cloudClient != nil {
		g.Go(func() error {
			cloudErr = m.cloudClient.Send(frame)
			cloudOK = cloudErr == nil
			metrics.SendAttempts.WithLabelValues("cloud", sendStatus(cloudOK)).Inc()
			return nil
		})
	} else {
		cloudErr = fmt.Errorf("transportmgr: no cloud client configured")
	}

	_ = g.Wait()

	var winner model.Transport
	switch {
	case lanOK:
		winner = model.TransportLAN
	case cloudOK:
		winner = model.TransportCloud
	default:
		winner = model.TransportNone
	}
	metrics.SendWinner.WithLabelValues(string(winner)).Inc()

	if lanOK || cloudOK {
		m.markConnected(target, winner)
	}

	return Result{
		Succeeded: lanOK || cloudOK,
		Winner:    winner,
		LANErr:    lanErr,
		CloudErr:  cloudErr,
	}
}

// markConnected records the winning transport for target and persists the
// table to the preferences file via a single writer.
func (m *Manager) markConnected(target model.DeviceId, t model.Transport) {
	m.mu.Lock()
	st, ok := m.peerStates[target]
	if !ok {
		st = &peerState{}
		m.peerStates[target] = st
	}
	st.LastSuccessTransport = t
	st.LastSeen = time.Now()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.savePreferences(snapshot)
}

// Forget removes target from the reachability table.
func (m *Manager) Forget(target model.DeviceId) {
	target = target.Canonical()
	m.mu.Lock()
	delete(m.peerStates, target)
	_, hadLAN := m.lanClients[target]
	delete(m.lanClients, target)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if hadLAN {
		metrics.ConnectionsActive.WithLabelValues("lan").Dec()
	}
	m.savePreferences(snapshot)
}

// ConnectionState returns a snapshot of the last-successful-transport table.
func (m *Manager) ConnectionState() map[model.DeviceId]model.Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.DeviceId]model.Transport, len(m.peerStates))
	for id, st := range m.peerStates {
		out[id] = st.LastSuccessTransport
	}
	return out
}

func (m *Manager) snapshotLocked() map[string]string {
	out := make(map[string]string, len(m.peerStates))
	for id, st := range m.peerStates {
		out[string(id)] = string(st.LastSuccessTransport)
	}
	return out
}

func (m *Manager) savePreferences(snapshot map[string]string) {
	if m.prefsPath == "" {
		return
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		m.log.Warn("transportmgr: marshal preferences failed", logger.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.prefsPath), 0700); err != nil {
		m.log.Warn("transportmgr: mkdir preferences dir failed", logger.Error(err))
		return
	}
	tmp := m.prefsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		m.log.Warn("transportmgr: write preferences failed", logger.Error(err))
		return
	}
	if err := os.Rename(tmp, m.prefsPath); err != nil {
		m.log.Warn("transportmgr: rename preferences failed", logger.Error(err))
	}
}

func (m *Manager) loadPreferences() {
	if m.prefsPath == "" {
		return
	}
	data, err := os.ReadFile(m.prefsPath)
	if err != nil {
		return
	}
	var snapshot map[string]string
	if err := json.Unmarshal(data, &snapshot); err != nil {
		m.log.Warn("transportmgr: parse preferences failed", logger.Error(err))
		return
	}
	for id, t := range snapshot {
		m.peerStates[model.DeviceId(id)] = &peerState{LastSuccessTransport: model.Transport(t)}
	}
}

func sendStatus(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Probe runs probeFn as the reachability health check and returns its error.
// It does no TCP dial or relay /health request of its own; with a nil
// probeFn it returns nil without probing anything.
func (m *Manager) Probe(ctx context.Context, probeFn func(ctx context.Context) error) error {
	if probeFn == nil {
		return nil
	}
	return probeFn(ctx)
}
