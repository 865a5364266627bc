// Package discovery implements C4: LAN peer discovery over mDNS/DNS-SD,
// advertising this device and watching for others, grounded on the
// zeroconf dependency carried by the example pack's peer-sync tooling.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/zeroconf/v2"

	"github.com/hypo-app/hypo-core/internal/logger"
	"github.com/hypo-app/hypo-core/internal/model"
)

// State is the advertising lifecycle state of the local service registration.
type State string

const (
	StateIdle        State = "idle"
	StateRegistering State = "registering"
	StateAdvertised  State = "advertised"
	StateReregister  State = "re-register"
	StateStopped     State = "stopped"
)

// TXT record keys carried on every advertisement, per spec §6.3.
const (
	TXTDeviceID       = "device_id"
	TXTPubKey         = "pub_key"
	TXTSigningPubKey  = "signing_pub_key"
	TXTFingerprint    = "fingerprint_sha256"
	TXTVersion        = "version"
	TXTProtocols      = "protocols"
)

// Identity is the set of advertised attributes for this device.
type Identity struct {
	DeviceID         model.DeviceId
	PubKeyB64        string
	SigningPubKeyB64 string
	FingerprintSHA256 string
	Version          string
	Protocols        []string
}

func (id Identity) toTXT() []string {
	return []string{
		TXTDeviceID + "=" + string(id.DeviceID.Canonical()),
		TXTPubKey + "=" + id.PubKeyB64,
		TXTSigningPubKey + "=" + id.SigningPubKeyB64,
		TXTFingerprint + "=" + id.FingerprintSHA256,
		TXTVersion + "=" + id.Version,
		TXTProtocols + "=" + joinProtocols(id.Protocols),
	}
}

func joinProtocols(protocols []string) string {
	out := ""
	for i, p := range protocols {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func parseTXT(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, kv := range txt {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}

// Event reports a peer transition observed on the LAN.
type Event struct {
	Kind Kind
	Peer model.DiscoveredPeer
}

type Kind string

const (
	KindAdded   Kind = "added"
	KindRemoved Kind = "removed"
)

// Options configures one Service instance.
type Options struct {
	ServiceName     string // e.g. "_hypo._tcp"
	Domain          string // e.g. "local."
	Port            int
	StaleAfter      time.Duration
	RegisterBackoff time.Duration
	Logger          logger.Logger
}

func (o *Options) setDefaults() {
	if o.ServiceName == "" {
		o.ServiceName = "_hypo._tcp"
	}
	if o.Domain == "" {
		o.Domain = "local."
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 90 * time.Second
	}
	if o.RegisterBackoff <= 0 {
		o.RegisterBackoff = 2 * time.Second
	}
}

// Service advertises this device and browses for peers, per spec §4.4.
type Service struct {
	opts Options
	log  logger.Logger

	mu    sync.RWMutex
	state State
	peers map[model.DeviceId]model.DiscoveredPeer

	server *zeroconf.Server

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewService constructs a discovery service. Start must be called to begin
// advertising and browsing.
func NewService(opts Options) *Service {
	opts.setDefaults()
	log := opts.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Service{
		opts:   opts,
		log:    log,
		state:  StateIdle,
		peers:  make(map[model.DeviceId]model.DiscoveredPeer),
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
}

// Events returns the channel of peer Added/Removed notifications.
func (s *Service) Events() <-chan Event { return s.events }

// State returns the current advertising lifecycle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Peers returns a snapshot of currently known, non-stale peers.
func (s *Service) Peers() []model.DiscoveredPeer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DiscoveredPeer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Start registers the local advertisement (with exponential backoff retries
// up to 8 attempts, capped at 5 minutes between attempts) and begins
// browsing for peers. It returns once the first registration attempt has
// either succeeded or exhausted retries.
func (s *Service) Start(ctx context.Context, id Identity) error {
	s.setState(StateRegistering)

	server, err := s.registerWithBackoff(id)
	if err != nil {
		s.setState(StateStopped)
		return err
	}
	s.server = server
	s.setState(StateAdvertised)

	s.wg.Add(1)
	go s.browseLoop(ctx)

	s.wg.Add(1)
	go s.pruneLoop()

	return nil
}

func (s *Service) registerWithBackoff(id Identity) (*zeroconf.Server, error) {
	backoff := s.opts.RegisterBackoff
	const maxBackoff = 5 * time.Minute
	const maxAttempts = 8

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		server, err := zeroconf.Register(
			string(id.DeviceID.Canonical()),
			s.opts.ServiceName,
			s.opts.Domain,
			s.opts.Port,
			id.toTXT(),
			nil,
		)
		if err == nil {
			return server, nil
		}
		lastErr = err
		s.log.Warn("discovery: registration attempt failed", logger.Int("attempt", attempt), logger.Error(err))
		if attempt == maxAttempts {
			break
		}
		s.setState(StateReregister)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, fmt.Errorf("discovery: registration failed after %d attempts: %w", maxAttempts, lastErr)
}

func (s *Service) browseLoop(ctx context.Context) {
	defer s.wg.Done()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		s.log.Error("discovery: resolver init failed", logger.Error(err))
		return
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	go func() {
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				s.handleEntry(entry)
			case <-s.done:
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, s.opts.ServiceName, s.opts.Domain, entries); err != nil {
		s.log.Error("discovery: browse failed", logger.Error(err))
	}

	select {
	case <-ctx.Done():
	case <-s.done:
	}
}

func (s *Service) handleEntry(entry *zeroconf.ServiceEntry) {
	fields := parseTXT(entry.Text)
	deviceID := model.DeviceId(fields[TXTDeviceID]).Canonical()
	if deviceID == "" {
		return
	}

	host := entry.HostName
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host = entry.AddrIPv6[0].String()
	}

	peer := model.DiscoveredPeer{
		ServiceName:      entry.Instance,
		Host:             host,
		Port:             entry.Port,
		DeviceID:         deviceID,
		Fingerprint:      fields[TXTFingerprint],
		PubKeyB64:        fields[TXTPubKey],
		SigningPubKeyB64: fields[TXTSigningPubKey],
		Version:          fields[TXTVersion],
		Protocols:        splitProtocols(fields[TXTProtocols]),
		LastSeen:         time.Now(),
	}

	s.mu.Lock()
	_, existed := s.peers[deviceID]
	s.peers[deviceID] = peer
	s.mu.Unlock()

	if !existed {
		s.emit(Event{Kind: KindAdded, Peer: peer})
	}
}

func splitProtocols(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// pruneLoop removes peers not seen within StaleAfter, at half that interval.
func (s *Service) pruneLoop() {
	defer s.wg.Done()

	interval := s.opts.StaleAfter / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pruneOnce()
		case <-s.done:
			return
		}
	}
}

func (s *Service) pruneOnce() {
	now := time.Now()
	var removed []model.DiscoveredPeer

	s.mu.Lock()
	for id, p := range s.peers {
		if now.Sub(p.LastSeen) > s.opts.StaleAfter {
			removed = append(removed, p)
			delete(s.peers, id)
		}
	}
	s.mu.Unlock()

	for _, p := range removed {
		s.emit(Event{Kind: KindRemoved, Peer: p})
	}
}

func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("discovery: event channel full, dropping event", logger.String("kind", string(ev.Kind)))
	}
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Stop shuts down advertising and browsing.
func (s *Service) Stop() {
	s.setState(StateStopped)
	close(s.done)
	if s.server != nil {
		s.server.Shutdown()
	}
	s.wg.Wait()
	close(s.events)
}
