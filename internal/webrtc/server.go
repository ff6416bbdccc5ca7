// Package webrtc pushes posture readouts to browsers over WebRTC data
// channels. Browsers make the offer and open the channel; the server only
// answers and sends.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/spineguard/internal/logger"
	"github.com/dj-oyu/spineguard/internal/metrics"
	"github.com/dj-oyu/spineguard/internal/session"
)

var rtcLog = logger.Module("WebRTC")

// ChannelLabel is the data channel browsers open for the readout.
const ChannelLabel = "posture"

// peerQueue is how many messages may wait for a slow data channel.
const peerQueue = 30

// ErrPeerLimit is returned by HandleOffer when every slot is taken.
var ErrPeerLimit = errors.New("webrtc peer limit reached")

type peer struct {
	id      string
	pc      *webrtc.PeerConnection
	out     chan []byte
	closed  chan struct{}
	once    sync.Once
	channel atomic.Pointer[webrtc.DataChannel]

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// PeerStat is the per-peer delivery count.
type PeerStat struct {
	ID      string `json:"id"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Server answers offers and fans readouts out to every open channel. It is a
// session.Sink.
type Server struct {
	api      *webrtc.API
	config   webrtc.Configuration
	maxPeers int
	metrics  *metrics.Metrics

	mu    sync.RWMutex
	peers map[string]*peer
}

// NewServer builds the pion API once; each offer gets its own connection.
func NewServer(stunServers []string, maxPeers int, m *metrics.Metrics) *Server {
	if maxPeers <= 0 {
		maxPeers = 8
	}
	ice := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		ice = append(ice, webrtc.ICEServer{URLs: []string{url}})
	}

	var se webrtc.SettingEngine
	se.SetDTLSRetransmissionInterval(2 * time.Second)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})

	return &Server{
		api:      webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		config:   webrtc.Configuration{ICEServers: ice},
		maxPeers: maxPeers,
		metrics:  m,
		peers:    make(map[string]*peer),
	}
}

// HandleOffer answers a browser offer. The browser is expected to have
// created a data channel labelled ChannelLabel before making the offer. The
// answer carries every gathered candidate, so no trickle ICE is needed.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("parse offer: %w", err)
	}

	pc, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	p := &peer{
		id:     uuid.NewString(),
		pc:     pc,
		out:    make(chan []byte, peerQueue),
		closed: make(chan struct{}),
	}
	// The slot is taken before negotiation so concurrent offers cannot
	// overshoot maxPeers and every callback below can find the peer.
	if !s.reserve(p) {
		pc.Close()
		return nil, fmt.Errorf("%w (%d)", ErrPeerLimit, s.maxPeers)
	}
	go s.pump(p)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			rtcLog.Debug("peer %s opened unexpected channel %q", p.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			p.channel.Store(dc)
			rtcLog.Info("peer %s data channel open", p.id)
		})
		dc.OnClose(func() { s.drop(p.id) })
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		rtcLog.Debug("peer %s connection state: %s", p.id, state)
		switch state {
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			s.drop(p.id)
		}
	})

	answer, err := answerOffer(pc, offer)
	if err != nil {
		s.drop(p.id)
		return nil, err
	}
	rtcLog.Info("peer %s connected", p.id)
	return answer, nil
}

func (s *Server) reserve(p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peers) >= s.maxPeers {
		return false
	}
	s.peers[p.id] = p
	if s.metrics != nil {
		s.metrics.WebRTCPeers.Add(1)
	}
	return true
}

func answerOffer(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) ([]byte, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	<-gathered

	local := pc.LocalDescription()
	if local == nil {
		return nil, errors.New("no local description after gathering")
	}
	return json.Marshal(local)
}

// fanout queues msg for every peer. A full queue drops the message for that
// peer only.
func (s *Server) fanout(msg []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		select {
		case p.out <- msg:
		default:
			p.dropped.Add(1)
		}
	}
}

// pump drains one peer's queue. Messages queued before the channel opens are
// counted as dropped.
func (s *Server) pump(p *peer) {
	for {
		select {
		case <-p.closed:
			return
		case msg := <-p.out:
			dc := p.channel.Load()
			if dc == nil {
				p.dropped.Add(1)
				continue
			}
			if err := dc.SendText(string(msg)); err != nil {
				rtcLog.Warn("send to peer %s: %v", p.id, err)
				s.drop(p.id)
				return
			}
			p.sent.Add(1)
			if s.metrics != nil {
				s.metrics.WebRTCMessages.Add(1)
			}
		}
	}
}

func (s *Server) OnUpdate(u session.Update) {
	s.send("reading", u.Readout())
}

func (s *Server) OnAlert(a session.Alert) {
	s.send("alert", map[string]any{
		"timestamp_ms":  a.At.UnixMilli(),
		"angle_degrees": a.Reading.AngleDegrees,
		"label":         a.Reading.Label,
		"advice":        a.Reading.Advice,
	})
}

func (s *Server) OnReminder(r session.Reminder) {
	s.send("reminder", map[string]any{
		"timestamp_ms": r.At.UnixMilli(),
		"elapsed_s":    int(r.Elapsed.Seconds()),
	})
}

func (s *Server) OnState(st session.State) {
	s.send("state", st)
}

// send wraps v in the {type, data} envelope shared with the SSE stream.
func (s *Server) send(kind string, v any) {
	if s.PeerCount() == 0 {
		return
	}
	msg, err := json.Marshal(map[string]any{"type": kind, "data": v})
	if err != nil {
		rtcLog.Warn("marshal %s: %v", kind, err)
		return
	}
	s.fanout(msg)
}

// drop forgets a peer and closes its connection. Unknown ids are ignored, so
// the several callbacks that notice a dead peer can all call it.
func (s *Server) drop(id string) {
	s.mu.Lock()
	p, ok := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	p.once.Do(func() {
		close(p.closed)
		if p.pc != nil {
			p.pc.Close()
		}
	})
	if s.metrics != nil {
		s.metrics.WebRTCPeers.Add(-1)
	}
	rtcLog.Info("peer %s disconnected (sent: %d, dropped: %d)", id, p.sent.Load(), p.dropped.Load())
}

func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// PeerStats lists connected peers ordered by id.
func (s *Server) PeerStats() []PeerStat {
	s.mu.RLock()
	stats := make([]PeerStat, 0, len(s.peers))
	for id, p := range s.peers {
		stats = append(stats, PeerStat{ID: id, Sent: p.sent.Load(), Dropped: p.dropped.Load()})
	}
	s.mu.RUnlock()
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

// Close disconnects every peer.
func (s *Server) Close() error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.drop(id)
	}
	return nil
}
