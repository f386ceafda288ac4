package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

const (
	dataChannelLabel     = "educast"
	defaultGatherTimeout = 10 * time.Second
)

// PionFactory builds data-channel peer connections with pion. Candidates are
// gathered before a description is returned, so offers and answers are
// complete and no candidate frames are exchanged.
type PionFactory struct {
	api           *webrtc.API
	config        webrtc.Configuration
	gatherTimeout time.Duration
	log           logging.LeveledLogger
}

// NewPionFactory uses iceURLs as STUN/TURN servers. A nil loggerFactory uses
// pion's default logger.
func NewPionFactory(iceURLs []string, loggerFactory logging.LoggerFactory) *PionFactory {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	se := webrtc.SettingEngine{LoggerFactory: loggerFactory}

	var cfg webrtc.Configuration
	if len(iceURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceURLs}}
	}
	return &PionFactory{
		api:           webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		config:        cfg,
		gatherTimeout: defaultGatherTimeout,
		log:           loggerFactory.NewLogger("educast-peer"),
	}
}

// pionConn is a PeerConn backed by a pion PeerConnection.
type pionConn struct {
	pc     *webrtc.PeerConnection
	opened chan struct{}
}

func (c *pionConn) ApplyAnswer(signal json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(signal, &desc); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if desc.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("expected answer, got %s", desc.Type)
	}
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

// Opened is closed once the data channel to the remote side is open.
func (c *pionConn) Opened() <-chan struct{} {
	return c.opened
}

func (f *PionFactory) newConn(remoteID string) (*pionConn, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	c := &pionConn{pc: pc, opened: make(chan struct{})}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		f.log.Debugf("peer %s: connection %s", remoteID, s)
	})
	return c, nil
}

func (c *pionConn) watch(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		select {
		case <-c.opened:
		default:
			close(c.opened)
		}
	})
}

// Offer creates the initiator side with one data channel.
func (f *PionFactory) Offer(ctx context.Context, remoteID string) (PeerConn, json.RawMessage, error) {
	c, err := f.newConn(remoteID)
	if err != nil {
		return nil, nil, err
	}
	dc, err := c.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("create data channel: %w", err)
	}
	c.watch(dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("create offer: %w", err)
	}
	signal, err := f.complete(ctx, c.pc, offer)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return c, signal, nil
}

// Answer accepts an offer and returns the answer.
func (f *PionFactory) Answer(ctx context.Context, remoteID string, offer json.RawMessage) (PeerConn, json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return nil, nil, fmt.Errorf("decode offer: %w", err)
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return nil, nil, fmt.Errorf("expected offer, got %s", desc.Type)
	}

	c, err := f.newConn(remoteID)
	if err != nil {
		return nil, nil, err
	}
	c.pc.OnDataChannel(c.watch)

	if err := c.pc.SetRemoteDescription(desc); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("create answer: %w", err)
	}
	signal, err := f.complete(ctx, c.pc, answer)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return c, signal, nil
}

// complete sets the local description, waits for ICE gathering and returns
// the final description as JSON.
func (f *PionFactory) complete(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (json.RawMessage, error) {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.gatherTimeout)
	defer cancel()
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, fmt.Errorf("ice gathering: %w", ctx.Err())
	}

	b, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		return nil, fmt.Errorf("encode description: %w", err)
	}
	return b, nil
}
