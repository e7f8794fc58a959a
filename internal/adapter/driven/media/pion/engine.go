// Package pion implements the media session port on top of pion/webrtc.
package pion

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/serenechat/serene/internal/call"
	"github.com/serenechat/serene/internal/core/domain"
)

// TrackSource supplies the local media tracks for a call. Implementations
// own capture and encoding; the engine only attaches what they hand out.
type TrackSource interface {
	// Tracks returns the local tracks for the given call type: audio only,
	// or audio plus video.
	Tracks(callType domain.CallType) ([]webrtc.TrackLocal, error)
}

// Engine builds peer sessions. It implements call.SessionFactory.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
	source TrackSource

	// OnRemoteTrack, if set, receives each inbound track. When nil the
	// engine drains inbound media itself.
	OnRemoteTrack func(*webrtc.TrackRemote)
}

func NewEngine(stunURLs []string, source TrackSource) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("nil track source")
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	cfg := webrtc.Configuration{}
	if len(stunURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunURLs}}
	}

	return &Engine{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		config: cfg,
		source: source,
	}, nil
}

// NewSession acquires local media and builds a peer connection around it.
func (e *Engine) NewSession(ctx context.Context, callType domain.CallType, cb call.SessionCallbacks) (call.Session, error) {
	tracks, err := e.source.Tracks(callType)
	if err != nil {
		return nil, fmt.Errorf("acquire local tracks: %w", err)
	}

	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	s := &Session{
		pc:      pc,
		cb:      cb,
		senders: make(map[webrtc.RTPCodecType]*sender),
		done:    make(chan struct{}),
	}

	for _, t := range tracks {
		rtpSender, err := pc.AddTrack(t)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		s.senders[t.Kind()] = &sender{rtp: rtpSender, track: t}
		go s.drainRTCP(rtpSender)
	}

	s.wire(e.OnRemoteTrack)
	return s, nil
}
