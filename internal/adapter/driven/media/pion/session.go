package pion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/serenechat/serene/internal/call"
)

// pliInterval is how often a keyframe is requested for inbound video.
const pliInterval = 3 * time.Second

type sender struct {
	rtp   *webrtc.RTPSender
	track webrtc.TrackLocal
}

// Session is one live peer connection. It satisfies call.Session; the state
// machine owns its lifecycle and serializes description handling, so the
// session only guards its own mute and close state.
type Session struct {
	pc *webrtc.PeerConnection
	cb call.SessionCallbacks

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]*sender

	closeOnce sync.Once
	done      chan struct{}
}

func (s *Session) wire(onRemoteTrack func(*webrtc.TrackRemote)) {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		blob, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal candidate")
			return
		}
		s.cb.OnCandidate(blob)
	})

	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.cb.OnConnected()
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.cb.OnClosed()
		}
	})

	s.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("kind", remote.Kind().String()).Msg("Received remote track")

		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			go s.requestKeyframes(remote)
		}
		if onRemoteTrack != nil {
			onRemoteTrack(remote)
			return
		}
		go s.drainTrack(remote)
	})
}

// CreateOffer produces the local offer and installs it as the local
// description. Trickle candidates start flowing once it is set.
func (s *Session) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(offer)
}

// CreateAnswer produces the local answer and installs it as the local
// description. Valid only after the remote offer has been applied.
func (s *Session) CreateAnswer(ctx context.Context) (json.RawMessage, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(answer)
}

func (s *Session) SetRemoteDescription(desc json.RawMessage) error {
	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(desc, &sdp); err != nil {
		return fmt.Errorf("decode description: %w", err)
	}
	return s.pc.SetRemoteDescription(sdp)
}

func (s *Session) AddCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return s.pc.AddICECandidate(init)
}

// SetAudioEnabled toggles the microphone by replacing the outbound audio
// track with nil and back. No renegotiation is needed for a replace.
func (s *Session) SetAudioEnabled(enabled bool) error {
	return s.setTrackEnabled(webrtc.RTPCodecTypeAudio, enabled)
}

// SetVideoEnabled toggles the camera the same way.
func (s *Session) SetVideoEnabled(enabled bool) error {
	return s.setTrackEnabled(webrtc.RTPCodecTypeVideo, enabled)
}

func (s *Session) setTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	s.mu.Lock()
	snd, ok := s.senders[kind]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no %s track in this call", kind)
	}
	if enabled {
		return snd.rtp.ReplaceTrack(snd.track)
	}
	return snd.rtp.ReplaceTrack(nil)
}

// Teardown closes the peer connection and stops the keyframe loop. Safe to
// call repeatedly.
func (s *Session) Teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.pc.Close(); err != nil {
			log.Debug().Err(err).Msg("Peer connection close")
		}
	})
}

func (s *Session) requestKeyframes(remote *webrtc.TrackRemote) {
	sendPLI := func() {
		if err := s.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
		}); err != nil {
			// Closed connection; the done channel ends the loop.
			return
		}
	}

	sendPLI()
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			sendPLI()
		}
	}
}

func (s *Session) drainTrack(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("Remote track read ended")
			}
			return
		}
	}
}

// drainRTCP keeps the interceptor pipeline fed for an outbound sender.
func (s *Session) drainRTCP(rtpSender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := rtpSender.Read(buf); err != nil {
			return
		}
	}
}
