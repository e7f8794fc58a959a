package pion

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/serenechat/serene/internal/core/domain"
)

// StaticTrackSource builds sample tracks that a capture pipeline writes
// into. Opus for audio, VP8 for video; both negotiate with any browser
// without extra codec configuration.
type StaticTrackSource struct {
	// StreamID groups the tracks into one media stream on the remote side.
	StreamID string
}

func (s *StaticTrackSource) streamID() string {
	if s.StreamID != "" {
		return s.StreamID
	}
	return "serene"
}

func (s *StaticTrackSource) Tracks(callType domain.CallType) ([]webrtc.TrackLocal, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", s.streamID())
	if err != nil {
		return nil, fmt.Errorf("audio track: %w", err)
	}

	tracks := []webrtc.TrackLocal{audio}
	if callType == domain.CallTypeVideo {
		video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "video", s.streamID())
		if err != nil {
			return nil, fmt.Errorf("video track: %w", err)
		}
		tracks = append(tracks, video)
	}
	return tracks, nil
}
