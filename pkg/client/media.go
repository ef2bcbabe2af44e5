package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var ErrMediaUnavailable = errors.New("media unavailable")

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticMedia hands out static-sample tracks for headless clients. Audio
// tracks stream Opus silence while enabled; video tracks carry no frames.
type SyntheticMedia struct {
	// Deny makes every request fail, like a user refusing permission.
	Deny bool
}

func (m *SyntheticMedia) GetUserMedia(ctx context.Context, c MediaConstraints) ([]LocalTrack, error) {
	if m.Deny {
		return nil, ErrMediaUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "chitcall-" + uuid.New().String()
	var tracks []LocalTrack

	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, newSampleTrack(t, webrtc.RTPCodecTypeAudio, opusSilence, 20*time.Millisecond))
	}

	if c.Video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID)
		if err != nil {
			stopTracks(tracks)
			return nil, err
		}
		tracks = append(tracks, newSampleTrack(t, webrtc.RTPCodecTypeVideo, nil, 0))
	}

	if len(tracks) == 0 {
		return nil, ErrMediaUnavailable
	}
	return tracks, nil
}

type sampleTrack struct {
	track *webrtc.TrackLocalStaticSample
	kind  webrtc.RTPCodecType

	mu      sync.Mutex
	enabled bool
	stopped bool
	done    chan struct{}
}

func newSampleTrack(track *webrtc.TrackLocalStaticSample, kind webrtc.RTPCodecType, frame []byte, every time.Duration) *sampleTrack {
	t := &sampleTrack{track: track, kind: kind, enabled: true, done: make(chan struct{})}
	if frame != nil && every > 0 {
		go t.pump(frame, every)
	}
	return t
}

func (t *sampleTrack) pump(frame []byte, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			if err := t.track.WriteSample(media.Sample{Data: frame, Duration: every}); err != nil {
				return
			}
		}
	}
}

func (t *sampleTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *sampleTrack) Track() webrtc.TrackLocal  { return t.track }

func (t *sampleTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *sampleTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *sampleTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		close(t.done)
	}
}
