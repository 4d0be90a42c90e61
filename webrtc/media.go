package webrtc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"

	"github.com/enesunal-m/rtvoice"
)

const (
	opusClockRate = 48000
	opusChannels  = 2
)

var opusCapability = pion.RTPCodecCapability{
	MimeType:  pion.MimeTypeOpus,
	ClockRate: opusClockRate,
	Channels:  opusChannels,
}

// Microphone is a capture device. Capture asks for access and starts producing audio.
type Microphone interface {
	Capture(ctx context.Context) (AudioSource, error)
}

// AudioSource yields encoded Opus samples. ReadSample returns io.EOF when the
// source is exhausted.
type AudioSource interface {
	ReadSample() (media.Sample, error)
	Close() error
}

// Speaker creates playback elements for remote audio.
type Speaker interface {
	Attach(codec pion.RTPCodecParameters) (AudioSink, error)
}

// AudioSink is one playback element. It receives the remote RTP stream.
type AudioSink interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// OggMicrophone captures from an Ogg/Opus file. It stands in for a real capture
// device on headless hosts; the file's permissions model the user's consent.
type OggMicrophone struct {
	Path string
}

// Capture opens the file. A permission failure wraps rtvoice.ErrPermissionDenied.
func (m OggMicrophone) Capture(ctx context.Context) (AudioSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(m.Path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, rtvoice.NewCaptureError(m.Path, rtvoice.ErrPermissionDenied)
		}
		return nil, rtvoice.NewCaptureError(m.Path, err)
	}
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, rtvoice.NewCaptureError(m.Path, err)
	}
	return &oggSource{f: f, reader: reader}, nil
}

type oggSource struct {
	f           *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

func (s *oggSource) ReadSample() (media.Sample, error) {
	for {
		page, header, err := s.reader.ParseNextPage()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return media.Sample{}, io.EOF
			}
			return media.Sample{}, err
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}
		// Granule positions count 48 kHz samples from the start of the stream.
		count := header.GranulePosition - s.lastGranule
		s.lastGranule = header.GranulePosition
		dur := time.Duration(float64(count) / opusClockRate * float64(time.Second))
		return media.Sample{Data: page, Duration: dur}, nil
	}
}

func (s *oggSource) Close() error { return s.f.Close() }

// OggSpeaker records each attached element to its own Ogg file under Dir.
type OggSpeaker struct {
	Dir string
}

// Attach creates a new recording file.
func (s OggSpeaker) Attach(codec pion.RTPCodecParameters) (AudioSink, error) {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	channels := codec.Channels
	if channels == 0 {
		channels = opusChannels
	}
	rate := codec.ClockRate
	if rate == 0 {
		rate = opusClockRate
	}
	path := filepath.Join(dir, fmt.Sprintf("remote_%s.ogg", uuid.NewString()))
	w, err := oggwriter.New(path, rate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create OGG file: %w", err)
	}
	return &oggSink{path: path, w: w}, nil
}

type oggSink struct {
	mu   sync.Mutex
	path string
	w    *oggwriter.OggWriter
}

func (s *oggSink) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.WriteRTP(pkt)
}

func (s *oggSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

// micTrack is the outbound audio track. Samples are dropped while disabled.
type micTrack struct {
	track   *pion.TrackLocalStaticSample
	write   func(media.Sample) error
	enabled atomic.Bool
}

func newMicTrack() (*micTrack, error) {
	t, err := pion.NewTrackLocalStaticSample(opusCapability, "audio", "rtvoice-mic")
	if err != nil {
		return nil, err
	}
	return &micTrack{track: t, write: t.WriteSample}, nil
}

// pump copies samples from src to the track, pacing by sample duration, until
// the source ends or ctx is done.
func (m *micTrack) pump(ctx context.Context, src AudioSource, log *rtvoice.Logger) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		sample, err := src.ReadSample()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, io.EOF) {
				log.Warn("mic_read_failed", map[string]interface{}{"error": err.Error()})
			} else {
				log.Debug("mic_source_ended", nil)
			}
			return
		}
		if m.enabled.Load() {
			if err := m.write(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				log.Warn("mic_write_failed", map[string]interface{}{"error": err.Error()})
			}
		}
		if sample.Duration <= 0 {
			continue
		}
		timer.Reset(sample.Duration)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// playback is the element attached for the first remote audio track.
type playback struct {
	once sync.Once
	id   string
	read func() (*rtp.Packet, error)
	sink AudioSink
}

// start begins copying RTP into the sink. Later calls are no-ops.
func (p *playback) start(log *rtvoice.Logger) {
	p.once.Do(func() {
		log.Info("playback_started", map[string]interface{}{"track": p.id})
		go func() {
			for {
				pkt, err := p.read()
				if err != nil {
					return
				}
				if err := p.sink.WriteRTP(pkt); err != nil {
					log.Warn("playback_write_failed", map[string]interface{}{"error": err.Error()})
					return
				}
			}
		}()
	})
}
