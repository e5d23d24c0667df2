package container

import (
	"fmt"
	"io"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

const (
	// DefaultFragmentDuration is used when a file is not streamed.
	DefaultFragmentDuration = 2 * time.Second
	// StreamingFragmentDuration keeps fragments short enough for playback
	// while writing.
	StreamingFragmentDuration = 500 * time.Millisecond

	// maxAudioGap is the largest timestamp discontinuity absorbed by placing
	// audio contiguously. Larger gaps start a new fragment.
	maxAudioGap = 100 * time.Millisecond
)

type fmp4Track struct {
	Track
	part *fmp4.PartTrack
	// next is the decode time in ticks expected for the following sample.
	next    uint64
	started bool
}

// fmp4Muxer writes an init segment followed by moof/mdat fragments.
type fmp4Muxer struct {
	w        io.WriteSeeker
	tracks   []*fmp4Track
	fragment time.Duration

	seq       uint32
	partStart time.Duration
	buffered  bool
}

// NewFMP4Muxer writes the init segment for tracks to w and returns a muxer
// for the fragments.
func NewFMP4Muxer(w io.WriteSeeker, tracks []Track, opts MuxerOptions) (Muxer, error) {
	if opts.FragmentDuration <= 0 {
		opts.FragmentDuration = DefaultFragmentDuration
	}

	m := &fmp4Muxer{w: w, fragment: opts.FragmentDuration}
	init := fmp4.Init{}
	for _, t := range tracks {
		codec, err := mp4CodecFor(t)
		if err != nil {
			return nil, err
		}
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.ID,
			TimeScale: t.TimeScale,
			Codec:     codec,
		})
		m.tracks = append(m.tracks, &fmp4Track{Track: t})
	}
	if err := init.Marshal(w); err != nil {
		return nil, fmt.Errorf("write init segment: %w", err)
	}
	return m, nil
}

func mp4CodecFor(t Track) (mp4.Codec, error) {
	switch t.Kind {
	case TrackVideo:
		if t.Video.Codec != CodecMJPEG && t.Video.Codec != "" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCodec, t.Video.Codec)
		}
		return &mp4.CodecMJPEG{
			Width:  t.Video.Size.Width,
			Height: t.Video.Size.Height,
		}, nil
	case TrackAudio:
		return &mp4.CodecLPCM{
			LittleEndian: true,
			BitDepth:     t.Audio.BitDepth,
			SampleRate:   t.Audio.SampleRate,
			ChannelCount: t.Audio.Channels,
		}, nil
	default:
		return nil, fmt.Errorf("unknown track kind %d", t.Kind)
	}
}

func (m *fmp4Muxer) track(id int) *fmp4Track {
	for _, t := range m.tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// WriteSample buffers s in the current fragment. Video samples past the
// fragment duration and audio discontinuities close the fragment first.
func (m *fmp4Muxer) WriteSample(trackID int, s Sample) error {
	t := m.track(trackID)
	if t == nil {
		return fmt.Errorf("unknown track %d", trackID)
	}

	start := toTicks(s.PTS, t.TimeScale)
	end := toTicks(s.PTS+s.Duration, t.TimeScale)

	if t.started && t.Kind == TrackAudio && start != t.next {
		gap := time.Duration(int64(start)-int64(t.next)) * time.Second / time.Duration(t.TimeScale)
		if gap < 0 {
			gap = -gap
		}
		if gap <= maxAudioGap {
			// jitter: keep the track contiguous
			end = t.next + (end - start)
			start = t.next
		} else if err := m.Flush(); err != nil {
			return err
		}
	}
	if t.Kind == TrackVideo && m.buffered && s.PTS-m.partStart >= m.fragment {
		if err := m.Flush(); err != nil {
			return err
		}
	}

	duration := end - start
	if duration == 0 {
		duration = 1
	}

	if t.part == nil {
		t.part = &fmp4.PartTrack{ID: t.ID, BaseTime: start}
	}
	if !m.buffered {
		m.partStart = s.PTS
		m.buffered = true
	}
	t.part.Samples = append(t.part.Samples, &fmp4.Sample{
		Duration: uint32(duration),
		Payload:  s.Payload,
	})
	t.next = start + duration
	t.started = true
	return nil
}

// Flush writes the buffered fragment, if any.
func (m *fmp4Muxer) Flush() error {
	if !m.buffered {
		return nil
	}
	part := fmp4.Part{SequenceNumber: m.seq}
	for _, t := range m.tracks {
		if t.part != nil {
			part.Tracks = append(part.Tracks, t.part)
			t.part = nil
		}
	}
	m.seq++
	m.buffered = false
	if err := part.Marshal(m.w); err != nil {
		return fmt.Errorf("write fragment %d: %w", part.SequenceNumber, err)
	}
	return nil
}
