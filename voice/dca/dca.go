// Package dca reads Opus frames stored back to back, each prefixed with its
// length as a 4-byte little-endian integer, and plays them as a voice audio
// source.
package dca

import (
	"bufio"
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// MaxFrameSize is the largest frame accepted by Decode. An Opus packet never
// comes close.
const MaxFrameSize = 4000

// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("dca frame too large")

// Decode reads all frames from r until EOF.
func Decode(r io.Reader) ([][]byte, error) {
	br := bufio.NewReader(r)

	var frames [][]byte
	var prefix [4]byte

	for {
		if _, err := io.ReadFull(br, prefix[:]); err != nil {
			if err == io.EOF {
				return frames, nil
			}
			return frames, errors.Wrapf(err, "failed to read length of frame %d", len(frames))
		}

		size := binary.LittleEndian.Uint32(prefix[:])
		if size > MaxFrameSize {
			return frames, errors.Wrapf(ErrFrameTooLarge, "frame %d is %d bytes", len(frames), size)
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(br, frame); err != nil {
			return frames, errors.Wrapf(err, "failed to read frame %d", len(frames))
		}

		frames = append(frames, frame)
	}
}

// Encode writes frames to w in the format that Decode reads.
func Encode(w io.Writer, frames ...[]byte) error {
	var prefix [4]byte

	for i, frame := range frames {
		if len(frame) > MaxFrameSize {
			return errors.Wrapf(ErrFrameTooLarge, "frame %d is %d bytes", i, len(frame))
		}

		binary.LittleEndian.PutUint32(prefix[:], uint32(len(frame)))

		if _, err := w.Write(prefix[:]); err != nil {
			return errors.Wrap(err, "failed to write length")
		}
		if _, err := w.Write(frame); err != nil {
			return errors.Wrap(err, "failed to write frame")
		}
	}

	return nil
}

// Source is a queue of frames. PullFrame never blocks: it returns nil once the
// queue is empty.
type Source struct {
	mutex   sync.Mutex
	frames  [][]byte
	drained chan struct{}
	once    sync.Once
}

// NewSource creates a source that plays the given frames in order.
func NewSource(frames [][]byte) *Source {
	s := &Source{
		frames:  frames,
		drained: make(chan struct{}),
	}
	if len(frames) == 0 {
		s.once.Do(func() { close(s.drained) })
	}
	return s
}

// Load decodes everything from r into a new Source.
func Load(r io.Reader) (*Source, error) {
	frames, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return NewSource(frames), nil
}

// PullFrame pops the next frame, or returns nil if there's none left.
func (s *Source) PullFrame() []byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.frames) == 0 {
		return nil
	}

	frame := s.frames[0]
	s.frames[0] = nil
	s.frames = s.frames[1:]

	if len(s.frames) == 0 {
		s.once.Do(func() { close(s.drained) })
	}

	return frame
}

// Len returns the number of frames left.
func (s *Source) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.frames)
}

// Drained is closed once the last frame is pulled.
func (s *Source) Drained() <-chan struct{} {
	return s.drained
}
