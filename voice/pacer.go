package voice

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/diamondburned/arivoice/internal/metronome"
	"github.com/diamondburned/arivoice/voice/udp"
)

const (
	// FrameDuration is the duration of one Opus frame.
	FrameDuration = 20 * time.Millisecond
	// FrameSamples is the number of samples per channel in one frame at 48kHz.
	FrameSamples = 960
)

// ErrNoSecretKey is returned by Pacer.Run if the session has no key yet.
var ErrNoSecretKey = errors.New("secret key not received")

// AudioSource gives the pacer encoded Opus frames. PullFrame is called once per
// frame and must not block; it returns nil if there's nothing to send.
type AudioSource interface {
	PullFrame() []byte
}

// AudioSourceFunc is a function that implements AudioSource.
type AudioSourceFunc func() []byte

// PullFrame calls f.
func (f AudioSourceFunc) PullFrame() []byte { return f() }

// FrameWriter writes sealed frames. It's implemented by *udp.Connection.
type FrameWriter interface {
	WriteFrame(f *udp.Frame, sealer udp.Sealer, key *[32]byte) error
}

// Speaker tells the voice server whether we're speaking. It's implemented by
// *voicegateway.Gateway.
type Speaker interface {
	Speaking(ctx context.Context, speaking bool) error
}

// Pacer sends one frame of audio every frame duration for as long as it runs.
// It owns the sequence and timestamp counters and the session's speaking flag.
type Pacer struct {
	// Source is where frames are pulled from.
	Source AudioSource
	// Sealer seals the payloads. Defaults to udp.XSalsa20Poly1305.
	Sealer udp.Sealer
	// Clock drives the cadence. Defaults to the real clock.
	Clock metronome.Clock
	// FrameDuration is the time between frames.
	FrameDuration time.Duration
	// FrameSamples is added to the timestamp for every frame sent.
	FrameSamples uint32
	// Suppressed, if not nil, mutes all output while true.
	Suppressed *atomic.Bool

	ErrorLog func(error)
	Metrics  *Metrics

	session *VoiceSession
	conn    FrameWriter
	speaker Speaker

	sequence  uint16
	timestamp uint32

	stop atomic.Bool
	done chan struct{}
}

// NewPacer creates a pacer for the session that writes to conn and reports
// speaking changes to speaker.
func NewPacer(session *VoiceSession, conn FrameWriter, speaker Speaker, src AudioSource) *Pacer {
	return &Pacer{
		Source:        src,
		Sealer:        udp.XSalsa20Poly1305,
		Clock:         metronome.RealClock,
		FrameDuration: FrameDuration,
		FrameSamples:  FrameSamples,
		ErrorLog:      func(error) {},

		session: session,
		conn:    conn,
		speaker: speaker,
		done:    make(chan struct{}),
	}
}

// Run runs the pacer until Stop is called or ctx is done. It returns
// ErrNoSecretKey right away if the session has no secret key.
func (p *Pacer) Run(ctx context.Context) error {
	defer close(p.done)

	key := p.session.SecretKey()
	if key == nil {
		return ErrNoSecretKey
	}

	ssrc, _ := p.session.SSRC()
	m := metronome.New(p.Clock, p.FrameDuration)

	for !p.stop.Load() {
		late, err := m.Wait(ctx)
		if err != nil {
			return nil
		}

		p.Metrics.lateness(late)
		p.tick(ctx, key, ssrc)
	}

	return nil
}

// Stop asks the pacer to stop. It does not wait: the pacer sees the flag
// before its next frame.
func (p *Pacer) Stop() {
	p.stop.Store(true)
}

// Done is closed once Run returns.
func (p *Pacer) Done() <-chan struct{} {
	return p.done
}

// tick pulls and sends a single frame.
func (p *Pacer) tick(ctx context.Context, key *[32]byte, ssrc uint32) {
	opus := p.Source.PullFrame()

	if len(opus) == 0 || p.suppressed() {
		if p.session.speaking.CompareAndSwap(true, false) {
			p.sendSpeaking(ctx, false)
		}
		return
	}

	if p.session.speaking.CompareAndSwap(false, true) {
		p.sendSpeaking(ctx, true)
	}

	frame := udp.Frame{
		Sequence:  p.sequence,
		Timestamp: p.timestamp,
		SSRC:      ssrc,
		Opus:      opus,
	}

	// The frame is spent even if it couldn't be sent.
	p.sequence++
	p.timestamp += p.FrameSamples

	if err := p.conn.WriteFrame(&frame, p.Sealer, key); err != nil {
		p.Metrics.sendFailed()
		p.ErrorLog(err)
		return
	}

	p.Metrics.frameSent()
}

func (p *Pacer) suppressed() bool {
	return p.Suppressed != nil && p.Suppressed.Load()
}

func (p *Pacer) sendSpeaking(ctx context.Context, speaking bool) {
	// Never hold up the next frame for this.
	ctx, cancel := context.WithTimeout(ctx, p.FrameDuration)
	defer cancel()

	p.Metrics.speaking(speaking)

	if err := p.speaker.Speaking(ctx, speaking); err != nil {
		p.ErrorLog(errors.Wrap(err, "failed to send speaking"))
	}
}
