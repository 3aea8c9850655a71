package audio

import (
	"sync"
	"time"
)

// FrameSize is one 20ms frame of 8kHz 8-bit mu-law audio, the unit Twilio
// Media Streams expects per outbound media message.
const FrameSize = 160

// Pacer buffers outbound audio in a RingBuffer and drains it to a sink in
// fixed-size frames on a steady clock. Provider audio arrives in bursts of
// whatever size the backend happens to flush; the carrier expects a
// metronomic 20ms cadence regardless, so the two must be decoupled by a
// buffer rather than forwarded chunk-for-chunk.
type Pacer struct {
	buf    *RingBuffer
	sink   func([]byte) error
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
}

// NewPacer starts a Pacer immediately; call Stop when the call ends.
func NewPacer(capacity int, interval time.Duration, sink func([]byte) error) *Pacer {
	p := &Pacer{
		buf:    NewRingBuffer(capacity),
		sink:   sink,
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Pacer) run() {
	frame := make([]byte, FrameSize)
	for {
		select {
		case <-p.ticker.C:
			n := p.buf.Read(frame)
			if n == 0 {
				continue
			}
			p.sink(frame[:n])
		case <-p.stopCh:
			return
		}
	}
}

// Write enqueues provider audio for pacing. Returns the number of bytes
// accepted; excess is dropped under sustained backpressure rather than
// growing unbounded.
func (p *Pacer) Write(data []byte) int {
	return p.buf.Write(data)
}

// Utilization reports the fraction of the pacing buffer currently
// holding unsent audio, for callers that want to log or alert on
// sustained carrier-side backpressure.
func (p *Pacer) Utilization() float64 {
	return p.buf.Utilization()
}

// Drop discards any buffered, not-yet-sent audio. Used on barge-in so a
// truncated response stops reaching the carrier immediately instead of
// trickling out over the next several frames.
func (p *Pacer) Drop() {
	p.buf.Clear()
}

// Stop halts the drain loop. Idempotent.
func (p *Pacer) Stop() {
	p.once.Do(func() {
		p.ticker.Stop()
		close(p.stopCh)
	})
}
