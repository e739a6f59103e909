package source

import (
	"log/slog"

	"github.com/zioncity/flvsource/media"
)

// Stream is one elementary stream of the presentation. It queues samples
// delivered by the demux loop, services pull requests from the host, and
// raises demand back to the source. Its event queue carries stream-level
// notifications and the samples themselves.
type Stream struct {
	src    *Source
	log    *slog.Logger
	sd     *media.StreamDescriptor
	events *media.EventQueue

	// Guarded by the source mutex: streams are manipulated by the source
	// while it holds its lock, and host entry points (RequestSample) take
	// that same lock.
	active   bool
	paused   bool
	shutdown bool
	eos      bool
	eosSent  bool
	requests []any
	samples  []*media.Sample
}

func newStream(src *Source, sd *media.StreamDescriptor, log *slog.Logger) *Stream {
	return &Stream{
		src:    src,
		log:    log.With("stream", sd.ID),
		sd:     sd,
		events: media.NewEventQueue(),
	}
}

// Descriptor returns the stream's descriptor as published in the
// presentation description.
func (st *Stream) Descriptor() *media.StreamDescriptor { return st.sd }

// Events returns the stream's event queue. Samples arrive as EventSample
// events carrying the request token.
func (st *Stream) Events() *media.EventQueue { return st.events }

// RequestSample asks for one sample. If one is already queued it is matched
// immediately; otherwise the token is held and the source is signalled to
// demux. The token is returned with the sample event.
func (st *Stream) RequestSample(token any) error {
	st.src.mu.Lock()
	defer st.src.mu.Unlock()

	switch {
	case st.shutdown:
		return media.ErrShutdown
	case !st.active:
		return media.ErrNotAccepting
	case st.eos && len(st.samples) == 0:
		return media.ErrEndOfStream
	}

	if len(st.samples) > 0 {
		sample := st.samples[0]
		st.samples = st.samples[1:]
		st.events.Queue(media.Event{Type: media.EventSample, Sample: sample, Token: token})
		st.maybeEndOfStream()
	} else {
		st.requests = append(st.requests, token)
	}
	st.src.signalRequestData()
	return nil
}

// deliver hands a demuxed sample to the stream. Called by the source with
// its lock held. Samples for an inactive stream are dropped.
func (st *Stream) deliver(sample *media.Sample) {
	if !st.active || st.shutdown {
		return
	}
	if len(st.requests) > 0 {
		token := st.requests[0]
		st.requests = st.requests[1:]
		st.events.Queue(media.Event{Type: media.EventSample, Sample: sample, Token: token})
		return
	}
	st.samples = append(st.samples, sample)
}

// needsData reports whether the stream has unmatched demand: active, not
// paused, not shut down, not at end of stream, at least one waiting request
// and nothing queued to satisfy it.
func (st *Stream) needsData() bool {
	return st.active && !st.paused && !st.shutdown && !st.eos &&
		len(st.requests) > 0 && len(st.samples) == 0
}

// activate selects or deselects the stream. Deactivation clears both queues.
func (st *Stream) activate(selected bool) {
	st.active = selected
	if !selected {
		st.requests = nil
		st.samples = nil
	}
}

func (st *Stream) isActive() bool { return st.active }

// start begins or re-begins delivery at the given time. A seek flushes
// samples queued before the stream was repositioned.
func (st *Stream) start(nanos int64, isSeek bool) {
	st.paused = false
	st.eos = false
	st.eosSent = false
	typ := media.EventStreamStarted
	if isSeek {
		st.samples = nil
		typ = media.EventStreamSeeked
	}
	st.log.Debug("stream starting", "time", nanos, "seek", isSeek)
	st.events.Queue(media.Event{Type: typ, Time: nanos})
}

func (st *Stream) pause() {
	st.paused = true
	st.events.Queue(media.Event{Type: media.EventStreamPaused})
}

func (st *Stream) stop() {
	st.requests = nil
	st.samples = nil
	st.events.Queue(media.Event{Type: media.EventStreamStopped})
}

// endOfFile latches end-of-stream. The end-of-stream event fires once the
// ready queue drains.
func (st *Stream) endOfFile() {
	st.eos = true
	st.maybeEndOfStream()
}

func (st *Stream) maybeEndOfStream() {
	if st.eos && len(st.samples) == 0 && !st.eosSent {
		st.eosSent = true
		st.events.Queue(media.Event{Type: media.EventEndOfStream})
		st.src.signalEndOfStream()
	}
}

func (st *Stream) shutdownStream() {
	st.shutdown = true
	st.active = false
	st.requests = nil
	st.samples = nil
	st.events.Shutdown()
}
