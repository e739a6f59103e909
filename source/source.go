package source

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zioncity/flvsource/flv"
	"github.com/zioncity/flvsource/media"
)

// State is the source lifecycle state.
type State int

const (
	StateInvalid State = iota
	StateOpening
	StateStopped
	StateStarted
	StatePaused
	StateShutdown
)

var stateNames = [...]string{"invalid", "opening", "stopped", "started", "paused", "shutdown"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// status is the source's progress and serialization flag set.
type status struct {
	fileHeaderReady     bool
	hasScriptData       bool
	metaReady           bool
	hasAudio            bool
	hasVideo            bool
	firstAudioTagReady  bool
	firstVideoTagReady  bool
	onMetaDataReady     bool
	pendingSeek         bool
	pendingRequest      bool
	processingOp        bool
	codePrivateDataSent bool
	scanOnce            bool
}

// Source is the FLV media source state machine. All public entry points and
// all asynchronous completions serialize on a single mutex; blocking I/O
// never happens with the mutex held.
type Source struct {
	mu    sync.Mutex
	log   *slog.Logger
	disp  media.Dispatcher
	alloc media.Allocator

	state  State
	status status
	events *media.EventQueue

	bs     media.ByteStream
	parser *flv.Parser

	fileHeader          flv.FileHeader
	meta                flv.Metadata
	firstMediaTagOffset int64
	firstAudio          flv.AudioPacket
	firstVideo          flv.VideoPacket
	avcc                flv.AVCConfig

	videoStream *Stream
	audioStream *Stream
	pd          *media.PresentationDescription

	pendingSeekPos  int64
	currentKeyframe flv.Keyframe
	pendingEOS      int
	restartCounter  uint32

	openCB func(error)
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(log *slog.Logger) Option {
	return func(s *Source) { s.log = log }
}

// WithAllocator sets the sample allocator; heap allocation otherwise.
func WithAllocator(alloc media.Allocator) Option {
	return func(s *Source) { s.alloc = alloc }
}

// New creates a source that queues its asynchronous work on disp.
func New(disp media.Dispatcher, opts ...Option) *Source {
	s := &Source{
		disp:   disp,
		alloc:  media.HeapAllocator{},
		events: media.NewEventQueue(),
		state:  StateInvalid,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "flv-source")
	return s
}

// Events returns the source event queue.
func (s *Source) Events() *media.EventQueue { return s.events }

// State returns the current lifecycle state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Characteristics reports the source capability flags.
func (s *Source) Characteristics() (media.Characteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkShutdown(); err != nil {
		return 0, err
	}
	return media.CanPause | media.CanSeek | media.HasSlowSeek |
		media.CanSkipForward | media.CanSkipBackward, nil
}

// CreatePresentationDescriptor returns a clone of the source's presentation
// description. The host toggles stream selection on the clone and passes it
// back to Start.
func (s *Source) CreatePresentationDescriptor() (*media.PresentationDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkShutdown(); err != nil {
		return nil, err
	}
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	if s.pd == nil {
		return nil, media.ErrNotInitialized
	}
	return s.pd.Clone(), nil
}

// Stream returns the stream with the given identifier (0 = video,
// 1 = audio), or nil.
func (s *Source) Stream(id uint32) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch id {
	case videoStreamID:
		return s.videoStream
	case audioStreamID:
		return s.audioStream
	}
	return nil
}

// BeginOpen starts the asynchronous open scan over bs. The callback fires
// exactly once: with nil once the presentation description is published, or
// with the failure, after which the source is shut down. Only a source in
// its initial state can be opened.
func (s *Source) BeginOpen(bs media.ByteStream, cb func(error)) error {
	if bs == nil || cb == nil {
		return media.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInvalid {
		return media.ErrInvalidStateTransition
	}
	caps := bs.Capabilities()
	if caps&media.Seekable == 0 {
		return media.ErrByteStreamNotSeekable
	}
	if caps&media.Readable == 0 {
		return fmt.Errorf("byte stream not readable: %w", media.ErrInvalidArgument)
	}

	s.bs = bs
	s.parser = flv.NewParser(bs)
	s.status = status{}
	s.openCB = cb
	s.state = StateOpening
	s.log.Debug("open scan starting")
	s.parser.ReadFileHeader(s.onFileHeader)
	return nil
}

// Start starts playback or seeks. startPos is nil to resume at the current
// position (or the first media tag when stopped), or a presentation time in
// 100-ns units. The pd must be derived from this source's presentation
// description; its selection bits pick the active streams.
func (s *Source) Start(pd *media.PresentationDescription, startPos *int64) error {
	if pd == nil {
		return media.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkShutdown(); err != nil {
		return err
	}
	if err := s.checkInitialized(); err != nil {
		return err
	}
	if len(pd.Streams) != len(s.pd.Streams) {
		return fmt.Errorf("presentation description stream count: %w", media.ErrInvalidArgument)
	}
	if err := s.enterOp(); err != nil {
		return err
	}

	var pos *int64
	if startPos != nil {
		v := *startPos
		pos = &v
	}
	return s.asyncDo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.doStart(pd, pos)
	})
}

// Pause pauses a started source.
func (s *Source) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkShutdown(); err != nil {
		return err
	}
	if err := s.checkInitialized(); err != nil {
		return err
	}
	if err := s.enterOp(); err != nil {
		return err
	}
	return s.asyncDo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.doPause()
	})
}

// Stop stops the source; queued samples are discarded and in-flight reads
// become stale.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkShutdown(); err != nil {
		return err
	}
	if err := s.checkInitialized(); err != nil {
		return err
	}
	if err := s.enterOp(); err != nil {
		return err
	}
	return s.asyncDo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.doStop()
	})
}

// Shutdown releases the source. Streams and event queues are shut down; all
// subsequent operations fail with ErrShutdown. Shutdown is terminal.
func (s *Source) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkShutdown(); err != nil {
		return err
	}
	s.shutdownLocked()
	return nil
}

func (s *Source) shutdownLocked() {
	if s.videoStream != nil {
		s.videoStream.shutdownStream()
	}
	if s.audioStream != nil {
		s.audioStream.shutdownStream()
	}
	s.events.Shutdown()
	s.pd = nil
	s.bs = nil
	s.parser = nil
	s.openCB = nil
	s.state = StateShutdown
	s.log.Debug("source shut down")
}

func (s *Source) checkShutdown() error {
	if s.state == StateShutdown {
		return media.ErrShutdown
	}
	return nil
}

func (s *Source) checkInitialized() error {
	if s.state == StateInvalid || s.state == StateOpening {
		return media.ErrNotInitialized
	}
	return nil
}

// enterOp claims the single control-operation slot.
func (s *Source) enterOp() error {
	if s.status.processingOp {
		return media.ErrNotAccepting
	}
	s.status.processingOp = true
	return nil
}

func (s *Source) leaveOp() {
	s.status.processingOp = false
}

// asyncDo queues fn as one work item. Called with the lock held; the lock is
// not held while the work item runs.
func (s *Source) asyncDo(fn func()) error {
	return s.disp.Dispatch(fn)
}

// stale reports whether a completion belongs to a demux cycle that a stop
// has since invalidated.
func (s *Source) stale(rc uint32) bool {
	return rc != s.restartCounter || s.state == StateShutdown
}

// ----- open scan -----

func (s *Source) onFileHeader(h flv.FileHeader, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpening {
		return
	}
	if err != nil {
		s.streamingError(err)
		return
	}
	s.fileHeader = h
	s.status.fileHeaderReady = true
	s.status.hasAudio = h.HasAudio
	s.status.hasVideo = h.HasVideo
	s.log.Debug("file header", "version", h.Version, "audio", h.HasAudio, "video", h.HasVideo)
	s.parser.ReadTagHeader(true, s.onScanTagHeader)
}

func (s *Source) onScanTagHeader(h flv.TagHeader, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpening {
		return
	}
	if err != nil {
		s.streamingError(err)
		return
	}

	switch h.Type {
	case flv.TagScript:
		if !s.status.onMetaDataReady {
			s.status.hasScriptData = true
			s.parser.ReadOnMetaData(h.PayloadSize, s.onMetaData)
			return
		}
		s.skipScanTag(h)

	case flv.TagVideo:
		s.status.hasVideo = true
		s.noteFirstMediaTag(h)
		if s.status.firstVideoTagReady {
			s.skipScanTag(h)
			return
		}
		s.parser.ReadVideoHeader(func(vh flv.VideoHeader, err error) {
			s.onScanVideoHeader(h, vh, err)
		})

	case flv.TagAudio:
		s.status.hasAudio = true
		s.noteFirstMediaTag(h)
		if s.status.firstAudioTagReady {
			s.skipScanTag(h)
			return
		}
		s.parser.ReadAudioHeader(func(ah flv.AudioHeader, err error) {
			s.onScanAudioHeader(h, ah, err)
		})

	case flv.TagEOF:
		// The scan must resolve both first packets before the file ends.
		s.status.scanOnce = true
		s.streamingError(fmt.Errorf("end of file during open scan: %w", media.ErrInvalidFormat))

	default:
		s.skipScanTag(h)
	}
}

func (s *Source) noteFirstMediaTag(h flv.TagHeader) {
	if s.firstMediaTagOffset == 0 {
		s.firstMediaTagOffset = h.DataOffset - flv.TagHeaderLength
	}
}

// skipScanTag seeks past a tag's payload and continues the scan.
func (s *Source) skipScanTag(h flv.TagHeader) {
	if err := s.parser.SeekForward(int64(h.PayloadSize)); err != nil {
		s.streamingError(err)
		return
	}
	s.parser.ReadTagHeader(true, s.onScanTagHeader)
}

func (s *Source) onMetaData(meta *flv.Metadata, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpening {
		return
	}
	if err != nil {
		s.streamingError(err)
		return
	}
	if meta == nil {
		// Some other script tag; consumed and ignored.
		s.parser.ReadTagHeader(true, s.onScanTagHeader)
		return
	}

	s.meta = *meta
	s.status.onMetaDataReady = true
	s.status.metaReady = true
	s.log.Debug("onMetaData",
		"duration", meta.Duration, "width", meta.Width, "height", meta.Height,
		"audiocodec", meta.AudioCodecID, "videocodec", meta.VideoCodecID,
		"keyframes", meta.Keyframes.Len())

	// Neither stream needs a codec header we would have to scan for.
	declaredNonAAC := meta.AudioCodecID != 0 && meta.AudioCodecID != flv.AudioAAC
	declaredNonAVC := meta.VideoCodecID != 0 && meta.VideoCodecID != flv.VideoAVC
	if declaredNonAAC && declaredNonAVC {
		s.finishInitialize()
		return
	}
	s.parser.ReadTagHeader(true, s.onScanTagHeader)
}

func (s *Source) onScanVideoHeader(tag flv.TagHeader, vh flv.VideoHeader, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpening {
		return
	}
	if err != nil {
		s.streamingError(err)
		return
	}

	vp := flv.VideoPacket{Tag: tag, VideoHeader: vh}
	if vh.Codec == flv.VideoAVC {
		s.parser.ReadAVCPacketType(func(t flv.AVCPacketType, ct int32, err error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.state != StateOpening {
				return
			}
			if err != nil {
				s.streamingError(err)
				return
			}
			vp.AVCPacketType = t
			vp.CompositionTime = ct
			s.readScanVideoPayload(vp)
		})
		return
	}
	s.readScanVideoPayload(vp)
}

// readScanVideoPayload reads the first video tag's payload and records the
// stream's codec configuration. An AVC tag that is not the sequence header
// is skipped; the scan keeps looking for the avcC record.
func (s *Source) readScanVideoPayload(vp flv.VideoPacket) {
	if vp.Codec == flv.VideoAVC && vp.AVCPacketType != flv.AVCSequenceHeader {
		if err := s.parser.SeekForward(int64(vp.PayloadLength())); err != nil {
			s.streamingError(err)
			return
		}
		s.parser.ReadTagHeader(true, s.onScanTagHeader)
		return
	}

	s.parser.ReadPayload(vp.PayloadLength(), func(data []byte, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != StateOpening {
			return
		}
		if err != nil {
			s.streamingError(err)
			return
		}
		vp.Payload = data
		if vp.Codec == flv.VideoAVC {
			cfg, err := flv.ParseAVCConfig(data)
			if err != nil {
				s.streamingError(err)
				return
			}
			s.avcc = cfg
		}
		s.firstVideo = vp
		s.status.firstVideoTagReady = true
		if s.meta.VideoCodecID == 0 {
			s.meta.VideoCodecID = vp.Codec
		}
		s.checkFirstPacketsReady()
	})
}

func (s *Source) onScanAudioHeader(tag flv.TagHeader, ah flv.AudioHeader, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpening {
		return
	}
	if err != nil {
		s.streamingError(err)
		return
	}

	ap := flv.AudioPacket{Tag: tag, AudioHeader: ah}
	if ah.Codec == flv.AudioAAC {
		s.parser.ReadAACPacketType(func(t flv.AACPacketType, err error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.state != StateOpening {
				return
			}
			if err != nil {
				s.streamingError(err)
				return
			}
			ap.AACPacketType = t
			s.readScanAudioPayload(ap)
		})
		return
	}
	s.readScanAudioPayload(ap)
}

func (s *Source) readScanAudioPayload(ap flv.AudioPacket) {
	s.parser.ReadPayload(ap.PayloadLength(), func(data []byte, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != StateOpening {
			return
		}
		if err != nil {
			s.streamingError(err)
			return
		}
		ap.Payload = data
		s.firstAudio = ap
		s.status.firstAudioTagReady = true
		if s.meta.AudioCodecID == 0 {
			s.meta.AudioCodecID = ap.Codec
		}
		s.checkFirstPacketsReady()
	})
}

// checkFirstPacketsReady finishes the scan once every stream that needs a
// codec header has produced its first tag; absent streams and streams whose
// declared codec carries no header are not waited for.
func (s *Source) checkFirstPacketsReady() {
	audioReady := !s.status.hasAudio ||
		(s.status.onMetaDataReady && s.meta.AudioCodecID != 0 && s.meta.AudioCodecID != flv.AudioAAC) ||
		s.status.firstAudioTagReady
	videoReady := !s.status.hasVideo ||
		(s.status.onMetaDataReady && s.meta.VideoCodecID != 0 && s.meta.VideoCodecID != flv.VideoAVC) ||
		s.status.firstVideoTagReady
	if audioReady && videoReady {
		s.finishInitialize()
		return
	}
	s.parser.ReadTagHeader(true, s.onScanTagHeader)
}

// finishInitialize builds the streams and the presentation description and
// completes the open.
func (s *Source) finishInitialize() {
	var streams []*media.StreamDescriptor

	if s.status.hasVideo {
		mt, err := s.buildVideoMediaType()
		if err != nil {
			s.streamingError(err)
			return
		}
		sd := &media.StreamDescriptor{ID: videoStreamID, MediaType: mt}
		s.videoStream = newStream(s, sd, s.log)
		streams = append(streams, sd)
	}
	if s.status.hasAudio {
		mt, err := s.buildAudioMediaType()
		if err != nil {
			s.streamingError(err)
			return
		}
		sd := &media.StreamDescriptor{ID: audioStreamID, MediaType: mt}
		s.audioStream = newStream(s, sd, s.log)
		streams = append(streams, sd)
	}
	if len(streams) == 0 {
		s.streamingError(fmt.Errorf("no streams: %w", media.ErrInvalidFormat))
		return
	}

	for _, sd := range streams {
		sd.Select()
	}
	s.pd = &media.PresentationDescription{
		Duration:     int64(s.meta.Duration) * 1e7,
		AudioBitrate: s.meta.AudioDataRate,
		VideoBitrate: s.meta.VideoDataRate,
		FileSize:     s.meta.FileSize,
		Streams:      streams,
	}
	s.state = StateStopped
	s.log.Debug("presentation ready", "streams", len(streams), "duration", s.pd.Duration)
	s.completeOpen(nil)
}

// completeOpen fires the BeginOpen callback once, off the lock.
func (s *Source) completeOpen(err error) {
	cb := s.openCB
	s.openCB = nil
	if cb == nil {
		return
	}
	s.disp.Dispatch(func() { cb(err) })
}

// streamingError handles a failure inside an asynchronous operation. During
// the open scan it fails the open and shuts the source down; afterwards it
// posts an error event and the source stays reachable until the host shuts
// it down.
func (s *Source) streamingError(err error) {
	s.log.Debug("streaming error", "state", s.state, "error", err)
	if s.state == StateOpening {
		s.completeOpen(err)
		s.shutdownLocked()
		return
	}
	if s.state != StateShutdown {
		s.events.Queue(media.Event{Type: media.EventSourceError, Status: err})
	}
}

// ----- start / stop / pause -----

func (s *Source) doStart(pd *media.PresentationDescription, startPos *int64) {
	defer s.leaveOp()

	isSeek := false
	var k flv.Keyframe
	switch {
	case startPos != nil:
		kf, ok := s.meta.Keyframes.Seek(*startPos)
		if !ok {
			kf = flv.Keyframe{Position: s.firstMediaTagOffset}
		}
		k = kf
		s.pendingSeekPos = k.Position - flv.PreviousTagSizeLength
		s.status.pendingSeek = true
		if s.state != StateStopped {
			isSeek = true
		}
	case s.state == StateStopped:
		k = flv.Keyframe{Position: s.firstMediaTagOffset}
		s.pendingSeekPos = k.Position - flv.PreviousTagSizeLength
		s.status.pendingSeek = true
	default:
		// Resume a started or paused source at the last delivered keyframe.
		k = s.currentKeyframe
	}
	s.status.pendingRequest = false

	if err := s.selectStreams(pd, isSeek); err != nil {
		s.events.Queue(media.Event{Type: media.EventSourceStarted, Status: err})
		return
	}

	typ := media.EventSourceStarted
	if isSeek {
		typ = media.EventSourceSeeked
	}
	s.state = StateStarted
	s.events.Queue(media.Event{Type: typ, Time: k.Time, ActualStart: k.Time})
	s.log.Debug("started", "seek", isSeek, "time", k.Time, "position", k.Position)

	if s.videoStream != nil && s.videoStream.isActive() {
		s.videoStream.start(k.Time, isSeek)
	}
	if s.audioStream != nil && s.audioStream.isActive() {
		s.audioStream.start(k.Time, isSeek)
	}
}

// selectStreams applies the host's selection bits, emits the new-stream and
// updated-stream events, and resets the end-of-stream accounting. A stream
// that loses its selection is shut down.
func (s *Source) selectStreams(pd *media.PresentationDescription, isSeek bool) error {
	s.pendingEOS = 0
	for _, sd := range pd.Streams {
		var st *Stream
		switch sd.ID {
		case videoStreamID:
			st = s.videoStream
		case audioStreamID:
			st = s.audioStream
		}
		if st == nil {
			return fmt.Errorf("unknown stream id %d: %w", sd.ID, media.ErrInvalidArgument)
		}

		wasSelected := st.isActive()
		st.activate(sd.IsSelected())
		if sd.IsSelected() {
			s.pendingEOS++
			typ := media.EventNewStream
			if wasSelected {
				typ = media.EventUpdatedStream
			}
			s.events.Queue(media.Event{Type: typ, Stream: st})
		} else if wasSelected {
			st.shutdownStream()
		}
	}
	return nil
}

func (s *Source) doPause() {
	defer s.leaveOp()

	if s.state != StateStarted {
		s.events.Queue(media.Event{Type: media.EventSourcePaused, Status: media.ErrInvalidStateTransition})
		return
	}
	if s.videoStream != nil && s.videoStream.isActive() {
		s.videoStream.pause()
	}
	if s.audioStream != nil && s.audioStream.isActive() {
		s.audioStream.pause()
	}
	s.state = StatePaused
	s.events.Queue(media.Event{Type: media.EventSourcePaused})
}

func (s *Source) doStop() {
	defer s.leaveOp()

	if s.videoStream != nil {
		s.videoStream.stop()
	}
	if s.audioStream != nil {
		s.audioStream.stop()
	}
	// In-flight read completions compare against this and discard themselves.
	s.restartCounter++
	s.status.pendingRequest = false
	s.status.pendingSeek = false
	s.state = StateStopped
	s.events.Queue(media.Event{Type: media.EventSourceStopped})
}

// ----- demand and end-of-stream notifications from streams -----

// signalRequestData schedules one demux pass. Called with the lock held.
func (s *Source) signalRequestData() {
	s.asyncDo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.demuxSample()
	})
}

// signalEndOfStream is called by a stream when it drains after end of file.
// When every selected stream has drained, the presentation is over.
func (s *Source) signalEndOfStream() {
	s.asyncDo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pendingEOS--
		if s.pendingEOS == 0 {
			s.events.Queue(media.Event{Type: media.EventEndOfPresentation})
		}
	})
}
