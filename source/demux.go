package source

import (
	"github.com/zioncity/flvsource/flv"
)

// needsDemux reports whether a demux cycle should run: no cycle already in
// flight and at least one stream with unmatched demand.
func (s *Source) needsDemux() bool {
	if s.state == StateShutdown || s.status.pendingRequest {
		return false
	}
	if s.videoStream != nil && s.videoStream.needsData() {
		return true
	}
	if s.audioStream != nil && s.audioStream.needsData() {
		return true
	}
	return false
}

// demuxSample runs one demux cycle: consume a pending seek, read one tag,
// build one sample, deliver it. The cycle re-arms itself from the delivery
// path while demand remains. Called with the lock held.
func (s *Source) demuxSample() {
	if !s.needsDemux() {
		return
	}
	if s.status.pendingSeek {
		s.status.pendingSeek = false
		if err := s.bs.SetPosition(s.pendingSeekPos); err != nil {
			s.streamingError(err)
			return
		}
		// The next delivered video sample must carry the parameter sets again.
		s.status.codePrivateDataSent = false
	}
	s.status.pendingRequest = true
	rc := s.restartCounter
	s.parser.ReadTagHeader(true, func(h flv.TagHeader, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stale(rc) {
			return
		}
		s.onDemuxTagHeader(rc, h, err)
	})
}

func (s *Source) onDemuxTagHeader(rc uint32, h flv.TagHeader, err error) {
	if err != nil {
		s.demuxError(err)
		return
	}
	switch h.Type {
	case flv.TagAudio:
		s.readDemuxAudio(rc, h)
	case flv.TagVideo:
		s.readDemuxVideo(rc, h)
	case flv.TagEOF:
		s.endOfFile()
	default:
		// Script and unknown tags are skipped and the cycle continues.
		if err := s.parser.SeekForward(int64(h.PayloadSize)); err != nil {
			s.demuxError(err)
			return
		}
		s.status.pendingRequest = false
		s.demuxSample()
	}
}

func (s *Source) readDemuxAudio(rc uint32, tag flv.TagHeader) {
	s.parser.ReadAudioHeader(func(ah flv.AudioHeader, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stale(rc) {
			return
		}
		if err != nil {
			s.demuxError(err)
			return
		}
		ap := flv.AudioPacket{Tag: tag, AudioHeader: ah}
		if ah.Codec == flv.AudioAAC {
			s.parser.ReadAACPacketType(func(t flv.AACPacketType, err error) {
				s.mu.Lock()
				defer s.mu.Unlock()
				if s.stale(rc) {
					return
				}
				if err != nil {
					s.demuxError(err)
					return
				}
				ap.AACPacketType = t
				s.readDemuxAudioPayload(rc, ap)
			})
			return
		}
		s.readDemuxAudioPayload(rc, ap)
	})
}

func (s *Source) readDemuxAudioPayload(rc uint32, ap flv.AudioPacket) {
	s.parser.ReadPayload(ap.PayloadLength(), func(data []byte, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stale(rc) {
			return
		}
		if err != nil {
			s.demuxError(err)
			return
		}
		ap.Payload = data
		s.deliverAudioPacket(ap)
	})
}

func (s *Source) deliverAudioPacket(ap flv.AudioPacket) {
	sample := s.alloc.NewSample()
	sample.Buffers = [][]byte{append(s.alloc.NewBuffer(len(ap.Payload)), ap.Payload...)}
	sample.Time = ap.NanoTimestamp()
	if s.audioStream != nil {
		s.audioStream.deliver(sample)
	}
	s.status.pendingRequest = false
	s.demuxSample()
}

func (s *Source) readDemuxVideo(rc uint32, tag flv.TagHeader) {
	s.parser.ReadVideoHeader(func(vh flv.VideoHeader, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stale(rc) {
			return
		}
		if err != nil {
			s.demuxError(err)
			return
		}
		vp := flv.VideoPacket{Tag: tag, VideoHeader: vh}
		if vh.Codec == flv.VideoAVC {
			s.parser.ReadAVCPacketType(func(t flv.AVCPacketType, ct int32, err error) {
				s.mu.Lock()
				defer s.mu.Unlock()
				if s.stale(rc) {
					return
				}
				if err != nil {
					s.demuxError(err)
					return
				}
				vp.AVCPacketType = t
				vp.CompositionTime = ct
				s.readDemuxVideoPayload(rc, vp)
			})
			return
		}
		s.readDemuxVideoPayload(rc, vp)
	})
}

func (s *Source) readDemuxVideoPayload(rc uint32, vp flv.VideoPacket) {
	s.parser.ReadPayload(vp.PayloadLength(), func(data []byte, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stale(rc) {
			return
		}
		if err != nil {
			s.demuxError(err)
			return
		}
		vp.Payload = data
		s.deliverVideoPacket(vp)
	})
}

func (s *Source) deliverVideoPacket(vp flv.VideoPacket) {
	// AVC sequence-header and end-of-sequence tags produce no sample.
	if vp.IsKeyFrame() && (vp.Codec != flv.VideoAVC || vp.AVCPacketType == flv.AVCNALU) {
		s.currentKeyframe = flv.Keyframe{
			Position: vp.Tag.DataOffset - flv.TagHeaderLength,
			Time:     vp.NanoTimestamp(),
		}
	}

	if vp.Codec == flv.VideoAVC {
		switch vp.AVCPacketType {
		case flv.AVCSequenceHeader:
			// Mid-stream parameter set refresh; no sample is produced.
			cfg, err := flv.ParseAVCConfig(vp.Payload)
			if err != nil {
				s.demuxError(err)
				return
			}
			s.avcc = cfg
			s.status.pendingRequest = false
			s.demuxSample()
			return
		case flv.AVCEndOfSequence:
			s.status.pendingRequest = false
			s.demuxSample()
			return
		}
		s.deliverAVCPacket(vp)
		return
	}

	sample := s.alloc.NewSample()
	sample.Buffers = [][]byte{append(s.alloc.NewBuffer(len(vp.Payload)), vp.Payload...)}
	sample.Time = vp.NanoTimestamp()
	sample.KeyFrame = vp.IsKeyFrame()
	if s.videoStream != nil {
		s.videoStream.deliver(sample)
	}
	s.status.pendingRequest = false
	s.demuxSample()
}

// deliverAVCPacket repackages a NALU payload as Annex-B buffers. The first
// sample after a start or seek carries the SPS+PPS blob as its first buffer.
func (s *Source) deliverAVCPacket(vp flv.VideoPacket) {
	sample := s.alloc.NewSample()
	if !s.status.codePrivateDataSent {
		s.status.codePrivateDataSent = true
		cpd := append(s.alloc.NewBuffer(len(s.avcc.SequenceHeader)), s.avcc.SequenceHeader...)
		sample.Buffers = append(sample.Buffers, cpd)
	}

	units, err := flv.SplitNALUs(vp.Payload, int(s.avcc.NALLengthSize))
	if err != nil {
		s.demuxError(err)
		return
	}
	sample.Buffers = append(sample.Buffers, units...)
	sample.Time = vp.NanoTimestamp()
	sample.KeyFrame = vp.IsKeyFrame()

	if s.videoStream != nil {
		s.videoStream.deliver(sample)
	}
	s.status.pendingRequest = false
	s.demuxSample()
}

// endOfFile latches end-of-stream on every active stream. Each drains its
// ready queue and reports back; the demux loop stays parked until the next
// start repositions the stream.
func (s *Source) endOfFile() {
	if s.videoStream != nil && s.videoStream.isActive() {
		s.videoStream.endOfFile()
	}
	if s.audioStream != nil && s.audioStream.isActive() {
		s.audioStream.endOfFile()
	}
}

// demuxError surfaces a demux failure and parks the loop; the host decides
// whether to stop or shut down.
func (s *Source) demuxError(err error) {
	s.status.pendingRequest = false
	s.streamingError(err)
}
