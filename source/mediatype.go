package source

import (
	"fmt"

	"github.com/zioncity/flvsource/flv"
	"github.com/zioncity/flvsource/media"
)

// Stream identifiers within the presentation description.
const (
	videoStreamID uint32 = 0
	audioStreamID uint32 = 1
)

// buildVideoMediaType synthesizes the video media type from onMetaData and
// the avcC record. Only AVC is supported. When the metadata lacks frame
// dimensions they are recovered from the first SPS.
func (s *Source) buildVideoMediaType() (*media.MediaType, error) {
	codec := s.meta.VideoCodecID
	if codec == 0 {
		codec = s.firstVideo.Codec
	}
	if codec != flv.VideoAVC {
		return nil, fmt.Errorf("video codec %d: %w", codec, media.ErrUnsupportedFormat)
	}

	width, height := s.meta.Width, s.meta.Height
	if (width == 0 || height == 0) && len(s.avcc.SPS) > 0 {
		if info, err := flv.ParseSPS(s.avcc.SPS[0]); err == nil {
			width, height = info.Width, info.Height
		}
	}

	mt := &media.MediaType{
		Major:          media.MajorVideo,
		Subtype:        media.SubtypeH264,
		Width:          width,
		Height:         height,
		PixelAspect:    media.Ratio{Num: 1, Den: 1},
		Profile:        s.avcc.Profile,
		Level:          s.avcc.Level,
		NALLengthSize:  s.avcc.NALLengthSize,
		SequenceHeader: s.avcc.SequenceHeader,
		AvgBitrate:     s.meta.VideoDataRate,
	}
	if fr := s.meta.FrameRate; fr > 0 {
		mt.FrameRate = media.Ratio{Num: fr, Den: 1}
		mt.FrameRateRangeMax = media.Ratio{Num: fr, Den: 1}
		mt.FrameRateRangeMin = media.Ratio{Num: fr / 2, Den: 1}
	}
	return mt, nil
}

// buildAudioMediaType synthesizes the audio media type for AAC or MP3 from
// onMetaData and the first audio tag. The first AAC tag's payload (the
// AudioSpecificConfig) rides along as user data.
func (s *Source) buildAudioMediaType() (*media.MediaType, error) {
	codec := s.meta.AudioCodecID
	if codec == 0 {
		codec = s.firstAudio.Codec
	}

	var sub media.Subtype
	switch codec {
	case flv.AudioAAC:
		sub = media.SubtypeRawAAC
	case flv.AudioMP3, flv.AudioMP38K:
		sub = media.SubtypeMP3
	default:
		return nil, fmt.Errorf("audio codec %d: %w", codec, media.ErrUnsupportedFormat)
	}

	rate := s.meta.AudioSampleRate
	if rate == 0 {
		rate = s.firstAudio.SampleRate
	}
	bits := s.meta.AudioSampleSize
	if bits == 0 {
		bits = s.firstAudio.BitsPerSample
	}
	channels := uint32(1)
	if s.meta.Stereo || s.firstAudio.Stereo {
		channels = 2
	}

	return &media.MediaType{
		Major:            media.MajorAudio,
		Subtype:          sub,
		SamplesPerSecond: rate,
		Channels:         channels,
		BitsPerSample:    bits,
		BlockAlign:       1,
		AvgBitrate:       s.meta.AudioDataRate,
		UserData:         s.firstAudio.Payload,
	}, nil
}
