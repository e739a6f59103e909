package flv

// Wire-format lengths.
const (
	FileHeaderLength      = 9
	TagHeaderLength       = 11
	PreviousTagSizeLength = 4
)

// TagType is the type byte of an FLV tag.
type TagType uint8

const (
	TagUnknown TagType = 0
	TagAudio   TagType = 8
	TagVideo   TagType = 9
	TagScript  TagType = 18

	// TagEOF is synthesized by the parser when the byte stream is exhausted.
	TagEOF TagType = 0xFF
)

// AudioCodec is the codec id from the upper nibble of an audio tag's first
// payload byte.
type AudioCodec uint8

const (
	AudioMP3   AudioCodec = 2
	AudioAAC   AudioCodec = 10
	AudioMP38K AudioCodec = 14
)

// VideoCodec is the codec id from the lower nibble of a video tag's first
// payload byte.
type VideoCodec uint8

const (
	VideoAVC VideoCodec = 7
)

// FrameType is the frame classification from the upper nibble of a video
// tag's first payload byte.
type FrameType uint8

const (
	FrameKey             FrameType = 1
	FrameInter           FrameType = 2
	FrameDisposableInter FrameType = 3
	FrameGeneratedKey    FrameType = 4
	FrameInfoCommand     FrameType = 5
)

// AACPacketType distinguishes the AudioSpecificConfig from raw AAC frames.
type AACPacketType uint8

const (
	AACSequenceHeader AACPacketType = 0
	AACRaw            AACPacketType = 1
)

// AVCPacketType distinguishes the decoder configuration record from NALU
// payloads.
type AVCPacketType uint8

const (
	AVCSequenceHeader AVCPacketType = 0
	AVCNALU           AVCPacketType = 1
	AVCEndOfSequence  AVCPacketType = 2
)

// Sound rate index from an audio tag's first payload byte, in Hz.
var soundRates = [4]uint32{5500, 11025, 22050, 44100}

// FileHeader is the 9-byte FLV file header.
type FileHeader struct {
	Version    uint8
	HasAudio   bool
	HasVideo   bool
	DataOffset uint32
}

// TagHeader is one parsed 11-byte tag header. DataOffset is the absolute
// file offset of the first payload byte, read back from the byte stream so
// the parser stays position-agnostic across seeks.
type TagHeader struct {
	Type        TagType
	PayloadSize uint32
	Timestamp   int32 // milliseconds, 24-bit value plus signed 8-bit extension
	StreamID    uint32
	DataOffset  int64
}

// AudioHeader is the decoded first payload byte of an audio tag.
type AudioHeader struct {
	Codec         AudioCodec
	SampleRate    uint32 // Hz
	BitsPerSample uint32 // 8 or 16
	Stereo        bool
}

// VideoHeader is the decoded first payload byte of a video tag.
type VideoHeader struct {
	FrameType FrameType
	Codec     VideoCodec
}

// AudioPacket carries one audio tag through the demux path.
type AudioPacket struct {
	Tag TagHeader
	AudioHeader
	AACPacketType AACPacketType
	Payload       []byte
}

// PayloadLength is the number of payload bytes remaining after the audio
// header byte (and the AAC packet-type byte, for AAC).
func (p *AudioPacket) PayloadLength() uint32 {
	n := p.Tag.PayloadSize
	if n == 0 {
		return 0
	}
	n-- // audio header byte
	if p.Codec == AudioAAC && n > 0 {
		n-- // AAC packet type byte
	}
	return n
}

// NanoTimestamp is the tag timestamp in 100-ns units.
func (p *AudioPacket) NanoTimestamp() int64 {
	return int64(p.Tag.Timestamp) * 10000
}

// VideoPacket carries one video tag through the demux path.
type VideoPacket struct {
	Tag TagHeader
	VideoHeader
	AVCPacketType   AVCPacketType
	CompositionTime int32 // milliseconds, signed 24-bit
	Payload         []byte
}

// PayloadLength is the number of payload bytes remaining after the video
// header byte (and the 4-byte AVC extra header, for AVC).
func (p *VideoPacket) PayloadLength() uint32 {
	n := p.Tag.PayloadSize
	if n == 0 {
		return 0
	}
	n-- // video header byte
	if p.Codec == VideoAVC {
		if n < 4 {
			return 0
		}
		n -= 4 // packet type + composition time
	}
	return n
}

// NanoTimestamp is the presentation time in 100-ns units: tag timestamp
// plus the composition-time offset.
func (p *VideoPacket) NanoTimestamp() int64 {
	return (int64(p.Tag.Timestamp) + int64(p.CompositionTime)) * 10000
}

// IsKeyFrame reports whether the frame is a key or generated-key frame.
func (p *VideoPacket) IsKeyFrame() bool {
	return p.FrameType == FrameKey || p.FrameType == FrameGeneratedKey
}

func decodeAudioHeader(b byte) AudioHeader {
	return AudioHeader{
		Codec:         AudioCodec(b >> 4),
		SampleRate:    soundRates[(b>>2)&0x03],
		BitsPerSample: 8 << ((b >> 1) & 0x01),
		Stereo:        b&0x01 == 1,
	}
}

func decodeVideoHeader(b byte) VideoHeader {
	return VideoHeader{
		FrameType: FrameType(b >> 4),
		Codec:     VideoCodec(b & 0x0F),
	}
}
