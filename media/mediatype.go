package media

// MajorType is the broad media class of a stream.
type MajorType int

const (
	MajorVideo MajorType = iota + 1
	MajorAudio
)

// Subtype identifies the compressed format within a major type.
type Subtype int

const (
	SubtypeH264 Subtype = iota + 1
	SubtypeRawAAC
	SubtypeMP3
)

// Ratio is an exact rational, used for frame rates and aspect ratios.
type Ratio struct {
	Num uint32
	Den uint32
}

// MediaType describes the format of one elementary stream. Video fields are
// populated for MajorVideo, audio fields for MajorAudio.
type MediaType struct {
	Major   MajorType
	Subtype Subtype

	// Video
	Width             uint32
	Height            uint32
	FrameRate         Ratio
	FrameRateRangeMin Ratio
	FrameRateRangeMax Ratio
	PixelAspect       Ratio
	Profile           uint8
	Level             uint8
	NALLengthSize     uint8
	SequenceHeader    []byte // Annex-B SPS+PPS blob

	// Audio
	SamplesPerSecond uint32
	Channels         uint32
	BitsPerSample    uint32
	BlockAlign       uint32
	UserData         []byte // AAC AudioSpecificConfig from the first audio tag

	AvgBitrate uint32
}

// StreamDescriptor pairs a stream identifier with its media type and the
// host's selection bit. Hosts toggle selection on a cloned presentation
// description and pass it to Start.
type StreamDescriptor struct {
	ID        uint32
	MediaType *MediaType
	selected  bool
}

func (sd *StreamDescriptor) Select()          { sd.selected = true }
func (sd *StreamDescriptor) Deselect()        { sd.selected = false }
func (sd *StreamDescriptor) IsSelected() bool { return sd.selected }

// PresentationDescription lists the presentation's streams and
// container-level attributes. Duration is in 100-ns units.
type PresentationDescription struct {
	Duration     int64
	AudioBitrate uint32
	VideoBitrate uint32
	FileSize     uint64
	Streams      []*StreamDescriptor
}

// Clone returns a copy whose descriptors carry independent selection bits.
// Media types are shared; they are immutable once published.
func (pd *PresentationDescription) Clone() *PresentationDescription {
	out := &PresentationDescription{
		Duration:     pd.Duration,
		AudioBitrate: pd.AudioBitrate,
		VideoBitrate: pd.VideoBitrate,
		FileSize:     pd.FileSize,
		Streams:      make([]*StreamDescriptor, len(pd.Streams)),
	}
	for i, sd := range pd.Streams {
		cp := *sd
		out.Streams[i] = &cp
	}
	return out
}

// Characteristic flags advertised by the source.
type Characteristic uint32

const (
	CanPause Characteristic = 1 << iota
	CanSeek
	HasSlowSeek
	CanSkipForward
	CanSkipBackward
)
