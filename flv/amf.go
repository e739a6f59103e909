package flv

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zioncity/flvsource/media"
)

// AMF0 type markers (Adobe AMF0 spec §2).
const (
	amfNumber      = 0x00
	amfBoolean     = 0x01
	amfString      = 0x02
	amfObject      = 0x03
	amfNull        = 0x05
	amfUndefined   = 0x06
	amfECMAArray   = 0x08
	amfObjectEnd   = 0x09
	amfStrictArray = 0x0A
	amfDate        = 0x0B
	amfLongString  = 0x0C
)

// DecodeOnMetaData decodes the AMF0 payload of a script tag. It returns nil
// (and no error) when the leading string is not "onMetaData"; such tags are
// consumed and ignored. Unknown keys are skipped.
func DecodeOnMetaData(payload []byte) (*Metadata, error) {
	r := &amfReader{data: payload}

	name, err := r.value()
	if err != nil {
		return nil, err
	}
	if s, ok := name.(string); !ok || s != "onMetaData" {
		return nil, nil
	}

	body, err := r.value()
	if err != nil {
		return nil, err
	}
	fields, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("onMetaData: value is not an object: %w", media.ErrInvalidFormat)
	}

	meta := &Metadata{}
	for key, v := range fields {
		switch key {
		case "duration":
			meta.Duration = uint64(num(v))
		case "width":
			meta.Width = uint32(num(v))
		case "height":
			meta.Height = uint32(num(v))
		case "framerate":
			meta.FrameRate = uint32(num(v))
		case "videocodecid":
			meta.VideoCodecID = VideoCodec(num(v))
		case "audiocodecid":
			meta.AudioCodecID = AudioCodec(num(v))
		case "audiodatarate":
			meta.AudioDataRate = uint32(num(v))
		case "videodatarate":
			meta.VideoDataRate = uint32(num(v))
		case "audiosamplerate":
			meta.AudioSampleRate = uint32(num(v))
		case "audiosamplesize":
			meta.AudioSampleSize = uint32(num(v))
		case "audiodelay":
			meta.AudioDelay = uint32(num(v))
		case "audiosize":
			meta.AudioSize = uint64(num(v))
		case "datasize":
			meta.DataSize = uint64(num(v))
		case "filesize":
			meta.FileSize = uint64(num(v))
		case "lasttimestamp":
			meta.LastTimestamp = uint32(num(v) * 1000)
		case "lastkeyframetimestamp":
			meta.LastKeyframeTS = uint32(num(v) * 1000)
		case "canseektoend":
			meta.CanSeekToEnd = truthy(v)
		case "stereo":
			meta.Stereo = truthy(v)
		case "keyframes":
			kf, ok := v.(map[string]any)
			if !ok {
				continue
			}
			positions := doubles(kf["filepositions"])
			times := doubles(kf["times"])
			idx, err := keyframeIndexFromMetaData(positions, times)
			if err != nil {
				return nil, err
			}
			meta.Keyframes = idx
		}
	}
	return meta, nil
}

// num coerces an AMF value to float64; doubles pass through, booleans
// become 0/1, everything else is 0.
func num(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

func truthy(v any) bool {
	return num(v) != 0
}

func doubles(v any) []float64 {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(arr))
	for _, e := range arr {
		out = append(out, num(e))
	}
	return out
}

type amfReader struct {
	data []byte
	pos  int
}

func (r *amfReader) remaining() int { return len(r.data) - r.pos }

func (r *amfReader) take(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("amf0: truncated value: %w", media.ErrInvalidFormat)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *amfReader) string16() (string, error) {
	b, err := r.take(2)
	if err != nil {
		return "", err
	}
	s, err := r.take(int(binary.BigEndian.Uint16(b)))
	return string(s), err
}

// value decodes one AMF0 value. Objects and ECMA arrays both become
// map[string]any, strict arrays []any, dates their millisecond double.
func (r *amfReader) value() (any, error) {
	marker, err := r.take(1)
	if err != nil {
		return nil, err
	}
	switch marker[0] {
	case amfNumber:
		b, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case amfBoolean:
		b, err := r.take(1)
		if err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	case amfString:
		return r.string16()
	case amfLongString:
		b, err := r.take(4)
		if err != nil {
			return nil, err
		}
		s, err := r.take(int(binary.BigEndian.Uint32(b)))
		return string(s), err
	case amfObject:
		return r.object()
	case amfECMAArray:
		// The declared count is advisory; the array still ends with an
		// empty key and the object-end marker.
		if _, err := r.take(4); err != nil {
			return nil, err
		}
		return r.object()
	case amfStrictArray:
		b, err := r.take(4)
		if err != nil {
			return nil, err
		}
		n := int(binary.BigEndian.Uint32(b))
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v, err := r.value()
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case amfDate:
		b, err := r.take(10) // double + 2-byte timezone
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b[:8])), nil
	case amfNull, amfUndefined:
		return nil, nil
	default:
		return nil, fmt.Errorf("amf0: marker 0x%02x: %w", marker[0], media.ErrInvalidFormat)
	}
}

func (r *amfReader) object() (map[string]any, error) {
	out := make(map[string]any)
	for {
		key, err := r.string16()
		if err != nil {
			return nil, err
		}
		if key == "" {
			end, err := r.take(1)
			if err != nil {
				return nil, err
			}
			if end[0] != amfObjectEnd {
				return nil, fmt.Errorf("amf0: missing object end: %w", media.ErrInvalidFormat)
			}
			return out, nil
		}
		v, err := r.value()
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
}
