package flv

import (
	"fmt"

	"github.com/zioncity/flvsource/media"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// AVCConfig is the parsed AVCDecoderConfigurationRecord from the first AVC
// sequence-header tag. SequenceHeader is the Annex-B blob of all SPS units
// followed by all PPS units, each prefixed with a 4-byte start code; it is
// delivered as the first buffer of the first video sample after every start
// or seek.
type AVCConfig struct {
	Profile        uint8
	Level          uint8
	NALLengthSize  uint8 // 1, 2, or 4
	SPS            [][]byte
	PPS            [][]byte
	SequenceHeader []byte
}

// ParseAVCConfig parses an avcC record.
func ParseAVCConfig(payload []byte) (AVCConfig, error) {
	if len(payload) < 7 {
		return AVCConfig{}, fmt.Errorf("avcC: %d bytes: %w", len(payload), media.ErrInvalidFormat)
	}

	cfg := AVCConfig{
		Profile:       payload[1],
		Level:         payload[3],
		NALLengthSize: payload[4]&0x03 + 1,
	}
	if cfg.NALLengthSize == 3 {
		return AVCConfig{}, fmt.Errorf("avcC: NAL length size 3: %w", media.ErrInvalidFormat)
	}

	pos := 5
	numSPS := int(payload[pos] & 0x1F)
	pos++
	for i := 0; i < numSPS; i++ {
		unit, next, err := readParameterSet(payload, pos)
		if err != nil {
			return AVCConfig{}, err
		}
		cfg.SPS = append(cfg.SPS, unit)
		pos = next
	}

	if pos >= len(payload) {
		return AVCConfig{}, fmt.Errorf("avcC: missing PPS count: %w", media.ErrInvalidFormat)
	}
	numPPS := int(payload[pos])
	pos++
	for i := 0; i < numPPS; i++ {
		unit, next, err := readParameterSet(payload, pos)
		if err != nil {
			return AVCConfig{}, err
		}
		cfg.PPS = append(cfg.PPS, unit)
		pos = next
	}

	for _, sps := range cfg.SPS {
		cfg.SequenceHeader = append(cfg.SequenceHeader, annexBStartCode...)
		cfg.SequenceHeader = append(cfg.SequenceHeader, sps...)
	}
	for _, pps := range cfg.PPS {
		cfg.SequenceHeader = append(cfg.SequenceHeader, annexBStartCode...)
		cfg.SequenceHeader = append(cfg.SequenceHeader, pps...)
	}
	return cfg, nil
}

func readParameterSet(payload []byte, pos int) ([]byte, int, error) {
	if pos+2 > len(payload) {
		return nil, 0, fmt.Errorf("avcC: truncated parameter set length: %w", media.ErrInvalidFormat)
	}
	n := int(payload[pos])<<8 | int(payload[pos+1])
	pos += 2
	if pos+n > len(payload) {
		return nil, 0, fmt.Errorf("avcC: truncated parameter set: %w", media.ErrInvalidFormat)
	}
	return payload[pos : pos+n], pos + n, nil
}
