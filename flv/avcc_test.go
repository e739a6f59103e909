package flv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zioncity/flvsource/media"
)

// buildAVCC constructs an avcC record with the given parameter sets.
func buildAVCC(profile, level byte, lengthSizeMinusOne byte, sps, pps [][]byte) []byte {
	rec := []byte{1, profile, 0x00, level, 0xFC | lengthSizeMinusOne, 0xE0 | byte(len(sps))}
	for _, s := range sps {
		rec = append(rec, byte(len(s)>>8), byte(len(s)))
		rec = append(rec, s...)
	}
	rec = append(rec, byte(len(pps)))
	for _, p := range pps {
		rec = append(rec, byte(len(p)>>8), byte(len(p)))
		rec = append(rec, p...)
	}
	return rec
}

func TestParseAVCConfig(t *testing.T) {
	t.Parallel()
	sps := []byte{0x67, 0x42, 0x00, 0x1E, 0x88, 0x84, 0x40}
	pps := []byte{0x68, 0xCE, 0x38, 0x80}
	cfg, err := ParseAVCConfig(buildAVCC(66, 30, 3, [][]byte{sps}, [][]byte{pps}))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Profile != 66 || cfg.Level != 30 {
		t.Errorf("profile/level = %d/%d, want 66/30", cfg.Profile, cfg.Level)
	}
	if cfg.NALLengthSize != 4 {
		t.Errorf("NAL length size = %d, want 4", cfg.NALLengthSize)
	}

	want := append([]byte{0, 0, 0, 1}, sps...)
	want = append(want, 0, 0, 0, 1)
	want = append(want, pps...)
	if !bytes.Equal(cfg.SequenceHeader, want) {
		t.Errorf("sequence header = %x, want %x", cfg.SequenceHeader, want)
	}
}

func TestParseAVCConfigMultipleParameterSets(t *testing.T) {
	t.Parallel()
	sps := [][]byte{{0x67, 0x01}, {0x67, 0x02}}
	pps := [][]byte{{0x68, 0x01}, {0x68, 0x02}, {0x68, 0x03}}
	cfg, err := ParseAVCConfig(buildAVCC(100, 41, 1, sps, pps))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.SPS) != 2 || len(cfg.PPS) != 3 {
		t.Fatalf("SPS/PPS counts = %d/%d, want 2/3", len(cfg.SPS), len(cfg.PPS))
	}
	if cfg.NALLengthSize != 2 {
		t.Errorf("NAL length size = %d, want 2", cfg.NALLengthSize)
	}
	// SPS units precede PPS units in the blob.
	wantPrefix := append([]byte{0, 0, 0, 1}, sps[0]...)
	if !bytes.HasPrefix(cfg.SequenceHeader, wantPrefix) {
		t.Errorf("blob starts %x, want prefix %x", cfg.SequenceHeader, wantPrefix)
	}
}

func TestParseAVCConfigTruncated(t *testing.T) {
	t.Parallel()
	full := buildAVCC(66, 30, 3, [][]byte{{0x67, 0x42}}, [][]byte{{0x68}})
	for _, n := range []int{0, 4, 6, 7, len(full) - 1} {
		if _, err := ParseAVCConfig(full[:n]); !errors.Is(err, media.ErrInvalidFormat) {
			t.Errorf("len %d: err = %v, want ErrInvalidFormat", n, err)
		}
	}
}

func TestParseAVCConfigBadLengthSize(t *testing.T) {
	t.Parallel()
	// lengthSizeMinusOne == 2 declares 3-byte NAL lengths, which the
	// format does not allow.
	rec := buildAVCC(66, 30, 2, [][]byte{{0x67}}, [][]byte{{0x68}})
	if _, err := ParseAVCConfig(rec); !errors.Is(err, media.ErrInvalidFormat) {
		t.Errorf("err = %v, want ErrInvalidFormat", err)
	}
}
