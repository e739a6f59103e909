package flv

import (
	"fmt"

	"github.com/zioncity/flvsource/media"
)

// SplitNALUs splits an AVC NALU payload of lengthSize-prefixed units into
// one buffer per unit, each re-prefixed with an Annex-B start code: 4 bytes
// when lengthSize is 4, 3 bytes otherwise. The units must tile the payload
// exactly.
func SplitNALUs(payload []byte, lengthSize int) ([][]byte, error) {
	startCode := annexBStartCode[1:]
	if lengthSize == 4 {
		startCode = annexBStartCode
	}

	var units [][]byte
	for pos := 0; pos < len(payload); {
		if pos+lengthSize > len(payload) {
			return nil, fmt.Errorf("nalu: truncated length at offset %d: %w", pos, media.ErrInvalidFormat)
		}
		var n int
		for i := 0; i < lengthSize; i++ {
			n = n<<8 | int(payload[pos+i])
		}
		pos += lengthSize
		if pos+n > len(payload) {
			return nil, fmt.Errorf("nalu: unit of %d bytes overruns payload: %w", n, media.ErrInvalidFormat)
		}
		unit := make([]byte, 0, len(startCode)+n)
		unit = append(unit, startCode...)
		unit = append(unit, payload[pos:pos+n]...)
		units = append(units, unit)
		pos += n
	}
	return units, nil
}
