package flv

import (
	"fmt"
	"sort"

	"github.com/zioncity/flvsource/media"
)

// Keyframe is one random-access point: the absolute file offset of a tag
// header and its presentation time in 100-ns units.
type Keyframe struct {
	Position int64
	Time     int64
}

// KeyframeIndex is the ordered (time, offset) index built from the
// onMetaData keyframes object.
type KeyframeIndex struct {
	frames []Keyframe
	sorted bool
}

// Insert adds one keyframe. Out-of-order inserts are tolerated; the index
// re-sorts lazily on the next Seek.
func (k *KeyframeIndex) Insert(position, time int64) {
	k.frames = append(k.frames, Keyframe{Position: position, Time: time})
	k.sorted = false
}

// Len returns the number of indexed keyframes.
func (k *KeyframeIndex) Len() int { return len(k.frames) }

// Seek returns the greatest keyframe whose time is at or below nanos, or the
// first keyframe when nanos is below the range. ok is false when the index
// is empty; the caller falls back to the first media tag at time zero.
func (k *KeyframeIndex) Seek(nanos int64) (Keyframe, bool) {
	if len(k.frames) == 0 {
		return Keyframe{}, false
	}
	if !k.sorted {
		sort.Slice(k.frames, func(i, j int) bool { return k.frames[i].Time < k.frames[j].Time })
		k.sorted = true
	}
	// First frame with time > nanos; the answer is the one before it.
	i := sort.Search(len(k.frames), func(i int) bool { return k.frames[i].Time > nanos })
	if i == 0 {
		return k.frames[0], true
	}
	return k.frames[i-1], true
}

// keyframeIndexFromMetaData converts the onMetaData filepositions/times
// arrays (seconds as doubles, byte offsets as doubles) into an index.
func keyframeIndexFromMetaData(positions, times []float64) (KeyframeIndex, error) {
	if len(positions) != len(times) {
		return KeyframeIndex{}, fmt.Errorf("keyframes: %d filepositions vs %d times: %w",
			len(positions), len(times), media.ErrInvalidFormat)
	}
	var idx KeyframeIndex
	for i := range times {
		idx.Insert(int64(positions[i]), int64(times[i]*1e7))
	}
	return idx, nil
}
