package source_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/zioncity/flvsource/flv"
	"github.com/zioncity/flvsource/host"
	"github.com/zioncity/flvsource/media"
	"github.com/zioncity/flvsource/source"
)

// Test fixture parameter sets (profile 66, level 30).
var (
	testSPS = []byte{0x67, 0x42, 0x00, 0x1E, 0x88, 0x84, 0x40}
	testPPS = []byte{0x68, 0xCE, 0x38, 0x80}
	testASC = []byte{0x12, 0x10} // AAC-LC 44.1kHz stereo AudioSpecificConfig
)

// fileBuilder assembles a synthetic FLV byte stream tag by tag.
type fileBuilder struct {
	buf []byte
}

func newFileBuilder(hasAudio, hasVideo bool) *fileBuilder {
	flags := byte(0)
	if hasAudio {
		flags |= 0x01
	}
	if hasVideo {
		flags |= 0x04
	}
	b := &fileBuilder{}
	b.buf = append(b.buf, 'F', 'L', 'V', 1, flags)
	b.buf = binary.BigEndian.AppendUint32(b.buf, 9)
	return b
}

// tag appends a previous-tag-size field and one tag, returning the absolute
// offset of the tag header.
func (b *fileBuilder) tag(typ flv.TagType, ts int32, payload []byte) int64 {
	b.buf = binary.BigEndian.AppendUint32(b.buf, 0)
	offset := int64(len(b.buf))
	b.buf = append(b.buf, byte(typ))
	b.buf = append(b.buf, byte(len(payload)>>16), byte(len(payload)>>8), byte(len(payload)))
	b.buf = append(b.buf, byte(ts>>16), byte(ts>>8), byte(ts), byte(uint32(ts)>>24))
	b.buf = append(b.buf, 0, 0, 0)
	b.buf = append(b.buf, payload...)
	return offset
}

// trailer appends the final previous-tag-size field that closes the file.
func (b *fileBuilder) trailer() {
	b.buf = binary.BigEndian.AppendUint32(b.buf, 0)
}

func (b *fileBuilder) stream() *host.MemoryByteStream {
	return host.NewMemoryByteStream(b.buf, nil)
}

// ----- tag payload constructors -----

func buildAVCC(sps, pps []byte) []byte {
	rec := []byte{1, sps[1], sps[2], sps[3], 0xFF, 0xE1}
	rec = append(rec, byte(len(sps)>>8), byte(len(sps)))
	rec = append(rec, sps...)
	rec = append(rec, 1, byte(len(pps)>>8), byte(len(pps)))
	rec = append(rec, pps...)
	return rec
}

func avcSeqHeaderPayload() []byte {
	payload := []byte{0x17, 0x00, 0, 0, 0}
	return append(payload, buildAVCC(testSPS, testPPS)...)
}

// avcNALUPayload wraps the given NAL units with 4-byte length prefixes.
func avcNALUPayload(key bool, ct int32, nalus ...[]byte) []byte {
	hdr := byte(0x27)
	if key {
		hdr = 0x17
	}
	payload := []byte{hdr, 0x01, byte(ct >> 16), byte(ct >> 8), byte(ct)}
	for _, n := range nalus {
		payload = binary.BigEndian.AppendUint32(payload, uint32(len(n)))
		payload = append(payload, n...)
	}
	return payload
}

func aacSeqHeaderPayload() []byte {
	return append([]byte{0xAF, 0x00}, testASC...)
}

func aacRawPayload(data ...byte) []byte {
	return append([]byte{0xAF, 0x01}, data...)
}

func mp3Payload(data ...byte) []byte {
	// codec 2, 44.1 kHz, 16-bit, stereo
	return append([]byte{0x2F}, data...)
}

// ----- AMF metadata -----

type amfWriter struct {
	buf []byte
}

func (w *amfWriter) marker(m byte) *amfWriter {
	w.buf = append(w.buf, m)
	return w
}

func (w *amfWriter) str(s string) *amfWriter {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

func (w *amfWriter) number(v float64) *amfWriter {
	w.buf = append(w.buf, 0x00)
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v))
	return w
}

func (w *amfWriter) strictArray(vals []float64) *amfWriter {
	w.buf = append(w.buf, 0x0A)
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(vals)))
	for _, v := range vals {
		w.number(v)
	}
	return w
}

type metaSpec struct {
	duration     float64
	width        float64
	height       float64
	framerate    float64
	videoCodecID float64
	audioCodecID float64
	keyPositions []float64
	keyTimes     []float64
}

func metaPayload(m metaSpec) []byte {
	w := &amfWriter{}
	w.marker(0x02).str("onMetaData")
	w.marker(0x08) // ECMA array
	w.buf = binary.BigEndian.AppendUint32(w.buf, 0)
	w.str("duration").number(m.duration)
	if m.width > 0 {
		w.str("width").number(m.width)
		w.str("height").number(m.height)
	}
	if m.framerate > 0 {
		w.str("framerate").number(m.framerate)
	}
	if m.videoCodecID > 0 {
		w.str("videocodecid").number(m.videoCodecID)
	}
	if m.audioCodecID > 0 {
		w.str("audiocodecid").number(m.audioCodecID)
	}
	if m.keyPositions != nil {
		w.str("keyframes").marker(0x03)
		w.str("filepositions").strictArray(m.keyPositions)
		w.str("times").strictArray(m.keyTimes)
		w.str("").marker(0x09)
	}
	w.str("").marker(0x09)
	return w.buf
}

// ----- async helpers -----

const testTimeout = 5 * time.Second

func newTestSource(t *testing.T) (*source.Source, *host.Pool) {
	t.Helper()
	pool, err := host.NewPool(4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Release)
	return source.New(pool), pool
}

// openSource runs BeginOpen and waits for the completion.
func openSource(t *testing.T, src *source.Source, bs media.ByteStream) error {
	t.Helper()
	done := make(chan error, 1)
	if err := src.BeginOpen(bs, func(err error) { done <- err }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-time.After(testTimeout):
		t.Fatal("open did not complete")
		panic("unreachable")
	}
}

func nextEvent(t *testing.T, q *media.EventQueue) media.Event {
	t.Helper()
	ch := make(chan media.Event, 1)
	go func() {
		ev, err := q.Next()
		if err != nil {
			return
		}
		ch <- ev
	}()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for event")
		panic("unreachable")
	}
}

// expectEvent asserts the next event on q has the given type.
func expectEvent(t *testing.T, q *media.EventQueue, typ media.EventType) media.Event {
	t.Helper()
	ev := nextEvent(t, q)
	if ev.Type != typ {
		t.Fatalf("event = %v, want %v", ev.Type, typ)
	}
	return ev
}

// startSource calls Start, retrying while the previous control operation is
// still in flight.
func startSource(t *testing.T, src *source.Source, pd *media.PresentationDescription, pos *int64) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		err := src.Start(pd, pos)
		if err == nil {
			return
		}
		if err != media.ErrNotAccepting || time.Now().After(deadline) {
			t.Fatalf("start: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
}

// pullSample requests one sample and waits for it.
func pullSample(t *testing.T, st *source.Stream, token any) *media.Sample {
	t.Helper()
	if err := st.RequestSample(token); err != nil {
		t.Fatalf("request sample: %v", err)
	}
	ev := expectEvent(t, st.Events(), media.EventSample)
	if ev.Token != token {
		t.Fatalf("token = %v, want %v", ev.Token, token)
	}
	return ev.Sample
}

// standardFile builds the AAC+AVC fixture: metadata, both sequence headers,
// then n interleaved video/audio tags at a 40 ms cadence with a keyframe
// every 8th frame.
func standardFile(n int) *fileBuilder {
	b := newFileBuilder(true, true)
	b.tag(flv.TagScript, 0, metaPayload(metaSpec{
		duration: 10, width: 640, height: 360, framerate: 30,
		videoCodecID: 7, audioCodecID: 10,
	}))
	b.tag(flv.TagVideo, 0, avcSeqHeaderPayload())
	b.tag(flv.TagAudio, 0, aacSeqHeaderPayload())
	for i := 0; i < n; i++ {
		ts := int32(i * 40)
		key := i%8 == 0
		nal := byte(0x41)
		if key {
			nal = 0x65
		}
		b.tag(flv.TagVideo, ts, avcNALUPayload(key, 0, []byte{nal, byte(i)}))
		b.tag(flv.TagAudio, ts, aacRawPayload(0x21, byte(i)))
	}
	b.trailer()
	return b
}

// collectStart collects the streams announced by new-stream or
// updated-stream events during a start, then consumes the started/seeked
// source event.
func collectStart(t *testing.T, src *source.Source, count int, startType media.EventType) map[uint32]*source.Stream {
	t.Helper()
	streams := make(map[uint32]*source.Stream)
	for i := 0; i < count; i++ {
		ev := nextEvent(t, src.Events())
		if ev.Type != media.EventNewStream && ev.Type != media.EventUpdatedStream {
			t.Fatalf("event = %v, want new-stream or updated-stream", ev.Type)
		}
		st := ev.Stream.(*source.Stream)
		streams[st.Descriptor().ID] = st
	}
	expectEvent(t, src.Events(), startType)
	return streams
}
