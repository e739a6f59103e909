package host

import (
	"bytes"
	"testing"
	"time"

	"github.com/zioncity/flvsource/media"
)

// stepDispatcher queues work items and runs them only when told to,
// making read cancellation deterministic.
type stepDispatcher struct {
	items []func()
}

func (d *stepDispatcher) Dispatch(fn func()) error {
	d.items = append(d.items, fn)
	return nil
}

func (d *stepDispatcher) run() {
	items := d.items
	d.items = nil
	for _, fn := range items {
		fn()
	}
}

func readSync(t *testing.T, bs media.ByteStream, n int) []byte {
	t.Helper()
	ch := make(chan []byte, 1)
	bs.ReadAsync(n, func(data []byte, err error) {
		if err != nil {
			t.Errorf("read: %v", err)
		}
		ch <- data
	})
	select {
	case data := <-ch:
		return data
	case <-time.After(5 * time.Second):
		t.Fatal("read timed out")
		panic("unreachable")
	}
}

func TestMemoryByteStreamRead(t *testing.T) {
	t.Parallel()
	bs := NewMemoryByteStream([]byte("FLV\x01\x05"), nil)

	if bs.Capabilities()&(media.Readable|media.Seekable) != media.Readable|media.Seekable {
		t.Error("memory stream must be readable and seekable")
	}
	if got := readSync(t, bs, 3); !bytes.Equal(got, []byte("FLV")) {
		t.Errorf("read = %q", got)
	}
	if bs.Position() != 3 {
		t.Errorf("position = %d, want 3", bs.Position())
	}
}

func TestMemoryByteStreamShortReadAtEOF(t *testing.T) {
	t.Parallel()
	bs := NewMemoryByteStream([]byte{1, 2, 3}, nil)
	if got := readSync(t, bs, 8); len(got) != 3 {
		t.Errorf("read %d bytes, want 3", len(got))
	}
	if got := readSync(t, bs, 8); len(got) != 0 {
		t.Errorf("read at EOF returned %d bytes, want 0", len(got))
	}
}

func TestByteStreamSeekAndSetPosition(t *testing.T) {
	t.Parallel()
	bs := NewMemoryByteStream([]byte("0123456789"), nil)

	pos, err := bs.Seek(media.SeekBegin, 4, false)
	if err != nil || pos != 4 {
		t.Fatalf("seek = %d, %v", pos, err)
	}
	pos, err = bs.Seek(media.SeekCurrent, 3, false)
	if err != nil || pos != 7 {
		t.Fatalf("relative seek = %d, %v", pos, err)
	}
	if got := readSync(t, bs, 2); !bytes.Equal(got, []byte("78")) {
		t.Errorf("read = %q, want 78", got)
	}

	if err := bs.SetPosition(1); err != nil {
		t.Fatal(err)
	}
	if got := readSync(t, bs, 1); !bytes.Equal(got, []byte("1")) {
		t.Errorf("read = %q, want 1", got)
	}
}

func TestByteStreamSeekNegative(t *testing.T) {
	t.Parallel()
	bs := NewMemoryByteStream([]byte("abc"), nil)
	if _, err := bs.Seek(media.SeekCurrent, -1, false); err == nil {
		t.Error("negative position should fail")
	}
}

func TestByteStreamCancelPendingRead(t *testing.T) {
	t.Parallel()
	disp := &stepDispatcher{}
	bs := NewMemoryByteStream([]byte("0123456789"), disp)

	fired := false
	bs.ReadAsync(4, func(data []byte, err error) { fired = true })

	// The seek with cancel-pending lands before the read work item runs:
	// the stale read must not complete.
	if _, err := bs.Seek(media.SeekBegin, 8, true); err != nil {
		t.Fatal(err)
	}
	disp.run()

	if fired {
		t.Error("cancelled read invoked its callback")
	}

	var got []byte
	bs.ReadAsync(2, func(data []byte, err error) { got = data })
	disp.run()
	if !bytes.Equal(got, []byte("89")) {
		t.Errorf("read after cancel = %q, want 89", got)
	}
}
