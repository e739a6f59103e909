package media

// Capability flags reported by a ByteStream.
type Capability uint32

const (
	Readable Capability = 1 << iota
	Seekable
)

// SeekOrigin selects the reference point for ByteStream.Seek.
type SeekOrigin int

const (
	SeekBegin SeekOrigin = iota
	SeekCurrent
)

// ReadCallback completes an asynchronous read. data holds the bytes actually
// read; a short or empty slice with a nil error signals end of stream.
type ReadCallback func(data []byte, err error)

// ByteStream is the random-access byte source the host supplies to the
// source. Reads are asynchronous: ReadAsync returns immediately and the
// callback fires on the host's dispatcher once data is available. Seek with
// cancelPending set aborts reads that have not yet completed; their callbacks
// are not invoked.
type ByteStream interface {
	Capabilities() Capability
	Position() int64
	SetPosition(pos int64) error
	Seek(origin SeekOrigin, offset int64, cancelPending bool) (int64, error)
	ReadAsync(n int, cb ReadCallback)
}
