package media

import "errors"

// Error kinds surfaced by the source and its collaborators. Operations wrap
// these with fmt.Errorf("...: %w", ...) so callers can match with errors.Is.
var (
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrNotInitialized         = errors.New("source not initialized")
	ErrNotAccepting           = errors.New("operation not accepted")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnsupportedFormat      = errors.New("unsupported format")
	ErrInvalidFormat          = errors.New("invalid file format")
	ErrByteStreamNotSeekable  = errors.New("byte stream not seekable")
	ErrUnsupportedTimeFormat  = errors.New("unsupported time format")
	ErrShutdown               = errors.New("source shut down")
	ErrEndOfStream            = errors.New("end of stream")
)
