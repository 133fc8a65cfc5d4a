package transcription

// Failure kinds reported by the engine
const (
	KindNotFound          = "not_found"
	KindUnsupportedFormat = "unsupported_format"
	KindDecode            = "decode"
	KindEngine            = "engine"
	KindOutput            = "output"
)

// Error is a classified engine failure
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// FailureKind lets the job processor record what went wrong
func (e *Error) FailureKind() string { return e.Kind }

func fail(kind string, err error) error {
	return &Error{Kind: kind, Err: err}
}
