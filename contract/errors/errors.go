package errors

// Error codes for the owner-watch contracts. Keep stable; used across adapters and the registry.
const (
	ErrCodeFilterAttachFailed = "ownerwatch.filter_attach_failed"
	ErrCodeMatchAddFailed     = "ownerwatch.match_add_failed"
	ErrCodeMatchRemoveFailed  = "ownerwatch.match_remove_failed"
	ErrCodeUnknownMatch       = "ownerwatch.unknown_match"
	ErrCodeNoListener         = "ownerwatch.no_listener"
	ErrCodeNoMatchingCallback = "ownerwatch.no_matching_callback"
	ErrCodeNilCallback        = "ownerwatch.nil_callback"
	ErrCodeNotConnected       = "ownerwatch.not_connected"
	ErrCodeEmitFailed         = "ownerwatch.emit_failed"
	ErrCodeDecodeFailed       = "ownerwatch.decode_failed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrFilterAttachFailed = Code(ErrCodeFilterAttachFailed)
	ErrMatchAddFailed     = Code(ErrCodeMatchAddFailed)
	ErrMatchRemoveFailed  = Code(ErrCodeMatchRemoveFailed)
	ErrUnknownMatch       = Code(ErrCodeUnknownMatch)
	ErrNoListener         = Code(ErrCodeNoListener)
	ErrNoMatchingCallback = Code(ErrCodeNoMatchingCallback)
	ErrNilCallback        = Code(ErrCodeNilCallback)
	ErrNotConnected       = Code(ErrCodeNotConnected)
	ErrEmitFailed         = Code(ErrCodeEmitFailed)
	ErrDecodeFailed       = Code(ErrCodeDecodeFailed)
)
