package transport

import "errors"

var (
	// ErrNetwork means no definitive answer came back from the store.
	ErrNetwork = errors.New("network error")
	// ErrConflict means the store's state diverged from what the client assumed.
	ErrConflict = errors.New("conflict")
	// ErrRejected means the request was refused as invalid, locally or by the store.
	ErrRejected = errors.New("rejected")
	// ErrNotFound means the conversation is gone or not accessible.
	ErrNotFound = errors.New("not found")
	// ErrAuthExpired means the bearer credential is missing, invalid or expired.
	ErrAuthExpired = errors.New("authorization expired")
)

// Transient reports whether err is a dismissable error the user may resubmit after.
func Transient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRejected)
}
