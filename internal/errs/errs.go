// Package errs defines the error taxonomy shared by the catalog, engine client,
// change control and scheduler.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Every error surfaced by kettleplane wraps exactly one of these.
var (
	// ErrRemoteUnavailable indicates a transport failure or timeout talking to Carte.
	ErrRemoteUnavailable = errors.New("remote engine unavailable")

	// ErrRemoteRejected indicates Carte answered with a structured failure.
	ErrRemoteRejected = errors.New("remote engine rejected request")

	// ErrNotFound indicates a catalog id, artifact, step, version or short id has no match.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousMatch indicates a short id prefix matched more than one active process.
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// ErrValidationFailed indicates query text failed the read-only guard.
	ErrValidationFailed = errors.New("validation failed")

	// ErrPersistence indicates a repository write failed and was rolled back.
	ErrPersistence = errors.New("persistence error")

	// ErrTimeout indicates a monitored execution did not reach a terminal status in time.
	ErrTimeout = errors.New("timeout")

	// ErrCatalogUnavailable indicates the catalog could not be read from the repository.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// Error carries the failing operation and a human readable message next to
// the sentinel kind.
type Error struct {
	// Op is the operation that failed (e.g. "dispatch", "stop").
	Op string

	// Kind is one of the sentinel errors above.
	Kind error

	// Msg is surfaced to operators verbatim.
	Msg string

	// Err is the underlying cause, if any.
	Err error
}

// E builds an *Error.
func E(op string, kind error, msg string, cause error) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the operator-facing text of err. For an *Error with a
// message that is the message alone; otherwise err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsAmbiguous(err error) bool         { return errors.Is(err, ErrAmbiguousMatch) }
func IsValidation(err error) bool        { return errors.Is(err, ErrValidationFailed) }
func IsRemoteUnavailable(err error) bool { return errors.Is(err, ErrRemoteUnavailable) }
func IsRemoteRejected(err error) bool    { return errors.Is(err, ErrRemoteRejected) }
func IsTimeout(err error) bool           { return errors.Is(err, ErrTimeout) }

// HTTPStatus maps an error to the status code the controller answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsAmbiguous(err):
		return http.StatusConflict
	case IsValidation(err):
		return http.StatusUnprocessableEntity
	case IsRemoteRejected(err):
		return http.StatusBadGateway
	case IsRemoteUnavailable(err), errors.Is(err, ErrCatalogUnavailable):
		return http.StatusServiceUnavailable
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
