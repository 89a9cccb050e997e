/*
Package errors provides the error package for the ingestion client. It wraps all errors
the client generates. No error should be created that doesn't come from this package.
This borrows heavily from the Upspin errors paper written by Rob Pike.
See: https://commandcenter.blogspot.com/2017/12/error-handling-in-upspin.html
Key differences are that we support wrapped errors and the 1.13 Unwrap/Is/As additions
to the go stdlib errors package, and this is tailored for the ingestion service.

Usage is simply to pass an Op, a Kind, and either a standard error to be wrapped or a
string that will become a string error.
*/
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Separator is the string used to separate nested errors.
var Separator = ":\n\t"

// Op field denotes the operation being performed.
type Op uint16

const (
	// OpUnknown indicates that the operation that caused the problem is unknown.
	OpUnknown Op = 0
	// OpMgmt indicates that a management command was being issued against the service.
	OpMgmt Op = 1
	// OpFileIngest indicates that a queued ingestion was being performed.
	OpFileIngest Op = 2
	// OpStatus indicates that the ingestion status table was being read or written.
	OpStatus Op = 3
	// OpServConn indicates that the client was attempting to connect to the service.
	OpServConn Op = 4
)

var opToStr = map[Op]string{
	OpUnknown:    "OpUnknown",
	OpMgmt:       "OpMgmt",
	OpFileIngest: "OpFileIngest",
	OpStatus:     "OpStatus",
	OpServConn:   "OpServConn",
}

// String implements fmt.Stringer.
func (o Op) String() string {
	if s, ok := opToStr[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", uint16(o))
}

// Kind field classifies the error as one of a set of standard conditions.
type Kind uint16

const (
	// KOther indicates the error kind was not defined.
	KOther Kind = 0
	// KIO indicates an external I/O error such as a network failure.
	KIO Kind = 1
	// KInternal indicates an internal error or inconsistency at the service.
	KInternal Kind = 2
	// KTimeout indicates the request timed out.
	KTimeout Kind = 3
	// KLimitsExceeded indicates the request was too large.
	KLimitsExceeded Kind = 4
	// KClientArgs indicates the caller supplied invalid argument(s).
	KClientArgs Kind = 5
	// KClientInternal indicates an internal error at the client.
	KClientInternal Kind = 6
	// KLocalFileSystem indicates a problem reading or writing a local payload.
	KLocalFileSystem Kind = 7
	// KBlobstore indicates a problem interacting with blob storage or queues.
	KBlobstore Kind = 8
	// KTable indicates a problem interacting with the status table.
	KTable Kind = 9
	// KHTTPError indicates the HTTP client gave some type of error.
	KHTTPError Kind = 10
	// KService indicates the service failed to honor a request it should have been able to.
	KService Kind = 11
	// KThrottled indicates the service asked the client to back off. This kind is consumed
	// by the retry policy and is never surfaced to callers of the public API.
	KThrottled Kind = 12
	// KConfig indicates the service returned data the client has no configuration for,
	// such as an unknown ingestion resource kind. This aborts the operation.
	KConfig Kind = 13
)

var kindToStr = map[Kind]string{
	KOther:           "KOther",
	KIO:              "KIO",
	KInternal:        "KInternal",
	KTimeout:         "KTimeout",
	KLimitsExceeded:  "KLimitsExceeded",
	KClientArgs:      "KClientArgs",
	KClientInternal:  "KClientInternal",
	KLocalFileSystem: "KLocalFileSystem",
	KBlobstore:       "KBlobstore",
	KTable:           "KTable",
	KHTTPError:       "KHTTPError",
	KService:         "KService",
	KThrottled:       "KThrottled",
	KConfig:          "KConfig",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindToStr[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint16(k))
}

// Error is the core error type for the client.
type Error struct {
	// Op is the operation the client was trying to perform.
	Op Op
	// Kind is the classification of the error.
	Kind Kind
	// Err is the wrapped error. This may be of any error type and may itself wrap errors.
	Err error

	inner     *Error
	permanent bool
}

// SetNoRetry marks the error as permanent, indicating that retrying the operation that
// generated it cannot succeed. Returns the same error for chaining.
func (e *Error) SetNoRetry() *Error {
	e.permanent = true
	return e
}

// Unwrap implements the anonymous interface {Unwrap() error} used by the stdlib errors package.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.inner == nil {
		return e.Err
	}
	return e.inner
}

// pad appends str to the buffer if the buffer already has content.
func pad(b *strings.Builder, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

// Error implements error.
func (e *Error) Error() string {
	b := new(strings.Builder)
	if e.Op != OpUnknown {
		b.WriteString(fmt.Sprintf("Op(%s)", e.Op))
	}
	if e.Kind != KOther {
		pad(b, ": ")
		b.WriteString(fmt.Sprintf("Kind(%s)", e.Kind))
	}
	if e.Err != nil {
		pad(b, ": ")
		b.WriteString(e.Err.Error())
	}

	for inner := e.inner; inner != nil; inner = inner.inner {
		pad(b, Separator)
		b.WriteString(inner.Err.Error())
	}

	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// E constructs an *Error from an Op, Kind and error to be wrapped. A nil error panics.
func E(o Op, k Kind, err error) *Error {
	if err == nil {
		panic("errors.E: cannot pass a nil error")
	}
	if inner, ok := err.(*Error); ok {
		cp := *inner
		return &Error{Op: o, Kind: k, Err: cp.Err}
	}
	return &Error{Op: o, Kind: k, Err: err}
}

// ES constructs an *Error from an Op, Kind, format string and args (like fmt.Sprintf).
// An empty message panics.
func ES(o Op, k Kind, s string, args ...interface{}) *Error {
	str := fmt.Sprintf(s, args...)
	if strings.TrimSpace(str) == "" {
		panic("errors.ES: cannot have an empty string error")
	}
	return &Error{Op: o, Kind: k, Err: errors.New(str)}
}

// W wraps error outer around inner. Both must be of type *Error or this panics.
func W(inner error, outer error) *Error {
	o, ok := outer.(*Error)
	if !ok {
		panic("errors.W: got an outer error that was not of type *Error")
	}
	i, ok := inner.(*Error)
	if !ok {
		panic("errors.W: got an inner error that was not of type *Error")
	}
	o.inner = i
	return o
}

// GetKind returns the Kind of the error if it is an *Error, otherwise KOther.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KOther
}

// Throttled reports whether the error signals service throttling. Throttled errors are
// consumed by the retry policy and never surfaced.
func Throttled(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KThrottled
	}
	return false
}

// ServiceSide reports whether the error is attributable to the service peer rather than
// the caller. Unknown errors are treated as client-side.
func ServiceSide(err error) bool {
	switch GetKind(err) {
	case KService, KInternal, KHTTPError, KTimeout, KLimitsExceeded, KThrottled:
		return true
	}
	return false
}

// Retry reports whether the operation that generated the error can be retried.
// Errors marked SetNoRetry never retry; wrapped errors must all be retryable.
func Retry(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	for ; e != nil; e = e.inner {
		if e.permanent {
			return false
		}
		switch e.Kind {
		case KTimeout, KThrottled:
			// retryable
		default:
			return false
		}
	}
	return true
}
