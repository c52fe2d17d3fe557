package promdb

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies failures the same way a browser's storage engine does
// with its DOMException names.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeConstraint
	CodeData
	CodeNotFound
	CodeReadOnly
	CodeTransactionInactive
	CodeVersion
	CodeInvalidState
	CodeInvalidAccess
	CodeAbort
)

func (c ErrorCode) String() string {
	switch c {
	case CodeUnknown:
		return "UnknownError"
	case CodeConstraint:
		return "ConstraintError"
	case CodeData:
		return "DataError"
	case CodeNotFound:
		return "NotFoundError"
	case CodeReadOnly:
		return "ReadOnlyError"
	case CodeTransactionInactive:
		return "TransactionInactiveError"
	case CodeVersion:
		return "VersionError"
	case CodeInvalidState:
		return "InvalidStateError"
	case CodeInvalidAccess:
		return "InvalidAccessError"
	case CodeAbort:
		return "AbortError"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Sentinels for errors.Is; they match any *Error with the same code.
var (
	ErrConstraint          = &Error{Code: CodeConstraint}
	ErrData                = &Error{Code: CodeData}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrReadOnly            = &Error{Code: CodeReadOnly}
	ErrTransactionInactive = &Error{Code: CodeTransactionInactive}
	ErrVersion             = &Error{Code: CodeVersion}
	ErrInvalidState        = &Error{Code: CodeInvalidState}
	ErrInvalidAccess       = &Error{Code: CodeInvalidAccess}
	ErrAbort               = &Error{Code: CodeAbort}

	ErrClosed = &Error{Code: CodeInvalidState, Msg: "database handle has been cleaned up"}
)

type Error struct {
	Code  ErrorCode
	Op    string
	Store string
	Index string
	Key   any
	Msg   string
	Err   error
}

func (e *Error) in(store, index string) *Error {
	e.Store, e.Index = store, index
	return e
}

func (e *Error) withKey(key any) *Error {
	e.Key = key
	return e
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Store != "" || t.Msg != "" || t.Err != nil {
		return e == t
	}
	return e.Code == t.Code
}

func (e *Error) Error() string {
	var buf strings.Builder
	if e.Op != "" {
		buf.WriteString(e.Op)
		buf.WriteByte(' ')
	}
	if e.Store != "" {
		buf.WriteString(e.Store)
		if e.Index != "" {
			buf.WriteByte('.')
			buf.WriteString(e.Index)
		}
		if e.Key != nil {
			buf.WriteByte('/')
			fmt.Fprint(&buf, e.Key)
		}
		buf.WriteString(": ")
	}
	buf.WriteString(e.Code.String())
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// OpenError is the rejection of a connection future.
type OpenError struct {
	Name string
	Code ErrorCode
	Err  error
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

func (e *OpenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("promdb: failed to open %q: %v: %v", e.Name, e.Code, e.Err)
	}
	return fmt.Sprintf("promdb: failed to open %q: %v", e.Name, e.Code)
}

func openErr(name string, err error) *OpenError {
	code := CodeOf(err)
	if code == CodeUnknown {
		var oe *OpenError
		if errors.As(err, &oe) {
			return oe
		}
	}
	return &OpenError{Name: name, Code: code, Err: err}
}

// FormatError reports bytes read from the engine that cannot be decoded.
type FormatError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func formatErrf(data []byte, off int, err error, format string, args ...any) error {
	return &FormatError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func (e *FormatError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}
