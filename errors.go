package ndb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidType        = errors.New("invalid type")
	ErrMissingKey         = errors.New("missing key")
	ErrInvalidKey         = errors.New("invalid key")
	ErrEmptyInput         = errors.New("empty input")
	ErrNotFound           = errors.New("not found")
	ErrChildNotFound      = errors.New("child not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrConfiguration      = errors.New("configuration error")
	ErrOrderMismatch      = errors.New("order mismatch")
	ErrListenerRegistered = errors.New("listener already registered")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrEmptyResult        = errors.New("empty result")
	ErrClosed             = errors.New("db closed")
)

// RecordError describes a failure concerning a particular type, record or field.
type RecordError struct {
	Type  string
	Key   any
	Field string
	Msg   string
	Err   error
}

func recordErrf(typ string, key any, field string, err error, format string, args ...any) error {
	return &RecordError{typ, key, field, fmt.Sprintf(format, args...), err}
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Type)
	if e.Key != nil {
		buf.WriteByte('/')
		fmt.Fprint(&buf, e.Key)
	}
	if e.Field != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Field)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}
