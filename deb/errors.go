package deb

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed extraction. Kinds are errors, so callers test them
// with errors.Is(err, deb.TransportError).
type Kind string

const (
	// TransportError reports an unreachable resource, a server without range
	// support, a short response or a timeout. Retrying may help.
	TransportError Kind = "transport error"

	// FormatError reports a resource that is not a supported .deb archive.
	FormatError Kind = "format error"

	// ParseError reports malformed fields in the control member header.
	ParseError Kind = "parse error"

	// EncodingError reports a control file that is not valid UTF-8.
	EncodingError Kind = "encoding error"
)

func (k Kind) Error() string { return string(k) }

// Check names the validation step that rejected an archive.
type Check string

const (
	CheckArMagic       Check = "ar-magic"
	CheckDebMarker     Check = "deb-marker"
	CheckControlMember Check = "control-member"
	CheckControlHeader Check = "control-header"
	CheckControlSize   Check = "control-size"
	CheckCompression   Check = "compression"
	CheckTar           Check = "tar"
	CheckControlEntry  Check = "control-entry"
	CheckUTF8          Check = "utf-8"
)

// Error is the error returned by every failing extraction step.
type Error struct {
	Kind  Kind
	Check Check  // empty for transport errors
	URL   string // empty when the failing step had no URL
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Check != "" {
		fmt.Fprintf(&b, " (%s)", e.Check)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " for %s", e.URL)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func newError(kind Kind, check Check, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Check: check, Err: fmt.Errorf(format, args...)}
}

// withURL records url on err if it is an *Error without one.
func withURL(err error, url string) error {
	var e *Error
	if errors.As(err, &e) && e.URL == "" {
		e.URL = url
	}
	return err
}
