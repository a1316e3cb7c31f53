package deb

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/etnz/debmeta/internal/log"
)

// HeaderWindow holds the first WindowSize bytes of a .deb archive:
//
//	[0, 8)     ar magic
//	[8, 72)    debian-binary member header and its "2.0\n" data
//	[72, 132)  header of the control archive member
//
// The validators accept windows of any length and never panic; a short
// window simply fails the checks whose bytes are missing.
type HeaderWindow []byte

// NewHeaderWindow wraps b, which must be exactly WindowSize bytes long.
// Anything else means the fetch returned a short or oversized answer.
func NewHeaderWindow(b []byte) (HeaderWindow, error) {
	if len(b) != WindowSize {
		return nil, newError(TransportError, "", "header window is %d bytes, want %d", len(b), WindowSize)
	}
	return HeaderWindow(b), nil
}

// part returns w[from:to] clipped to the window.
func (w HeaderWindow) part(from, to int) []byte {
	if from > len(w) {
		return nil
	}
	if to > len(w) {
		to = len(w)
	}
	return w[from:to]
}

// ControlMember holds the ar header fields of the control archive member.
// All fields but Size are kept as the raw header tokens.
type ControlMember struct {
	File        string
	Time        string
	UID         string
	GID         string
	Permissions string
	Size        int64
}

// Fields returns the member as the six named header values.
func (m ControlMember) Fields() map[string]string {
	return map[string]string{
		"file":        m.File,
		"time":        m.Time,
		"uid":         m.UID,
		"gid":         m.GID,
		"permissions": m.Permissions,
		"size":        strconv.FormatInt(m.Size, 10),
	}
}

// ValidateArMagic reports whether w starts with the ar magic.
func ValidateArMagic(w HeaderWindow) bool {
	magic := w.part(0, arMagicEnd)
	ok := string(magic) == ArMagic
	logCheck(CheckArMagic, ok, magic, "archive is an ar archive", "archive is not a valid ar archive")
	return ok
}

// ValidateDebMarker reports whether the first ar member is debian-binary
// holding format version 2.0.
func ValidateDebMarker(w HeaderWindow) bool {
	member := w.part(arMagicEnd, debMemberEnd)
	ok := len(member) == debMemberEnd-arMagicEnd &&
		bytes.HasPrefix(member, []byte(PkgDebianBinary)) &&
		bytes.HasSuffix(member, []byte(DebMarker))
	logCheck(CheckDebMarker, ok, member, "archive is a debian binary package", "archive is not a valid debian binary package")
	return ok
}

// ValidateControlPresence reports whether the second ar member is a
// gzip-compressed control archive.
func ValidateControlPresence(w HeaderWindow) bool {
	_, ok := w.ControlCompression(nil)
	return ok
}

// ControlCompression returns the compression of the control member if its
// name is control.tar.<ext> for one of allowed. An empty allowed list means
// gzip only.
func (w HeaderWindow) ControlCompression(allowed []Compression) (Compression, bool) {
	if len(allowed) == 0 {
		allowed = DefaultCompressions
	}
	header := w.part(debMemberEnd, WindowSize)
	for _, c := range allowed {
		if bytes.HasPrefix(header, []byte(c.MemberName())) {
			logCheck(CheckControlMember, true, header, "archive has a "+c.MemberName()+" member", "")
			return c, true
		}
	}
	logCheck(CheckControlMember, false, header, "", "archive has no supported control archive member")
	return "", false
}

// ParseControlMember parses the ar header of the control member. The header
// must be ASCII and split on whitespace into exactly the six header fields
// followed by the "`" terminator. The size must be a non-negative decimal.
func ParseControlMember(w HeaderWindow) (ControlMember, error) {
	header := w.part(debMemberEnd, WindowSize)
	if len(header) != arHeaderSize {
		return ControlMember{}, newError(ParseError, CheckControlHeader, "control member header is %d bytes, want %d", len(header), arHeaderSize)
	}
	for i, c := range header {
		if c >= utf8.RuneSelf {
			return ControlMember{}, newError(ParseError, CheckControlHeader, "control member header has non-ASCII byte 0x%02x at offset %d", c, debMemberEnd+i)
		}
	}

	tokens := strings.Fields(string(header))
	if len(tokens) != 7 || tokens[6] != arHeaderEndToken {
		return ControlMember{}, newError(ParseError, CheckControlHeader, "control member header %q does not have 6 fields and a terminator", header)
	}

	size, err := strconv.ParseInt(tokens[5], 10, 64)
	if err != nil || size < 0 {
		return ControlMember{}, newError(ParseError, CheckControlHeader, "control member size %q is not a non-negative decimal", tokens[5])
	}

	return ControlMember{
		File:        tokens[0],
		Time:        tokens[1],
		UID:         tokens[2],
		GID:         tokens[3],
		Permissions: tokens[4],
		Size:        size,
	}, nil
}

func logCheck(check Check, ok bool, part []byte, success, failure string) {
	entry := log.WithFields(logrus.Fields{"check": check})
	entry.Debugf("checking bytes %q", part)
	if ok {
		entry.Info(success)
		return
	}
	entry.Error(failure)
}

func (m ControlMember) String() string {
	return fmt.Sprintf("%s (%s)", m.File, humanize.Bytes(uint64(m.Size)))
}
