package deb

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression is the extension of a control archive member, control.tar.<ext>.
type Compression string

const (
	Gzip Compression = "gz"
	Xz   Compression = "xz"
	Zstd Compression = "zst"
)

// DefaultCompressions is the set accepted when none is configured. Only
// gzip-compressed control archives are recognised by default.
var DefaultCompressions = []Compression{Gzip}

// MemberName returns the ar member name of a control archive with compression c.
func (c Compression) MemberName() string {
	return "control.tar." + string(c)
}

// ParseCompression parses a compression name as given on a command line or in
// a manifest. Both extensions and common names are accepted.
func ParseCompression(s string) (Compression, error) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case "gz", "gzip":
		return Gzip, nil
	case "xz":
		return Xz, nil
	case "zst", "zstd":
		return Zstd, nil
	}
	return "", fmt.Errorf("unsupported control compression %q", s)
}

// ControlRange returns the inclusive byte range holding a control archive of
// size bytes. The archive data starts right after the header window.
func ControlRange(size int64) (start, end int64) {
	return WindowSize, WindowSize + size - 1
}

// UnfoldLines joins continuation lines to the line they continue: every
// newline followed by a space becomes a single space.
func UnfoldLines(s string) string {
	return strings.ReplaceAll(s, "\n ", " ")
}

// ExtractControl decompresses a control archive and returns its control file
// with continuation lines unfolded. The entry may be named "control" or
// "./control"; other entries are ignored. The archive may not expand to more
// than DefaultMaxControlSize bytes.
func ExtractControl(data []byte, c Compression) (string, error) {
	return extractControl(data, c, DefaultMaxControlSize)
}

// extractControl is ExtractControl with at most limit bytes decompressed.
func extractControl(data []byte, c Compression, limit int64) (string, error) {
	r, closer, err := decompress(bytes.NewReader(data), c)
	if err != nil {
		return "", &Error{Kind: FormatError, Check: CheckCompression, Err: err}
	}
	defer closer()

	lr := &io.LimitedReader{R: r, N: limit + 1}
	tooLarge := func() error {
		return &Error{Kind: FormatError, Check: CheckControlSize, Err: fmt.Errorf("control archive expands to more than %s", humanize.Bytes(uint64(limit)))}
	}

	tr := tar.NewReader(lr)
	for {
		hdr, err := tr.Next()
		if lr.N <= 0 {
			return "", tooLarge()
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", &Error{Kind: FormatError, Check: CheckTar, Err: fmt.Errorf("failed to read control archive: %w", err)}
		}
		if !hdr.FileInfo().Mode().IsRegular() || path.Clean(hdr.Name) != string(FileControl) {
			continue
		}
		if hdr.Size > limit {
			return "", &Error{Kind: FormatError, Check: CheckControlSize, Err: fmt.Errorf("%s is %s, limit is %s", hdr.Name, humanize.Bytes(uint64(hdr.Size)), humanize.Bytes(uint64(limit)))}
		}

		raw, err := io.ReadAll(io.LimitReader(tr, limit+1))
		if lr.N <= 0 {
			return "", tooLarge()
		}
		if err != nil {
			return "", &Error{Kind: FormatError, Check: CheckTar, Err: fmt.Errorf("failed to read %s: %w", hdr.Name, err)}
		}
		// Checksums in the stream trailer are only verified at its end.
		if _, err := io.Copy(io.Discard, lr); err != nil {
			return "", &Error{Kind: FormatError, Check: CheckCompression, Err: fmt.Errorf("corrupt %s stream: %w", c, err)}
		}
		if lr.N <= 0 {
			return "", tooLarge()
		}
		if !utf8.Valid(raw) {
			return "", &Error{Kind: EncodingError, Check: CheckUTF8, Err: fmt.Errorf("%s is not valid UTF-8", hdr.Name)}
		}
		return UnfoldLines(string(raw)), nil
	}

	return "", &Error{Kind: FormatError, Check: CheckControlEntry, Err: errors.New("control archive has no control file")}
}

// decompress returns a reader of the tar stream inside a control archive and
// a function releasing its resources.
func decompress(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return zr, func() { zr.Close() }, nil
	case Xz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open xz stream: %w", err)
		}
		return xr, func() {}, nil
	case Zstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return zr, zr.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported control compression %q", c)
}
