package deb

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/etnz/debmeta/internal/log"
)

// DefaultMaxControlSize bounds the control archives an Extractor downloads.
const DefaultMaxControlSize = 16 << 20

// Fetcher returns bytes start..end (inclusive) of the resource at url. A
// shorter slice means the resource ended early. Implementations live in the
// fetch package.
type Fetcher interface {
	FetchRange(ctx context.Context, url string, start, end int64) ([]byte, error)
}

// SizeFetcher is a Fetcher that also reports the size of the whole
// resource, or -1 when it is unknown.
type SizeFetcher interface {
	Fetcher
	FetchRangeSize(ctx context.Context, url string, start, end int64) ([]byte, int64, error)
}

// Options configures an Extractor.
type Options struct {
	// FetchTimeout bounds each of the two range requests. Zero means no limit
	// beyond the caller's context.
	FetchTimeout time.Duration

	// MaxControlSize is the largest control archive downloaded, and the most
	// it may expand to once decompressed, in bytes. Zero means
	// DefaultMaxControlSize.
	MaxControlSize int64

	// Compressions lists the control archive compressions accepted. Empty
	// means DefaultCompressions.
	Compressions []Compression
}

// Extractor reads the control file of remote .deb archives with two range
// requests: the header window, then exactly the control archive.
// An Extractor holds no per-request state and is safe for concurrent use.
type Extractor struct {
	fetcher Fetcher
	opts    Options
}

// NewExtractor returns an Extractor reading through f. A nil opts uses the defaults.
func NewExtractor(f Fetcher, opts *Options) *Extractor {
	x := &Extractor{fetcher: f}
	if opts != nil {
		x.opts = *opts
		x.opts.Compressions = append([]Compression(nil), opts.Compressions...)
	}
	if x.opts.MaxControlSize <= 0 {
		x.opts.MaxControlSize = DefaultMaxControlSize
	}
	if len(x.opts.Compressions) == 0 {
		x.opts.Compressions = DefaultCompressions
	}
	return x
}

// FetchHeaderWindow fetches bytes 0..131 of url.
func (x *Extractor) FetchHeaderWindow(ctx context.Context, url string) (HeaderWindow, error) {
	w, _, err := x.fetchHeaderWindow(ctx, url)
	return w, err
}

func (x *Extractor) fetchHeaderWindow(ctx context.Context, url string) (HeaderWindow, int64, error) {
	data, size, err := x.fetch(ctx, url, 0, WindowSize-1)
	if err != nil {
		return nil, -1, err
	}
	w, err := NewHeaderWindow(data)
	if err != nil {
		return nil, -1, withURL(err, url)
	}
	return w, size, nil
}

// Inspect validates a header window and parses the control member header.
// Checks run in order and the first failure is reported.
func (x *Extractor) Inspect(w HeaderWindow) (ControlMember, Compression, error) {
	if !ValidateArMagic(w) {
		return ControlMember{}, "", newError(FormatError, CheckArMagic, "archive does not start with %q", ArMagic)
	}
	if !ValidateDebMarker(w) {
		return ControlMember{}, "", newError(FormatError, CheckDebMarker, "first member is not %s version 2.0", PkgDebianBinary)
	}
	c, ok := w.ControlCompression(x.opts.Compressions)
	if !ok {
		return ControlMember{}, "", newError(FormatError, CheckControlMember, "second member is not one of %v", memberNames(x.opts.Compressions))
	}
	m, err := ParseControlMember(w)
	if err != nil {
		return ControlMember{}, "", err
	}
	return m, c, nil
}

// FetchControlArchive fetches exactly the size bytes of the control archive
// starting at offset WindowSize.
func (x *Extractor) FetchControlArchive(ctx context.Context, url string, size int64) ([]byte, error) {
	if size <= 0 {
		return nil, withURL(newError(FormatError, CheckControlSize, "control archive is empty"), url)
	}
	if size > x.opts.MaxControlSize {
		err := newError(FormatError, CheckControlSize, "control archive is %s, limit is %s",
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(x.opts.MaxControlSize)))
		return nil, withURL(err, url)
	}

	start, end := ControlRange(size)
	data, _, err := x.fetch(ctx, url, start, end)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, withURL(newError(TransportError, "", "received %d bytes of control archive, want %d", len(data), size), url)
	}
	return data, nil
}

// Metadata is what Extract reads from a .deb archive.
type Metadata struct {
	// Control is the unfolded control file.
	Control     string
	Member      ControlMember
	Compression Compression
	// Size is the size of the whole archive, or -1 when the fetcher does
	// not report it.
	Size int64
}

// Extract reads the control file of the .deb archive at url, along with the
// control member header and the archive size.
func (x *Extractor) Extract(ctx context.Context, url string) (*Metadata, error) {
	entry := log.WithFields(logrus.Fields{"url": url})

	w, size, err := x.fetchHeaderWindow(ctx, url)
	if err != nil {
		return nil, err
	}
	m, c, err := x.Inspect(w)
	if err != nil {
		return nil, withURL(err, url)
	}
	entry.Debugf("control member is %s", m)

	data, err := x.FetchControlArchive(ctx, url, m.Size)
	if err != nil {
		return nil, err
	}
	control, err := extractControl(data, c, x.opts.MaxControlSize)
	if err != nil {
		return nil, withURL(err, url)
	}
	entry.Infof("extracted control file from %s", m)
	return &Metadata{Control: control, Member: m, Compression: c, Size: size}, nil
}

// Control returns the unfolded control file of the .deb archive at url.
func (x *Extractor) Control(ctx context.Context, url string) (string, error) {
	md, err := x.Extract(ctx, url)
	if err != nil {
		return "", err
	}
	return md.Control, nil
}

// Fields returns the normalized metadata of the .deb archive at url using
// DefaultFieldTable.
func (x *Extractor) Fields(ctx context.Context, url string) (Fields, error) {
	control, err := x.Control(ctx, url)
	if err != nil {
		return nil, err
	}
	return MapFields(control, DefaultFieldTable), nil
}

// fetch returns bytes start..end of url and the size of the resource, -1
// when the fetcher cannot tell.
func (x *Extractor) fetch(ctx context.Context, url string, start, end int64) ([]byte, int64, error) {
	if x.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.opts.FetchTimeout)
		defer cancel()
	}
	size := int64(-1)
	var data []byte
	var err error
	if sf, ok := x.fetcher.(SizeFetcher); ok {
		data, size, err = sf.FetchRangeSize(ctx, url, start, end)
	} else {
		data, err = x.fetcher.FetchRange(ctx, url, start, end)
	}
	if err != nil {
		return nil, -1, &Error{Kind: TransportError, URL: url, Err: err}
	}
	return data, size, nil
}

func memberNames(cs []Compression) []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.MemberName()
	}
	return names
}
