package deb

import (
	"archive/tar"
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// arHeader formats a 60-byte ar member header.
func arHeader(name, mtime, uid, gid, mode string, size int64) string {
	return fmt.Sprintf("%-16s%-12s%-6s%-6s%-8s%-10d`\n", name, mtime, uid, gid, mode, size)
}

// headerWindow builds a window by hand from a control member header.
func headerWindow(controlHeader string) HeaderWindow {
	return HeaderWindow(ArMagic + arHeader(string(PkgDebianBinary), "0", "0", "0", "644", 4) + "2.0\n" + controlHeader)
}

type tarEntry struct {
	name     string
	body     string
	typeflag byte
}

func regular(name, body string) tarEntry {
	return tarEntry{name: name, body: body, typeflag: tar.TypeReg}
}

// controlArchive returns a tar archive of entries compressed with c.
func controlArchive(t *testing.T, c Compression, entries ...tarEntry) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644, Typeflag: e.typeflag, ModTime: time.Unix(0, 0)}
		if e.typeflag == tar.TypeDir {
			hdr.Mode = 0755
		} else {
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Size > 0 {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())

	var buf bytes.Buffer
	switch c {
	case Gzip:
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write(tarBuf.Bytes())
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	case Xz:
		xw, err := xz.NewWriter(&buf)
		require.NoError(t, err)
		_, err = xw.Write(tarBuf.Bytes())
		require.NoError(t, err)
		require.NoError(t, xw.Close())
	case Zstd:
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = zw.Write(tarBuf.Bytes())
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	default:
		t.Fatalf("unsupported compression %q", c)
	}
	return buf.Bytes()
}

type arMember struct {
	name string
	data []byte
}

// buildDeb writes members into an ar archive.
func buildDeb(t *testing.T, members ...arMember) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	require.NoError(t, w.WriteGlobalHeader())
	for _, m := range members {
		hdr := &ar.Header{Name: m.name, Size: int64(len(m.data)), Mode: 0644, ModTime: time.Unix(0, 0)}
		require.NoError(t, w.WriteHeader(hdr))
		_, err := w.Write(m.data)
		require.NoError(t, err)
	}
	return buf.Bytes()
}

// debWithControlArchive returns a package made of debian-binary, the given
// control archive under its member name, and a data member.
func debWithControlArchive(t *testing.T, c Compression, archive []byte) []byte {
	t.Helper()
	return buildDeb(t,
		arMember{string(PkgDebianBinary), []byte("2.0\n")},
		arMember{c.MemberName(), archive},
		arMember{"data.tar.xz", bytes.Repeat([]byte{0xfd}, 4096)},
	)
}

// debFile returns a gzip package whose control archive holds control as ./control.
func debFile(t *testing.T, control string) []byte {
	t.Helper()
	archive := controlArchive(t, Gzip,
		tarEntry{name: "./", typeflag: tar.TypeDir},
		regular("./control", control),
		regular("./md5sums", "d41d8cd98f00b204e9800998ecf8427e  usr/bin/hello\n"),
	)
	return debWithControlArchive(t, Gzip, archive)
}
