package manifest

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etnz/debmeta/github"
)

// createMockDeb returns a minimal .deb with a gzip control archive.
func createMockDeb(t *testing.T, control string) []byte {
	t.Helper()
	var f bytes.Buffer
	f.WriteString("!<arch>\n")
	writeEntry := func(name string, data []byte) {
		fmt.Fprintf(&f, "%-16s%-12s%-6s%-6s%-8s%-10d`\n", name, "0", "0", "0", "100644", len(data))
		f.Write(data)
		if len(data)%2 != 0 {
			f.WriteString("\n")
		}
	}
	writeEntry("debian-binary", []byte("2.0\n"))

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "./control", Mode: 0644, Size: int64(len(control))}))
	_, err := tw.Write([]byte(control))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	writeEntry("control.tar.gz", buf.Bytes())
	writeEntry("data.tar.xz", []byte("dummy data"))
	return f.Bytes()
}

// newServer serves packages with range support and a GitHub releases listing for o/r.
func newServer(t *testing.T, debs map[string][]byte) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/o/r/releases" {
			json.NewEncoder(w).Encode([]map[string]interface{}{{
				"id":       1,
				"tag_name": "v3.0",
				"assets": []map[string]interface{}{
					{"id": 10, "name": "gh_3.0_all.deb", "browser_download_url": srv.URL + "/releases/gh_3.0_all.deb"},
					{"id": 11, "name": "checksums.txt", "browser_download_url": srv.URL + "/releases/checksums.txt"},
				},
			}})
			return
		}
		content, ok := debs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, filepath.Base(r.URL.Path), time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCompile(t *testing.T) {
	srv := newServer(t, map[string][]byte{
		"/pool/foo_1.2.3_amd64.deb":  createMockDeb(t, "Package: foo\nVersion: 1.2.3\nArchitecture: amd64\n"),
		"/pool/broken_1.2.3_all.deb": []byte(strings.Repeat("not a deb ", 20)),
		"/releases/gh_3.0_all.deb":   createMockDeb(t, "Package: gh\nVersion: 3.0\nArchitecture: all\n"),
	})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local_1.0_all.deb"), createMockDeb(t, "Package: local\nVersion: 1.0\nArchitecture: all\n"), 0644))

	path := writeManifest(t, dir, "catalog.yaml", fmt.Sprintf(`
path: dist
defines:
  version: 1.2.3
  server: %s
fetch:
  timeout: 5s
  retries: 1
archive_info:
  origin: Test
  codename: stable
sources:
  - "{{.server}}/pool/foo_{{.version}}_amd64.deb"
  - "{{.server}}/pool/broken_{{.version}}_all.deb"
  - local_1.0_all.deb
github:
  - https://github.com/o/r
`, srv.URL))

	c, err := NewCatalog(path)
	require.NoError(t, err)

	var events []fmt.Stringer
	err = c.Compile(context.Background(), "", &github.Client{BaseURL: srv.URL}, func(e fmt.Stringer) { events = append(events, e) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken_1.2.3_all.deb")

	var probed []string
	var failures []EventPackageProbeFailure
	for _, e := range events {
		switch ev := e.(type) {
		case EventCatalogLoadSuccess:
			assert.Equal(t, 4, ev.Sources)
		case EventPackageProbeSuccess:
			probed = append(probed, ev.Package)
		case EventPackageProbeFailure:
			failures = append(failures, ev)
		}
	}
	assert.Equal(t, []string{"foo", "gh", "local"}, probed)
	require.Len(t, failures, 1)
	assert.Equal(t, srv.URL+"/pool/broken_1.2.3_all.deb", failures[0].URL)
	assert.Equal(t, "format error", failures[0].Kind)

	last, ok := events[len(events)-1].(EventCatalogSaveSuccess)
	require.True(t, ok)
	assert.Equal(t, 3, last.Packages)

	packages, err := os.ReadFile(filepath.Join(dir, "dist", "Packages"))
	require.NoError(t, err)
	assert.Contains(t, string(packages), "Filename: "+srv.URL+"/pool/foo_1.2.3_amd64.deb\n")
	assert.Contains(t, string(packages), "Filename: "+filepath.Join(dir, "local_1.0_all.deb")+"\n")
	assert.FileExists(t, filepath.Join(dir, "dist", "Release"))
	assert.NoFileExists(t, filepath.Join(dir, "dist", "InRelease"))
}

func TestCompileReportsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.deb"), createMockDeb(t, "Package: a\nVersion: 1\nArchitecture: all\n"), 0644))
	path := writeManifest(t, dir, "catalog.json", `{"path": "out", "sources": ["a.deb"]}`)

	c, err := NewCatalog(path)
	require.NoError(t, err)
	require.NoError(t, c.Compile(context.Background(), "", nil, nil))

	ops := map[string]EventFileOperation{}
	require.NoError(t, c.Compile(context.Background(), "", nil, func(e fmt.Stringer) {
		if op, ok := e.(EventFileOperation); ok {
			ops[filepath.Base(op.Path)] = op
		}
	}))
	require.Contains(t, ops, "Packages")
	assert.False(t, ops["Packages"].Created)
	assert.False(t, ops["Packages"].Updated)
	assert.Equal(t, ops["Packages"].OldDigest, ops["Packages"].NewDigest)
}

func TestNewCatalogErrors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]struct{ name, content, want string }{
		"missing path":     {"c.yaml", "sources: []\n", "must specify 'path'"},
		"unknown yaml key": {"c.yml", "path: x\nrepo: y\n", "field repo not found"},
		"unknown json key": {"c.json", `{"path": "x", "repo": "y"}`, "unknown field"},
		"bad timeout":      {"c.yaml", "path: x\nfetch: {timeout: soon}\n", "invalid fetch timeout"},
		"bad compression":  {"c.yaml", "path: x\ncompressions: [bz2]\n", "unsupported control compression"},
		"bad github repo":  {"c.yaml", "path: x\ngithub: [just-a-name]\n", "invalid repository"},
		"unreadable":       {"missing.yaml", "", "failed to read manifest"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if tt.content != "" {
				path = writeManifest(t, dir, tt.name, tt.content)
			}
			_, err := NewCatalog(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResolveSources(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "c.yaml", `
path: out
defines: {arch: amd64}
sources:
  - https://example.com/{{.arch}}/a.deb
  - pool/{{upper .arch}}.deb
  - /abs/b.deb
`)
	c, err := NewCatalog(path)
	require.NoError(t, err)

	got, err := c.ResolveSources()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/amd64/a.deb",
		filepath.Join(dir, "pool", "AMD64.deb"),
		"/abs/b.deb",
	}, got)

	c.Sources = []string{"{{.undefined}}"}
	_, err = c.ResolveSources()
	assert.Error(t, err)
}

func TestEventString(t *testing.T) {
	s := EventPackageProbeSuccess{Package: "foo", Version: "1.0"}.String()
	assert.JSONEq(t, `{"manifest.EventPackageProbeSuccess":{"package":"foo","version":"1.0"}}`, s)
}
