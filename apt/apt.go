package apt

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/gzip"
	debversion "github.com/knqyf263/go-deb-version"

	"github.com/etnz/debmeta/deb"
	"github.com/etnz/debmeta/internal/log"
)

// ArchiveInfo holds metadata about the catalog itself.
// These fields are written to the 'Release' file and help APT clients identify
// the repository (e.g., for pinning or trust).
type ArchiveInfo struct {
	Origin        string `yaml:"origin" json:"origin"`
	Label         string `yaml:"label" json:"label"`
	Suite         string `yaml:"suite" json:"suite"`
	Codename      string `yaml:"codename" json:"codename"`
	Architectures string `yaml:"architectures" json:"architectures"`
	Components    string `yaml:"components" json:"components"`
	Description   string `yaml:"description" json:"description"`
}

// Package represents the metadata of a single remote .deb package, as read
// from its control file without downloading the package itself.
type Package struct {
	Name         string
	Version      string
	Architecture string
	// Control is the unfolded text of the package's control file.
	Control string

	// Filename is the absolute URL of the .deb file.
	Filename string
	// Size is the size of the .deb file in bytes, zero when unknown.
	Size int64
}

// NewPackage returns the package described by control, located at filename.
func NewPackage(control, filename string) *Package {
	fields := deb.ParseControl(control)
	return &Package{
		Name:         fields[deb.FieldPackage],
		Version:      fields[deb.FieldVersion],
		Architecture: fields[deb.FieldArchitecture],
		Control:      control,
		Filename:     filename,
	}
}

// ID returns the identity of p in an index: "Name|Version|Architecture".
func (p *Package) ID() string {
	return fmt.Sprintf("%s|%s|%s", p.Name, p.Version, p.Architecture)
}

// Probe reads the control file of the .deb at url through x.
func Probe(ctx context.Context, x *deb.Extractor, url string) (*Package, error) {
	md, err := x.Extract(ctx, url)
	if err != nil {
		return nil, err
	}
	p := NewPackage(md.Control, url)
	if md.Size > 0 {
		p.Size = md.Size
	}
	return p, nil
}

// PackageIndex is an in-memory database of packages.
// It serves as the staging area for generating the 'Packages' file.
// It enforces uniqueness based on "Name|Version|Architecture".
type PackageIndex struct {
	packages map[string]*Package // Key: Name|Version|Architecture

	PackagesContent         []byte
	PackagesGzContent       []byte
	ReleaseContent          []byte
	InReleaseContent        []byte
	PublicKeyContent        []byte
	PublicKeyContentArmored []byte
}

func NewPackageIndex() *PackageIndex {
	return &PackageIndex{packages: make(map[string]*Package)}
}

// Add inserts a package into the index.
// It returns an error if the package has no name or if a package with the
// same Name, Version, and Architecture already exists.
func (idx *PackageIndex) Add(p *Package) error {
	if p.Name == "" {
		return fmt.Errorf("package at %s has no name", p.Filename)
	}
	id := p.ID()
	if _, exists := idx.packages[id]; exists {
		return fmt.Errorf("duplicate package: %s", id)
	}
	idx.packages[id] = p
	return nil
}

// Append merges another index into this one.
func (idx *PackageIndex) Append(other *PackageIndex) error {
	for id, p := range other.packages {
		if _, exists := idx.packages[id]; exists {
			return fmt.Errorf("duplicate package: %s", id)
		}
		idx.packages[id] = p
	}
	return nil
}

// Len returns the number of packages in the index.
func (idx *PackageIndex) Len() int { return len(idx.packages) }

// Packages returns the packages ordered by name, then Debian version, then
// architecture. Versions that do not parse are compared as strings.
func (idx *PackageIndex) Packages() []*Package {
	pkgs := make([]*Package, 0, len(idx.packages))
	for _, p := range idx.packages {
		pkgs = append(pkgs, p)
	}
	sort.Slice(pkgs, func(i, j int) bool {
		a, b := pkgs[i], pkgs[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if c := compareVersions(a.Version, b.Version); c != 0 {
			return c < 0
		}
		return a.Architecture < b.Architecture
	})
	return pkgs
}

func compareVersions(a, b string) int {
	va, errA := debversion.NewVersion(a)
	vb, errB := debversion.NewVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}

// IndexAll probes every url and collects the packages in a new index.
// A failing url does not stop the others; all failures are returned
// together, alongside the index of the packages that were read.
func IndexAll(ctx context.Context, x *deb.Extractor, urls []string) (*PackageIndex, error) {
	idx := NewPackageIndex()
	var errs error
	for _, url := range urls {
		log.Infof("probing %s", filepath.Base(url))
		p, err := Probe(ctx, x, url)
		if err != nil {
			log.Warnf("skipping %s: %v", url, err)
			errs = multierror.Append(errs, err)
			continue
		}
		if err := idx.Add(p); err != nil {
			log.Warnf("skipping %s: %v", url, err)
			errs = multierror.Append(errs, err)
			continue
		}
	}
	return idx, errs
}

// generateStanzaString renders the Packages stanza of a package. Size is
// left out when unknown.
func generateStanzaString(control, filename string, size int64) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(control, "\n"))
	fmt.Fprintf(&b, "\nFilename: %s\n", filename)
	if size > 0 {
		fmt.Fprintf(&b, "Size: %d\n", size)
	}
	b.WriteString("\n")
	return b.String()
}

// now is replaced in tests.
var now = time.Now

// ComputeIndices generates the catalog metadata files in memory.
// 1. Packages: The text index of all packages.
// 2. Packages.gz: Compressed index.
// 3. Release: Metadata about the catalog and hashes of the indices.
// 4. InRelease: GPG-signed version of the Release file, when gpgKey is set.
func (idx *PackageIndex) ComputeIndices(i ArchiveInfo, gpgKey string) error {
	// 1. Generate Packages
	var pkgBuf bytes.Buffer
	for _, p := range idx.Packages() {
		pkgBuf.WriteString(generateStanzaString(p.Control, p.Filename, p.Size))
	}
	idx.PackagesContent = pkgBuf.Bytes()

	// 2. Generate Packages.gz
	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	if _, err := gw.Write(idx.PackagesContent); err != nil {
		return fmt.Errorf("failed to compress Packages: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to compress Packages: %w", err)
	}
	idx.PackagesGzContent = gzBuf.Bytes()

	// 3. Generate Release
	var relBuf bytes.Buffer
	fmt.Fprintf(&relBuf, "Origin: %s\nLabel: %s\nSuite: %s\nCodename: %s\nDate: %s\nArchitectures: %s\nComponents: %s\nDescription: %s\nSHA256:\n",
		i.Origin, i.Label, i.Suite, i.Codename, now().UTC().Format(time.RFC1123Z), i.Architectures, i.Components, i.Description)

	hPkg := sha256.Sum256(idx.PackagesContent)
	fmt.Fprintf(&relBuf, " %x %d %s\n", hPkg, len(idx.PackagesContent), "Packages")

	hGz := sha256.Sum256(idx.PackagesGzContent)
	fmt.Fprintf(&relBuf, " %x %d %s\n", hGz, len(idx.PackagesGzContent), "Packages.gz")

	idx.ReleaseContent = relBuf.Bytes()

	// 4. Sign (InRelease)
	idx.InReleaseContent, idx.PublicKeyContent, idx.PublicKeyContentArmored = nil, nil, nil
	if gpgKey == "" {
		return nil
	}
	signer, err := readSigner(gpgKey)
	if err != nil {
		return fmt.Errorf("failed to read signing key: %w", err)
	}
	if idx.InReleaseContent, err = signBytes(idx.ReleaseContent, signer); err != nil {
		return fmt.Errorf("signing failed: %w", err)
	}
	if idx.PublicKeyContent, err = publicKey(signer, false); err != nil {
		return fmt.Errorf("failed to extract public key: %w", err)
	}
	if idx.PublicKeyContentArmored, err = publicKey(signer, true); err != nil {
		return fmt.Errorf("failed to extract armored public key: %w", err)
	}
	return nil
}

// IndexFile is a generated catalog file.
type IndexFile struct {
	Name    string
	Content []byte
}

// Files returns the generated files. Packages is always listed, even when
// empty; the signature and keys only when a signing key was used.
func (idx *PackageIndex) Files() []IndexFile {
	files := []IndexFile{{"Packages", idx.PackagesContent}}
	for _, f := range []IndexFile{
		{"Packages.gz", idx.PackagesGzContent},
		{"Release", idx.ReleaseContent},
		{"InRelease", idx.InReleaseContent},
		{"public.gpg", idx.PublicKeyContent},
		{"public.asc", idx.PublicKeyContentArmored},
	} {
		if len(f.Content) > 0 {
			files = append(files, f)
		}
	}
	return files
}

// signatureFiles are written only by signed runs.
var signatureFiles = []string{"InRelease", "public.gpg", "public.asc"}

// SaveTo writes the generated index files (Packages, Release, etc.) to a
// local directory, creating it if needed. Signature and key files that were
// not generated are removed: left over from an earlier signed run, they
// would sign stale hashes.
func (idx *PackageIndex) SaveTo(outputDir string) error {
	if len(idx.ReleaseContent) == 0 {
		return fmt.Errorf("indices not computed")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", outputDir, err)
	}
	written := make(map[string]bool)
	for _, f := range idx.Files() {
		if err := os.WriteFile(filepath.Join(outputDir, f.Name), f.Content, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Name, err)
		}
		written[f.Name] = true
	}
	for _, name := range signatureFiles {
		if written[name] {
			continue
		}
		if err := os.Remove(filepath.Join(outputDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale %s: %w", name, err)
		}
	}
	return nil
}

// readSigner returns the first entity of an armored key ring holding a private key.
func readSigner(key string) (*openpgp.Entity, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(key))
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		if e.PrivateKey != nil {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no private key found")
}

func signBytes(input []byte, signer *openpgp.Entity) ([]byte, error) {
	var out bytes.Buffer
	w, err := clearsign.Encode(&out, signer.PrivateKey, nil)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(input); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func publicKey(signer *openpgp.Entity, armored bool) ([]byte, error) {
	var buf bytes.Buffer
	if !armored {
		if err := signer.Serialize(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := signer.Serialize(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
