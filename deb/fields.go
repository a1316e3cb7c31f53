package deb

import (
	"sort"
	"strings"
)

// OutputKey names a value in the normalized metadata returned by MapFields.
type OutputKey string

const (
	KeyPkgName     OutputKey = "pkgname"
	KeyPkgVer      OutputKey = "pkgver"
	KeyPkgDesc     OutputKey = "pkgdesc"
	KeyArch        OutputKey = "arch"
	KeyURL         OutputKey = "url"
	KeyMakeDepends OutputKey = "makedepends"
	KeyDepends     OutputKey = "depends"
	KeyOptDepends  OutputKey = "optdepends"
	KeyConflicts   OutputKey = "conflicts"
	KeyProvides    OutputKey = "provides"
	KeyReplaces    OutputKey = "replaces"
)

// FieldMapping maps a control field to an output key. An empty Key drops the field.
type FieldMapping struct {
	Field ControlField
	Key   OutputKey
}

// DefaultFieldTable is the standard mapping of control fields to output keys.
// Order matters: Suggests comes after Recommends, so a package declaring both
// reports its Suggests as optdepends.
var DefaultFieldTable = []FieldMapping{
	{FieldPackage, KeyPkgName},
	{FieldVersion, KeyPkgVer},
	{FieldArchitecture, KeyArch},
	{FieldMaintainer, ""},
	{FieldInstalledSize, ""},
	{FieldPreDepends, KeyMakeDepends},
	{FieldDepends, KeyDepends},
	{FieldRecommends, KeyOptDepends},
	{FieldSuggests, KeyOptDepends},
	{FieldConflicts, KeyConflicts},
	{FieldReplaces, KeyReplaces},
	{FieldProvides, KeyProvides},
	{FieldHomepage, KeyURL},
	{FieldDescription, KeyPkgDesc},
	{FieldSource, ""},
	{FieldEssential, ""},
	{FieldBuiltUsing, ""},
}

// Fields is normalized package metadata.
type Fields map[OutputKey]string

// Keys returns the keys of f in lexical order.
func (f Fields) Keys() []OutputKey {
	keys := make([]OutputKey, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// MapFields maps the fields of an unfolded control file through table.
// Fields absent from the table are ignored. When several table entries
// write the same key, the last one present in the control file wins.
func MapFields(control string, table []FieldMapping) Fields {
	parsed := ParseControl(control)
	fields := make(Fields)
	for _, m := range table {
		if m.Key == "" {
			continue
		}
		if v, ok := parsed[m.Field]; ok {
			fields[m.Key] = v
		}
	}
	return fields
}

// ParseControl splits an unfolded control file into fields. Each line is cut
// at its first ": "; lines without a key are skipped and a repeated field
// keeps its last value.
func ParseControl(control string) map[ControlField]string {
	parsed := make(map[ControlField]string)
	for _, line := range strings.Split(control, "\n") {
		line = strings.TrimSuffix(line, "\r")
		key, value, _ := strings.Cut(line, ": ")
		if key == "" {
			continue
		}
		parsed[ControlField(key)] = value
	}
	return parsed
}
