package deb

// ControlField represents a standard field in a Debian control file.
type ControlField string

const (
	FieldPackage       ControlField = "Package"
	FieldVersion       ControlField = "Version"
	FieldArchitecture  ControlField = "Architecture"
	FieldMaintainer    ControlField = "Maintainer"
	FieldInstalledSize ControlField = "Installed-Size"
	FieldPreDepends    ControlField = "Pre-Depends"
	FieldDepends       ControlField = "Depends"
	FieldRecommends    ControlField = "Recommends"
	FieldSuggests      ControlField = "Suggests"
	FieldConflicts     ControlField = "Conflicts"
	FieldReplaces      ControlField = "Replaces"
	FieldProvides      ControlField = "Provides"
	FieldHomepage      ControlField = "Homepage"
	FieldDescription   ControlField = "Description"
	FieldSource        ControlField = "Source"
	FieldEssential     ControlField = "Essential"
	FieldBuiltUsing    ControlField = "Built-Using"
)

// ControlFile represents a standard file found in the control archive.
type ControlFile string

const (
	FileControl ControlFile = "control"
)

// PackageFile represents a standard member of the .deb archive (ar format).
type PackageFile string

const (
	PkgDebianBinary PackageFile = "debian-binary"
	PkgControlTarGz PackageFile = "control.tar.gz"
)

// Fixed layout of the start of a .deb archive. The first two ar members are
// always debian-binary (4 bytes of data, "2.0\n") and the control archive,
// so the header of the control member ends at byte 132.
const (
	// ArMagic is the ar global header.
	ArMagic = "!<arch>\n"

	// DebMarker is the end of the debian-binary member: the ar header
	// terminator followed by the format version data.
	DebMarker = "`\n2.0\n"

	// WindowSize is the number of leading bytes needed to locate the control member.
	WindowSize = 132

	arMagicEnd       = 8
	debMemberEnd     = 72
	arHeaderSize     = 60
	arHeaderEndToken = "`"
)
