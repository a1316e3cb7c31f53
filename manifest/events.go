package manifest

import (
	"encoding/json"
	"fmt"
)

// Listener is a callback function that receives events during the build process.
type Listener func(fmt.Stringer)

func jsonString(v interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{
		fmt.Sprintf("%T", v): v,
	})
	return string(b)
}

// EventCatalogLoadSuccess is emitted when the manifest is loaded and its sources resolved.
type EventCatalogLoadSuccess struct {
	Path    string `json:"path,omitempty"`
	Sources int    `json:"sources"`
}

func (e EventCatalogLoadSuccess) String() string { return jsonString(e) }

// EventGitHubScanFailure is emitted when the releases of a GitHub repository cannot be listed.
type EventGitHubScanFailure struct {
	Error string `json:"error,omitempty"`
}

func (e EventGitHubScanFailure) String() string { return jsonString(e) }

// EventPackageProbeSuccess is emitted for every package read into the catalog.
type EventPackageProbeSuccess struct {
	URL          string `json:"url,omitempty"`
	Package      string `json:"package,omitempty"`
	Version      string `json:"version,omitempty"`
	Architecture string `json:"architecture,omitempty"`
}

func (e EventPackageProbeSuccess) String() string { return jsonString(e) }

// EventPackageProbeFailure is emitted for every source left out of the catalog.
type EventPackageProbeFailure struct {
	URL   string `json:"url,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

func (e EventPackageProbeFailure) String() string { return jsonString(e) }

// EventFileOperation is emitted when a file is written or skipped during catalog generation.
type EventFileOperation struct {
	Path      string `json:"path,omitempty"`
	OldDigest string `json:"old_digest,omitempty"`
	NewDigest string `json:"new_digest,omitempty"`
	Created   bool   `json:"created,omitempty"`
	Updated   bool   `json:"updated,omitempty"`
}

func (e EventFileOperation) String() string { return jsonString(e) }

// EventCatalogSaveSuccess is emitted when the catalog is successfully saved.
type EventCatalogSaveSuccess struct {
	Path     string `json:"path,omitempty"`
	Packages int    `json:"packages"`
}

func (e EventCatalogSaveSuccess) String() string { return jsonString(e) }
