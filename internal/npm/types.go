package npm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Registry serves package metadata and tarballs. Implementations must
// be safe for concurrent use; the installer downloads in parallel.
type Registry interface {
	Metadata(ctx context.Context, name string) (*PackageMetadata, error)
	Download(ctx context.Context, tarballURL string) ([]byte, error)
}

// Transformer lowers ESM source to CommonJS during extraction.
type Transformer interface {
	Transform(code, filename string) (string, error)
}

// PackageMetadata is the registry document for one package: every
// published version plus dist-tags.
type PackageMetadata struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]VersionMetadata `json:"versions"`
}

// VersionMetadata describes one published version.
type VersionMetadata struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Main         string            `json:"main"`
	Dependencies map[string]string `json:"dependencies"`
	Dist         DistInfo          `json:"dist"`
	// Bin is either a string (single command named after the package)
	// or an object mapping command names to scripts.
	Bin json.RawMessage `json:"bin"`
}

// DistInfo locates the version's tarball.
type DistInfo struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum"`
	Integrity string `json:"integrity"`
}

// BinEntries normalizes the bin field into command name -> script path.
func (v VersionMetadata) BinEntries() map[string]string {
	if len(v.Bin) == 0 {
		return nil
	}
	var single string
	if err := sonic.Unmarshal(v.Bin, &single); err == nil {
		name := v.Name
		// Scoped packages expose the unscoped command name.
		if idx := lastSlash(name); idx >= 0 {
			name = name[idx+1:]
		}
		return map[string]string{name: single}
	}
	var many map[string]string
	if err := sonic.Unmarshal(v.Bin, &many); err == nil {
		return many
	}
	return nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// InstalledPackage reports one package an install wrote or reused.
type InstalledPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Files   int    `json:"files"`
	// Reused is true when a satisfying version was already installed
	// and no files were written.
	Reused bool `json:"reused"`
}

// Phase names a stage of an install for progress reporting.
type Phase string

const (
	PhaseResolve  Phase = "resolve"
	PhaseDownload Phase = "download"
	PhaseWrite    Phase = "write"
	PhaseDone     Phase = "done"
)

// Progress is delivered to the OnProgress callback as an install
// advances. Total is the number of packages in the resolved graph once
// resolution completes, zero before.
type Progress struct {
	Phase   Phase  `json:"phase"`
	Package string `json:"package,omitempty"`
	Version string `json:"version,omitempty"`
	Total   int    `json:"total,omitempty"`
}

// InstallError reports the package that aborted an install.
type InstallError struct {
	Package string
	Range   string
	Err     error
}

func (e *InstallError) Error() string {
	if e.Range != "" {
		return fmt.Sprintf("install %s@%s: %v", e.Package, e.Range, e.Err)
	}
	return fmt.Sprintf("install %s: %v", e.Package, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }
