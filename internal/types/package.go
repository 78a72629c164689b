package types

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	packageurl "github.com/package-url/packageurl-go"

	"package-mirror/internal/versioning"
)

// AnyFramework is the target framework used for dependency groups that do
// not declare one.
const AnyFramework = "any"

// PackageIdentity names a package, optionally pinned to one version. A nil
// Version means "any version of this package".
type PackageIdentity struct {
	ID      string
	Version *versioning.Version
}

func NewIdentity(id string, version versioning.Version) PackageIdentity {
	return PackageIdentity{ID: id, Version: &version}
}

func (p PackageIdentity) HasVersion() bool { return p.Version != nil }

// Key is a case-insensitive lookup key that ignores build metadata.
func (p PackageIdentity) Key() string {
	id := strings.ToLower(p.ID)
	if p.Version == nil {
		return id
	}
	return id + "@" + strings.ToLower(p.Version.Normalized())
}

func (p PackageIdentity) Equal(other PackageIdentity) bool {
	return p.Key() == other.Key()
}

func (p PackageIdentity) String() string {
	if p.Version == nil {
		return p.ID
	}
	return p.ID + " " + p.Version.Full()
}

// PURL renders the identity as a package URL, e.g. pkg:nuget/Newtonsoft.Json@13.0.1.
func (p PackageIdentity) PURL() string {
	version := ""
	if p.Version != nil {
		version = p.Version.Normalized()
	}
	return packageurl.NewPackageURL(packageurl.TypeNuget, "", p.ID, version, nil, "").ToString()
}

// CompareIdentities orders by id (case-insensitive) and then by version,
// with unversioned identities first.
func CompareIdentities(a, b PackageIdentity) int {
	if c := strings.Compare(strings.ToLower(a.ID), strings.ToLower(b.ID)); c != 0 {
		return c
	}
	switch {
	case a.Version == nil && b.Version == nil:
		return 0
	case a.Version == nil:
		return -1
	case b.Version == nil:
		return 1
	}
	return versioning.Compare(*a.Version, *b.Version)
}

// ParsePackageReference accepts "Id", "Id@1.0.0" or "pkg:nuget/Id@1.0.0".
func ParsePackageReference(value string) (PackageIdentity, error) {
	text := strings.TrimSpace(value)
	if text == "" {
		return PackageIdentity{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("package id is required")
	}
	id, version := text, ""
	if strings.HasPrefix(text, "pkg:") {
		purl, err := packageurl.FromString(text)
		if err != nil {
			return PackageIdentity{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid package url %q", text)).
				WithCause(err)
		}
		if purl.Type != packageurl.TypeNuget {
			return PackageIdentity{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("unsupported package url type %q", purl.Type))
		}
		id, version = purl.Name, purl.Version
	} else if idx := strings.LastIndexByte(text, '@'); idx > 0 {
		id, version = text[:idx], text[idx+1:]
	}
	if strings.ContainsAny(id, `/\ `) || id == "" {
		return PackageIdentity{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid package id %q", id))
	}
	if version == "" {
		return PackageIdentity{ID: id}, nil
	}
	parsed, err := versioning.Parse(version)
	if err != nil {
		return PackageIdentity{}, err
	}
	return NewIdentity(id, parsed), nil
}

// PackageSearchMetadata describes one package version as reported by a feed.
type PackageSearchMetadata struct {
	Identity    PackageIdentity
	Title       string
	Summary     string
	Description string
	Authors     string
	Listed      bool
	Published   time.Time
}

// PackageDependency is one declared dependency edge target.
type PackageDependency struct {
	ID    string
	Range versioning.Range
}

// DependencyGroup holds the dependencies declared for one target framework.
type DependencyGroup struct {
	TargetFramework string
	Packages        []PackageDependency
}

// DependencyInfo is the full dependency declaration of one package version.
type DependencyInfo struct {
	Identity PackageIdentity
	Groups   []DependencyGroup
}

// Frameworks lists the declared target frameworks, defaulting to AnyFramework.
func (d DependencyInfo) Frameworks() []string {
	out := []string{}
	for _, group := range d.Groups {
		framework := NormalizeFramework(group.TargetFramework)
		if !slices.Contains(out, framework) {
			out = append(out, framework)
		}
	}
	if len(out) == 0 {
		out = append(out, AnyFramework)
	}
	return out
}

// GroupFor returns the group for framework, falling back to the nearest
// compatible framework group and then to the framework-agnostic group.
func (d DependencyInfo) GroupFor(framework string) (DependencyGroup, bool) {
	want := NormalizeFramework(framework)
	var fallback *DependencyGroup
	for i := range d.Groups {
		current := NormalizeFramework(d.Groups[i].TargetFramework)
		if current == want {
			return d.Groups[i], true
		}
		if current == AnyFramework && fallback == nil {
			fallback = &d.Groups[i]
		}
	}
	if i := nearestGroup(d.Groups, want); i >= 0 {
		return d.Groups[i], true
	}
	if fallback != nil {
		return *fallback, true
	}
	return DependencyGroup{}, false
}

func NormalizeFramework(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return AnyFramework
	}
	return trimmed
}

// SourcePackageDependencyInfo is a one-hop dependency resolution result for
// a single identity and framework.
type SourcePackageDependencyInfo struct {
	Identity     PackageIdentity
	Framework    string
	Dependencies []PackageDependency
	Listed       bool
	Source       string
}

// VersionResult reports the outcome of an operation on one version of a
// package.
type VersionResult struct {
	Version versioning.Version
	Success bool
	Err     error
}

// OfflinePackageMetadata is one record of the exported offline manifest.
type OfflinePackageMetadata struct {
	ID          string               `json:"id" yaml:"id"`
	Versions    []versioning.Version `json:"versions" yaml:"versions"`
	Title       string               `json:"title,omitempty" yaml:"title,omitempty"`
	Summary     string               `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
}

// StagedFile is a fully written file inside a staging area.
type StagedFile struct {
	Path string
	Name string
	Size int64
}
