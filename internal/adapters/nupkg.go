package adapters

import (
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/klauspost/compress/zip"

	"package-mirror/internal/types"
	"package-mirror/internal/versioning"
)

const maxNuspecSize = 4 << 20

type nuspecDocument struct {
	Metadata nuspecMetadata `xml:"metadata"`
}

type nuspecMetadata struct {
	ID           string             `xml:"id"`
	Version      string             `xml:"version"`
	Title        string             `xml:"title"`
	Authors      string             `xml:"authors"`
	Summary      string             `xml:"summary"`
	Description  string             `xml:"description"`
	Dependencies nuspecDependencies `xml:"dependencies"`
}

type nuspecDependencies struct {
	Groups []nuspecGroup      `xml:"group"`
	Flat   []nuspecDependency `xml:"dependency"`
}

type nuspecGroup struct {
	TargetFramework string             `xml:"targetFramework,attr"`
	Dependencies    []nuspecDependency `xml:"dependency"`
}

type nuspecDependency struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

// packageManifest is the parsed content of a .nuspec file.
type packageManifest struct {
	Metadata types.PackageSearchMetadata
	Groups   []types.DependencyGroup
	Raw      []byte
}

func (m packageManifest) Identity() types.PackageIdentity { return m.Metadata.Identity }

func (m packageManifest) DependencyInfo() *types.DependencyInfo {
	return &types.DependencyInfo{Identity: m.Metadata.Identity, Groups: m.Groups}
}

// readNupkgManifest extracts and parses the .nuspec at the root of a .nupkg.
func readNupkgManifest(nupkgPath string) (packageManifest, error) {
	archive, err := zip.OpenReader(nupkgPath)
	if err != nil {
		return packageManifest{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid package archive %s", path.Base(nupkgPath))).
			WithCause(err)
	}
	defer archive.Close()

	for _, file := range archive.File {
		if strings.Contains(file.Name, "/") || !strings.EqualFold(path.Ext(file.Name), ".nuspec") {
			continue
		}
		reader, err := file.Open()
		if err != nil {
			return packageManifest{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to open nuspec").
				WithCause(err)
		}
		data, err := io.ReadAll(io.LimitReader(reader, maxNuspecSize))
		reader.Close()
		if err != nil {
			return packageManifest{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read nuspec").
				WithCause(err)
		}
		return parseNuspec(data)
	}
	return packageManifest{}, errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("package archive %s has no nuspec", path.Base(nupkgPath)))
}

func parseNuspec(data []byte) (packageManifest, error) {
	var doc nuspecDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return packageManifest{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid nuspec").
			WithCause(err)
	}
	meta := doc.Metadata
	id := strings.TrimSpace(meta.ID)
	if id == "" {
		return packageManifest{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("nuspec is missing an id")
	}
	version, err := versioning.Parse(meta.Version)
	if err != nil {
		return packageManifest{}, err
	}

	groups := []types.DependencyGroup{}
	if len(meta.Dependencies.Flat) > 0 {
		packages, err := convertNuspecDependencies(meta.Dependencies.Flat)
		if err != nil {
			return packageManifest{}, err
		}
		groups = append(groups, types.DependencyGroup{Packages: packages})
	}
	for _, group := range meta.Dependencies.Groups {
		packages, err := convertNuspecDependencies(group.Dependencies)
		if err != nil {
			return packageManifest{}, err
		}
		groups = append(groups, types.DependencyGroup{
			TargetFramework: strings.TrimSpace(group.TargetFramework),
			Packages:        packages,
		})
	}

	return packageManifest{
		Metadata: types.PackageSearchMetadata{
			Identity:    types.NewIdentity(id, version),
			Title:       strings.TrimSpace(meta.Title),
			Summary:     strings.TrimSpace(meta.Summary),
			Description: strings.TrimSpace(meta.Description),
			Authors:     strings.TrimSpace(meta.Authors),
			Listed:      true,
		},
		Groups: groups,
		Raw:    data,
	}, nil
}

func convertNuspecDependencies(deps []nuspecDependency) ([]types.PackageDependency, error) {
	out := make([]types.PackageDependency, 0, len(deps))
	for _, dep := range deps {
		id := strings.TrimSpace(dep.ID)
		if id == "" {
			continue
		}
		r, err := versioning.ParseRange(dep.Version)
		if err != nil {
			return nil, err
		}
		out = append(out, types.PackageDependency{ID: id, Range: r})
	}
	return out, nil
}
