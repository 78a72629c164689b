// Package testutil provides shared test helpers used across integration,
// e2e, and unit test packages.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// RepoRoot returns the absolute path to the repository root by walking
// up from the current working directory. It fails the test if the
// working directory cannot be determined.
func RepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(dir, "..", ".."))
}

// Dependency is one dependency declared by a fixture package. An empty
// Framework puts it in the framework-neutral group.
type Dependency struct {
	Framework string
	ID        string
	Range     string
}

// Package describes a fixture .nupkg.
type Package struct {
	ID           string
	Version      string
	Title        string
	Description  string
	Dependencies []Dependency
}

// FileName is the canonical lower-cased file name of the package.
func (p Package) FileName() string {
	return strings.ToLower(p.ID) + "." + strings.ToLower(p.Version) + ".nupkg"
}

// Nuspec renders the package manifest XML.
func (p Package) Nuspec() string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString(`<package xmlns="http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd">` + "\n")
	b.WriteString("  <metadata>\n")
	fmt.Fprintf(&b, "    <id>%s</id>\n", p.ID)
	fmt.Fprintf(&b, "    <version>%s</version>\n", p.Version)
	if p.Title != "" {
		fmt.Fprintf(&b, "    <title>%s</title>\n", p.Title)
	}
	b.WriteString("    <authors>fixtures</authors>\n")
	description := p.Description
	if description == "" {
		description = p.ID + " fixture"
	}
	fmt.Fprintf(&b, "    <description>%s</description>\n", description)
	if len(p.Dependencies) > 0 {
		groups := map[string][]Dependency{}
		order := []string{}
		for _, dep := range p.Dependencies {
			if _, ok := groups[dep.Framework]; !ok {
				order = append(order, dep.Framework)
			}
			groups[dep.Framework] = append(groups[dep.Framework], dep)
		}
		b.WriteString("    <dependencies>\n")
		for _, framework := range order {
			if framework == "" {
				b.WriteString("      <group>\n")
			} else {
				fmt.Fprintf(&b, "      <group targetFramework=%q>\n", framework)
			}
			for _, dep := range groups[framework] {
				fmt.Fprintf(&b, "        <dependency id=%q version=%q />\n", dep.ID, dep.Range)
			}
			b.WriteString("      </group>\n")
		}
		b.WriteString("    </dependencies>\n")
	}
	b.WriteString("  </metadata>\n")
	b.WriteString("</package>\n")
	return b.String()
}

// NupkgBytes builds an in-memory .nupkg archive for p.
func NupkgBytes(t *testing.T, p Package) []byte {
	t.Helper()
	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)
	spec, err := archive.Create(strings.ToLower(p.ID) + ".nuspec")
	require.NoError(t, err)
	_, err = spec.Write([]byte(p.Nuspec()))
	require.NoError(t, err)
	content, err := archive.Create("lib/netstandard2.0/" + p.ID + ".txt")
	require.NoError(t, err)
	_, err = content.Write([]byte(p.ID + " " + p.Version))
	require.NoError(t, err)
	require.NoError(t, archive.Close())
	return buf.Bytes()
}

// WriteNupkg writes the archive for p into dir and returns its path.
func WriteNupkg(t *testing.T, dir string, p Package) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, p.FileName())
	require.NoError(t, os.WriteFile(path, NupkgBytes(t, p), 0644))
	return path
}
