package adapters

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"package-mirror/internal/shared"
	"package-mirror/internal/types"
	"package-mirror/internal/versioning"
)

// localDirectory is a filesystem feed laid out as
// {id}/{version}/{id}.{version}.nupkg with lower-cased names. Read-only
// directories may also hold flat *.nupkg files at the top level.
type localDirectory struct {
	root     string
	writable bool
	flat     lazy[map[string][]flatEntry]
}

type flatEntry struct {
	path     string
	manifest packageManifest
}

func newLocalDirectory(root string, writable bool) *localDirectory {
	return &localDirectory{root: root, writable: writable}
}

func (d *localDirectory) packageDir(id string) string {
	return filepath.Join(d.root, shared.NormalizeID(id))
}

func (d *localDirectory) versionDir(identity types.PackageIdentity) string {
	return filepath.Join(d.packageDir(identity.ID), strings.ToLower(identity.Version.Normalized()))
}

func (d *localDirectory) nupkgPath(identity types.PackageIdentity) string {
	id := shared.NormalizeID(identity.ID)
	version := strings.ToLower(identity.Version.Normalized())
	return filepath.Join(d.versionDir(identity), id+"."+version+".nupkg")
}

func (d *localDirectory) nuspecPath(identity types.PackageIdentity) string {
	return filepath.Join(d.versionDir(identity), shared.NormalizeID(identity.ID)+".nuspec")
}

func (d *localDirectory) hashPath(identity types.PackageIdentity) string {
	return d.nupkgPath(identity) + ".sha512"
}

// flatIndex scans top-level *.nupkg files once. Writable feeds never use the
// flat layout.
func (d *localDirectory) flatIndex(ctx context.Context) (map[string][]flatEntry, error) {
	if d.writable {
		return map[string][]flatEntry{}, nil
	}
	return d.flat.get(ctx, func(ctx context.Context) (map[string][]flatEntry, error) {
		index := map[string][]flatEntry{}
		entries, err := os.ReadDir(d.root)
		if err != nil {
			if os.IsNotExist(err) {
				return index, nil
			}
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to read feed directory").
				WithCause(err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".nupkg") {
				continue
			}
			path := filepath.Join(d.root, entry.Name())
			manifest, err := readNupkgManifest(path)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("skipping unreadable package")
				continue
			}
			key := shared.NormalizeID(manifest.Identity().ID)
			index[key] = append(index[key], flatEntry{path: path, manifest: manifest})
		}
		return index, nil
	})
}

func (d *localDirectory) flatLookup(ctx context.Context, identity types.PackageIdentity) (*flatEntry, error) {
	index, err := d.flatIndex(ctx)
	if err != nil {
		return nil, err
	}
	for i, entry := range index[shared.NormalizeID(identity.ID)] {
		if versioning.Equal(*entry.manifest.Identity().Version, *identity.Version) {
			return &index[shared.NormalizeID(identity.ID)][i], nil
		}
	}
	return nil, nil
}

func (d *localDirectory) listVersions(ctx context.Context, id string) ([]versioning.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	versions := []versioning.Version{}
	entries, err := os.ReadDir(d.packageDir(id))
	if err != nil && !os.IsNotExist(err) {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read package directory").
			WithCause(err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		v, err := versioning.Parse(entry.Name())
		if err != nil {
			continue
		}
		if _, err := os.Stat(d.nupkgPath(types.NewIdentity(id, v))); err != nil {
			continue
		}
		versions = append(versions, v)
	}
	index, err := d.flatIndex(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range index[shared.NormalizeID(id)] {
		versions = append(versions, *entry.manifest.Identity().Version)
	}
	versions = versioning.Distinct(versions)
	versioning.Sort(versions)
	return versions, nil
}

func (d *localDirectory) copyContent(ctx context.Context, identity types.PackageIdentity, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := d.nupkgPath(identity)
	if _, err := os.Stat(path); err != nil {
		entry, ferr := d.flatLookup(ctx, identity)
		if ferr != nil {
			return ferr
		}
		if entry == nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg(fmt.Sprintf("package %s not found", identity))
		}
		path = entry.path
	}
	file, err := os.Open(path)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to open package").
			WithCause(err)
	}
	defer file.Close()
	if _, err := io.Copy(w, file); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to copy package content").
			WithCause(err)
	}
	return nil
}

func (d *localDirectory) manifest(ctx context.Context, identity types.PackageIdentity) (*packageManifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(d.nuspecPath(identity)); err == nil {
		m, err := parseNuspec(data)
		if err != nil {
			return nil, err
		}
		return &m, nil
	}
	if _, err := os.Stat(d.nupkgPath(identity)); err == nil {
		m, err := readNupkgManifest(d.nupkgPath(identity))
		if err != nil {
			return nil, err
		}
		return &m, nil
	}
	entry, err := d.flatLookup(ctx, identity)
	if err != nil || entry == nil {
		return nil, err
	}
	m := entry.manifest
	return &m, nil
}

func (d *localDirectory) manifests(ctx context.Context, id string) ([]packageManifest, error) {
	versions, err := d.listVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]packageManifest, 0, len(versions))
	for _, v := range versions {
		m, err := d.manifest(ctx, types.NewIdentity(id, v))
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// ids lists package ids present in the hierarchical layout and the flat
// index, sorted.
func (d *localDirectory) ids(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	entries, err := os.ReadDir(d.root)
	if err != nil && !os.IsNotExist(err) {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read feed directory").
			WithCause(err)
	}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			seen[entry.Name()] = struct{}{}
		}
	}
	index, err := d.flatIndex(ctx)
	if err != nil {
		return nil, err
	}
	for key := range index {
		seen[key] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	slices.Sort(out)
	return out, nil
}

// search pages through every package version whose id contains query.
func (d *localDirectory) search(ctx context.Context, query string, skip int, take int, includePrerelease bool) ([]types.PackageSearchMetadata, error) {
	ids, err := d.ids(ctx)
	if err != nil {
		return nil, err
	}
	needle := shared.NormalizeID(query)
	out := []types.PackageSearchMetadata{}
	position := 0
	for _, id := range ids {
		if needle != "" && !strings.Contains(id, needle) {
			continue
		}
		manifests, err := d.manifests(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, m := range manifests {
			if !includePrerelease && m.Identity().Version.IsPrerelease() {
				continue
			}
			if position >= skip && len(out) < take {
				out = append(out, m.Metadata)
			}
			position++
			if len(out) >= take {
				return out, nil
			}
		}
	}
	return out, nil
}

// push copies a staged package into the feed. The .nupkg is renamed into
// place last so its presence marks a complete commit.
func (d *localDirectory) push(ctx context.Context, stagedPath string, skipDuplicate bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !d.writable {
		return false, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("feed is read-only")
	}
	manifest, err := readNupkgManifest(stagedPath)
	if err != nil {
		return false, err
	}
	identity := manifest.Identity()
	target := d.nupkgPath(identity)
	if _, err := os.Stat(target); err == nil {
		if skipDuplicate {
			log.Ctx(ctx).Info().Str("package", identity.String()).Msg("package already exists, skipping")
			return true, nil
		}
		return false, errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(fmt.Sprintf("package %s already exists", identity))
	}

	dir := d.versionDir(identity)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create package directory").
			WithCause(err)
	}
	tmpPackage, digest, err := copyToTemp(dir, stagedPath)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmpPackage)

	if err := writeFileAtomic(d.nuspecPath(identity), manifest.Raw); err != nil {
		return false, err
	}
	if err := writeFileAtomic(d.hashPath(identity), []byte(digest)); err != nil {
		return false, err
	}
	if err := os.Rename(tmpPackage, target); err != nil {
		return false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to commit package").
			WithCause(err)
	}
	return true, nil
}

func (d *localDirectory) remove(ctx context.Context, identity types.PackageIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.writable {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("feed is read-only")
	}
	dir := d.versionDir(identity)
	if _, err := os.Stat(dir); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("package %s not found", identity))
	}
	if err := os.RemoveAll(dir); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to delete package").
			WithCause(err)
	}
	parent := d.packageDir(identity.ID)
	if entries, err := os.ReadDir(parent); err == nil && len(entries) == 0 {
		_ = os.Remove(parent)
	}
	return nil
}

// verify recomputes the sha512 of a stored package and compares it with
// the sidecar written at commit time.
func (d *localDirectory) verify(ctx context.Context, identity types.PackageIdentity) (types.ItemResult, error) {
	if err := ctx.Err(); err != nil {
		return types.ItemResult{}, err
	}
	result := types.ItemResult{Phase: types.PhaseVerify, Identity: identity, Status: types.ItemExists}
	expected, err := os.ReadFile(d.hashPath(identity))
	if err != nil {
		result.Status = types.ItemFailed
		result.Message = "missing hash file"
		return result, nil
	}
	file, err := os.Open(d.nupkgPath(identity))
	if err != nil {
		result.Status = types.ItemFailed
		result.Message = "missing package file"
		return result, nil
	}
	defer file.Close()
	hasher := sha512.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return types.ItemResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to hash package").
			WithCause(err)
	}
	if base64.StdEncoding.EncodeToString(hasher.Sum(nil)) != strings.TrimSpace(string(expected)) {
		result.Status = types.ItemFailed
		result.Message = "hash mismatch"
	}
	return result, nil
}

func copyToTemp(dir string, source string) (string, string, error) {
	in, err := os.Open(source)
	if err != nil {
		return "", "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("failed to open staged package").
			WithCause(err)
	}
	defer in.Close()
	out, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return "", "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create temporary package file").
			WithCause(err)
	}
	hasher := sha512.New()
	if _, err := io.Copy(io.MultiWriter(out, hasher), in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to copy staged package").
			WithCause(err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to flush package file").
			WithCause(err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to close package file").
			WithCause(err)
	}
	return out.Name(), base64.StdEncoding.EncodeToString(hasher.Sum(nil)), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".write-*")
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create temporary file").
			WithCause(err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write file").
			WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to close file").
			WithCause(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to move file into place").
			WithCause(err)
	}
	return nil
}
