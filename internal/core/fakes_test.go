package core

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"package-mirror/internal/types"
	"package-mirror/internal/versioning"
)

type fakePackage struct {
	meta   types.PackageSearchMetadata
	groups []types.DependencyGroup
}

// fakeFeed is an in-memory feed. Package content is the text "id|version"
// so AddPackage can recover the identity from a staged file.
type fakeFeed struct {
	mu          sync.Mutex
	packages    map[string][]*fakePackage
	versionErr  map[string]error
	downloadErr map[string]error
	addErr      map[string]error
	emptyBody   map[string]bool
	downloads   int
	adds        []string
	deletes     []string
	events      *[]string
	name        string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		packages:    map[string][]*fakePackage{},
		versionErr:  map[string]error{},
		downloadErr: map[string]error{},
		addErr:      map[string]error{},
		emptyBody:   map[string]bool{},
	}
}

// add registers id@version. Each dep is "Id" or "Id:range"; deps may be
// prefixed with "framework=" to put them in a framework-specific group.
func (f *fakeFeed) add(id string, version string, deps ...string) *fakeFeed {
	v := versioning.MustParse(version)
	groups := map[string]*types.DependencyGroup{}
	order := []string{}
	for _, dep := range deps {
		framework := ""
		if fw, rest, ok := strings.Cut(dep, "="); ok {
			framework, dep = fw, rest
		}
		depID, rangeText, _ := strings.Cut(dep, ":")
		r, err := versioning.ParseRange(rangeText)
		if err != nil {
			panic(err)
		}
		group, ok := groups[framework]
		if !ok {
			group = &types.DependencyGroup{TargetFramework: framework}
			groups[framework] = group
			order = append(order, framework)
		}
		group.Packages = append(group.Packages, types.PackageDependency{ID: depID, Range: r})
	}
	pkg := &fakePackage{
		meta: types.PackageSearchMetadata{
			Identity: types.NewIdentity(id, v),
			Title:    id + " title",
			Listed:   true,
		},
	}
	for _, fw := range order {
		pkg.groups = append(pkg.groups, *groups[fw])
	}
	key := strings.ToLower(id)
	f.packages[key] = append(f.packages[key], pkg)
	return f
}

func (f *fakeFeed) record(event string) {
	if f.events != nil {
		*f.events = append(*f.events, f.name+":"+event)
	}
}

func (f *fakeFeed) find(identity types.PackageIdentity) *fakePackage {
	for _, pkg := range f.packages[strings.ToLower(identity.ID)] {
		if identity.Version != nil && versioning.Equal(*pkg.meta.Identity.Version, *identity.Version) {
			return pkg
		}
	}
	return nil
}

func (f *fakeFeed) GetAllVersions(_ context.Context, id string) ([]versioning.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.versionErr[strings.ToLower(id)]; err != nil {
		return nil, err
	}
	out := []versioning.Version{}
	for _, pkg := range f.packages[strings.ToLower(id)] {
		out = append(out, *pkg.meta.Identity.Version)
	}
	return out, nil
}

func (f *fakeFeed) GetDependencyInfo(_ context.Context, identity types.PackageIdentity) (*types.DependencyInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pkg := f.find(identity)
	if pkg == nil {
		return nil, nil
	}
	return &types.DependencyInfo{Identity: pkg.meta.Identity, Groups: pkg.groups}, nil
}

func (f *fakeFeed) ResolveDependencyClosureStep(ctx context.Context, identity types.PackageIdentity, framework string) (*types.SourcePackageDependencyInfo, error) {
	info, err := f.GetDependencyInfo(ctx, identity)
	if err != nil || info == nil {
		return nil, err
	}
	group, _ := info.GroupFor(framework)
	return &types.SourcePackageDependencyInfo{
		Identity:     info.Identity,
		Framework:    framework,
		Dependencies: group.Packages,
		Listed:       true,
	}, nil
}

func (f *fakeFeed) GetMetadata(_ context.Context, id string, includePrerelease bool, _ bool) ([]types.PackageSearchMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []types.PackageSearchMetadata{}
	for _, pkg := range f.packages[strings.ToLower(id)] {
		if !includePrerelease && pkg.meta.Identity.Version.IsPrerelease() {
			continue
		}
		out = append(out, pkg.meta)
	}
	return out, nil
}

func (f *fakeFeed) GetVersionMetadata(_ context.Context, identity types.PackageIdentity) (*types.PackageSearchMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pkg := f.find(identity)
	if pkg == nil {
		return nil, nil
	}
	meta := pkg.meta
	return &meta, nil
}

func (f *fakeFeed) CopyContentToStream(_ context.Context, identity types.PackageIdentity, destination io.Writer) error {
	f.mu.Lock()
	f.downloads++
	pkg := f.find(identity)
	err := f.downloadErr[identity.Key()]
	empty := f.emptyBody[identity.Key()]
	f.mu.Unlock()
	f.record("download " + identity.String())
	if err != nil {
		return err
	}
	if pkg == nil {
		return errbuilder.New().WithCode(errbuilder.CodeNotFound).WithMsg("package not found")
	}
	if empty {
		return nil
	}
	_, werr := fmt.Fprintf(destination, "%s|%s", pkg.meta.Identity.ID, pkg.meta.Identity.Version.Full())
	return werr
}

func (f *fakeFeed) DoesExist(_ context.Context, identity types.PackageIdentity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(identity) != nil, nil
}

func (f *fakeFeed) AddPackage(_ context.Context, stagedPath string, skipDuplicate bool) (bool, error) {
	data, err := os.ReadFile(stagedPath)
	if err != nil {
		return false, err
	}
	id, version, ok := strings.Cut(string(data), "|")
	if !ok {
		return false, errbuilder.New().WithCode(errbuilder.CodeInvalidArgument).WithMsg("invalid package")
	}
	identity := types.NewIdentity(id, versioning.MustParse(version))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("add " + identity.String())
	if err := f.addErr[identity.Key()]; err != nil {
		return false, err
	}
	if f.find(identity) != nil {
		return skipDuplicate, nil
	}
	f.adds = append(f.adds, identity.String())
	key := strings.ToLower(id)
	f.packages[key] = append(f.packages[key], &fakePackage{meta: types.PackageSearchMetadata{Identity: identity, Listed: true}})
	return true, nil
}

func (f *fakeFeed) DeletePackage(_ context.Context, id string) iter.Seq2[types.VersionResult, error] {
	return func(yield func(types.VersionResult, error) bool) {
		f.mu.Lock()
		key := strings.ToLower(id)
		pkgs := f.packages[key]
		delete(f.packages, key)
		f.mu.Unlock()
		for _, pkg := range pkgs {
			f.record("delete " + pkg.meta.Identity.String())
			f.deletes = append(f.deletes, pkg.meta.Identity.String())
			if !yield(types.VersionResult{Version: *pkg.meta.Identity.Version, Success: true}, nil) {
				return
			}
		}
	}
}

func (f *fakeFeed) DeletePackages(ctx context.Context, ids []string) iter.Seq2[types.ItemResult, error] {
	return func(yield func(types.ItemResult, error) bool) {
		for _, id := range ids {
			for result, err := range f.DeletePackage(ctx, id) {
				item := types.ItemResult{
					Phase:    types.PhaseDelete,
					Identity: types.NewIdentity(id, result.Version),
					Status:   types.ItemDeleted,
				}
				if !yield(item, err) {
					return
				}
			}
		}
	}
}

func (f *fakeFeed) SearchAll(_ context.Context) iter.Seq2[types.PackageSearchMetadata, error] {
	return func(yield func(types.PackageSearchMetadata, error) bool) {
		f.mu.Lock()
		keys := make([]string, 0, len(f.packages))
		for key := range f.packages {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		items := []types.PackageSearchMetadata{}
		for _, key := range keys {
			for _, pkg := range f.packages[key] {
				items = append(items, pkg.meta)
			}
		}
		f.mu.Unlock()
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (f *fakeFeed) Verify(ctx context.Context) iter.Seq2[types.ItemResult, error] {
	return func(yield func(types.ItemResult, error) bool) {
		for meta, err := range f.SearchAll(ctx) {
			if !yield(types.ItemResult{Phase: types.PhaseVerify, Identity: meta.Identity, Status: types.ItemExists}, err) {
				return
			}
		}
	}
}

// memoryStaging writes staged files under a temp dir and remembers them.
type memoryStaging struct {
	dir     string
	mu      sync.Mutex
	created []string
}

func (s *memoryStaging) CreateFile(_ context.Context, nameHint string, write func(io.Writer) error) (types.StagedFile, error) {
	s.mu.Lock()
	name := fmt.Sprintf("%03d-%s", len(s.created), nameHint)
	s.created = append(s.created, name)
	s.mu.Unlock()
	path := s.dir + string(os.PathSeparator) + name
	file, err := os.Create(path)
	if err != nil {
		return types.StagedFile{}, err
	}
	if err := write(file); err != nil {
		file.Close()
		os.Remove(path)
		return types.StagedFile{}, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return types.StagedFile{}, err
	}
	if err := file.Close(); err != nil {
		return types.StagedFile{}, err
	}
	return types.StagedFile{Path: path, Name: name, Size: info.Size()}, nil
}

func (s *memoryStaging) Discard(file types.StagedFile) error {
	return os.Remove(file.Path)
}

func identityStrings(infos []types.DependencyInfo) []string {
	out := []string{}
	for _, info := range infos {
		out = append(out, info.Identity.String())
	}
	slices.Sort(out)
	return out
}
