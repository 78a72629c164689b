package adapters

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/url"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"package-mirror/internal/ports"
	"package-mirror/internal/types"
	"package-mirror/internal/versioning"
)

const searchPageSize = 50

type versionFinder interface {
	listVersions(ctx context.Context, id string) ([]versioning.Version, error)
	copyContent(ctx context.Context, identity types.PackageIdentity, w io.Writer) error
}

type metadataResource interface {
	manifests(ctx context.Context, id string) ([]packageManifest, error)
	manifest(ctx context.Context, identity types.PackageIdentity) (*packageManifest, error)
}

type searchResource interface {
	search(ctx context.Context, query string, skip int, take int, includePrerelease bool) ([]types.PackageSearchMetadata, error)
}

// FeedSession is a connection to one feed. Protocol resources are resolved
// lazily on first use and shared by concurrent callers.
type FeedSession struct {
	Location   SourceLocation
	IsUpstream bool

	client    *HTTPClient
	directory *localDirectory
	index     lazy[*serviceIndex]
	finder    lazy[versionFinder]
	metadata  lazy[metadataResource]
	searcher  lazy[searchResource]
}

var _ ports.FeedReader = (*FeedSession)(nil)

// NewFeedSession opens a session. Remote locations require client; local
// directories are writable only when isUpstream is false.
func NewFeedSession(location SourceLocation, isUpstream bool, client *HTTPClient) *FeedSession {
	session := &FeedSession{Location: location, IsUpstream: isUpstream, client: client}
	if !location.IsRemote() {
		session.directory = newLocalDirectory(location.Path, !isUpstream)
	}
	return session
}

// Local returns the writable view of a local session.
func (s *FeedSession) Local() (*LocalFeedSession, error) {
	if s.IsUpstream || s.directory == nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("feed %s is not a writable local feed", s.Location))
	}
	return &LocalFeedSession{FeedSession: s}, nil
}

// Open loads the service index of a remote feed so an unreachable location
// fails before any package is resolved. Directory feeds need no handshake.
func (s *FeedSession) Open(ctx context.Context) error {
	if s.directory != nil {
		return nil
	}
	_, err := s.serviceIndex(ctx)
	return err
}

func (s *FeedSession) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *FeedSession) serviceIndex(ctx context.Context) (*serviceIndex, error) {
	return s.index.get(ctx, func(ctx context.Context) (*serviceIndex, error) {
		log.Ctx(ctx).Debug().Str("feed", s.Location.String()).Msg("loading service index")
		return fetchServiceIndex(ctx, s.client, s.Location.URL)
	})
}

func (s *FeedSession) resource(ctx context.Context, kind string, preferred []string) (*url.URL, error) {
	index, err := s.serviceIndex(ctx)
	if err != nil {
		return nil, err
	}
	base, ok := index.find(preferred...)
	if !ok {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("feed %s does not provide %s", s.Location, kind))
	}
	return base, nil
}

func (s *FeedSession) versionFinder(ctx context.Context) (versionFinder, error) {
	return s.finder.get(ctx, func(ctx context.Context) (versionFinder, error) {
		if s.directory != nil {
			return s.directory, nil
		}
		base, err := s.resource(ctx, "a package content resource", packageBaseAddressTypes)
		if err != nil {
			return nil, err
		}
		return remoteFlatContainer{client: s.client, base: base}, nil
	})
}

func (s *FeedSession) metadataResource(ctx context.Context) (metadataResource, error) {
	return s.metadata.get(ctx, func(ctx context.Context) (metadataResource, error) {
		if s.directory != nil {
			return s.directory, nil
		}
		base, err := s.resource(ctx, "a registration resource", registrationTypes)
		if err != nil {
			return nil, err
		}
		return newRemoteRegistrations(s.client, base), nil
	})
}

func (s *FeedSession) searchResource(ctx context.Context) (searchResource, error) {
	return s.searcher.get(ctx, func(ctx context.Context) (searchResource, error) {
		if s.directory != nil {
			return s.directory, nil
		}
		base, err := s.resource(ctx, "a search resource", searchTypes)
		if err != nil {
			return nil, err
		}
		return remoteSearch{client: s.client, base: base}, nil
	})
}

func (s *FeedSession) GetAllVersions(ctx context.Context, id string) ([]versioning.Version, error) {
	finder, err := s.versionFinder(ctx)
	if err != nil {
		return nil, err
	}
	return finder.listVersions(ctx, id)
}

func (s *FeedSession) GetMetadata(ctx context.Context, id string, includePrerelease bool, includeUnlisted bool) ([]types.PackageSearchMetadata, error) {
	resource, err := s.metadataResource(ctx)
	if err != nil {
		return nil, err
	}
	manifests, err := resource.manifests(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]types.PackageSearchMetadata, 0, len(manifests))
	for _, m := range manifests {
		if !includePrerelease && m.Identity().Version.IsPrerelease() {
			continue
		}
		if !includeUnlisted && !m.Metadata.Listed {
			continue
		}
		out = append(out, m.Metadata)
	}
	slices.SortStableFunc(out, func(a, b types.PackageSearchMetadata) int {
		return types.CompareIdentities(a.Identity, b.Identity)
	})
	return out, nil
}

func (s *FeedSession) GetVersionMetadata(ctx context.Context, identity types.PackageIdentity) (*types.PackageSearchMetadata, error) {
	m, err := s.manifest(ctx, identity)
	if err != nil || m == nil {
		return nil, err
	}
	meta := m.Metadata
	return &meta, nil
}

func (s *FeedSession) GetDependencyInfo(ctx context.Context, identity types.PackageIdentity) (*types.DependencyInfo, error) {
	m, err := s.manifest(ctx, identity)
	if err != nil || m == nil {
		return nil, err
	}
	return m.DependencyInfo(), nil
}

// ResolveDependencyClosureStep returns the dependencies identity declares for
// framework, falling back to the nearest compatible group and then to its
// framework-neutral group. A version the feed does not have yields nil.
func (s *FeedSession) ResolveDependencyClosureStep(ctx context.Context, identity types.PackageIdentity, framework string) (*types.SourcePackageDependencyInfo, error) {
	m, err := s.manifest(ctx, identity)
	if err != nil || m == nil {
		return nil, err
	}
	info := m.DependencyInfo()
	step := &types.SourcePackageDependencyInfo{
		Identity:     m.Identity(),
		Framework:    types.NormalizeFramework(framework),
		Dependencies: []types.PackageDependency{},
		Listed:       m.Metadata.Listed,
		Source:       s.Location.String(),
	}
	if group, ok := info.GroupFor(framework); ok {
		step.Dependencies = append(step.Dependencies, group.Packages...)
	}
	return step, nil
}

func (s *FeedSession) CopyContentToStream(ctx context.Context, identity types.PackageIdentity, destination io.Writer) error {
	if !identity.HasVersion() {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("package %s has no version", identity.ID))
	}
	finder, err := s.versionFinder(ctx)
	if err != nil {
		return err
	}
	return finder.copyContent(ctx, identity, destination)
}

func (s *FeedSession) DoesExist(ctx context.Context, identity types.PackageIdentity) (bool, error) {
	if !identity.HasVersion() {
		return false, nil
	}
	versions, err := s.GetAllVersions(ctx, identity.ID)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(versions, func(v versioning.Version) bool {
		return versioning.Equal(v, *identity.Version)
	}), nil
}

// Search returns one page of search results.
func (s *FeedSession) Search(ctx context.Context, query string, skip int, take int, includePrerelease bool) ([]types.PackageSearchMetadata, error) {
	resource, err := s.searchResource(ctx)
	if err != nil {
		return nil, err
	}
	return resource.search(ctx, strings.TrimSpace(query), skip, take, includePrerelease)
}

func (s *FeedSession) manifest(ctx context.Context, identity types.PackageIdentity) (*packageManifest, error) {
	if !identity.HasVersion() {
		return nil, nil
	}
	resource, err := s.metadataResource(ctx)
	if err != nil {
		return nil, err
	}
	return resource.manifest(ctx, identity)
}

// LocalFeedSession adds the write operations of the local mirror feed.
type LocalFeedSession struct {
	*FeedSession
}

var _ ports.LocalFeed = (*LocalFeedSession)(nil)

func (s *LocalFeedSession) AddPackage(ctx context.Context, stagedPath string, skipDuplicate bool) (bool, error) {
	return s.directory.push(ctx, stagedPath, skipDuplicate)
}

// DeletePackage removes every stored version of id.
func (s *LocalFeedSession) DeletePackage(ctx context.Context, id string) iter.Seq2[types.VersionResult, error] {
	return func(yield func(types.VersionResult, error) bool) {
		versions, err := s.GetAllVersions(ctx, id)
		if err != nil {
			yield(types.VersionResult{}, err)
			return
		}
		for _, v := range versions {
			if err := ctx.Err(); err != nil {
				yield(types.VersionResult{Version: v}, err)
				return
			}
			err := s.directory.remove(ctx, types.NewIdentity(id, v))
			if !yield(types.VersionResult{Version: v, Success: err == nil, Err: err}, nil) {
				return
			}
		}
	}
}

func (s *LocalFeedSession) DeletePackages(ctx context.Context, ids []string) iter.Seq2[types.ItemResult, error] {
	return func(yield func(types.ItemResult, error) bool) {
		for _, id := range ids {
			found, failed := false, false
			for result, err := range s.DeletePackage(ctx, id) {
				if err != nil {
					item := types.ItemResult{Phase: types.PhaseDelete, Identity: types.PackageIdentity{ID: id}}
					if ctx.Err() != nil {
						yield(item, err)
						return
					}
					item.Status = types.ItemFailed
					item.Message = err.Error()
					if !yield(item, nil) {
						return
					}
					failed = true
					break
				}
				found = true
				item := types.ItemResult{
					Phase:    types.PhaseDelete,
					Identity: types.NewIdentity(id, result.Version),
					Status:   types.ItemDeleted,
				}
				if !result.Success {
					item.Status = types.ItemFailed
					if result.Err != nil {
						item.Message = result.Err.Error()
					}
				}
				if !yield(item, nil) {
					return
				}
			}
			if !found && !failed {
				item := types.ItemResult{
					Phase:    types.PhaseDelete,
					Identity: types.PackageIdentity{ID: id},
					Status:   types.ItemNotFound,
				}
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// SearchAll pages through the whole feed, prerelease versions included,
// until a page comes back empty. Servers may return short pages.
func (s *LocalFeedSession) SearchAll(ctx context.Context) iter.Seq2[types.PackageSearchMetadata, error] {
	return func(yield func(types.PackageSearchMetadata, error) bool) {
		for skip := 0; ; {
			page, err := s.Search(ctx, "", skip, searchPageSize, true)
			if err != nil {
				yield(types.PackageSearchMetadata{}, err)
				return
			}
			if len(page) == 0 {
				return
			}
			for _, item := range page {
				if !yield(item, nil) {
					return
				}
			}
			skip += len(page)
		}
	}
}

// Verify checks every stored package against its recorded hash.
func (s *LocalFeedSession) Verify(ctx context.Context) iter.Seq2[types.ItemResult, error] {
	return func(yield func(types.ItemResult, error) bool) {
		for meta, err := range s.SearchAll(ctx) {
			if err != nil {
				yield(types.ItemResult{Phase: types.PhaseVerify}, err)
				return
			}
			result, err := s.directory.verify(ctx, meta.Identity)
			if err != nil {
				yield(types.ItemResult{Phase: types.PhaseVerify, Identity: meta.Identity}, err)
				return
			}
			result.Metadata = &meta
			if !yield(result, nil) {
				return
			}
		}
	}
}
