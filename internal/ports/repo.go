package ports

import (
	"context"
	"io"
	"iter"

	"package-mirror/internal/types"
	"package-mirror/internal/versioning"
)

// DependencySource is the read surface the closure resolver walks.
type DependencySource interface {
	GetAllVersions(ctx context.Context, id string) ([]versioning.Version, error)
	GetDependencyInfo(ctx context.Context, identity types.PackageIdentity) (*types.DependencyInfo, error)
	ResolveDependencyClosureStep(ctx context.Context, identity types.PackageIdentity, framework string) (*types.SourcePackageDependencyInfo, error)
}

// FeedReader is implemented by every feed session, upstream or local.
// Not-found conditions are reported as nil or empty results, not errors.
type FeedReader interface {
	DependencySource
	GetMetadata(ctx context.Context, id string, includePrerelease bool, includeUnlisted bool) ([]types.PackageSearchMetadata, error)
	GetVersionMetadata(ctx context.Context, identity types.PackageIdentity) (*types.PackageSearchMetadata, error)
	CopyContentToStream(ctx context.Context, identity types.PackageIdentity, destination io.Writer) error
	DoesExist(ctx context.Context, identity types.PackageIdentity) (bool, error)
}

// FeedWriter is only implemented by the writable local feed.
type FeedWriter interface {
	AddPackage(ctx context.Context, stagedPath string, skipDuplicate bool) (bool, error)
	DeletePackage(ctx context.Context, id string) iter.Seq2[types.VersionResult, error]
	DeletePackages(ctx context.Context, ids []string) iter.Seq2[types.ItemResult, error]
	SearchAll(ctx context.Context) iter.Seq2[types.PackageSearchMetadata, error]
	Verify(ctx context.Context) iter.Seq2[types.ItemResult, error]
}

type LocalFeed interface {
	FeedReader
	FeedWriter
}
