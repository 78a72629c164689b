package ports

import (
	"context"
	"io"

	"package-mirror/internal/types"
)

type ManifestWriter interface {
	WriteManifest(ctx context.Context, path string, records []types.OfflinePackageMetadata) error
}

type ManifestReader interface {
	ReadManifest(ctx context.Context, path string) ([]types.OfflinePackageMetadata, error)
}

// StagingPort hands out uniquely named files for in-flight downloads.
type StagingPort interface {
	CreateFile(ctx context.Context, nameHint string, write func(io.Writer) error) (types.StagedFile, error)
	Discard(file types.StagedFile) error
}
