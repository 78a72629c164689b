package ports

import (
	"context"

	"package-mirror/internal/types"
)

// SBOMWriter renders the local feed inventory as a software bill of
// materials.
type SBOMWriter interface {
	WriteSBOM(ctx context.Context, path string, inventory []types.PackageSearchMetadata) error
}
