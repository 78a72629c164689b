package app

import (
	"time"

	"package-mirror/internal/adapters"
	"package-mirror/internal/ports"
)

const defaultOrphanAge = 24 * time.Hour

type Service struct {
	ManifestWriter ports.ManifestWriter
	ManifestReader ports.ManifestReader
	SBOMWriter     ports.SBOMWriter
	GlobalPackages func() string
	OrphanAge      time.Duration
}

func NewService() Service {
	manifests := adapters.NewManifestFileAdapter()
	return Service{
		ManifestWriter: manifests,
		ManifestReader: manifests,
		SBOMWriter:     adapters.NewSBOMWriterAdapter(),
		GlobalPackages: adapters.GlobalPackagesFolder,
		OrphanAge:      defaultOrphanAge,
	}
}
