package app

import (
	"package-mirror/internal/adapters"
	"package-mirror/internal/types"
)

// Settings locate the feeds and tune transport for one run.
type Settings struct {
	Upstream   string
	Local      string
	BasePath   string
	StagingDir string
	Workers    int
	HTTP       adapters.HTTPConfig
}

// RunRequest is a full mirror run. ImportPath, when set, is read into
// Plan.Import before the run starts.
type RunRequest struct {
	Settings
	Plan       types.RunPlan
	ImportPath string
}
