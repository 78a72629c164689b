package types

import (
	"slices"
)

type Phase string

const (
	PhaseDelete Phase = "delete"
	PhaseAdd    Phase = "add"
	PhaseImport Phase = "import"
	PhaseUpdate Phase = "update"
	PhaseList   Phase = "list"
	PhaseExport Phase = "export"
	PhaseVerify Phase = "verify"
)

type ItemStatus string

const (
	ItemAdded    ItemStatus = "added"
	ItemDeleted  ItemStatus = "deleted"
	ItemExists   ItemStatus = "exists"
	ItemSkipped  ItemStatus = "skipped"
	ItemNotFound ItemStatus = "not_found"
	ItemFailed   ItemStatus = "failed"
	ItemListed   ItemStatus = "listed"
)

// ItemResult is the per-item outcome of one phase of a mirror run.
type ItemResult struct {
	Phase    Phase
	Identity PackageIdentity
	Status   ItemStatus
	Message  string
	Metadata *PackageSearchMetadata
}

func (r ItemResult) Success() bool {
	return r.Status != ItemFailed && r.Status != ItemNotFound
}

// Warning is a non-fatal condition raised during a run, typically a package
// or version that could not be found.
type Warning struct {
	Identity PackageIdentity
	Message  string
}

type RunReport struct {
	Items      []ItemResult
	Warnings   []Warning
	ExportPath string
}

func (r *RunReport) Add(item ItemResult) {
	r.Items = append(r.Items, item)
}

func (r *RunReport) Warn(identity PackageIdentity, message string) {
	r.Warnings = append(r.Warnings, Warning{Identity: identity, Message: message})
}

// Downloads counts packages committed to the local feed during the run.
func (r RunReport) Downloads() int {
	count := 0
	for _, item := range r.Items {
		if item.Status == ItemAdded {
			count++
		}
	}
	return count
}

func (r RunReport) Failures() []ItemResult {
	out := []ItemResult{}
	for _, item := range r.Items {
		if item.Status == ItemFailed {
			out = append(out, item)
		}
	}
	return out
}

func (r RunReport) ByPhase(phase Phase) []ItemResult {
	return slices.DeleteFunc(slices.Clone(r.Items), func(item ItemResult) bool {
		return item.Phase != phase
	})
}

// Action selects the final phase of a run.
type Action string

const (
	ActionNone           Action = ""
	ActionList           Action = "list"
	ActionExport         Action = "export"
	ActionUpdateAll      Action = "update-all"
	ActionUpdateSpecific Action = "update"
	ActionVerify         Action = "verify"
)

// RunPlan describes one mirror run: deletions, then additions, then at most
// one final action.
type RunPlan struct {
	Delete     []string
	Add        []string
	Import     []OfflinePackageMetadata
	Action     Action
	Update     []string
	ExportPath string
}

func (p RunPlan) IsEmpty() bool {
	return len(p.Delete) == 0 && len(p.Add) == 0 && len(p.Import) == 0 && p.Action == ActionNone
}
