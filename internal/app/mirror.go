package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"package-mirror/internal/adapters"
	"package-mirror/internal/core"
	"package-mirror/internal/ports"
	"package-mirror/internal/shared"
	"package-mirror/internal/types"
)

func (s Service) Add(ctx context.Context, settings Settings, ids []string) (types.RunReport, error) {
	return s.Run(ctx, RunRequest{Settings: settings, Plan: types.RunPlan{Add: ids}})
}

func (s Service) Update(ctx context.Context, settings Settings, ids []string) (types.RunReport, error) {
	return s.Run(ctx, RunRequest{Settings: settings, Plan: types.RunPlan{Action: types.ActionUpdateSpecific, Update: ids}})
}

func (s Service) UpdateAll(ctx context.Context, settings Settings) (types.RunReport, error) {
	return s.Run(ctx, RunRequest{Settings: settings, Plan: types.RunPlan{Action: types.ActionUpdateAll}})
}

func (s Service) Delete(ctx context.Context, settings Settings, ids []string) (types.RunReport, error) {
	return s.Run(ctx, RunRequest{Settings: settings, Plan: types.RunPlan{Delete: ids}})
}

// List reports the local inventory, or writes it as a manifest when
// exportPath is set.
func (s Service) List(ctx context.Context, settings Settings, exportPath string) (types.RunReport, error) {
	plan := types.RunPlan{Action: types.ActionList}
	if strings.TrimSpace(exportPath) != "" {
		plan = types.RunPlan{Action: types.ActionExport, ExportPath: strings.TrimSpace(exportPath)}
	}
	return s.Run(ctx, RunRequest{Settings: settings, Plan: plan})
}

// SBOM lists the local feed and writes the inventory as an SPDX document.
func (s Service) SBOM(ctx context.Context, settings Settings, path string) (types.RunReport, error) {
	if strings.TrimSpace(path) == "" {
		return types.RunReport{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("sbom path is required")
	}
	if s.SBOMWriter == nil {
		return types.RunReport{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("no sbom writer configured")
	}
	report, err := s.List(ctx, settings, "")
	if err != nil {
		return types.RunReport{}, err
	}
	inventory := make([]types.PackageSearchMetadata, 0, len(report.Items))
	for _, item := range report.ByPhase(types.PhaseList) {
		if item.Metadata != nil {
			inventory = append(inventory, *item.Metadata)
		}
	}
	if err := s.SBOMWriter.WriteSBOM(ctx, strings.TrimSpace(path), inventory); err != nil {
		return report, err
	}
	return report, nil
}

func (s Service) Import(ctx context.Context, settings Settings, manifestPath string) (types.RunReport, error) {
	if strings.TrimSpace(manifestPath) == "" {
		return types.RunReport{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("manifest path is required")
	}
	return s.Run(ctx, RunRequest{Settings: settings, ImportPath: manifestPath})
}

func (s Service) Verify(ctx context.Context, settings Settings) (types.RunReport, error) {
	return s.Run(ctx, RunRequest{Settings: settings, Plan: types.RunPlan{Action: types.ActionVerify}})
}

// Run validates the request, opens both feeds, locks the local feed and
// executes the plan.
func (s Service) Run(ctx context.Context, req RunRequest) (types.RunReport, error) {
	plan, err := s.preparePlan(ctx, req)
	if err != nil {
		return types.RunReport{}, err
	}
	if plan.IsEmpty() {
		return types.RunReport{}, nil
	}
	local, upstream, err := s.resolveLocations(req.Settings, needsUpstream(plan))
	if err != nil {
		return types.RunReport{}, err
	}

	client := adapters.NewHTTPClient(req.HTTP)
	defer client.Close()

	var upstreamFeed ports.FeedReader
	if upstream != nil {
		if !upstream.IsRemote() {
			if info, err := os.Stat(upstream.Path); err != nil || !info.IsDir() {
				return types.RunReport{}, errbuilder.New().
					WithCode(errbuilder.CodeFailedPrecondition).
					WithMsg(fmt.Sprintf("upstream directory %s does not exist", upstream.Path))
			}
		}
		session := adapters.NewFeedSession(*upstream, true, client)
		if err := session.Open(ctx); err != nil {
			return types.RunReport{}, err
		}
		upstreamFeed = session
	}
	localFeed, err := adapters.NewFeedSession(local, false, nil).Local()
	if err != nil {
		return types.RunReport{}, err
	}

	lock, err := adapters.AcquireRunLock(local.Path)
	if err != nil {
		return types.RunReport{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("failed to release run lock")
		}
	}()

	if removed, err := adapters.SweepOrphans(ctx, req.StagingDir, s.orphanAge()); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to sweep orphaned staging directories")
	} else if removed > 0 {
		log.Ctx(ctx).Info().Int("removed", removed).Msg("removed orphaned staging directories")
	}
	staging, err := adapters.NewStagingDir(req.StagingDir)
	if err != nil {
		return types.RunReport{}, err
	}
	defer func() {
		if err := staging.Close(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("failed to remove staging directory")
		}
	}()

	engine := core.NewMirrorEngine(upstreamFeed, localFeed, staging, s.ManifestWriter)
	if req.Workers > 0 {
		engine.Workers = req.Workers
	}
	log.Ctx(ctx).Debug().
		Str("upstream", locationString(upstream)).
		Str("local", local.Path).
		Int("workers", engine.Workers).
		Msg("opened feeds")
	return engine.Run(ctx, plan)
}

func (s Service) preparePlan(ctx context.Context, req RunRequest) (types.RunPlan, error) {
	plan := req.Plan
	var err error
	if plan.Delete, err = packageIDs(plan.Delete); err != nil {
		return types.RunPlan{}, err
	}
	if plan.Add, err = packageIDs(plan.Add); err != nil {
		return types.RunPlan{}, err
	}
	if plan.Update, err = packageIDs(plan.Update); err != nil {
		return types.RunPlan{}, err
	}
	if path := strings.TrimSpace(req.ImportPath); path != "" {
		records, err := s.ManifestReader.ReadManifest(ctx, path)
		if err != nil {
			return types.RunPlan{}, err
		}
		if len(records) == 0 {
			log.Ctx(ctx).Warn().Str("path", path).Msg("manifest lists no packages")
		}
		plan.Import = append(plan.Import, records...)
	}
	if plan.IsEmpty() && strings.TrimSpace(req.ImportPath) == "" {
		return types.RunPlan{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("nothing to do: no packages or action given")
	}
	return plan, nil
}

// packageIDs accepts plain ids and pkg:nuget package URLs. Versions are
// rejected because every operation works on whole packages.
func packageIDs(values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		identity, err := types.ParsePackageReference(value)
		if err != nil {
			return nil, err
		}
		if identity.HasVersion() {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("expected a package id, got %q", value))
		}
		out = append(out, identity.ID)
	}
	return shared.UniqueIDs(out), nil
}

func needsUpstream(plan types.RunPlan) bool {
	if len(plan.Add) > 0 || len(plan.Import) > 0 {
		return true
	}
	return plan.Action == types.ActionUpdateAll || plan.Action == types.ActionUpdateSpecific
}

// resolveLocations checks that the local feed is a directory distinct from
// the upstream feed and the global packages folder.
func (s Service) resolveLocations(settings Settings, withUpstream bool) (adapters.SourceLocation, *adapters.SourceLocation, error) {
	if strings.TrimSpace(settings.Local) == "" {
		return adapters.SourceLocation{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("local feed is required")
	}
	local, err := adapters.ResolveSourceLocation(settings.BasePath, settings.Local)
	if err != nil {
		return adapters.SourceLocation{}, nil, err
	}
	if local.IsRemote() {
		return adapters.SourceLocation{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("local feed must be a directory, got %s", local))
	}
	if s.GlobalPackages != nil && adapters.SamePath(local.Path, s.GlobalPackages()) {
		return adapters.SourceLocation{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("local feed must not be the global packages folder")
	}

	if strings.TrimSpace(settings.Upstream) == "" {
		if withUpstream {
			return adapters.SourceLocation{}, nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("upstream feed is required")
		}
		return local, nil, nil
	}
	upstream, err := adapters.ResolveSourceLocation(settings.BasePath, settings.Upstream)
	if err != nil {
		return adapters.SourceLocation{}, nil, err
	}
	if !upstream.IsRemote() && adapters.SamePath(local.Path, upstream.Path) {
		return adapters.SourceLocation{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("local feed must differ from the upstream feed")
	}
	if !withUpstream {
		return local, nil, nil
	}
	return local, &upstream, nil
}

func (s Service) orphanAge() time.Duration {
	if s.OrphanAge > 0 {
		return s.OrphanAge
	}
	return defaultOrphanAge
}

func locationString(location *adapters.SourceLocation) string {
	if location == nil {
		return ""
	}
	return location.String()
}
