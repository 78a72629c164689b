package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"package-mirror/internal/ports"
	"package-mirror/internal/types"
	"package-mirror/internal/versioning"
)

// MirrorEngine copies packages from an upstream feed into the local feed.
// The local feed is assumed to have a single writer: commits are serialized
// even when downloads run in parallel.
type MirrorEngine struct {
	Upstream  ports.FeedReader
	Local     ports.LocalFeed
	Staging   ports.StagingPort
	Manifests ports.ManifestWriter
	Workers   int
}

func NewMirrorEngine(upstream ports.FeedReader, local ports.LocalFeed, staging ports.StagingPort, manifests ports.ManifestWriter) MirrorEngine {
	return MirrorEngine{
		Upstream:  upstream,
		Local:     local,
		Staging:   staging,
		Manifests: manifests,
		Workers:   1,
	}
}

// mirrorRun is the state of one Run call.
type mirrorRun struct {
	engine   MirrorEngine
	mu       sync.Mutex
	commitMu sync.Mutex
	report   types.RunReport
	handled  map[string]struct{}
	deleted  map[string]struct{}
}

// Run executes plan in the fixed order delete, add, import, then the final
// action. Only configuration errors and cancellation are returned; every
// other problem is recorded in the report.
func (e MirrorEngine) Run(ctx context.Context, plan types.RunPlan) (types.RunReport, error) {
	if err := validatePlan(plan); err != nil {
		return types.RunReport{}, err
	}
	run := &mirrorRun{
		engine:  e,
		handled: map[string]struct{}{},
		deleted: map[string]struct{}{},
	}
	logger := log.Ctx(ctx)
	logger.Debug().
		Int("delete", len(plan.Delete)).
		Int("add", len(plan.Add)).
		Int("import", len(plan.Import)).
		Str("action", string(plan.Action)).
		Msg("starting mirror run")

	if len(plan.Delete) > 0 {
		if err := run.deletePhase(ctx, plan.Delete); err != nil {
			return run.result(), err
		}
	}
	if len(plan.Add) > 0 {
		if err := run.addPhase(ctx, plan.Add); err != nil {
			return run.result(), err
		}
	}
	if len(plan.Import) > 0 {
		if err := run.importPhase(ctx, plan.Import); err != nil {
			return run.result(), err
		}
	}

	var err error
	switch plan.Action {
	case types.ActionList:
		err = run.listPhase(ctx)
	case types.ActionExport:
		err = run.exportPhase(ctx, plan.ExportPath)
	case types.ActionUpdateAll:
		err = run.updateAllPhase(ctx)
	case types.ActionUpdateSpecific:
		err = run.updatePhase(ctx, plan.Update)
	case types.ActionVerify:
		err = run.verifyPhase(ctx)
	}
	report := run.result()
	logger.Debug().
		Int("items", len(report.Items)).
		Int("downloads", report.Downloads()).
		Int("warnings", len(report.Warnings)).
		Msg("mirror run finished")
	return report, err
}

func validatePlan(plan types.RunPlan) error {
	switch plan.Action {
	case types.ActionNone, types.ActionList, types.ActionUpdateAll, types.ActionVerify:
	case types.ActionExport:
		if strings.TrimSpace(plan.ExportPath) == "" {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("export path is required")
		}
	case types.ActionUpdateSpecific:
		if len(plan.Update) == 0 {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("update requires at least one package id")
		}
	default:
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unknown action %q", plan.Action))
	}
	if plan.IsEmpty() {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("nothing to do")
	}
	return nil
}

func (r *mirrorRun) result() types.RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

func (r *mirrorRun) record(item types.ItemResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Add(item)
}

func (r *mirrorRun) warn(identity types.PackageIdentity, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Warn(identity, message)
}

// warnf logs and records a warning raised by the engine itself.
func (r *mirrorRun) warnf(ctx context.Context, phase types.Phase, identity types.PackageIdentity, message string) {
	log.Ctx(ctx).Warn().Str("phase", string(phase)).Str("package", identity.String()).Msg(message)
	r.warn(identity, message)
}

func (r *mirrorRun) fail(ctx context.Context, phase types.Phase, identity types.PackageIdentity, message string, err error) {
	log.Ctx(ctx).Error().Err(err).Str("phase", string(phase)).Str("package", identity.String()).Msg(message)
	text := message
	if err != nil {
		text = message + ": " + err.Error()
	}
	r.record(types.ItemResult{Phase: phase, Identity: identity, Status: types.ItemFailed, Message: text})
}

// claim marks identity as handled for this run and reports whether the
// caller is the first to do so.
func (r *mirrorRun) claim(identity types.PackageIdentity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := identity.Key()
	if _, ok := r.handled[key]; ok {
		return false
	}
	r.handled[key] = struct{}{}
	return true
}

func (r *mirrorRun) wasDeleted(identity types.PackageIdentity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.deleted[identity.Key()]
	return ok
}

func (r *mirrorRun) deletePhase(ctx context.Context, ids []string) error {
	for result, err := range r.engine.Local.DeletePackages(ctx, ids) {
		if err != nil {
			if isFatal(ctx, err) {
				return err
			}
			r.fail(ctx, types.PhaseDelete, result.Identity, "delete failed", err)
			continue
		}
		switch result.Status {
		case types.ItemDeleted:
			r.mu.Lock()
			r.deleted[result.Identity.Key()] = struct{}{}
			r.mu.Unlock()
			log.Ctx(ctx).Info().Str("package", result.Identity.String()).Msg("deleted")
			r.record(result)
		case types.ItemNotFound:
			r.warnf(ctx, types.PhaseDelete, result.Identity, "package not found in local feed")
			r.record(result)
		default:
			r.fail(ctx, types.PhaseDelete, result.Identity, "delete failed", nil)
		}
	}
	return ctx.Err()
}

func (r *mirrorRun) addPhase(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		identity := types.PackageIdentity{ID: id}
		localVersions, err := r.engine.Local.GetAllVersions(ctx, id)
		if err != nil {
			if isFatal(ctx, err) {
				return err
			}
			r.fail(ctx, types.PhaseAdd, identity, "local lookup failed", err)
			continue
		}
		present := 0
		for _, v := range localVersions {
			if !r.wasDeleted(types.NewIdentity(id, v)) {
				present++
			}
		}
		if present > 0 {
			log.Ctx(ctx).Info().Str("package", id).Msg("already added")
			r.record(types.ItemResult{Phase: types.PhaseAdd, Identity: identity, Status: types.ItemSkipped, Message: "already added"})
			continue
		}

		upstreamVersions, err := r.engine.Upstream.GetAllVersions(ctx, id)
		if err != nil {
			if isFatal(ctx, err) {
				return err
			}
			r.fail(ctx, types.PhaseAdd, identity, "upstream lookup failed", err)
			continue
		}
		if len(upstreamVersions) == 0 {
			r.warnf(ctx, types.PhaseAdd, identity, "package not found upstream")
			r.record(types.ItemResult{Phase: types.PhaseAdd, Identity: identity, Status: types.ItemNotFound})
			continue
		}
		versioning.Sort(upstreamVersions)
		targets := make([]types.PackageIdentity, 0, len(upstreamVersions))
		for _, v := range upstreamVersions {
			targets = append(targets, types.NewIdentity(id, v))
		}
		if err := r.mirrorAll(ctx, types.PhaseAdd, targets); err != nil {
			return err
		}
	}
	return nil
}

func (r *mirrorRun) importPhase(ctx context.Context, records []types.OfflinePackageMetadata) error {
	records, err := NormalizeManifest(records)
	if err != nil {
		return err
	}
	targets := []types.PackageIdentity{}
	for _, record := range records {
		for _, v := range record.Versions {
			identity := types.NewIdentity(record.ID, v)
			exists, err := r.engine.Local.DoesExist(ctx, identity)
			if err != nil {
				if isFatal(ctx, err) {
					return err
				}
				r.fail(ctx, types.PhaseImport, identity, "local lookup failed", err)
				continue
			}
			if exists && !r.wasDeleted(identity) {
				r.record(types.ItemResult{Phase: types.PhaseImport, Identity: identity, Status: types.ItemExists})
				continue
			}
			targets = append(targets, identity)
		}
	}
	return r.mirrorAll(ctx, types.PhaseImport, targets)
}

func (r *mirrorRun) updateAllPhase(ctx context.Context) error {
	ids := []string{}
	seen := map[string]struct{}{}
	for meta, err := range r.engine.Local.SearchAll(ctx) {
		if err != nil {
			return err
		}
		key := strings.ToLower(meta.Identity.ID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ids = append(ids, meta.Identity.ID)
	}
	if len(ids) == 0 {
		log.Ctx(ctx).Info().Msg("local feed is empty, nothing to update")
		return nil
	}
	return r.updatePhase(ctx, ids)
}

// updatePhase mirrors the full version closure of ids, downloading every
// identity the local feed does not have yet.
func (r *mirrorRun) updatePhase(ctx context.Context, ids []string) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.engine.workers())
	resolver := NewClosureResolver(r.engine.Upstream, r.warn)

	var walkErr error
	for info, err := range resolver.AllVersionsWithDependencies(groupCtx, ids, ClosureOptions{DependencyVersions: AllVersions}) {
		if err != nil {
			walkErr = err
			break
		}
		identity := info.Identity
		exists, err := r.engine.Local.DoesExist(groupCtx, identity)
		if err != nil {
			if isFatal(groupCtx, err) {
				walkErr = err
				break
			}
			r.fail(ctx, types.PhaseUpdate, identity, "local lookup failed", err)
			continue
		}
		if exists {
			log.Ctx(ctx).Debug().Str("package", identity.String()).Msg("already mirrored")
			r.record(types.ItemResult{Phase: types.PhaseUpdate, Identity: identity, Status: types.ItemExists})
			continue
		}
		group.Go(func() error {
			return r.mirrorOne(groupCtx, types.PhaseUpdate, identity)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	if walkErr != nil {
		return walkErr
	}
	return ctx.Err()
}

func (r *mirrorRun) listPhase(ctx context.Context) error {
	for meta, err := range r.engine.Local.SearchAll(ctx) {
		if err != nil {
			return err
		}
		item := meta
		r.record(types.ItemResult{Phase: types.PhaseList, Identity: meta.Identity, Status: types.ItemListed, Metadata: &item})
	}
	return nil
}

func (r *mirrorRun) exportPhase(ctx context.Context, path string) error {
	if r.engine.Manifests == nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("no manifest writer configured")
	}
	records, err := BuildManifest(r.engine.Local.SearchAll(ctx))
	if err != nil {
		return err
	}
	if err := r.engine.Manifests.WriteManifest(ctx, path, records); err != nil {
		return err
	}
	for _, record := range records {
		r.record(types.ItemResult{
			Phase:    types.PhaseExport,
			Identity: types.PackageIdentity{ID: record.ID},
			Status:   types.ItemListed,
			Message:  fmt.Sprintf("%d versions", len(record.Versions)),
		})
	}
	r.mu.Lock()
	r.report.ExportPath = path
	r.mu.Unlock()
	log.Ctx(ctx).Info().Int("packages", len(records)).Str("path", path).Msg("exported manifest")
	return nil
}

func (r *mirrorRun) verifyPhase(ctx context.Context) error {
	for item, err := range r.engine.Local.Verify(ctx) {
		if err != nil {
			if isFatal(ctx, err) {
				return err
			}
			r.fail(ctx, types.PhaseVerify, item.Identity, "verify failed", err)
			continue
		}
		if item.Status == types.ItemFailed {
			log.Ctx(ctx).Error().Str("package", item.Identity.String()).Msg(item.Message)
		}
		r.record(item)
	}
	return nil
}

// mirrorAll downloads and commits targets through the bounded worker pool.
func (r *mirrorRun) mirrorAll(ctx context.Context, phase types.Phase, targets []types.PackageIdentity) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.engine.workers())
	for _, identity := range targets {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			return r.mirrorOne(groupCtx, phase, identity)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// mirrorOne stages and commits a single package version. It returns an
// error only for cancellation and configuration problems.
func (r *mirrorRun) mirrorOne(ctx context.Context, phase types.Phase, identity types.PackageIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.claim(identity) {
		return nil
	}
	logger := log.Ctx(ctx)
	file, err := r.engine.Staging.CreateFile(ctx, StagedFileName(identity), func(w io.Writer) error {
		return r.engine.Upstream.CopyContentToStream(ctx, identity, w)
	})
	if err != nil {
		if isFatal(ctx, err) {
			return err
		}
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
			r.warnf(ctx, phase, identity, "package version not found upstream")
			r.record(types.ItemResult{Phase: phase, Identity: identity, Status: types.ItemNotFound})
			return nil
		}
		r.fail(ctx, phase, identity, "download failed", err)
		return nil
	}
	defer func() {
		if err := r.engine.Staging.Discard(file); err != nil {
			logger.Debug().Err(err).Str("path", file.Path).Msg("failed to discard staged file")
		}
	}()
	if file.Size == 0 {
		logger.Error().Str("package", identity.String()).Msg("empty download skipped")
		r.record(types.ItemResult{Phase: phase, Identity: identity, Status: types.ItemSkipped, Message: "empty download"})
		return nil
	}

	r.commitMu.Lock()
	ok, err := r.engine.Local.AddPackage(ctx, file.Path, true)
	r.commitMu.Unlock()
	if err != nil {
		if isFatal(ctx, err) {
			return err
		}
		r.fail(ctx, phase, identity, "commit failed", err)
		return nil
	}
	if !ok {
		r.fail(ctx, phase, identity, "commit rejected", nil)
		return nil
	}
	logger.Info().Str("package", identity.String()).Int64("bytes", file.Size).Msg("mirrored")
	r.record(types.ItemResult{Phase: phase, Identity: identity, Status: types.ItemAdded})
	return nil
}

func (e MirrorEngine) workers() int {
	if e.Workers < 1 {
		return 1
	}
	return e.Workers
}

// StagedFileName is the canonical "id.version.nupkg" file name for identity.
func StagedFileName(identity types.PackageIdentity) string {
	name := strings.ToLower(identity.ID)
	if identity.Version != nil {
		name += "." + strings.ToLower(identity.Version.Normalized())
	}
	return name + ".nupkg"
}
