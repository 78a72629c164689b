package core

import (
	"context"
	"errors"
	"iter"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"package-mirror/internal/ports"
	"package-mirror/internal/types"
	"package-mirror/internal/versioning"
)

// DependencyVersionMode controls which versions of discovered dependencies
// the multi-root walk visits.
type DependencyVersionMode int

const (
	// AllVersions enumerates every known version of every reachable id.
	AllVersions DependencyVersionMode = iota
	// MinimumVersion enumerates every version of the seeds only and follows
	// edges at the lowest version satisfying each range.
	MinimumVersion
)

type ClosureOptions struct {
	DependencyVersions DependencyVersionMode
}

// WarningFunc receives non-fatal conditions such as unknown packages.
type WarningFunc func(identity types.PackageIdentity, message string)

// ClosureResolver walks the dependency graph exposed by a DependencySource
// breadth first, visiting each distinct package version at most once.
type ClosureResolver struct {
	Source ports.DependencySource
	Warn   WarningFunc
}

func NewClosureResolver(source ports.DependencySource, warn WarningFunc) ClosureResolver {
	return ClosureResolver{Source: source, Warn: warn}
}

// closureWalk holds the per-traversal state shared by both traversal shapes.
type closureWalk struct {
	resolver ClosureResolver
	visited  map[string]struct{}
	versions map[string][]versioning.Version
}

func (r ClosureResolver) newWalk() *closureWalk {
	return &closureWalk{
		resolver: r,
		visited:  map[string]struct{}{},
		versions: map[string][]versioning.Version{},
	}
}

// AllDependencies yields root followed by every package version reachable
// from it. The frameworks declared by root are used for every hop.
func (r ClosureResolver) AllDependencies(ctx context.Context, root types.PackageIdentity) iter.Seq2[types.DependencyInfo, error] {
	return func(yield func(types.DependencyInfo, error) bool) {
		if !root.HasVersion() {
			yield(types.DependencyInfo{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("root package version is required"))
			return
		}
		walk := r.newWalk()
		declared, err := r.Source.GetDependencyInfo(ctx, root)
		if err != nil {
			if isFatal(ctx, err) {
				yield(types.DependencyInfo{}, err)
				return
			}
			r.warn(ctx, root, "dependency info lookup failed: "+err.Error())
			return
		}
		if declared == nil {
			r.warn(ctx, root, "package version not found")
			return
		}
		frameworks := declared.Frameworks()

		queue := NewWorkQueue(types.PackageIdentity.Equal)
		queue.Enqueue(root)
		for {
			if err := ctx.Err(); err != nil {
				yield(types.DependencyInfo{}, err)
				return
			}
			current, ok := queue.TryDequeue()
			if !ok {
				return
			}
			if !walk.markVisited(ctx, current) {
				continue
			}
			info, found, err := walk.resolve(ctx, current, frameworks)
			if err != nil {
				if isFatal(ctx, err) {
					yield(types.DependencyInfo{}, err)
					return
				}
				r.warn(ctx, current, "dependency resolution failed: "+err.Error())
				continue
			}
			if !found {
				r.warn(ctx, current, "package version not found")
				continue
			}
			if !yield(info, nil) {
				return
			}
			for _, dep := range dependencyEdges(info) {
				next, ok, err := walk.pickVersion(ctx, dep)
				if err != nil {
					if isFatal(ctx, err) {
						yield(types.DependencyInfo{}, err)
						return
					}
					r.warn(ctx, types.PackageIdentity{ID: dep.ID}, "version lookup failed: "+err.Error())
					continue
				}
				if ok && !walk.seen(next) {
					queue.Enqueue(next)
				}
			}
		}
	}
}

// AllVersionsWithDependencies yields every known version of every seed id
// and of every id reachable from them. The id worklist is bounded by a
// visited set so cycles between ids terminate.
func (r ClosureResolver) AllVersionsWithDependencies(ctx context.Context, ids []string, opts ClosureOptions) iter.Seq2[types.DependencyInfo, error] {
	return func(yield func(types.DependencyInfo, error) bool) {
		walk := r.newWalk()
		seenIDs := map[string]struct{}{}
		idQueue := NewWorkQueue(strings.EqualFold)
		markID := func(id string) bool {
			key := strings.ToLower(id)
			if _, ok := seenIDs[key]; ok {
				return false
			}
			seenIDs[key] = struct{}{}
			return true
		}
		for _, id := range ids {
			if strings.TrimSpace(id) != "" && markID(id) {
				idQueue.Enqueue(id)
			}
		}
		pinned := NewWorkQueue(types.PackageIdentity.Equal)

		// follow decides how an edge discovered on a yielded version is
		// scheduled for a later round.
		follow := func(dep types.PackageDependency) error {
			if opts.DependencyVersions == AllVersions {
				if markID(dep.ID) {
					idQueue.Enqueue(dep.ID)
				}
				return nil
			}
			next, ok, err := walk.pickVersion(ctx, dep)
			if err != nil {
				return err
			}
			if ok && !walk.seen(next) {
				pinned.Enqueue(next)
			}
			return nil
		}
		emit := func(identity types.PackageIdentity) bool {
			info, found, err := walk.resolve(ctx, identity, nil)
			if err != nil {
				if isFatal(ctx, err) {
					yield(types.DependencyInfo{}, err)
					return false
				}
				r.warn(ctx, identity, "dependency resolution failed: "+err.Error())
				info = types.DependencyInfo{Identity: identity}
			} else if !found {
				r.warn(ctx, identity, "dependency info not found")
				info = types.DependencyInfo{Identity: identity}
			}
			if !yield(info, nil) {
				return false
			}
			for _, dep := range dependencyEdges(info) {
				if err := follow(dep); err != nil {
					if isFatal(ctx, err) {
						yield(types.DependencyInfo{}, err)
						return false
					}
					r.warn(ctx, types.PackageIdentity{ID: dep.ID}, "version lookup failed: "+err.Error())
				}
			}
			return true
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(types.DependencyInfo{}, err)
				return
			}
			id, ok := idQueue.TryDequeue()
			if !ok {
				break
			}
			versions, err := walk.allVersions(ctx, id)
			if err != nil {
				if isFatal(ctx, err) {
					yield(types.DependencyInfo{}, err)
					return
				}
				r.warn(ctx, types.PackageIdentity{ID: id}, "version lookup failed: "+err.Error())
				continue
			}
			if len(versions) == 0 {
				r.warn(ctx, types.PackageIdentity{ID: id}, "package not found")
				continue
			}
			for _, version := range versions {
				if err := ctx.Err(); err != nil {
					yield(types.DependencyInfo{}, err)
					return
				}
				identity := types.NewIdentity(id, version)
				if !walk.markVisited(ctx, identity) {
					continue
				}
				if !emit(identity) {
					return
				}
			}
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(types.DependencyInfo{}, err)
				return
			}
			identity, ok := pinned.TryDequeue()
			if !ok {
				return
			}
			if !walk.markVisited(ctx, identity) {
				continue
			}
			if !emit(identity) {
				return
			}
		}
	}
}

func (r ClosureResolver) warn(ctx context.Context, identity types.PackageIdentity, message string) {
	log.Ctx(ctx).Warn().Str("package", identity.String()).Msg(message)
	if r.Warn != nil {
		r.Warn(identity, message)
	}
}

func (w *closureWalk) markVisited(ctx context.Context, identity types.PackageIdentity) bool {
	assert.NotEmpty(ctx, identity.ID, "visited identity must have an id")
	key := identity.Key()
	if _, ok := w.visited[key]; ok {
		return false
	}
	w.visited[key] = struct{}{}
	return true
}

func (w *closureWalk) seen(identity types.PackageIdentity) bool {
	_, ok := w.visited[identity.Key()]
	return ok
}

func (w *closureWalk) allVersions(ctx context.Context, id string) ([]versioning.Version, error) {
	key := strings.ToLower(id)
	if cached, ok := w.versions[key]; ok {
		return cached, nil
	}
	versions, err := w.resolver.Source.GetAllVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	versioning.Sort(versions)
	w.versions[key] = versions
	return versions, nil
}

// pickVersion selects the concrete version an edge resolves to: the range's
// inclusive minimum when the source has it, otherwise the lowest version
// satisfying the range.
func (w *closureWalk) pickVersion(ctx context.Context, dep types.PackageDependency) (types.PackageIdentity, bool, error) {
	versions, err := w.allVersions(ctx, dep.ID)
	if err != nil {
		return types.PackageIdentity{}, false, err
	}
	if minVersion, ok := dep.Range.MinVersion(); ok && dep.Range.IsMinInclusive() {
		for _, v := range versions {
			if versioning.Equal(v, minVersion) {
				return types.NewIdentity(dep.ID, v), true, nil
			}
		}
	}
	best, ok := dep.Range.FindBestMatch(versions)
	if !ok {
		w.resolver.warn(ctx, types.PackageIdentity{ID: dep.ID}, "no version satisfies "+dep.Range.String())
		return types.PackageIdentity{}, false, nil
	}
	return types.NewIdentity(dep.ID, best), true, nil
}

// resolve collects the per-framework edges of identity. A nil frameworks
// slice means "the frameworks identity itself declares".
func (w *closureWalk) resolve(ctx context.Context, identity types.PackageIdentity, frameworks []string) (types.DependencyInfo, bool, error) {
	source := w.resolver.Source
	if frameworks == nil {
		declared, err := source.GetDependencyInfo(ctx, identity)
		if err != nil {
			return types.DependencyInfo{}, false, err
		}
		if declared == nil {
			return types.DependencyInfo{}, false, nil
		}
		frameworks = declared.Frameworks()
	}
	out := types.DependencyInfo{Identity: identity}
	found := false
	for _, framework := range frameworks {
		step, err := source.ResolveDependencyClosureStep(ctx, identity, framework)
		if err != nil {
			return types.DependencyInfo{}, false, err
		}
		if step == nil {
			continue
		}
		found = true
		out.Groups = append(out.Groups, types.DependencyGroup{
			TargetFramework: framework,
			Packages:        step.Dependencies,
		})
	}
	return out, found, nil
}

// dependencyEdges flattens the groups of info, keeping the first edge seen
// per dependency id.
func dependencyEdges(info types.DependencyInfo) []types.PackageDependency {
	seen := map[string]struct{}{}
	out := []types.PackageDependency{}
	for _, group := range info.Groups {
		for _, dep := range group.Packages {
			key := strings.ToLower(dep.ID)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, dep)
		}
	}
	return out
}

// isFatal reports errors that must abort a traversal or run: cancellation
// and missing feed capabilities.
func isFatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errbuilder.CodeOf(err) == errbuilder.CodeFailedPrecondition
}
