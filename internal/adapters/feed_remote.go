package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"package-mirror/internal/shared"
	"package-mirror/internal/types"
	"package-mirror/internal/versioning"
)

var packageBaseAddressTypes = []string{"PackageBaseAddress/3.0.0", "PackageBaseAddress"}

var registrationTypes = []string{
	"RegistrationsBaseUrl/3.6.0",
	"RegistrationsBaseUrl/3.4.0",
	"RegistrationsBaseUrl/3.0.0-rc",
	"RegistrationsBaseUrl/3.0.0-beta",
	"RegistrationsBaseUrl",
}

var searchTypes = []string{
	"SearchQueryService/3.5.0",
	"SearchQueryService/3.0.0-rc",
	"SearchQueryService/3.0.0-beta",
	"SearchQueryService",
}

type serviceIndex struct {
	Version   string            `json:"version"`
	Resources []serviceResource `json:"resources"`
	base      *url.URL
}

type serviceResource struct {
	ID   string `json:"@id"`
	Type string `json:"@type"`
}

// find returns the first resource matching the preferred types in order.
// Relative resource ids resolve against the index URL.
func (i *serviceIndex) find(preferred ...string) (*url.URL, bool) {
	for _, want := range preferred {
		for _, resource := range i.Resources {
			if !strings.EqualFold(strings.TrimSpace(resource.Type), want) {
				continue
			}
			ref, err := url.Parse(strings.TrimSpace(resource.ID))
			if err != nil {
				continue
			}
			resolved := i.base.ResolveReference(ref)
			if !strings.HasSuffix(resolved.Path, "/") {
				resolved.Path += "/"
			}
			return resolved, true
		}
	}
	return nil, false
}

func fetchServiceIndex(ctx context.Context, client *HTTPClient, location *url.URL) (*serviceIndex, error) {
	index := &serviceIndex{base: location}
	err := client.Get(ctx, location.String(), func(resp *http.Response) error {
		return decodeJSON(resp.Body, index)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := fmt.Sprintf("failed to load service index from %s", location)
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
			msg = fmt.Sprintf("service index not found at %s", location)
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(msg).
			WithCause(err)
	}
	return index, nil
}

func decodeJSON(body io.Reader, target any) error {
	if err := json.NewDecoder(body).Decode(target); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to decode feed response").
			WithCause(err)
	}
	return nil
}

// remoteFlatContainer reads the PackageBaseAddress resource.
type remoteFlatContainer struct {
	client *HTTPClient
	base   *url.URL
}

type flatContainerVersions struct {
	Versions []string `json:"versions"`
}

func (c remoteFlatContainer) listVersions(ctx context.Context, id string) ([]versioning.Version, error) {
	lower := shared.NormalizeID(id)
	var payload flatContainerVersions
	err := c.client.Get(ctx, c.base.JoinPath(lower, "index.json").String(), func(resp *http.Response) error {
		return decodeJSON(resp.Body, &payload)
	})
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
			return []versioning.Version{}, nil
		}
		return nil, err
	}
	versions := make([]versioning.Version, 0, len(payload.Versions))
	for _, raw := range payload.Versions {
		v, err := versioning.Parse(raw)
		if err != nil {
			log.Ctx(ctx).Debug().Str("package", id).Str("version", raw).Msg("ignoring unparsable version")
			continue
		}
		versions = append(versions, v)
	}
	versions = versioning.Distinct(versions)
	versioning.Sort(versions)
	return versions, nil
}

func (c remoteFlatContainer) copyContent(ctx context.Context, identity types.PackageIdentity, w io.Writer) error {
	lower := shared.NormalizeID(identity.ID)
	version := strings.ToLower(identity.Version.Normalized())
	target := c.base.JoinPath(lower, version, lower+"."+version+".nupkg").String()
	return c.client.Get(ctx, target, func(resp *http.Response) error {
		if _, err := io.Copy(w, resp.Body); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg(fmt.Sprintf("failed to download %s", identity)).
				WithCause(err)
		}
		return nil
	})
}

// remoteRegistrations reads the RegistrationsBaseUrl resource and caches
// one registration index per package id.
type remoteRegistrations struct {
	client *HTTPClient
	base   *url.URL
	cache  *lazyMap[[]packageManifest]
}

type registrationIndex struct {
	Items []registrationPage `json:"items"`
}

type registrationPage struct {
	ID    string             `json:"@id"`
	Items []registrationLeaf `json:"items"`
}

type registrationLeaf struct {
	CatalogEntry catalogEntry `json:"catalogEntry"`
}

type catalogEntry struct {
	ID               string                   `json:"id"`
	Version          string                   `json:"version"`
	Title            string                   `json:"title"`
	Summary          string                   `json:"summary"`
	Description      string                   `json:"description"`
	Authors          json.RawMessage          `json:"authors"`
	Listed           *bool                    `json:"listed"`
	Published        string                   `json:"published"`
	DependencyGroups []catalogDependencyGroup `json:"dependencyGroups"`
}

type catalogDependencyGroup struct {
	TargetFramework string              `json:"targetFramework"`
	Dependencies    []catalogDependency `json:"dependencies"`
}

type catalogDependency struct {
	ID    string `json:"id"`
	Range string `json:"range"`
}

func newRemoteRegistrations(client *HTTPClient, base *url.URL) *remoteRegistrations {
	return &remoteRegistrations{client: client, base: base, cache: &lazyMap[[]packageManifest]{}}
}

func (r *remoteRegistrations) manifests(ctx context.Context, id string) ([]packageManifest, error) {
	key := shared.NormalizeID(id)
	manifests, err := r.cache.get(ctx, key, func(ctx context.Context) ([]packageManifest, error) {
		return r.fetch(ctx, key)
	})
	if err != nil {
		r.cache.forget(key)
		return nil, err
	}
	return manifests, nil
}

func (r *remoteRegistrations) manifest(ctx context.Context, identity types.PackageIdentity) (*packageManifest, error) {
	manifests, err := r.manifests(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	for i := range manifests {
		if versioning.Equal(*manifests[i].Identity().Version, *identity.Version) {
			m := manifests[i]
			return &m, nil
		}
	}
	return nil, nil
}

func (r *remoteRegistrations) fetch(ctx context.Context, lowerID string) ([]packageManifest, error) {
	var index registrationIndex
	err := r.client.Get(ctx, r.base.JoinPath(lowerID, "index.json").String(), func(resp *http.Response) error {
		return decodeJSON(resp.Body, &index)
	})
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
			return []packageManifest{}, nil
		}
		return nil, err
	}

	out := []packageManifest{}
	for _, page := range index.Items {
		leaves := page.Items
		if leaves == nil && page.ID != "" {
			var full registrationPage
			err := r.client.Get(ctx, page.ID, func(resp *http.Response) error {
				return decodeJSON(resp.Body, &full)
			})
			if err != nil {
				return nil, err
			}
			leaves = full.Items
		}
		for _, leaf := range leaves {
			manifest, err := leaf.CatalogEntry.manifest()
			if err != nil {
				log.Ctx(ctx).Debug().Err(err).Str("package", lowerID).Msg("ignoring invalid catalog entry")
				continue
			}
			out = append(out, manifest)
		}
	}
	return out, nil
}

func (e catalogEntry) manifest() (packageManifest, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return packageManifest{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("catalog entry is missing an id")
	}
	version, err := versioning.Parse(e.Version)
	if err != nil {
		return packageManifest{}, err
	}
	groups := make([]types.DependencyGroup, 0, len(e.DependencyGroups))
	for _, group := range e.DependencyGroups {
		packages := make([]types.PackageDependency, 0, len(group.Dependencies))
		for _, dep := range group.Dependencies {
			if strings.TrimSpace(dep.ID) == "" {
				continue
			}
			r, err := versioning.ParseRange(dep.Range)
			if err != nil {
				return packageManifest{}, err
			}
			packages = append(packages, types.PackageDependency{ID: strings.TrimSpace(dep.ID), Range: r})
		}
		groups = append(groups, types.DependencyGroup{
			TargetFramework: strings.TrimSpace(group.TargetFramework),
			Packages:        packages,
		})
	}
	published := parsePublished(e.Published)
	listed := e.Listed == nil || *e.Listed
	if e.Listed == nil && isUnlistedSentinel(published) {
		listed = false
	}
	return packageManifest{
		Metadata: types.PackageSearchMetadata{
			Identity:    types.NewIdentity(id, version),
			Title:       strings.TrimSpace(e.Title),
			Summary:     strings.TrimSpace(e.Summary),
			Description: strings.TrimSpace(e.Description),
			Authors:     decodeAuthors(e.Authors),
			Listed:      listed,
			Published:   published,
		},
		Groups: groups,
	}, nil
}

// decodeAuthors accepts either a string or an array of strings.
func decodeAuthors(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return strings.Join(many, ", ")
	}
	return ""
}

// remoteSearch reads the SearchQueryService resource.
type remoteSearch struct {
	client *HTTPClient
	base   *url.URL
}

type searchResponse struct {
	TotalHits int            `json:"totalHits"`
	Data      []searchResult `json:"data"`
}

type searchResult struct {
	ID          string          `json:"id"`
	Version     string          `json:"version"`
	Title       string          `json:"title"`
	Summary     string          `json:"summary"`
	Description string          `json:"description"`
	Authors     json.RawMessage `json:"authors"`
}

func (s remoteSearch) search(ctx context.Context, query string, skip int, take int, includePrerelease bool) ([]types.PackageSearchMetadata, error) {
	target := *s.base
	values := url.Values{}
	values.Set("q", query)
	values.Set("skip", strconv.Itoa(skip))
	values.Set("take", strconv.Itoa(take))
	values.Set("prerelease", strconv.FormatBool(includePrerelease))
	values.Set("semVerLevel", "2.0.0")
	target.RawQuery = values.Encode()
	target.Path = strings.TrimSuffix(target.Path, "/")

	var payload searchResponse
	err := s.client.Get(ctx, target.String(), func(resp *http.Response) error {
		return decodeJSON(resp.Body, &payload)
	})
	if err != nil {
		return nil, err
	}
	out := make([]types.PackageSearchMetadata, 0, len(payload.Data))
	for _, item := range payload.Data {
		version, err := versioning.Parse(item.Version)
		if err != nil || strings.TrimSpace(item.ID) == "" {
			continue
		}
		out = append(out, types.PackageSearchMetadata{
			Identity:    types.NewIdentity(strings.TrimSpace(item.ID), version),
			Title:       strings.TrimSpace(item.Title),
			Summary:     strings.TrimSpace(item.Summary),
			Description: strings.TrimSpace(item.Description),
			Authors:     decodeAuthors(item.Authors),
			Listed:      true,
		})
	}
	return out, nil
}
