package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// FeedServer is an in-process package feed speaking the v3 JSON protocol:
// service index, flat container, registrations and search.
type FeedServer struct {
	URL string

	t        *testing.T
	server   *httptest.Server
	mu       sync.Mutex
	packages map[string][]Package
	hits     map[string]int
	failures map[string]int
	apiKeys  []string
}

// NewFeedServer starts a feed serving packages. The server is closed when
// the test ends.
func NewFeedServer(t *testing.T, packages ...Package) *FeedServer {
	t.Helper()
	feed := &FeedServer{
		t:        t,
		packages: map[string][]Package{},
		hits:     map[string]int{},
		failures: map[string]int{},
	}
	for _, p := range packages {
		feed.Add(p)
	}

	router := chi.NewRouter()
	router.Use(feed.track)
	router.Get("/v3/index.json", feed.serviceIndex)
	router.Get("/v3/flat/{id}/index.json", feed.flatVersions)
	router.Get("/v3/flat/{id}/{version}/{file}", feed.download)
	router.Get("/v3/registration/{id}/index.json", feed.registration)
	router.Get("/v3/search", feed.search)

	feed.server = httptest.NewServer(router)
	feed.URL = feed.server.URL + "/v3/index.json"
	t.Cleanup(feed.server.Close)
	return feed
}

// Add publishes p, replacing an existing entry with the same version.
func (f *FeedServer) Add(p Package) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(p.ID)
	list := f.packages[key]
	for i := range list {
		if strings.EqualFold(list[i].Version, p.Version) {
			list[i] = p
			return
		}
	}
	f.packages[key] = append(list, p)
}

// FailNext makes the next n requests whose path starts with prefix answer
// 503.
func (f *FeedServer) FailNext(prefix string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[prefix] = n
}

// Hits returns how many requests reached paths starting with prefix.
func (f *FeedServer) Hits(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for path, count := range f.hits {
		if strings.HasPrefix(path, prefix) {
			total += count
		}
	}
	return total
}

// APIKeys returns the X-NuGet-ApiKey header values seen so far.
func (f *FeedServer) APIKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.apiKeys...)
}

func (f *FeedServer) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.hits[r.URL.Path]++
		if key := r.Header.Get("X-NuGet-ApiKey"); key != "" {
			f.apiKeys = append(f.apiKeys, key)
		}
		failing := false
		for prefix, remaining := range f.failures {
			if remaining > 0 && strings.HasPrefix(r.URL.Path, prefix) {
				f.failures[prefix] = remaining - 1
				failing = true
				break
			}
		}
		f.mu.Unlock()
		if failing {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FeedServer) lookup(id string) []Package {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := append([]Package(nil), f.packages[strings.ToLower(id)]...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	return list
}

func (f *FeedServer) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		f.t.Errorf("encode response: %v", err)
	}
}

func (f *FeedServer) serviceIndex(w http.ResponseWriter, _ *http.Request) {
	f.writeJSON(w, serviceIndexDocument(true))
}

func (f *FeedServer) flatVersions(w http.ResponseWriter, r *http.Request) {
	list := f.lookup(chi.URLParam(r, "id"))
	if len(list) == 0 {
		http.NotFound(w, r)
		return
	}
	f.writeJSON(w, flatVersionsDocument(list))
}

func (f *FeedServer) download(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	for _, p := range f.lookup(chi.URLParam(r, "id")) {
		if strings.EqualFold(p.Version, version) && chi.URLParam(r, "file") == p.FileName() {
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(NupkgBytes(f.t, p))
			return
		}
	}
	http.NotFound(w, r)
}

func (f *FeedServer) registration(w http.ResponseWriter, r *http.Request) {
	list := f.lookup(chi.URLParam(r, "id"))
	if len(list) == 0 {
		http.NotFound(w, r)
		return
	}
	f.writeJSON(w, registrationDocument(list))
}

// serviceIndexDocument lists resources relative to the index so the same
// document works wherever the feed is hosted.
func serviceIndexDocument(withSearch bool) map[string]any {
	resources := []map[string]string{
		{"@id": "flat/", "@type": "PackageBaseAddress/3.0.0"},
		{"@id": "registration/", "@type": "RegistrationsBaseUrl/3.6.0"},
	}
	if withSearch {
		resources = append(resources, map[string]string{"@id": "search", "@type": "SearchQueryService/3.5.0"})
	}
	return map[string]any{"version": "3.0.0", "resources": resources}
}

func flatVersionsDocument(list []Package) map[string]any {
	versions := make([]string, 0, len(list))
	for _, p := range list {
		versions = append(versions, strings.ToLower(p.Version))
	}
	return map[string]any{"versions": versions}
}

// registrationDocument renders one registration index with a single
// inlined page.
func registrationDocument(list []Package) map[string]any {
	leaves := make([]map[string]any, 0, len(list))
	for _, p := range list {
		groups := map[string][]map[string]string{}
		order := []string{}
		for _, dep := range p.Dependencies {
			if _, ok := groups[dep.Framework]; !ok {
				order = append(order, dep.Framework)
			}
			groups[dep.Framework] = append(groups[dep.Framework], map[string]string{"id": dep.ID, "range": dep.Range})
		}
		dependencyGroups := []map[string]any{}
		for _, framework := range order {
			group := map[string]any{"dependencies": groups[framework]}
			if framework != "" {
				group["targetFramework"] = framework
			}
			dependencyGroups = append(dependencyGroups, group)
		}
		leaves = append(leaves, map[string]any{
			"catalogEntry": map[string]any{
				"id":               p.ID,
				"version":          p.Version,
				"title":            p.Title,
				"description":      p.Description,
				"authors":          []string{"fixtures"},
				"listed":           true,
				"dependencyGroups": dependencyGroups,
			},
		})
	}
	return map[string]any{
		"count": 1,
		"items": []map[string]any{{"count": len(leaves), "items": leaves}},
	}
}

func (f *FeedServer) search(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(r.URL.Query().Get("q"))
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	take, _ := strconv.Atoi(r.URL.Query().Get("take"))
	f.mu.Lock()
	ids := make([]string, 0, len(f.packages))
	for id := range f.packages {
		if strings.Contains(id, query) {
			ids = append(ids, id)
		}
	}
	f.mu.Unlock()
	sort.Strings(ids)
	data := []map[string]any{}
	for _, id := range ids {
		list := f.lookup(id)
		latest := list[len(list)-1]
		data = append(data, map[string]any{"id": latest.ID, "version": latest.Version, "title": latest.Title})
	}
	total := len(data)
	if skip > len(data) {
		skip = len(data)
	}
	data = data[skip:]
	if take > 0 && take < len(data) {
		data = data[:take]
	}
	f.writeJSON(w, map[string]any{"totalHits": total, "data": data})
}
