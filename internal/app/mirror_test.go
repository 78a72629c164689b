package app

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"package-mirror/internal/adapters"
	"package-mirror/internal/types"
	"package-mirror/tests/testutil"
)

func widgetsFeed(t *testing.T) *testutil.FeedServer {
	t.Helper()
	return testutil.NewFeedServer(t,
		testutil.Package{ID: "Widgets.Core", Version: "1.0.0", Title: "Widgets core"},
		testutil.Package{ID: "Widgets.Core", Version: "1.1.0", Title: "Widgets core", Dependencies: []testutil.Dependency{
			{ID: "Widgets.Utils", Range: "2.0.0"},
		}},
		testutil.Package{ID: "Widgets.Utils", Version: "2.0.0"},
		testutil.Package{ID: "Widgets.Utils", Version: "2.1.0"},
	)
}

func testService(t *testing.T) Service {
	t.Helper()
	svc := NewService()
	global := filepath.Join(t.TempDir(), "global-packages")
	svc.GlobalPackages = func() string { return global }
	return svc
}

func testSettings(t *testing.T, upstream string) Settings {
	t.Helper()
	return Settings{
		Upstream:   upstream,
		Local:      filepath.Join(t.TempDir(), "mirror"),
		StagingDir: t.TempDir(),
		HTTP:       adapters.HTTPConfig{RetryDelay: time.Millisecond},
	}
}

func statuses(report types.RunReport, phase types.Phase) []string {
	out := []string{}
	for _, item := range report.ByPhase(phase) {
		out = append(out, item.Identity.String()+" "+string(item.Status))
	}
	sort.Strings(out)
	return out
}

func TestServiceAddThenUpdate(t *testing.T) {
	feed := widgetsFeed(t)
	svc := testService(t)
	settings := testSettings(t, feed.URL)
	ctx := t.Context()

	report, err := svc.Add(ctx, settings, []string{"widgets.core", "pkg:nuget/Widgets.Core"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Downloads())
	assert.Empty(t, report.Failures())

	report, err = svc.Update(ctx, settings, []string{"Widgets.Core"})
	require.NoError(t, err)
	want := []string{
		"Widgets.Core 1.0.0 exists",
		"Widgets.Core 1.1.0 exists",
		"Widgets.Utils 2.0.0 added",
		"Widgets.Utils 2.1.0 added",
	}
	if diff := cmp.Diff(want, statuses(report, types.PhaseUpdate)); diff != "" {
		t.Fatalf("unexpected update results (-want +got):\n%s", diff)
	}

	report, err = svc.UpdateAll(ctx, settings)
	require.NoError(t, err)
	assert.Zero(t, report.Downloads())

	_, err = os.Stat(filepath.Join(settings.Local, ".package-mirror.lock"))
	assert.True(t, os.IsNotExist(err), "run lock released")
	entries, err := os.ReadDir(settings.StagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directory removed")
}

func TestServiceExportImportRoundTrip(t *testing.T) {
	feed := widgetsFeed(t)
	svc := testService(t)
	source := testSettings(t, feed.URL)
	ctx := t.Context()

	_, err := svc.Add(ctx, source, []string{"Widgets.Core"})
	require.NoError(t, err)

	listed, err := svc.List(ctx, source, "")
	require.NoError(t, err)
	assert.Len(t, listed.ByPhase(types.PhaseList), 2)

	manifest := filepath.Join(t.TempDir(), "offline.yaml")
	exported, err := svc.List(ctx, source, manifest)
	require.NoError(t, err)
	assert.Equal(t, manifest, exported.ExportPath)

	target := testSettings(t, feed.URL)
	imported, err := svc.Import(ctx, target, manifest)
	require.NoError(t, err)
	assert.Equal(t, 2, imported.Downloads())

	again, err := svc.Import(ctx, target, manifest)
	require.NoError(t, err)
	assert.Zero(t, again.Downloads())
}

func TestServiceWritesSBOM(t *testing.T) {
	feed := widgetsFeed(t)
	svc := testService(t)
	settings := testSettings(t, feed.URL)
	ctx := t.Context()

	_, err := svc.Add(ctx, settings, []string{"Widgets.Utils"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "feed.spdx.json")
	report, err := svc.SBOM(ctx, settings, path)
	require.NoError(t, err)
	assert.Len(t, report.ByPhase(types.PhaseList), 2)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pkg:nuget/Widgets.Utils@2.1.0")

	_, err = svc.SBOM(ctx, settings, "")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestServiceDeleteAndVerify(t *testing.T) {
	feed := widgetsFeed(t)
	svc := testService(t)
	settings := testSettings(t, feed.URL)
	ctx := t.Context()

	_, err := svc.Add(ctx, settings, []string{"Widgets.Core", "Widgets.Utils"})
	require.NoError(t, err)

	verified, err := svc.Verify(ctx, settings)
	require.NoError(t, err)
	assert.Len(t, verified.ByPhase(types.PhaseVerify), 4)
	assert.Empty(t, verified.Failures())

	deleteOnly := settings
	deleteOnly.Upstream = ""
	deleted, err := svc.Delete(ctx, deleteOnly, []string{"Widgets.Utils"})
	require.NoError(t, err)
	want := []string{"Widgets.Utils 2.0.0 deleted", "Widgets.Utils 2.1.0 deleted"}
	if diff := cmp.Diff(want, statuses(deleted, types.PhaseDelete)); diff != "" {
		t.Fatalf("unexpected delete results (-want +got):\n%s", diff)
	}
}

func TestServiceMirrorsFromDirectory(t *testing.T) {
	upstream := t.TempDir()
	testutil.WriteNupkg(t, upstream, testutil.Package{ID: "Local.Only", Version: "1.0.0"})
	testutil.WriteNupkg(t, upstream, testutil.Package{ID: "Local.Only", Version: "1.2.0"})

	svc := testService(t)
	settings := testSettings(t, upstream)
	report, err := svc.Add(t.Context(), settings, []string{"Local.Only"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Downloads())
}

func TestServiceRejectsInvalidSettings(t *testing.T) {
	feed := widgetsFeed(t)
	svc := testService(t)
	sharedDir := t.TempDir()

	tests := []struct {
		name     string
		mutate   func(*Settings)
		ids      []string
		wantCode errbuilder.ErrCode
	}{
		{name: "missing local", mutate: func(s *Settings) { s.Local = "" }, ids: []string{"A"}, wantCode: errbuilder.CodeInvalidArgument},
		{name: "missing upstream", mutate: func(s *Settings) { s.Upstream = "" }, ids: []string{"A"}, wantCode: errbuilder.CodeInvalidArgument},
		{name: "remote local feed", mutate: func(s *Settings) { s.Local = "https://example.com/v3/index.json" }, ids: []string{"A"}, wantCode: errbuilder.CodeInvalidArgument},
		{name: "local equals upstream", mutate: func(s *Settings) { s.Upstream = sharedDir; s.Local = sharedDir }, ids: []string{"A"}, wantCode: errbuilder.CodeInvalidArgument},
		{name: "local is global packages folder", mutate: func(s *Settings) { s.Local = svc.GlobalPackages() }, ids: []string{"A"}, wantCode: errbuilder.CodeInvalidArgument},
		{name: "unsupported scheme", mutate: func(s *Settings) { s.Upstream = "ftp://example.com" }, ids: []string{"A"}, wantCode: errbuilder.CodeInvalidArgument},
		{name: "versioned id", mutate: func(*Settings) {}, ids: []string{"A@1.0.0"}, wantCode: errbuilder.CodeInvalidArgument},
		{name: "no ids", mutate: func(*Settings) {}, ids: nil, wantCode: errbuilder.CodeInvalidArgument},
		{name: "missing upstream directory", mutate: func(s *Settings) { s.Upstream = filepath.Join(sharedDir, "nope") }, ids: []string{"A"}, wantCode: errbuilder.CodeFailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings(t, feed.URL)
			tt.mutate(&settings)
			_, err := svc.Add(t.Context(), settings, tt.ids)
			require.Error(t, err)
			if diff := cmp.Diff(tt.wantCode, errbuilder.CodeOf(err)); diff != "" {
				t.Fatalf("unexpected error code (-want +got):\n%s", diff)
			}
		})
	}
}

func TestServiceRefusesLockedFeed(t *testing.T) {
	feed := widgetsFeed(t)
	svc := testService(t)
	settings := testSettings(t, feed.URL)

	lock, err := adapters.AcquireRunLock(settings.Local)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lock.Release() })

	_, err = svc.Add(t.Context(), settings, []string{"Widgets.Core"})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
}

func TestServiceFailsOnUnreachableUpstream(t *testing.T) {
	svc := testService(t)

	tests := []struct {
		name string
		run  func(ctx context.Context, settings Settings) (types.RunReport, error)
	}{
		{name: "update", run: func(ctx context.Context, settings Settings) (types.RunReport, error) {
			return svc.Update(ctx, settings, []string{"Widgets.Core"})
		}},
		{name: "update all", run: svc.UpdateAll},
		{name: "add", run: func(ctx context.Context, settings Settings) (types.RunReport, error) {
			return svc.Add(ctx, settings, []string{"Widgets.Core"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings(t, "http://127.0.0.1:1/v3/index.json")
			settings.HTTP.Retries = -1

			report, err := tt.run(t.Context(), settings)
			require.Error(t, err)
			if diff := cmp.Diff(errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err)); diff != "" {
				t.Fatalf("unexpected error code (-want +got):\n%s", diff)
			}
			assert.Empty(t, report.Items)
		})
	}
}

func TestServiceImportRequiresPath(t *testing.T) {
	svc := testService(t)
	_, err := svc.Import(t.Context(), testSettings(t, "https://example.com/v3/index.json"), " ")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestServiceImportRejectsRecordWithoutVersions(t *testing.T) {
	feed := widgetsFeed(t)
	svc := testService(t)
	manifest := filepath.Join(t.TempDir(), "offline.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`[{"id":"Widgets.Core","title":"Widgets"}]`), 0o644))

	report, err := svc.Import(t.Context(), testSettings(t, feed.URL), manifest)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
	assert.Zero(t, report.Downloads())
}
