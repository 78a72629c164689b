//go:build integration

package integration

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"package-mirror/internal/adapters"
	"package-mirror/internal/app"
	"package-mirror/internal/types"
	"package-mirror/tests/testutil"
)

func TestMirrorFromStaticFeedContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers test in short mode")
	}
	ctx := t.Context()

	feedDir := t.TempDir()
	indexPath := testutil.WriteStaticFeed(t, feedDir,
		testutil.Package{ID: "Widgets.Core", Version: "1.0.0"},
		testutil.Package{ID: "Widgets.Core", Version: "1.1.0", Dependencies: []testutil.Dependency{
			{Framework: "net8.0", ID: "Widgets.Utils", Range: "2.0.0"},
		}},
		testutil.Package{ID: "Widgets.Utils", Version: "2.0.0"},
		testutil.Package{ID: "Widgets.Utils", Version: "2.1.0"},
	)
	endpoint, cleanup := startStaticFeed(ctx, t, feedDir)
	t.Cleanup(cleanup)

	service := app.NewService()
	global := filepath.Join(t.TempDir(), "global")
	service.GlobalPackages = func() string { return global }
	settings := app.Settings{
		Upstream:   endpoint + "/" + indexPath,
		Local:      filepath.Join(t.TempDir(), "mirror"),
		StagingDir: t.TempDir(),
		Workers:    2,
		HTTP:       adapters.HTTPConfig{Timeout: 10 * time.Second, Retries: 1, RetryDelay: 100 * time.Millisecond},
	}

	added, err := service.Add(ctx, settings, []string{"Widgets.Core"})
	require.NoError(t, err)
	assert.Equal(t, 2, added.Downloads())

	updated, err := service.Update(ctx, settings, []string{"Widgets.Core"})
	require.NoError(t, err)
	assert.Empty(t, updated.Failures())
	assert.Equal(t, []string{"Widgets.Utils 2.0.0", "Widgets.Utils 2.1.0"}, addedIdentities(updated))

	again, err := service.UpdateAll(ctx, settings)
	require.NoError(t, err)
	assert.Zero(t, again.Downloads())

	verified, err := service.Verify(ctx, settings)
	require.NoError(t, err)
	assert.Len(t, verified.ByPhase(types.PhaseVerify), 4)
	assert.Empty(t, verified.Failures())
}

func addedIdentities(report types.RunReport) []string {
	out := []string{}
	for _, item := range report.Items {
		if item.Status == types.ItemAdded {
			out = append(out, item.Identity.String())
		}
	}
	sort.Strings(out)
	return out
}

// startStaticFeed copies root into a python http.server container and
// returns its base URL.
func startStaticFeed(ctx context.Context, t *testing.T, root string) (string, func()) {
	t.Helper()
	files := []testcontainers.ContainerFile{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, testcontainers.ContainerFile{
			HostFilePath:      path,
			ContainerFilePath: "/srv/feed/" + filepath.ToSlash(rel),
			FileMode:          0o644,
		})
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, files)

	req := testcontainers.ContainerRequest{
		Image:        "python:3.12-alpine",
		ExposedPorts: []string{"8081/tcp"},
		Files:        files,
		Cmd:          []string{"python", "-m", "http.server", "8081", "--directory", "/srv/feed"},
		WaitingFor:   wait.ForHTTP("/v3/index.json").WithPort("8081/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "8081/tcp")
	require.NoError(t, err)

	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())
	cleanup := func() {
		_ = container.Terminate(context.Background())
	}
	return endpoint, cleanup
}
