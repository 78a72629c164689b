package e2e

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"package-mirror/tests/testutil"
)

func TestAddAndExportCommandE2E(t *testing.T) {
	root := testutil.RepoRoot(t)
	feed := testutil.NewFeedServer(t,
		testutil.Package{ID: "Widgets.Core", Version: "1.0.0"},
		testutil.Package{ID: "Widgets.Core", Version: "1.1.0"},
	)
	local := filepath.Join(t.TempDir(), "mirror")
	manifest := filepath.Join(t.TempDir(), "offline.yaml")

	run := func(args ...string) {
		t.Helper()
		args = append([]string{"run", "./cmd/package-mirror"}, args...)
		cmd := exec.Command("go", args...)
		cmd.Dir = root
		cmd.Env = append(os.Environ(),
			"GO111MODULE=on",
			"PACKAGE_MIRROR_UPSTREAM="+feed.URL,
			"PACKAGE_MIRROR_LOCAL="+local,
			"PACKAGE_MIRROR_STAGING_DIR="+t.TempDir(),
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}

	run("add", "Widgets.Core")
	run("list", "--export", manifest)

	require.FileExists(t, filepath.Join(local, "widgets.core", "1.1.0", "widgets.core.1.1.0.nupkg"))
	require.FileExists(t, filepath.Join(local, "widgets.core", "1.1.0", "widgets.core.1.1.0.nupkg.sha512"))
	require.FileExists(t, manifest)
}
