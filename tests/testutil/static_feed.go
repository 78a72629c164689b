package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteStaticFeed lays out a read-only v3 feed under dir/v3 that any static
// file server can host. It has no search resource. The returned path is
// the service index relative to dir.
func WriteStaticFeed(t *testing.T, dir string, packages ...Package) string {
	t.Helper()
	byID := map[string][]Package{}
	for _, p := range packages {
		key := strings.ToLower(p.ID)
		byID[key] = append(byID[key], p)
	}

	root := filepath.Join(dir, "v3")
	writeJSONFile(t, filepath.Join(root, "index.json"), serviceIndexDocument(false))
	for id, list := range byID {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Version < list[j].Version })
		writeJSONFile(t, filepath.Join(root, "flat", id, "index.json"), flatVersionsDocument(list))
		writeJSONFile(t, filepath.Join(root, "registration", id, "index.json"), registrationDocument(list))
		for _, p := range list {
			WriteNupkg(t, filepath.Join(root, "flat", id, strings.ToLower(p.Version)), p)
		}
	}
	return "v3/index.json"
}

func writeJSONFile(t *testing.T, path string, payload any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
