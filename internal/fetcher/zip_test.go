package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, files map[string]string, order []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
	return path
}

func TestExtractZIP_FiltersBySuffix(t *testing.T) {
	order := []string{"g2015_1/README.txt", "g2015_1/level1.SHP", "g2015_1/level1.dbf", "g2015_1/level1.shx"}
	files := map[string]string{order[0]: "read me", order[1]: "shp", order[2]: "dbf", order[3]: "shx"}
	zipPath := writeZip(t, files, order)
	dest := t.TempDir()

	paths, err := ExtractZIP(zipPath, dest, ".shp", ".dbf", ".shx")
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dest, "g2015_1", "level1.SHP"), paths[0])

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, "dbf", string(data))
	_, err = os.Stat(filepath.Join(dest, "g2015_1", "README.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractZIP_AllFiles(t *testing.T) {
	zipPath := writeZip(t, map[string]string{"a.geojson": "{}", "b.txt": "x"}, []string{"a.geojson", "b.txt"})
	paths, err := ExtractZIP(zipPath, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestExtractZIP_RejectsZipSlip(t *testing.T) {
	zipPath := writeZip(t, map[string]string{"../evil.shp": "x"}, []string{"../evil.shp"})
	_, err := ExtractZIP(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip slip")
}

func TestExtractZIP_MissingArchive(t *testing.T) {
	_, err := ExtractZIP(filepath.Join(t.TempDir(), "nope.zip"), t.TempDir())
	assert.Error(t, err)
}
