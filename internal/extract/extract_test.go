package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeZip creates a zip archive at path with the given name->content entries.
func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range entries {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func writeTarGz(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err = tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func TestExtract_Zip(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "app.zip")
	writeZip(t, archive, map[string]string{
		"index.js":     "console.log('hi')\n",
		"lib/util.ts":  "export const x = 1\n",
		"package.json": "{}\n",
	})

	x := New(DefaultLimits())
	ext, err := x.Extract(context.Background(), archive)
	require.NoError(t, err)
	defer ext.Close()

	require.Len(t, ext.Files, 3)
	paths := make([]string, len(ext.Files))
	for i, f := range ext.Files {
		paths[i] = f.RelativePath
	}
	assert.Contains(t, paths, "index.js")
	assert.Contains(t, paths, "lib/util.ts")
	assert.Contains(t, paths, "package.json")

	for _, f := range ext.Files {
		assert.NotEmpty(t, f.Content)
		assert.Len(t, f.ContentHash, 64)
		assert.Equal(t, int64(len(f.Content)), f.SizeBytes)
	}
}

func TestExtract_TarGz(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "app.tar.gz")
	writeTarGz(t, archive, map[string]string{
		"main.py": "print('hi')\n",
	})

	x := New(DefaultLimits())
	ext, err := x.Extract(context.Background(), archive)
	require.NoError(t, err)
	defer ext.Close()

	require.Len(t, ext.Files, 1)
	assert.Equal(t, "main.py", ext.Files[0].RelativePath)
	assert.Equal(t, ".py", ext.Files[0].Extension)
}

func TestExtract_UnsupportedFormat(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "app.rar")
	require.NoError(t, os.WriteFile(archive, []byte("not an archive"), 0o644))

	x := New(DefaultLimits())
	_, err := x.Extract(context.Background(), archive)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedArchive)
}

func TestExtract_Filtering(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "app.zip")
	writeZip(t, archive, map[string]string{
		"index.js":               "ok\n",
		"bundle.min.js":          "skip: minified\n",
		"logo.svg":               "skip: media\n",
		"node_modules/dep/a.js":  "skip: vendored\n",
		".git/config":            "skip: hidden dir\n",
		".hidden.js":             "skip: hidden file\n",
		".env.example":           "API_KEY=\n",
		"notes.unknownext":       "skip: extension not allowed\n",
		"src/components/app.tsx": "ok\n",
		"assets/styles.min.css":  "skip: minified\n",
	})

	x := New(DefaultLimits())
	ext, err := x.Extract(context.Background(), archive)
	require.NoError(t, err)
	defer ext.Close()

	var paths []string
	for _, f := range ext.Files {
		paths = append(paths, f.RelativePath)
	}
	assert.ElementsMatch(t, []string{"index.js", ".env.example", "src/components/app.tsx"}, paths)
}

func TestExtract_ExcludeGlobs(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "app.zip")
	writeZip(t, archive, map[string]string{
		"index.js":           "ok\n",
		"test/index.test.js": "excluded by glob\n",
	})

	x := New(DefaultLimits())
	x.ExcludeGlobs = []string{"test/**"}
	ext, err := x.Extract(context.Background(), archive)
	require.NoError(t, err)
	defer ext.Close()

	require.Len(t, ext.Files, 1)
	assert.Equal(t, "index.js", ext.Files[0].RelativePath)
}

func TestExtract_OversizedFileSkipped(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "app.zip")
	writeZip(t, archive, map[string]string{
		"big.js":   strings.Repeat("x", 2*1024),
		"small.js": "ok\n",
	})

	x := New(Limits{MaxFileSizeKB: 1, MaxTotalSizeKB: 5000, MaxFiles: 100})
	ext, err := x.Extract(context.Background(), archive)
	require.NoError(t, err)
	defer ext.Close()

	require.Len(t, ext.Files, 1)
	assert.Equal(t, "small.js", ext.Files[0].RelativePath)
}

func TestExtract_TotalSizeLimit(t *testing.T) {
	entries := map[string]string{}
	for i := 0; i < 3; i++ {
		entries[filepath.Join("src", string(rune('a'+i))+".js")] = strings.Repeat("y", 1024)
	}
	archive := filepath.Join(t.TempDir(), "app.zip")
	writeZip(t, archive, entries)

	x := New(Limits{MaxFileSizeKB: 10, MaxTotalSizeKB: 2, MaxFiles: 100})
	_, err := x.Extract(context.Background(), archive)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestExtract_TooManyFiles(t *testing.T) {
	entries := map[string]string{}
	for _, name := range []string{"a.js", "b.js", "c.js"} {
		entries[name] = "x\n"
	}
	archive := filepath.Join(t.TempDir(), "app.zip")
	writeZip(t, archive, entries)

	x := New(Limits{MaxFileSizeKB: 500, MaxTotalSizeKB: 5000, MaxFiles: 2})
	_, err := x.Extract(context.Background(), archive)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyFiles)
}

func TestExtract_ZipSlipRejected(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.zip")
	f, err := os.Create(archive)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	fw, err := w.Create("../escape.js")
	require.NoError(t, err)
	_, err = fw.Write([]byte("bad"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	x := New(DefaultLimits())
	_, err = x.Extract(context.Background(), archive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes extraction dir")
}

func TestExtract_NonUTF8Skipped(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "app.zip")
	f, err := os.Create(archive)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	fw, err := w.Create("binary.js")
	require.NoError(t, err)
	_, err = fw.Write([]byte{0xff, 0xfe, 0x00, 0x01})
	require.NoError(t, err)
	fw, err = w.Create("text.js")
	require.NoError(t, err)
	_, err = fw.Write([]byte("ok\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	x := New(DefaultLimits())
	ext, err := x.Extract(context.Background(), archive)
	require.NoError(t, err)
	defer ext.Close()

	require.Len(t, ext.Files, 1)
	assert.Equal(t, "text.js", ext.Files[0].RelativePath)
}

func TestExtraction_Close(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "app.zip")
	writeZip(t, archive, map[string]string{"a.js": "x\n"})

	x := New(DefaultLimits())
	ext, err := x.Extract(context.Background(), archive)
	require.NoError(t, err)

	dir := ext.Dir
	_, err = os.Stat(dir)
	require.NoError(t, err)

	require.NoError(t, ext.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// Close is idempotent.
	require.NoError(t, ext.Close())
}

func TestFileStats(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "app.zip")
	writeZip(t, archive, map[string]string{
		"a.js": "1234\n",
		"b.js": "5678\n",
		"c.py": "90\n",
	})

	x := New(DefaultLimits())
	ext, err := x.Extract(context.Background(), archive)
	require.NoError(t, err)
	defer ext.Close()

	stats := FileStats(ext.Files)
	assert.Equal(t, 3, stats.TotalFiles)
	assert.Equal(t, 2, stats.ByExtension[".js"])
	assert.Equal(t, 1, stats.ByExtension[".py"])
	assert.Equal(t, ext.TotalSize, stats.TotalSize)
}
