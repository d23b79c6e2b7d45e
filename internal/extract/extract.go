// Package extract safely unpacks untrusted upload archives and filters the
// contents down to the source files worth analyzing.
package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/moltstore/appreview/internal/models"
)

var (
	// ErrUnsupportedArchive means the archive extension is not zip/tar/tar.gz.
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	// ErrTooLarge means the aggregate extracted size exceeds the limit.
	ErrTooLarge = errors.New("total code size exceeds limit")
	// ErrTooManyFiles means the extracted file count exceeds the limit.
	ErrTooManyFiles = errors.New("too many files in archive")
)

// Limits caps what a single archive may extract to.
type Limits struct {
	MaxFileSizeKB  int
	MaxTotalSizeKB int
	MaxFiles       int
}

// DefaultLimits mirrors the marketplace upload caps.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSizeKB:  500,
		MaxTotalSizeKB: 5000,
		MaxFiles:       100,
	}
}

// skipDirs are directory names never worth scanning.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
}

// excludedSuffixes are filename suffixes always skipped, even when the
// bare extension would be allowed (minified bundles, lockfiles, media).
var excludedSuffixes = []string{
	".min.js", ".min.css", ".bundle.js", ".map",
	".lock", ".log", ".svg", ".png", ".jpg", ".jpeg",
	".gif", ".ico", ".woff", ".woff2", ".ttf", ".eot",
	".mp3", ".mp4", ".wav", ".avi", ".mov", ".pdf",
	".zip", ".tar", ".gz", ".rar", ".7z",
}

// includedExtensions is the allow-list of source/text extensions.
var includedExtensions = map[string]bool{
	".js": true, ".ts": true, ".jsx": true, ".tsx": true, ".mjs": true, ".cjs": true,
	".py": true, ".rb": true, ".go": true, ".rs": true, ".java": true, ".kt": true,
	".php": true, ".cs": true, ".cpp": true, ".c": true, ".h": true, ".hpp": true,
	".swift": true, ".m": true, ".vue": true, ".svelte": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".xml": true,
	".sh": true, ".bash": true, ".zsh": true, ".ps1": true, ".bat": true, ".cmd": true,
	".sql": true, ".graphql": true, ".prisma": true,
	".md": true, ".txt": true, ".rst": true,
}

// includedSuffixes allows dotfile samples that the extension map cannot express.
var includedSuffixes = []string{".env.example", ".env.sample"}

// Extractor unpacks archives subject to Limits and optional extra
// exclusion globs (doublestar patterns matched against the relative path).
type Extractor struct {
	Limits       Limits
	ExcludeGlobs []string

	// Logf, when set, receives skip notices (non-UTF8 files etc.).
	Logf func(format string, args ...any)
}

// New returns an Extractor with the given limits.
func New(limits Limits) *Extractor {
	return &Extractor{Limits: limits}
}

// Extraction holds the result of unpacking one archive. The temp directory
// is owned by the caller until Close is called.
type Extraction struct {
	Files     []models.ExtractedFile
	TotalSize int64
	Dir       string
}

// Close removes the extraction directory. Safe to call multiple times.
func (e *Extraction) Close() error {
	if e.Dir == "" {
		return nil
	}
	err := os.RemoveAll(e.Dir)
	e.Dir = ""
	return err
}

// Extract unpacks the archive at archivePath into a fresh temp directory,
// walks it, and returns the filtered source files. The caller must Close
// the returned Extraction on every path; on error the partial extraction
// has already been cleaned up.
func (x *Extractor) Extract(ctx context.Context, archivePath string) (*Extraction, error) {
	dir, err := os.MkdirTemp("", "appreview-extract-*")
	if err != nil {
		return nil, fmt.Errorf("create extraction dir: %w", err)
	}

	ext := &Extraction{Dir: dir}
	if err := x.unpack(archivePath, dir); err != nil {
		_ = ext.Close()
		return nil, err
	}

	files, totalSize, err := x.walk(ctx, dir)
	if err != nil {
		_ = ext.Close()
		return nil, err
	}

	if totalSize > int64(x.Limits.MaxTotalSizeKB)*1024 {
		_ = ext.Close()
		return nil, fmt.Errorf("%w: %dKB > %dKB", ErrTooLarge, totalSize/1024, x.Limits.MaxTotalSizeKB)
	}
	if len(files) > x.Limits.MaxFiles {
		_ = ext.Close()
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(files), x.Limits.MaxFiles)
	}

	ext.Files = files
	ext.TotalSize = totalSize
	return ext, nil
}

func (x *Extractor) unpack(archivePath, dir string) error {
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return unpackZip(archivePath, dir)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return unpackTar(archivePath, dir, true)
	case strings.HasSuffix(lower, ".tar"):
		return unpackTar(archivePath, dir, false)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Ext(archivePath))
	}
}

// securePath joins name under dir and rejects entries that escape it.
func securePath(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes extraction dir: %s", name)
	}
	return target, nil
}

func unpackZip(archivePath, dir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: open zip: %v", ErrUnsupportedArchive, err)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := securePath(dir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("extract %s: %w", f.Name, err)
			}
			continue
		}
		if !f.FileInfo().Mode().IsRegular() {
			continue // drop symlinks and specials from untrusted archives
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
		if err := writeEntry(target, func() (io.ReadCloser, error) { return f.Open() }); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func unpackTar(archivePath, dir string, gzipped bool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("%w: open gzip: %v", ErrUnsupportedArchive, err)
		}
		defer gz.Close()
		src = gz
	}

	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read tar: %v", ErrUnsupportedArchive, err)
		}

		target, err := securePath(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			if err := writeEntry(target, func() (io.ReadCloser, error) {
				return io.NopCloser(tr), nil
			}); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		default:
			// symlinks, devices, etc. are never extracted
		}
	}
}

func writeEntry(target string, open func() (io.ReadCloser, error)) error {
	src, err := open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

// walk reads all eligible files under dir, applying the skip rules.
func (x *Extractor) walk(ctx context.Context, dir string) ([]models.ExtractedFile, int64, error) {
	var files []models.ExtractedFile
	var totalSize int64

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := filepath.Rel(dir, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if skipDirs[d.Name()] || isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if info.Size() > int64(x.Limits.MaxFileSizeKB)*1024 {
			x.logf("skipping oversized file: %s (%dKB)", rel, info.Size()/1024)
			return nil
		}
		if !x.wantFile(rel) {
			return nil
		}

		content, readErr := os.ReadFile(p)
		if readErr != nil {
			x.logf("skipping unreadable file: %s", rel)
			return nil
		}
		if !utf8.Valid(content) {
			x.logf("skipping non-text file: %s", rel)
			return nil
		}

		sum := sha256.Sum256(content)
		files = append(files, models.ExtractedFile{
			Path:         p,
			RelativePath: rel,
			Content:      string(content),
			ContentHash:  hex.EncodeToString(sum[:]),
			SizeBytes:    info.Size(),
			Extension:    strings.ToLower(filepath.Ext(rel)),
		})
		totalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return files, totalSize, nil
}

// wantFile applies the suffix deny-list, hidden-segment rule, allow-list,
// and any configured exclude globs to a relative slash path.
func (x *Extractor) wantFile(rel string) bool {
	lower := strings.ToLower(rel)

	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	for _, seg := range strings.Split(rel, "/") {
		if isHidden(seg) {
			return false
		}
	}
	for _, glob := range x.ExcludeGlobs {
		if ok, _ := doublestar.Match(glob, rel); ok {
			return false
		}
	}

	for _, suffix := range includedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return includedExtensions[strings.ToLower(filepath.Ext(rel))]
}

// isHidden reports whether a path segment is a hidden file/dir, allowing
// the env sample files through.
func isHidden(name string) bool {
	if !strings.HasPrefix(name, ".") {
		return false
	}
	return name != ".env.example" && name != ".env.sample"
}

func (x *Extractor) logf(format string, args ...any) {
	if x.Logf != nil {
		x.Logf(format, args...)
	}
}

// Stats summarizes an extracted file set.
type Stats struct {
	TotalFiles  int
	TotalSize   int64
	ByExtension map[string]int
	AvgFileSize int64
}

// FileStats computes basic statistics over extracted files.
func FileStats(files []models.ExtractedFile) Stats {
	s := Stats{ByExtension: make(map[string]int)}
	for _, f := range files {
		s.TotalFiles++
		s.TotalSize += f.SizeBytes
		s.ByExtension[f.Extension]++
	}
	if s.TotalFiles > 0 {
		s.AvgFileSize = s.TotalSize / int64(s.TotalFiles)
	}
	return s
}
