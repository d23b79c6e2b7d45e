package models

// ExtractedFile is one source file pulled out of an uploaded archive.
// Owned by a single review run and immutable once read.
type ExtractedFile struct {
	Path         string // absolute path inside the extraction dir
	RelativePath string // path relative to the archive root
	Content      string
	ContentHash  string // sha-256 of content, hex
	SizeBytes    int64
	Extension    string // lowercased, including the dot
}
