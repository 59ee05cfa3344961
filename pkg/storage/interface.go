package storage

// Writer persists crawl output below a single root directory.
// Paths are relative to the root and slash-separated.
type Writer interface {
	// EnsureRoot creates the root directory if needed
	EnsureRoot() error

	// WriteFile writes data to relPath, creating parent directories as needed
	WriteFile(relPath string, data []byte) error

	// Exists reports whether relPath is already present in the output tree
	Exists(relPath string) bool

	// Root returns the absolute root directory
	Root() string
}
