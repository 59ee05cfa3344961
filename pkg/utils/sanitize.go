package utils

import (
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)                  // Pattern to replace multiple underscores with one

// MaxFilenameLength is the byte limit for a single path component on common filesystems
const MaxFilenameLength = 255

// SanitizeFilename cleans a string to be safe for use as a filename component.
// Names longer than MaxFilenameLength bytes are truncated on a rune boundary, keeping the extension.
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")       // Replace invalid chars with underscore
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_") // Collapse multiple underscores
	sanitized = strings.Trim(sanitized, "_ ")                           // Remove leading/trailing underscores or spaces

	if len(sanitized) > MaxFilenameLength {
		ext := path.Ext(sanitized)
		if len(ext) >= MaxFilenameLength/2 { // A pathological "extension" is just part of the name
			ext = ""
		}
		stem := TruncateBytes(strings.TrimSuffix(sanitized, ext), MaxFilenameLength-len(ext))
		sanitized = strings.TrimRight(stem, "_ ") + ext
	}

	if sanitized == "" || sanitized == "." || sanitized == ".." {
		sanitized = "untitled"
	}
	return sanitized
}

// TruncateBytes cuts s to at most n bytes without splitting a multi-byte rune
func TruncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
