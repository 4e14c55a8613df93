package storage

import (
	"path/filepath"
	"strings"
)

// maxFilenameLength bounds sanitized names so stored names stay well under
// common filesystem limits even after the timestamp and id prefix.
const maxFilenameLength = 200

var unsafeReplacer = strings.NewReplacer(
	"<", "_",
	">", "_",
	":", "_",
	"\"", "_",
	"/", "_",
	"\\", "_",
	"|", "_",
	"?", "_",
	"*", "_",
)

// sanitizeFilename strips path components, replaces characters that are
// unsafe in filenames, and truncates to maxFilenameLength while preserving
// the extension.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = unsafeReplacer.Replace(name)
	name = strings.Trim(name, ". ")

	if name == "" {
		name = "unnamed"
	}

	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) >= maxFilenameLength {
			ext = ""
		}
		name = name[:maxFilenameLength-len(ext)] + ext
	}

	return name
}
