package filesystem

import (
	"os"
	"path/filepath"
	"strings"
)

// LocalPath converts a file:// URI or a ~-prefixed path to a local path.
// Other inputs pass through unchanged.
func LocalPath(uri string) string {
	if strings.HasPrefix(uri, "file://") {
		return strings.TrimPrefix(uri, "file://")
	}
	if uri == "~" || strings.HasPrefix(uri, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(uri, "~"))
		}
	}
	return uri
}
