package config

import (
	"os"
	"path/filepath"
	"strings"
)

// NormalizeDBPath rewrites a configured database location into a .db file
// path. Earlier releases stored tasks in a JSON file; pointing at one of
// those keeps the location but switches the extension, so the legacy
// import can find the old file sitting next to the new database. A path
// with no extension gets .db appended.
func NormalizeDBPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasSuffix(path, ".json") {
		return strings.TrimSuffix(path, ".json") + ".db"
	}
	if filepath.Ext(path) == "" {
		return path + ".db"
	}
	return path
}

// ExpandHome resolves a leading ~ against the user home directory.
func ExpandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
