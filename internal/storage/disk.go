package storage

import (
	"os"
	"path/filepath"
)

// sidecars are the files SQLite keeps next to a WAL-mode database.
var sidecars = []string{"", "-wal", "-shm"}

// DatabaseFootprint returns the bytes used by a database file and its WAL and
// shared-memory sidecars. Missing files contribute 0.
func DatabaseFootprint(dbPath string) (int64, error) {
	if dbPath == "" {
		return 0, nil
	}
	paths := make([]string, 0, len(sidecars))
	for _, suffix := range sidecars {
		paths = append(paths, dbPath+suffix)
	}
	return DiskUsageBytes(paths...)
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths are skipped; errors during a walk are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.Walk(p, func(_ string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				total += fi.Size()
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
