package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DiskUsageBytes returns the total size of the given files and directories.
// Missing paths count as zero; an empty path is ignored.
func DiskUsageBytes(paths ...string) (int64, error) {
	return usage(nil, paths...)
}

// recordUsageBytes sums the document record files in dir, skipping temp files
// left by an interrupted write.
func recordUsageBytes(dir string) (int64, error) {
	return usage(isRecordFile, dir)
}

func isRecordFile(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}

func usage(keep func(name string) bool, paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || (keep != nil && !keep(d.Name())) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, err
		}
	}
	return total, nil
}
