package cdclog

import (
	"io/fs"
	"path/filepath"
)

// dirSizer is DirectorySizer: a straightforward filepath.WalkDir visitor (which
// visits each directory before its contents) that sums the size of every
// regular file under a directory. It does not follow symlinks.
// Concurrent walks are impossible by construction, since CdcSizeTracker only
// ever runs one at a time on its single-slot executor, so walk keeps its
// accumulator as a plain stack-local variable rather than anything shared.
type dirSizer struct{}

func (d dirSizer) walk(root string) (int64, error) {
	var total int64

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if entry.IsDir() {
			return nil
		}

		info, errA := entry.Info()
		if errA != nil {
			return errA
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}
