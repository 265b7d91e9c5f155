package scanner

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/dl-alexandre/drivesync/internal/localfs"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/sync/checksum"
	"github.com/dl-alexandre/drivesync/internal/sync/exclude"
	"github.com/dl-alexandre/drivesync/internal/sync/index"
	"github.com/dl-alexandre/drivesync/internal/types"
)

// ScanLocal walks root and returns every file and folder below it, sorted by
// relative path. Symlinks and excluded paths are skipped. A file whose size
// and modification time match its tracked record reuses the tracked hash
// instead of being read again.
func ScanLocal(ctx context.Context, fs localfs.Provider, root string, matcher *exclude.Matcher, prev map[string]index.Record, logger logging.Logger) ([]types.LocalEntry, error) {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	var entries []types.LocalEntry
	hashed, reused := 0, 0

	err := fs.Walk(root, func(current string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(root, current)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = path.Clean(filepath.ToSlash(rel))

		if info.Mode()&os.ModeSymlink != 0 {
			logger.Debug("Skipping symlink", logging.F("path", rel))
			return nil
		}

		if matcher != nil && matcher.IsExcluded(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			entries = append(entries, types.LocalEntry{
				RelativePath: rel,
				Name:         info.Name(),
				IsDir:        true,
				ModifiedTime: info.ModTime().UTC(),
			})
			return nil
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		hash := ""
		prevRecord, ok := prev[rel]
		if ok && !prevRecord.IsDir && prevRecord.LocalHash != "" && prevRecord.Size == info.Size() &&
			prevRecord.LocalMTime.UnixMilli() == info.ModTime().UnixMilli() {
			hash = prevRecord.LocalHash
			reused++
		} else {
			hash, err = checksum.File(fs.Fs(), current)
			if err != nil {
				return err
			}
			hashed++
		}

		entries = append(entries, types.LocalEntry{
			RelativePath: rel,
			Name:         info.Name(),
			Size:         info.Size(),
			ModifiedTime: info.ModTime().UTC(),
			ContentHash:  hash,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelativePath < entries[j].RelativePath
	})

	logger.Debug("Local scan finished",
		logging.F("root", root),
		logging.F("entries", len(entries)),
		logging.F("hashed", hashed),
		logging.F("reusedHashes", reused),
	)
	return entries, nil
}
