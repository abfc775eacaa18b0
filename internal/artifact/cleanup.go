package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SweepResult reports what one sweep did.
type SweepResult struct {
	Scanned int
	Removed int
	Failed  int
}

// SweepExpired deletes every artifact, and every temporary file left by an
// interrupted write, whose modification time is more than maxAge in the
// past. A file that cannot be inspected or removed is logged
// and counted, and the sweep carries on with the rest.
func (s *Store) SweepExpired(maxAge time.Duration) SweepResult {
	var res SweepResult

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("artifact sweep: failed to read directory", "dir", s.dir, "error", err)
		return res
	}

	cutoff := s.now().Add(-maxAge)
	for _, entry := range entries {
		if !sweepable(entry.Name()) {
			continue
		}
		res.Scanned++

		info, err := entry.Info()
		if err != nil {
			if !os.IsNotExist(err) {
				res.Failed++
				s.logger.Warn("artifact sweep: failed to stat file", "name", entry.Name(), "error", err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			res.Failed++
			s.logger.Warn("artifact sweep: failed to remove file", "name", entry.Name(), "error", err)
			continue
		}
		res.Removed++
	}

	if res.Removed > 0 || res.Failed > 0 {
		s.logger.Info("artifact sweep", "scanned", res.Scanned, "removed", res.Removed, "failed", res.Failed)
	}
	return res
}

func sweepable(name string) bool {
	return filepath.Ext(name) == fileExt || strings.HasPrefix(name, tmpPrefix)
}

// StartSweeper runs a background goroutine that calls SweepExpired once
// right away and then every interval. The goroutine stops when ctx is
// cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		s.SweepExpired(maxAge)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepExpired(maxAge)
			}
		}
	}()
}
