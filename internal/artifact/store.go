// Package artifact stores generated speech audio on disk and serves it back
// to the telephony provider until it ages out.
package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MountPath is the URL prefix artifacts are served under.
const MountPath = "/audio/"

const fileExt = ".mp3"

// tmpPrefix names in-progress writes. A crash can leave them behind; the
// sweeper removes them once they expire.
const tmpPrefix = ".tmp-"

// ErrNotFound is returned by Open for unknown or evicted artifacts.
var ErrNotFound = errors.New("artifact not found")

// Artifact is one synthesized speech clip written to the store.
type Artifact struct {
	ID        string
	Name      string // file name, ID plus extension
	Path      string // absolute path on disk
	CallID    string
	Size      int64
	CreatedAt time.Time
}

// RetrievalPath returns the path the artifact is served at.
func (a Artifact) RetrievalPath() string {
	return MountPath + a.Name
}

// Store manages generated audio files in a single directory. Writes use
// unique names, so concurrent writers never collide.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates the directory if needed and returns a store rooted there.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving audio directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("creating audio directory: %w", err)
	}
	return &Store{
		dir:    abs,
		logger: logger.With("subsystem", "artifacts"),
		now:    time.Now,
	}, nil
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

// Write persists data as a new artifact for callID. The file is written to a
// temporary name and then linked into place, so a reader never sees a
// partial file and an existing artifact is never replaced.
func (s *Store) Write(callID string, data []byte) (Artifact, error) {
	if len(data) == 0 {
		return Artifact{}, fmt.Errorf("writing artifact: empty payload")
	}

	created := s.now()
	id := newID(callID, created)
	name := id + fileExt
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return Artifact{}, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Artifact{}, fmt.Errorf("writing artifact %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, fmt.Errorf("closing artifact %s: %w", name, err)
	}

	// os.Link fails if the target exists.
	if err := os.Link(tmpPath, path); err != nil {
		return Artifact{}, fmt.Errorf("publishing artifact %s: %w", name, err)
	}

	s.logger.Debug("artifact written", "call_id", callID, "name", name, "bytes", len(data))

	return Artifact{
		ID:        id,
		Name:      name,
		Path:      path,
		CallID:    callID,
		Size:      int64(len(data)),
		CreatedAt: created,
	}, nil
}

// URL returns the absolute URL for a, given the externally visible origin
// (scheme://host[:port]) of the current request.
func (s *Store) URL(a Artifact, origin string) string {
	return strings.TrimRight(origin, "/") + a.RetrievalPath()
}

// Open returns the file for the artifact with the given name. Names that do
// not refer to a plain artifact file inside the store yield ErrNotFound.
func (s *Store) Open(name string) (*os.File, os.FileInfo, error) {
	if name == "" || name != filepath.Base(name) || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
		return nil, nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("opening artifact %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat artifact %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

// Count returns the number of artifacts currently on disk.
func (s *Store) Count() (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileExt))
	if err != nil {
		return 0, fmt.Errorf("listing artifacts: %w", err)
	}
	return len(matches), nil
}

// newID derives an artifact id from the call id and creation time. The
// random suffix keeps ids unique when one call generates several clips
// within the same clock tick.
func newID(callID string, created time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s_%d_%s", sanitize(callID), created.UnixMilli(), suffix)
}

// sanitize keeps call ids safe for use in file names.
func sanitize(callID string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, callID)
	if cleaned == "" {
		return "call"
	}
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}
	return cleaned
}
