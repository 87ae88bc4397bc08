// Package archive persists raw trade and depth-state lines to session-scoped
// gzip NDJSON logs, one file per (pair, kind) under
// <data_store_dir>/<connect_time>/. Grounded on the source program's
// inline gzip.open(path, "ab") append pattern (trading_bot/runners/
// analysis.py) and ndrandal-feed-simulator's directory/lifecycle idiom
// (os.MkdirAll, one writer opened-and-closed per batch).
package archive

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
)

// Kind distinguishes the two archived line types.
type Kind string

const (
	KindTrades Kind = "trades"
	KindDepth  Kind = "depth"
)

// Archiver appends NDJSON lines to <data_store_dir>/<connect_time>/<connect_time>_<pair>_<kind>.txt.gz.
// Each call opens the target file in append mode, writes one gzip member,
// and closes it — matching spec.md §5's "opened-and-closed per batch"
// policy so no file handle is held across ticks.
type Archiver struct {
	dataStoreDir string
	connectTime  int64
}

// New constructs an Archiver rooted at dataStoreDir for the given session's connect_time.
func New(dataStoreDir string, connectTime int64) *Archiver {
	return &Archiver{dataStoreDir: dataStoreDir, connectTime: connectTime}
}

// SessionDir returns <data_store_dir>/<connect_time>.
func (a *Archiver) SessionDir() string {
	return filepath.Join(a.dataStoreDir, fmt.Sprintf("%d", a.connectTime))
}

func (a *Archiver) path(pair string, kind Kind) string {
	return Path(a.dataStoreDir, a.connectTime, pair, kind)
}

// Path returns the archive file path for a given session, pair, and kind,
// independent of any particular Archiver instance — used by
// internal/replay to locate the files a prior session wrote.
func Path(dataStoreDir string, connectTime int64, pair string, kind Kind) string {
	return filepath.Join(dataStoreDir, fmt.Sprintf("%d", connectTime), fmt.Sprintf("%d_%s_%s.txt.gz", connectTime, pair, kind))
}

// AppendLines appends one NDJSON line per entry in `lines` (each without a
// trailing newline) to the pair's archive for `kind`, creating the session
// directory and file on first use.
func (a *Archiver) AppendLines(pair string, kind Kind, lines [][]byte) error {
	if len(lines) == 0 {
		return nil
	}

	if err := os.MkdirAll(a.SessionDir(), 0o755); err != nil {
		return fmt.Errorf("archive: mkdir session dir: %w", err)
	}

	f, err := os.OpenFile(a.path(pair, kind), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("archive: open %s archive for %s: %w", kind, pair, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	for _, line := range lines {
		if _, err := gz.Write(line); err != nil {
			gz.Close()
			return fmt.Errorf("archive: write %s line for %s: %w", kind, pair, err)
		}
		if _, err := gz.Write([]byte("\n")); err != nil {
			gz.Close()
			return fmt.Errorf("archive: write newline for %s: %w", pair, err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("archive: close gzip member for %s: %w", pair, err)
	}
	return nil
}
