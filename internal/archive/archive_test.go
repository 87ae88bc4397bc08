package archive

import (
	"bufio"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func readAllLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gr.Close()

	var lines []string
	sc := bufio.NewScanner(gr)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestAppendLinesCreatesSessionDirAndFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := New(dir, 1700000000000)

	if err := a.AppendLines("btcusdt", KindTrades, [][]byte{[]byte(`{"price":1}`)}); err != nil {
		t.Fatalf("AppendLines: %v", err)
	}

	wantPath := filepath.Join(dir, "1700000000000", "1700000000000_btcusdt_trades.txt.gz")
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("expected archive file at %s: %v", wantPath, err)
	}

	lines := readAllLines(t, wantPath)
	if len(lines) != 1 || lines[0] != `{"price":1}` {
		t.Errorf("lines = %v, want one trade line", lines)
	}
}

func TestAppendLinesAppendsAcrossCalls(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := New(dir, 1)

	if err := a.AppendLines("ethusdt", KindDepth, [][]byte{[]byte("first")}); err != nil {
		t.Fatalf("AppendLines 1: %v", err)
	}
	if err := a.AppendLines("ethusdt", KindDepth, [][]byte{[]byte("second"), []byte("third")}); err != nil {
		t.Fatalf("AppendLines 2: %v", err)
	}

	lines := readAllLines(t, filepath.Join(dir, "1", "1_ethusdt_depth.txt.gz"))
	if len(lines) != 3 || lines[0] != "first" || lines[2] != "third" {
		t.Errorf("lines = %v, want [first second third] (multi-member gzip append)", lines)
	}
}

func TestAppendLinesEmptyIsNoOp(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := New(dir, 1)

	if err := a.AppendLines("btcusdt", KindTrades, nil); err != nil {
		t.Fatalf("AppendLines: %v", err)
	}
	if _, err := os.Stat(a.SessionDir()); err == nil {
		t.Error("expected no session dir created for a zero-line append")
	}
}
