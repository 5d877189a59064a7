package removeddiff

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"EzBackup-NG/internal/manifest"
)

func manifestReader(t *testing.T, paths []string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "m")
	f, _ := os.Create(path)
	w := manifest.NewWriter(f)
	for _, p := range paths {
		w.Write(manifest.Entry{Path: []byte(p), Digest: "d"})
	}
	w.Close()

	data, _ := os.ReadFile(path)
	buf.Write(data)
	return bytes.NewReader(buf.Bytes())
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestDiffDetectsRemovedPaths(t *testing.T) {
	prev := manifestReader(t, []string{"/a.txt", "/b.txt", "/c.txt"})
	cur := manifestReader(t, []string{"/a.txt", "/c.txt"})

	outPath := filepath.Join(t.TempDir(), "removed")
	out, _ := os.Create(outPath)
	if err := Diff(prev, cur, out); err != nil {
		t.Fatalf("Diff: %v", err)
	}
	out.Close()

	lines := readLines(t, outPath)
	if len(lines) != 1 || lines[0] != "/b.txt" {
		t.Fatalf("expected [/b.txt], got %v", lines)
	}
}

func TestDiffNoRemovals(t *testing.T) {
	prev := manifestReader(t, []string{"/a.txt", "/b.txt"})
	cur := manifestReader(t, []string{"/a.txt", "/b.txt", "/c.txt"})

	outPath := filepath.Join(t.TempDir(), "removed")
	out, _ := os.Create(outPath)
	if err := Diff(prev, cur, out); err != nil {
		t.Fatalf("Diff: %v", err)
	}
	out.Close()

	lines := readLines(t, outPath)
	if len(lines) != 0 {
		t.Fatalf("expected no removed paths, got %v", lines)
	}
}

func TestDiffEverythingRemoved(t *testing.T) {
	prev := manifestReader(t, []string{"/a.txt", "/b.txt"})
	cur := manifestReader(t, nil)

	outPath := filepath.Join(t.TempDir(), "removed")
	out, _ := os.Create(outPath)
	if err := Diff(prev, cur, out); err != nil {
		t.Fatalf("Diff: %v", err)
	}
	out.Close()

	lines := readLines(t, outPath)
	if len(lines) != 2 || lines[0] != "/a.txt" || lines[1] != "/b.txt" {
		t.Fatalf("expected [/a.txt /b.txt], got %v", lines)
	}
}

func TestDiffEmptyPrevious(t *testing.T) {
	prev := manifestReader(t, nil)
	cur := manifestReader(t, []string{"/a.txt"})

	outPath := filepath.Join(t.TempDir(), "removed")
	out, _ := os.Create(outPath)
	if err := Diff(prev, cur, out); err != nil {
		t.Fatalf("Diff: %v", err)
	}
	out.Close()

	lines := readLines(t, outPath)
	if len(lines) != 0 {
		t.Fatalf("expected no removed paths, got %v", lines)
	}
}
