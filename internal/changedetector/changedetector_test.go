package changedetector

import (
	"os"
	"path/filepath"
	"testing"

	"EzBackup-NG/internal/digest"
	"EzBackup-NG/internal/manifest"
	"EzBackup-NG/internal/manifestsort"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func sortedManifestFrom(t *testing.T, entries []manifest.Entry) *os.File {
	t.Helper()
	unsortedPath := filepath.Join(t.TempDir(), "unsorted")
	uf, _ := os.Create(unsortedPath)
	w := manifest.NewWriter(uf)
	for _, e := range entries {
		w.Write(e)
	}
	w.Close()

	uf2, _ := os.Open(unsortedPath)
	defer uf2.Close()

	sortedPath := filepath.Join(t.TempDir(), "sorted")
	sf, _ := os.Create(sortedPath)
	if err := manifestsort.Sort(uf2, sf, t.TempDir()); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	sf.Close()

	rf, _ := os.Open(sortedPath)
	t.Cleanup(func() { rf.Close() })
	return rf
}

func TestClassifyAddedWithNoPreviousManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "new.txt", "hello")

	curPath := filepath.Join(t.TempDir(), "current")
	cf, _ := os.Create(curPath)
	w := manifest.NewWriter(cf)

	d := New("sha256", nil, w, nil)
	c, err := d.Classify(path)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c != Added {
		t.Fatalf("expected Added, got %v", c)
	}
	w.Close()

	rf, _ := os.Open(curPath)
	defer rf.Close()
	r := manifest.NewReader(rf)
	e, err := r.Next()
	if err != nil {
		t.Fatalf("expected a manifest entry to be appended: %v", err)
	}
	if string(e.Path) != path {
		t.Fatalf("expected appended path %s, got %s", path, e.Path)
	}
}

func TestClassifyUnchangedWhenDigestMatches(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "stable.txt", "same content")

	existingDigest, err := digest.Compute(path, "sha256")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	prev := sortedManifestFrom(t, []manifest.Entry{{Path: []byte(path), Digest: existingDigest}})

	curPath := filepath.Join(t.TempDir(), "current")
	cf, _ := os.Create(curPath)
	w := manifest.NewWriter(cf)

	d := New("sha256", prev, w, nil)
	c, err := d.Classify(path)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c != Unchanged {
		t.Fatalf("expected Unchanged, got %v", c)
	}
}

func TestClassifyChangedWhenDigestDiffers(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mutated.txt", "new content")

	prev := sortedManifestFrom(t, []manifest.Entry{{Path: []byte(path), Digest: "0000000000000000000000000000000000000000000000000000000000000000"}})

	curPath := filepath.Join(t.TempDir(), "current")
	cf, _ := os.Create(curPath)
	w := manifest.NewWriter(cf)

	d := New("sha256", prev, w, nil)
	c, err := d.Classify(path)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c != Changed {
		t.Fatalf("expected Changed, got %v", c)
	}
}

func TestExcludedDirectory(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "skip.txt", "x")

	d := New("sha256", nil, nil, []string{dir})
	if !d.Excluded(path) {
		t.Fatal("expected excluded directory to be skipped")
	}
}

func TestExcludedLostAndFound(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lost+found")
	os.MkdirAll(dir, 0o755)
	path := writeFile(t, dir, "orphan.txt", "x")

	d := New("sha256", nil, nil, nil)
	if !d.Excluded(path) {
		t.Fatal("expected lost+found to be skipped")
	}
}

func TestNotExcludedByDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "keep.txt", "x")

	d := New("sha256", nil, nil, nil)
	if d.Excluded(path) {
		t.Fatal("expected ordinary directory not to be excluded")
	}
}
