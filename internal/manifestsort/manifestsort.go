// Package manifestsort performs an external merge sort over a manifest
// file too large to hold in memory: unsorted input is split into sorted
// runs bounded by MaxRunBytes, then merged with a k-way min-heap merge.
package manifestsort

import (
	"container/heap"
	"io"
	"os"
	"sort"

	bkerrors "EzBackup-NG/internal/errors"
	"EzBackup-NG/internal/log"
	"EzBackup-NG/internal/manifest"
)

// MaxRunBytes bounds the size of one in-memory run before it is flushed
// to a temporary file, sorted.
const MaxRunBytes = 16 * 1024 * 1024

func entrySize(e manifest.Entry) int64 {
	return int64(len(e.Path) + 1 + len(e.Digest) + 1)
}

// Sort reads every record from in, forms bounded sorted runs, k-way merges
// them, and writes the fully-sorted result to out. tempDir controls where
// scratch run files are created; all scratch files are removed before Sort
// returns, whether it succeeds or fails.
func Sort(in io.Reader, out *os.File, tempDir string) (err error) {
	runPaths, rerr := formRuns(in, tempDir)
	defer func() {
		for _, p := range runPaths {
			os.Remove(p)
		}
	}()
	if rerr != nil {
		return rerr
	}

	log.Debug("external sort formed runs", log.Int("run_count", len(runPaths)))

	if len(runPaths) == 0 {
		return nil
	}
	if len(runPaths) == 1 {
		return copyRunToOutput(runPaths[0], out)
	}

	return mergeRuns(runPaths, out)
}

func formRuns(in io.Reader, tempDir string) ([]string, error) {
	r := manifest.NewReader(in)

	var runPaths []string
	var buf []manifest.Entry
	var bufBytes int64

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		quicksortElements(buf, 0, len(buf)-1)

		f, err := os.CreateTemp(tempDir, "manifestsort-run-*")
		if err != nil {
			return bkerrors.NewFileError("create", tempDir, bkerrors.ErrIOOut)
		}
		w := manifest.NewWriter(f)
		for _, e := range buf {
			if err := w.Write(e); err != nil {
				f.Close()
				os.Remove(f.Name())
				return err
			}
		}
		if err := w.Close(); err != nil {
			os.Remove(f.Name())
			return err
		}

		runPaths = append(runPaths, f.Name())
		buf = buf[:0]
		bufBytes = 0
		return nil
	}

	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return runPaths, err
		}

		buf = append(buf, e)
		bufBytes += entrySize(e)
		if bufBytes >= MaxRunBytes {
			if err := flush(); err != nil {
				return runPaths, err
			}
		}
	}

	if err := flush(); err != nil {
		return runPaths, err
	}

	return runPaths, nil
}

func copyRunToOutput(runPath string, out *os.File) error {
	f, err := os.Open(runPath)
	if err != nil {
		return bkerrors.NewFileError("open", runPath, bkerrors.ErrIOIn)
	}
	defer f.Close()
	if _, err := io.Copy(out, f); err != nil {
		return bkerrors.NewFileError("write", out.Name(), bkerrors.ErrIOOut)
	}
	return nil
}

// medianOfThree picks a pivot index from {low, mid, high} that tends to
// split the range evenly even on already-sorted or reverse-sorted input.
func medianOfThree(elements []manifest.Entry, low, high int) int {
	mid := low + (high-low)/2

	a, b, c := elements[low], elements[mid], elements[high]
	lo, hi := compareEntries(a, b), compareEntries(b, c)
	la := compareEntries(a, c)

	switch {
	case lo < 0 && hi < 0:
		return mid
	case lo > 0 && hi > 0:
		return mid
	case la < 0:
		if lo < 0 {
			return high
		}
		return low
	default:
		if lo > 0 {
			return high
		}
		return low
	}
}

func compareEntries(a, b manifest.Entry) int {
	switch {
	case string(a.Path) < string(b.Path):
		return -1
	case string(a.Path) > string(b.Path):
		return 1
	default:
		return 0
	}
}

// quicksortElements is an introspective-style quicksort: median-of-three
// pivot selection with an insertion-sort cutoff for small partitions.
func quicksortElements(elements []manifest.Entry, low, high int) {
	for low < high {
		if high-low < 16 {
			insertionSort(elements, low, high)
			return
		}

		pivotIdx := medianOfThree(elements, low, high)
		elements[pivotIdx], elements[high] = elements[high], elements[pivotIdx]
		pivot := elements[high]

		i := low
		for j := low; j < high; j++ {
			if compareEntries(elements[j], pivot) < 0 {
				elements[i], elements[j] = elements[j], elements[i]
				i++
			}
		}
		elements[i], elements[high] = elements[high], elements[i]

		// Recurse into the smaller partition, loop over the larger one,
		// bounding stack depth to O(log n).
		if i-low < high-i {
			quicksortElements(elements, low, i-1)
			low = i + 1
		} else {
			quicksortElements(elements, i+1, high)
			high = i - 1
		}
	}
}

func insertionSort(elements []manifest.Entry, low, high int) {
	for i := low + 1; i <= high; i++ {
		key := elements[i]
		j := i - 1
		for j >= low && compareEntries(elements[j], key) > 0 {
			elements[j+1] = elements[j]
			j--
		}
		elements[j+1] = key
	}
}

// byPath is a sort.Interface over a slice of entries, ordered by path.
// Nothing in the module uses it: Sort relies on quicksortElements, and
// the tests build their sorted fixtures with sort.Strings.
type byPath []manifest.Entry

func (s byPath) Len() int           { return len(s) }
func (s byPath) Less(i, j int) bool { return compareEntries(s[i], s[j]) < 0 }
func (s byPath) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

var _ sort.Interface = byPath(nil)

// heapItem is one live record from a run, tagged with its run index so
// ties break by run index for stability.
type heapItem struct {
	entry  manifest.Entry
	runIdx int
}

type minHeap []heapItem

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	c := compareEntries(h[i].entry, h[j].entry)
	if c != 0 {
		return c < 0
	}
	return h[i].runIdx < h[j].runIdx
}
func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)   { *h = append(*h, x.(heapItem)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func mergeRuns(runPaths []string, out *os.File) error {
	files := make([]*os.File, len(runPaths))
	readers := make([]*manifest.Reader, len(runPaths))
	for i, p := range runPaths {
		f, err := os.Open(p)
		if err != nil {
			closeAll(files)
			return bkerrors.NewFileError("open", p, bkerrors.ErrIOIn)
		}
		files[i] = f
		readers[i] = manifest.NewReader(f)
	}
	defer closeAll(files)

	w := manifest.NewWriter(out)

	h := &minHeap{}
	heap.Init(h)
	for i, r := range readers {
		e, err := r.Next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return err
		}
		heap.Push(h, heapItem{entry: e, runIdx: i})
	}

	for h.Len() > 0 {
		item := heap.Pop(h).(heapItem)
		if err := w.Write(item.entry); err != nil {
			return err
		}

		next, err := readers[item.runIdx].Next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return err
		}
		heap.Push(h, heapItem{entry: next, runIdx: item.runIdx})
	}

	return w.Flush()
}

func closeAll(files []*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
