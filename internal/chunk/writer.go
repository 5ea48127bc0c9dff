package chunk

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// runDirFormat names the per-run directory after the source file and
// the wall-clock second the run started.
const runDirFormat = "20060102_150405"

// Chunk describes one sealed chunk file on disk.
type Chunk struct {
	Index int    // 1-based position within the run
	Path  string // location of the chunk file
	Rows  int    // data rows, header excluded
	Bytes int64  // file size on disk
}

// Name returns the bare file name of the chunk.
func (c Chunk) Name() string { return filepath.Base(c.Path) }

// Writer splits one source CSV into chunk files inside a per-run
// directory created next to the source.
type Writer struct {
	base      string
	dir       string
	delivered string
	maxBytes  int64
}

// NewWriter prepares the run directory for source, including the
// delivered subdirectory, and returns a Writer that seals chunks once
// their accounted payload would exceed maxBytes.
func NewWriter(source string, maxBytes int64, now time.Time) (*Writer, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("chunk: max bytes must be positive, got %d", maxBytes)
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	dir := filepath.Join(filepath.Dir(source), base+"_"+now.Format(runDirFormat))
	delivered := filepath.Join(dir, "delivered")
	if err := os.MkdirAll(delivered, 0o755); err != nil {
		return nil, fmt.Errorf("chunk: create run dir: %w", err)
	}
	return &Writer{base: base, dir: dir, delivered: delivered, maxBytes: maxBytes}, nil
}

// Dir returns the run directory holding the chunk files.
func (w *Writer) Dir() string { return w.dir }

// DeliveredDir returns the subdirectory that delivered chunks are
// moved into.
func (w *Writer) DeliveredDir() string { return w.delivered }

// Split reads CSV rows from r and writes them into numbered chunk
// files, invoking fn after each chunk is sealed. Lines before
// headerLine are discarded, the line at headerLine becomes the header
// replicated into every chunk, and the rows after it are the payload.
// Header line values below 1 are treated as 1.
//
// A row's accounted size is the length of its comma-joined fields plus
// one newline byte. A chunk is sealed before appending a row that
// would push it past the ceiling, so each row lands in exactly one
// chunk. If fn returns an error the split stops and that error is
// returned.
func (w *Writer) Split(r io.Reader, headerLine int, fn func(Chunk) error) error {
	if headerLine < 1 {
		headerLine = 1
	}
	cr := csv.NewReader(r)
	// Exports in the wild have ragged rows and stray quotes; accept
	// both rather than abort a multi-gigabyte run on one odd line.
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var header []string
	for i := 0; i < headerLine; i++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return fmt.Errorf("chunk: source ends before header line %d", headerLine)
		}
		if err != nil {
			return fmt.Errorf("chunk: read header: %w", err)
		}
		header = rec
	}

	var (
		buf   [][]string
		size  int64
		index int
	)
	seal := func() error {
		index++
		c, err := w.writeChunk(index, header, buf)
		if err != nil {
			return err
		}
		buf = buf[:0]
		size = 0
		if fn != nil {
			return fn(c)
		}
		return nil
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("chunk: read row: %w", err)
		}
		rowSize := int64(len(strings.Join(rec, ","))) + 1
		if size+rowSize > w.maxBytes && len(buf) > 0 {
			if err := seal(); err != nil {
				return err
			}
		}
		buf = append(buf, rec)
		size += rowSize
	}
	if len(buf) > 0 {
		return seal()
	}
	return nil
}

// MarkDelivered moves a sealed chunk into the delivered subdirectory
// and returns its new path. The move is the only durable record that
// the chunk reached the remote end.
func (w *Writer) MarkDelivered(c Chunk) (string, error) {
	dst := filepath.Join(w.delivered, c.Name())
	if err := os.Rename(c.Path, dst); err != nil {
		return "", fmt.Errorf("chunk: mark delivered: %w", err)
	}
	return dst, nil
}

func (w *Writer) writeChunk(index int, header []string, rows [][]string) (Chunk, error) {
	name := fmt.Sprintf("%s_%d.csv", w.base, index)
	path := filepath.Join(w.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return Chunk{}, fmt.Errorf("chunk: create %s: %w", name, err)
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		f.Close()
		return Chunk{}, fmt.Errorf("chunk: write header to %s: %w", name, err)
	}
	if err := cw.WriteAll(rows); err != nil {
		f.Close()
		return Chunk{}, fmt.Errorf("chunk: write rows to %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return Chunk{}, fmt.Errorf("chunk: close %s: %w", name, err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return Chunk{}, fmt.Errorf("chunk: stat %s: %w", name, err)
	}
	return Chunk{Index: index, Path: path, Rows: len(rows), Bytes: fi.Size()}, nil
}
