package dataset

import (
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/samber/lo"
)

var ErrSchema = errors.New("schema mismatch")

type compression string

const (
	compressionNone  compression = "none"
	compressionGzip  compression = "gzip"
	compressionZip   compression = "zip"
	compressionBzip2 compression = "bzip2"
	compressionZstd  compression = "zstd"
)

var magicNumbers = []struct {
	prefix []byte
	kind   compression
}{
	{[]byte{0x1f, 0x8b}, compressionGzip},
	{[]byte("PK\x03\x04"), compressionZip},
	{[]byte("BZh"), compressionBzip2},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, compressionZstd},
}

// inferCompression looks at the file extension first and falls back to the
// leading magic bytes, so mislabelled files still decode.
func inferCompression(name string, head []byte) compression {
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".gz", ".gzip":
		return compressionGzip
	case ".zip":
		return compressionZip
	case ".bz2":
		return compressionBzip2
	case ".zst", ".zstd":
		return compressionZstd
	}
	for _, m := range magicNumbers {
		if bytes.HasPrefix(head, m.prefix) {
			return m.kind
		}
	}
	return compressionNone
}

// ErrTooLarge is returned when decompressed data exceeds the load ceiling.
var ErrTooLarge = errors.New("decompressed data exceeds size limit")

// ceilingReader fails once more than n bytes have been read.
type ceilingReader struct {
	r io.Reader
	n int64
}

func (c *ceilingReader) Read(p []byte) (int, error) {
	if c.n < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > c.n+1 {
		p = p[:c.n+1]
	}
	n, err := c.r.Read(p)
	c.n -= int64(n)
	if c.n < 0 {
		return 0, ErrTooLarge
	}
	return n, err
}

// decode decompresses raw as needed and parses the CSV inside it. At most
// limit decompressed bytes are read.
func decode(name string, raw []byte, limit int64) (*Table, error) {
	parse := func(r io.Reader) (*Table, error) {
		table, err := ParseCSV(&ceilingReader{r: r, n: limit})
		if errors.Is(err, ErrTooLarge) {
			return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
		}
		return table, err
	}

	switch inferCompression(name, raw) {
	case compressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer zr.Close()
		return parse(zr)

	case compressionZip:
		zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
		if err != nil {
			return nil, fmt.Errorf("failed to open zip archive: %w", err)
		}
		f, err := pickArchiveEntry(zr)
		if err != nil {
			return nil, err
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
		}
		defer rc.Close()
		return parse(rc)

	case compressionBzip2:
		return parse(bzip2.NewReader(bytes.NewReader(raw)))

	case compressionZstd:
		zr, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer zr.Close()
		return parse(zr)
	}
	return parse(bytes.NewReader(raw))
}

func pickArchiveEntry(zr *zip.Reader) (*zip.File, error) {
	files := lo.Filter(zr.File, func(f *zip.File, _ int) bool {
		return !f.FileInfo().IsDir() && !strings.HasPrefix(path.Base(f.Name), ".")
	})
	if csvFile, ok := lo.Find(files, func(f *zip.File) bool {
		return strings.EqualFold(path.Ext(f.Name), ".csv")
	}); ok {
		return csvFile, nil
	}
	if len(files) == 0 {
		return nil, errors.New("zip archive contains no files")
	}
	return files[0], nil
}

// ParseCSV reads a delimited file with a header row and returns a table in
// Schema order. Extra columns are dropped; missing ones are a schema error.
func ParseCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrSchema)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	positions, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	cols := make([][]float64, len(Schema))
	classCol := len(Schema) - 1
	line := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		for c, pos := range positions {
			if pos >= len(record) {
				return nil, fmt.Errorf("line %d: missing value for %s", line, Schema[c])
			}
			v, err := parseCell(record[pos])
			if err != nil {
				return nil, fmt.Errorf("line %d, column %s: %w", line, Schema[c], err)
			}
			if c == classCol && !lo.Contains(LabelValues, v) {
				return nil, fmt.Errorf("%w: line %d has label %v, expected one of %v", ErrSchema, line, record[pos], LabelValues)
			}
			cols[c] = append(cols[c], v)
		}
	}

	if len(cols[0]) == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrSchema)
	}

	return newTable(Schema, cols, nil), nil
}

func mapHeader(header []string) ([]int, error) {
	cleaned := lo.Map(header, func(h string, _ int) string {
		return strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	})

	positions := make([]int, len(Schema))
	var missing []string
	for c, want := range Schema {
		pos := lo.IndexOf(cleaned, want)
		if pos < 0 {
			_, pos, _ = lo.FindIndexOf(cleaned, func(h string) bool { return strings.EqualFold(h, want) })
		}
		if pos < 0 {
			missing = append(missing, want)
			continue
		}
		positions[c] = pos
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ErrSchema, strings.Join(missing, ", "))
	}
	return positions, nil
}

func parseCell(cell string) (float64, error) {
	cell = strings.Trim(strings.TrimSpace(cell), `"'`)
	if cell == "" {
		return 0, errors.New("empty value")
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", cell)
	}
	if math.IsNaN(v) {
		return 0, errors.New("NaN value")
	}
	return v, nil
}
