package dataset

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleCSV writes rows in a shuffled column order with one extra column, to
// check that parsing normalises to Schema.
func sampleCSV(rows int) string {
	header := append([]string{"Class", "Extra"}, Schema[:len(Schema)-1]...)
	var b strings.Builder
	b.WriteString(strings.Join(header, ",") + "\n")
	for i := 0; i < rows; i++ {
		cells := []string{fmt.Sprintf(`"%d"`, i%2), "x"}
		for c := range Schema[:len(Schema)-1] {
			cells = append(cells, fmt.Sprintf("%d.5", i*100+c))
		}
		b.WriteString(strings.Join(cells, ",") + "\n")
	}
	return b.String()
}

func gzipped(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zipped(t *testing.T, name, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSynthetic_Deterministic(t *testing.T) {
	a, b := Synthetic(), Synthetic()

	require.Equal(t, a.String(), b.String())
	assert.Equal(t, a.cols, b.cols)
	assert.Equal(t, SyntheticRows, a.Rows())
	assert.Equal(t, Schema, a.Columns())
	assert.True(t, a.IsDemo())

	assert.Equal(t, []int{95, 5}, a.ClassCounts())
	assert.Equal(t, 10.0, a.Col(ColumnAmount).At(0))
	assert.Equal(t, 109.0, a.Col(ColumnAmount).At(99))
	assert.InDelta(t, 4.2, a.Col("V7").At(42), 1e-9)
	assert.Equal(t, 99.0, a.Col(ColumnTime).At(99))
}

func TestParseCSV_NormalisesSchema(t *testing.T) {
	table, err := ParseCSV(strings.NewReader(sampleCSV(4)))
	require.NoError(t, err)

	assert.Equal(t, Schema, table.Columns())
	assert.Equal(t, 4, table.Rows())
	assert.Equal(t, []float64{0, 1, 0, 1}, table.Col(ColumnClass).Values())
	assert.Equal(t, 100.5, table.Col(ColumnTime).At(1))
}

func TestParseCSV_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		schema bool
	}{
		{name: "empty file", input: "", schema: true},
		{name: "header only", input: strings.Join(Schema, ",") + "\n", schema: true},
		{name: "missing columns", input: "Time,Amount,Class\n1,2,0\n", schema: true},
		{name: "label outside set", input: strings.Join(Schema, ",") + "\n" + strings.Repeat("1,", len(Schema)-1) + "2\n", schema: true},
		{name: "non numeric", input: strings.Join(Schema, ",") + "\n" + "abc," + strings.Repeat("1,", len(Schema)-2) + "0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Equal(t, tt.schema, errors.Is(err, ErrSchema), err.Error())
		})
	}
}

func TestInferCompression(t *testing.T) {
	tests := []struct {
		name string
		file string
		head []byte
		want compression
	}{
		{"gzip extension", "https://host/data.csv.gz?raw=1", nil, compressionGzip},
		{"zip extension", "cards.ZIP", nil, compressionZip},
		{"bzip2 extension", "cards.csv.bz2", nil, compressionBzip2},
		{"zstd extension", "cards.csv.zst", nil, compressionZstd},
		{"gzip magic", "cards.csv", []byte{0x1f, 0x8b, 0x08}, compressionGzip},
		{"zip magic", "download", []byte("PK\x03\x04rest"), compressionZip},
		{"plain", "cards.csv", []byte("Time,V1"), compressionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inferCompression(tt.file, tt.head))
		})
	}
}

func TestProviderLoad_Tiers(t *testing.T) {
	plain := sampleCSV(3)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cards.csv":
			w.Write([]byte(plain))
		case "/cards.csv.gz":
			w.Write(gzipped(t, plain))
		case "/cards.zip":
			w.Write(zipped(t, "nested/cards.csv", plain))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "creditcard.csv")
	require.NoError(t, os.WriteFile(localPath, []byte(sampleCSV(5)), 0o644))

	tests := []struct {
		name     string
		remote   string
		local    string
		wantKind SourceKind
		wantRows int
	}{
		{"remote plain", server.URL + "/cards.csv", localPath, SourceRemote, 3},
		{"remote gzip", server.URL + "/cards.csv.gz", "", SourceRemote, 3},
		{"remote zip", server.URL + "/cards.zip", "", SourceRemote, 3},
		{"remote 404 falls to local", server.URL + "/missing.csv", localPath, SourceLocal, 5},
		{"nothing configured", "", "", SourceSynthetic, SyntheticRows},
		{"local missing falls to demo", server.URL + "/missing.csv", filepath.Join(dir, "nope.csv"), SourceSynthetic, SyntheticRows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := NewProvider(tt.remote, tt.local).Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, table.SourceKind())
			assert.Equal(t, tt.wantRows, table.Rows())
			assert.Equal(t, Schema, table.Columns())
		})
	}
}

func TestProviderLoad_CorruptLocalFallsThrough(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "creditcard.csv")
	require.NoError(t, os.WriteFile(localPath, []byte("a,b\n1,2\n"), 0o644))

	table, err := NewProvider("", localPath).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, table.IsDemo())
}

func TestProviderLoadFrom(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/big.csv" {
			w.Write([]byte(sampleCSV(50)))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dir := t.TempDir()
	gzPath := filepath.Join(dir, "cards.csv.gz")
	require.NoError(t, os.WriteFile(gzPath, gzipped(t, sampleCSV(2)), 0o644))

	provider := NewProvider("", "", WithMaxBytes(64<<10))

	t.Run("file url", func(t *testing.T) {
		table, err := provider.LoadFrom(context.Background(), "file://"+gzPath)
		require.NoError(t, err)
		assert.Equal(t, 2, table.Rows())
		assert.Equal(t, SourceDynamic, table.SourceKind())
	})

	failures := map[string]string{
		"empty":        "",
		"server error": server.URL + "/broken.csv",
		"unsupported":  "ftp://example.com/cards.csv",
		"missing file": filepath.Join(dir, "absent.csv"),
	}
	for name, location := range failures {
		t.Run(name, func(t *testing.T) {
			_, err := provider.LoadFrom(context.Background(), location)
			var unavailable *SourceUnavailableError
			require.ErrorAs(t, err, &unavailable)
			assert.Equal(t, SourceDynamic, unavailable.Kind)
		})
	}

	t.Run("size ceiling", func(t *testing.T) {
		small := NewProvider("", "", WithMaxBytes(100))
		_, err := small.LoadFrom(context.Background(), server.URL+"/big.csv")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})
}

func TestProviderLoadFrom_DecompressedCeiling(t *testing.T) {
	// Identical rows compress far below the ceiling but expand well past it.
	row := strings.TrimSuffix(strings.Repeat("1.25,", len(Schema)-1), ",") + ",0\n"
	data := strings.Join(Schema, ",") + "\n" + strings.Repeat(row, 20000)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zstded := enc.EncodeAll([]byte(data), nil)
	require.NoError(t, enc.Close())

	dir := t.TempDir()
	files := map[string][]byte{
		"cards.csv.gz":  gzipped(t, data),
		"cards.zip":     zipped(t, "cards.csv", data),
		"cards.csv.zst": zstded,
	}

	provider := NewProvider("", "", WithMaxBytes(10_000))
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			require.Less(t, len(content), 10_000)
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, content, 0o644))

			_, err := provider.LoadFrom(context.Background(), path)
			var unavailable *SourceUnavailableError
			require.ErrorAs(t, err, &unavailable)
			assert.ErrorIs(t, err, ErrTooLarge)
		})
	}

	t.Run("within ceiling", func(t *testing.T) {
		small := strings.Join(Schema, ",") + "\n" + strings.Repeat(row, 10)
		path := filepath.Join(dir, "small.csv.gz")
		require.NoError(t, os.WriteFile(path, gzipped(t, small), 0o644))

		table, err := provider.LoadFrom(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, 10, table.Rows())
	})
}

func TestCeilingReader(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		limit   int64
		wantErr bool
	}{
		{"under limit", "abc", 5, false},
		{"exactly at limit", "abcde", 5, false},
		{"over limit", "abcdef", 5, true},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(&ceilingReader{r: strings.NewReader(tt.input), n: tt.limit})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTooLarge)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, string(got))
		})
	}
}

type countingTransport struct {
	calls int
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls++
	return http.DefaultTransport.RoundTrip(r)
}

func TestWithTimeout_KeepsHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCSV(3)))
	}))
	defer server.Close()

	transport := &countingTransport{}
	client := &http.Client{Transport: transport}
	provider := NewProvider(server.URL+"/cards.csv", "", WithHTTPClient(client), WithTimeout(5*time.Second))

	table, err := provider.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, table.SourceKind())
	assert.Equal(t, 1, transport.calls)
	assert.Equal(t, 5*time.Second, provider.client.Timeout)
	assert.Zero(t, client.Timeout)
}

func TestTableOperations(t *testing.T) {
	table := Synthetic()

	t.Run("where and value counts", func(t *testing.T) {
		fraud := table.Where(ColumnClass, "==", 1)
		assert.Equal(t, 5, fraud.Rows())
		assert.Equal(t, []string{"95", "96", "97", "98", "99"}, fraud.Col(ColumnTime).Labels())

		counts := table.ValueCounts("class")
		assert.Equal(t, []string{"0", "1"}, counts.Labels())
		assert.Equal(t, []float64{95, 5}, counts.Values())
	})

	t.Run("group by", func(t *testing.T) {
		means := table.GroupBy(ColumnClass, ColumnAmount, "mean")
		assert.Equal(t, []string{"0", "1"}, means.Labels())
		assert.InDelta(t, 57.0, means.At(0), 1e-9)
		assert.InDelta(t, 107.0, means.At(1), 1e-9)
	})

	t.Run("statistics", func(t *testing.T) {
		amount := table.Col(ColumnAmount)
		assert.InDelta(t, 59.5, amount.Mean(), 1e-9)
		assert.InDelta(t, 59.5, amount.Median(), 1e-9)
		assert.Equal(t, 10.0, amount.Min())
		assert.Equal(t, 109.0, amount.Max())
		assert.InDelta(t, 29.011492, amount.Std(), 1e-6)
		assert.InDelta(t, 1.0, table.Corr(ColumnTime, ColumnAmount), 1e-9)
	})

	t.Run("head tail sort select", func(t *testing.T) {
		assert.Equal(t, 3, table.Head(3).Rows())
		assert.Equal(t, []string{"97", "98", "99"}, table.Tail(3).Col(ColumnTime).Labels())
		assert.Equal(t, 109.0, table.Sort(ColumnAmount, false).Col(ColumnAmount).At(0))
		assert.Equal(t, []string{ColumnAmount, ColumnClass}, table.Select("amount", "Class").Columns())
		assert.Equal(t, 0, table.Head(-1).Rows())
	})

	t.Run("describe", func(t *testing.T) {
		desc := table.Describe()
		assert.Equal(t, describeRows, desc.Col(ColumnAmount).Labels())
		assert.Equal(t, 100.0, desc.Col(ColumnAmount).At(0))
	})

	t.Run("unknown column suggests", func(t *testing.T) {
		_, err := table.Resolve("Amnt")
		var colErr *ColumnError
		require.ErrorAs(t, err, &colErr)
		assert.Equal(t, ColumnAmount, colErr.Suggestion)
		assert.Len(t, colErr.Available, len(Schema))
	})

	t.Run("bad operator panics with query error", func(t *testing.T) {
		assert.PanicsWithError(t, `Where: unsupported operator "~"`, func() {
			table.Where(ColumnAmount, "~", 1)
		})
	})
}

func TestFormat(t *testing.T) {
	head := Synthetic().Select("Time", "V1", "Amount").Head(2).String()
	lines := strings.Split(head, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Time")
	assert.Contains(t, lines[2], "0.100000")
	assert.Equal(t, len(lines[1]), len(lines[2]))

	full := Synthetic().String()
	assert.Contains(t, full, "...")
	assert.True(t, strings.HasSuffix(full, "[100 rows x 31 columns]"))

	assert.Equal(t, "NaN", formatNumber(math.NaN()))
	assert.Equal(t, "12", formatNumber(12))
}
