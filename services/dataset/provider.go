package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// SourceUnavailableError means one load tier could not produce a table.
type SourceUnavailableError struct {
	Kind   SourceKind
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable (%s %s): %v", e.Kind, e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

type Provider struct {
	remoteURL string
	localPath string
	maxBytes  int64
	client    *http.Client
}

type ProviderOption func(*Provider)

func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) { p.client = client }
}

// WithMaxBytes caps how much data a single load reads, both as fetched and
// after decompression.
func WithMaxBytes(n int64) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.maxBytes = n
		}
	}
}

// WithTimeout bounds a whole remote fetch. Zero keeps the default. The client
// set by WithHTTPClient is copied, not replaced.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			client := *p.client
			client.Timeout = d
			p.client = &client
		}
	}
}

func NewProvider(remoteURL, localPath string, opts ...ProviderOption) *Provider {
	p := &Provider{
		remoteURL: strings.TrimSpace(remoteURL),
		localPath: strings.TrimSpace(localPath),
		maxBytes:  200 << 20,
		client:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load resolves the session table: configured URL, then local file, then the
// synthetic demo table. It only fails when ctx is done.
func (p *Provider) Load(ctx context.Context) (*Table, error) {
	if p.remoteURL != "" {
		log.Printf("[INFO] Loading dataset from URL %s", p.remoteURL)
		table, err := p.fetch(ctx, p.remoteURL, SourceRemote)
		if err == nil {
			log.Printf("[INFO] Loaded %d rows from URL", table.Rows())
			return table, nil
		}
		log.Printf("[WARN] %v, falling back to local file", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.localPath != "" {
		if _, statErr := os.Stat(p.localPath); statErr == nil {
			table, err := p.readFile(p.localPath, SourceLocal)
			if err == nil {
				log.Printf("[INFO] Loaded %d rows from %s", table.Rows(), p.localPath)
				return table, nil
			}
			log.Printf("[WARN] %v, falling back to demo data", err)
		} else {
			log.Printf("[INFO] Local dataset %s not present", p.localPath)
		}
	}

	log.Printf("[WARN] No dataset source available, using %d-row demo table", SyntheticRows)
	return Synthetic(), nil
}

// LoadFrom loads a table from an explicit location. http(s) URLs are fetched,
// file:// URLs and bare paths are read from disk.
func (p *Provider) LoadFrom(ctx context.Context, location string) (*Table, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, &SourceUnavailableError{Kind: SourceDynamic, Source: location, Err: errors.New("no URL provided")}
	}

	u, err := url.Parse(location)
	switch {
	case err == nil && (u.Scheme == "http" || u.Scheme == "https"):
		return p.fetch(ctx, location, SourceDynamic)
	case err == nil && u.Scheme == "file":
		return p.readFile(u.Path, SourceDynamic)
	case err == nil && u.Scheme == "":
		return p.readFile(location, SourceDynamic)
	case err != nil:
		return nil, &SourceUnavailableError{Kind: SourceDynamic, Source: location, Err: err}
	}
	return nil, &SourceUnavailableError{Kind: SourceDynamic, Source: location, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
}

func (p *Provider) fetch(ctx context.Context, rawURL string, kind SourceKind) (*Table, error) {
	fail := func(err error) (*Table, error) {
		return nil, &SourceUnavailableError{Kind: kind, Source: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("failed to fetch: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("unexpected status %s", resp.Status))
	}

	raw, err := p.readAll(resp.Body)
	if err != nil {
		return fail(err)
	}

	table, err := decode(rawURL, raw, p.maxBytes)
	if err != nil {
		return fail(err)
	}
	return table.withSource(kind, rawURL), nil
}

func (p *Provider) readFile(path string, kind SourceKind) (*Table, error) {
	fail := func(err error) (*Table, error) {
		return nil, &SourceUnavailableError{Kind: kind, Source: path, Err: err}
	}

	f, err := os.Open(path)
	if err != nil {
		return fail(err)
	}
	defer f.Close()

	raw, err := p.readAll(f)
	if err != nil {
		return fail(err)
	}

	table, err := decode(path, raw, p.maxBytes)
	if err != nil {
		return fail(err)
	}
	return table.withSource(kind, path), nil
}

func (p *Provider) readAll(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	if int64(len(raw)) > p.maxBytes {
		return nil, fmt.Errorf("data exceeds %d bytes", p.maxBytes)
	}
	return raw, nil
}
