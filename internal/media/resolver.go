package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxFetchBytes bounds how much of a remote media source is read.
const maxFetchBytes = 16 << 20 // 16MB

// ResolutionError indicates a media source could not be materialized as
// a gateway-hosted reference. It is fatal for every recipient depending
// on that source.
type ResolutionError struct {
	Source string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve media %q: %v", e.Source, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Uploader uploads base64-encoded media and returns a public reference.
type Uploader interface {
	Upload(ctx context.Context, inline string) (string, error)
}

// Resolver materializes media sources through the gateway, uploading
// each distinct source at most once. One instance is scoped to one
// campaign; the cache has a single writer during campaign preparation
// and is read-only afterwards.
type Resolver struct {
	uploader     Uploader
	httpClient   *http.Client
	hostedPrefix string
	cache        map[string]string // source -> public ref
	logger       *slog.Logger
}

// NewResolver creates a campaign-scoped resolver. hostedPrefix marks
// sources that are already gateway-hosted and need no re-upload.
func NewResolver(uploader Uploader, httpClient *http.Client, hostedPrefix string, logger *slog.Logger) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Resolver{
		uploader:     uploader,
		httpClient:   httpClient,
		hostedPrefix: hostedPrefix,
		cache:        make(map[string]string),
		logger:       logger,
	}
}

// Resolve returns a gateway-addressable public reference for source,
// idempotent per source within this resolver instance.
func (r *Resolver) Resolve(ctx context.Context, source string) (string, error) {
	if r.hostedPrefix != "" && strings.HasPrefix(source, r.hostedPrefix) {
		return source, nil
	}

	if ref, ok := r.cache[source]; ok {
		return ref, nil
	}

	inline, err := r.toInline(ctx, source)
	if err != nil {
		return "", &ResolutionError{Source: source, Err: err}
	}

	ref, err := r.uploader.Upload(ctx, inline)
	if err != nil {
		return "", &ResolutionError{Source: source, Err: err}
	}

	r.cache[source] = ref
	r.logger.Debug("media resolved", "source", source, "ref", ref)
	return ref, nil
}

// toInline converts a source into base64 inline form. Remote URLs are
// fetched; data URIs are unwrapped; anything else is assumed to already
// be base64.
func (r *Resolver) toInline(ctx context.Context, source string) (string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return r.fetch(ctx, source)
	}

	if strings.HasPrefix(source, "data:") {
		_, encoded, found := strings.Cut(source, ",")
		if !found {
			return "", fmt.Errorf("malformed data uri")
		}
		if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
			return "", fmt.Errorf("invalid base64 payload: %w", err)
		}
		return encoded, nil
	}

	if _, err := base64.StdEncoding.DecodeString(source); err != nil {
		return "", fmt.Errorf("invalid base64 payload: %w", err)
	}
	return source, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read media body: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("media body is empty")
	}

	return base64.StdEncoding.EncodeToString(data), nil
}
