package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
)

const maxRemoteBody = 10 << 20

const resolutionAccept = `application/ld+json;profile="https://w3id.org/did-resolution"`

func (r *Registry) remoteURL(ref string) string {
	base := r.resolverURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + ref
}

func (r *Registry) resolveRemote(ctx context.Context, id string) (*ResolutionResult, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.remoteURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build resolver request: %w", err)
	}
	req.Header.Set("Accept", resolutionAccept)

	res, err := r.httpClient.Do(req)
	if err != nil {
		r.log.WarnContext(ctx, "ledger.resolve_remote.fail", slog.String("did", id), slog.String("err", err.Error()))
		return nil, fmt.Errorf("resolve %s: %w", id, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxRemoteBody))
	if err != nil {
		return nil, fmt.Errorf("read resolver response: %w", err)
	}

	var out ResolutionResult
	if err := json.Unmarshal(body, &out); err != nil {
		if res.StatusCode == http.StatusNotFound {
			return failed(ResolutionErrNotFound, "DID not found"), nil
		}
		return nil, fmt.Errorf("decode resolver response (status %d): %w", res.StatusCode, err)
	}
	if res.StatusCode == http.StatusNotFound && out.DIDResolutionMetadata.Error == "" {
		out.DIDResolutionMetadata.Error = ResolutionErrNotFound
	}
	r.log.DebugContext(ctx, "ledger.resolve_remote.ok",
		slog.String("did", id),
		slog.Int("status", res.StatusCode),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return &out, nil
}

func (r *Registry) resolveRemoteResource(ctx context.Context, didURL string) (*Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.remoteURL(didURL), nil)
	if err != nil {
		return nil, fmt.Errorf("build resolver request: %w", err)
	}
	req.Header.Set("Accept", "*/*")

	res, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", didURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, didURL)
	}
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("resolve %s: unexpected status %d", didURL, res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxRemoteBody))
	if err != nil {
		return nil, fmt.Errorf("read resolver response: %w", err)
	}

	mediaType := res.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = mt
	}
	u, _ := did.ParseURL(didURL)
	id, _ := u.ResourceID()
	sum := sha256.Sum256(body)
	return &Resource{
		Metadata: ResourceMetadata{
			ResourceURI: didURL,
			ResourceID:  id,
			MediaType:   mediaType,
			Checksum:    hex.EncodeToString(sum[:]),
		},
		Data: body,
	}, nil
}
