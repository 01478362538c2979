// Package fetch retrieves verified contract source code from
// Blockscout-compatible explorer gateways. Responses may arrive as a
// single flattened file or as a multi-file bundle; either way the
// caller receives one source blob ready for analysis.
package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/config"
)

const (
	// DefaultGateway serves source lookups for every supported network.
	DefaultGateway = "https://mcp.blockscout.com"

	sourcePath = "/contract/source"
	userAgent  = "solaudit/2.0"

	// Transport tuning. Explorer gateways sit behind CDNs that hold
	// idle connections open, so the pool stays small and short-lived.
	defaultDialTimeout    = 5 * time.Second
	defaultKeepAlive      = 15 * time.Second
	tlsHandshakeTimeout   = 5 * time.Second
	responseHeaderTimeout = 10 * time.Second
	maxIdleConns          = 20
	idleConnTimeout       = 30 * time.Second

	// maxResponseBytes bounds a single gateway response. Large verified
	// projects flatten to a few megabytes; 16 MiB leaves ample headroom.
	maxResponseBytes = 16 << 20
)

// Client fetches verified contract source over a Blockscout-style
// gateway API, with rate limiting and retry on transient failures.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	gateway    string
	apiKey     string
	maxRetries uint64
	// retryInterval seeds the exponential backoff between attempts.
	retryInterval time.Duration
	rpcURL        string
	logger        *zap.Logger
}

var _ schemas.SourceFetcher = (*Client)(nil)

// New creates a fetch client from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("cannot initialize fetch client with nil dependencies")
	}

	log := logger.Named("fetch")

	gateway := strings.TrimRight(cfg.Fetch.Endpoint, "/")
	if gateway == "" {
		gateway = DefaultGateway
	}

	return &Client{
		httpClient:    newHTTPClient(cfg.Fetch.Timeout, log),
		limiter:       rate.NewLimiter(rate.Limit(cfg.Fetch.RateLimit), 1),
		gateway:       gateway,
		apiKey:        cfg.Fetch.APIKey,
		maxRetries:    uint64(cfg.Fetch.MaxRetries),
		retryInterval: backoff.DefaultInitialInterval,
		rpcURL:        cfg.Fetch.RPCEndpoint,
		logger:        log,
	}, nil
}

// newHTTPClient builds the tuned transport: explicit dial and handshake
// timeouts, a bounded idle pool, HTTP/2 where the gateway offers it, and
// transparent brotli/gzip decoding.
func newHTTPClient(timeout time.Duration, logger *zap.Logger) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       idleConnTimeout,
		// Content negotiation happens in decodingTransport instead.
		DisableCompression: true,
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
	}

	return &http.Client{
		Transport: &decodingTransport{next: transport},
		Timeout:   timeout,
	}
}

// decodingTransport advertises brotli and gzip support and unwraps the
// response body according to Content-Encoding.
type decodingTransport struct {
	next http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip")
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		resp.Body = &decodedBody{reader: brotli.NewReader(resp.Body), raw: resp.Body}
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("initialize gzip decoding: %w", err)
		}
		resp.Body = &decodedBody{reader: zr, decoder: zr, raw: resp.Body}
	default:
		return resp, nil
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

// decodedBody reads through the decoder and closes both the decoder and
// the network body beneath it.
type decodedBody struct {
	reader  io.Reader
	decoder io.Closer
	raw     io.ReadCloser
}

func (b *decodedBody) Read(p []byte) (int, error) { return b.reader.Read(p) }

func (b *decodedBody) Close() error {
	var decodeErr error
	if b.decoder != nil {
		decodeErr = b.decoder.Close()
	}
	return errors.Join(decodeErr, b.raw.Close())
}

// sourceRequest is the gateway lookup payload.
type sourceRequest struct {
	Address string `json:"address"`
	Network string `json:"network"`
	ChainID int64  `json:"chain_id"`
}

// sourceEnvelope is the gateway response. SourceCode is either a plain
// string or a multi-file bundle, so it stays raw until flattening.
type sourceEnvelope struct {
	Name            string          `json:"name"`
	SourceCode      json.RawMessage `json:"source_code"`
	CompilerVersion string          `json:"compiler_version"`
	IsVerified      bool            `json:"is_verified"`
	IsProxy         bool            `json:"is_proxy"`
	Implementation  string          `json:"implementation_address"`
}

// FetchSource retrieves the verified source for address on the named
// network. Unverified contracts are an error: there is nothing to audit.
func (c *Client) FetchSource(ctx context.Context, address, network string) (*schemas.ContractSource, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}

	profile, ok := LookupNetwork(network)
	if !ok {
		return nil, fmt.Errorf("unsupported network %q (supported: %s)",
			network, strings.Join(SupportedNetworks(), ", "))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	c.logger.Debug("Fetching contract source",
		zap.String("address", address),
		zap.String("network", profile.Key),
		zap.Int64("chainID", profile.ChainID))

	envelope, err := c.querySource(ctx, address, profile)
	if err != nil {
		return nil, err
	}

	if !envelope.IsVerified {
		return nil, fmt.Errorf("contract at %s is not verified on %s", address, profile.DisplayName)
	}

	source := &schemas.ContractSource{
		Address:    address,
		Network:    profile.Key,
		Name:       envelope.Name,
		Source:     flattenSource(envelope.SourceCode),
		Compiler:   envelope.CompilerVersion,
		IsVerified: true,
		FetchedAt:  time.Now().UTC(),
	}
	if source.Name == "" {
		source.Name = address
	}

	if c.rpcURL != "" {
		source.HoldsFunds = c.probeBalance(ctx, address)
	}

	if envelope.IsProxy {
		c.logger.Info("Contract is a proxy; auditing the verified source as served",
			zap.String("address", address),
			zap.String("implementation", envelope.Implementation))
	}

	c.logger.Info("Fetched contract source",
		zap.String("address", address),
		zap.String("network", profile.Key),
		zap.String("name", source.Name),
		zap.Int("sourceBytes", len(source.Source)),
		zap.Bool("holdsFunds", source.HoldsFunds))

	return source, nil
}

// querySource posts the lookup and retries transient failures with
// exponential backoff. Client errors (4xx) are permanent.
func (c *Client) querySource(ctx context.Context, address string, profile Network) (*sourceEnvelope, error) {
	payload, err := json.Marshal(sourceRequest{
		Address: address,
		Network: profile.Key,
		ChainID: profile.ChainID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode source request: %w", err)
	}

	var envelope sourceEnvelope

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gateway+sourcePath, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build source request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("query explorer gateway: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read gateway response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			// Fall through to decode.
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("contract %s not found on %s", address, profile.DisplayName))
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("gateway rate limited the request (status %d)", resp.StatusCode)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("gateway rejected the request: status %d: %s",
				resp.StatusCode, truncateBody(body)))
		default:
			return fmt.Errorf("gateway returned status %d", resp.StatusCode)
		}

		if err := json.Unmarshal(body, &envelope); err != nil {
			return backoff.Permanent(fmt.Errorf("decode gateway response: %w", err))
		}
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, c.maxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Source fetch failed, retrying",
			zap.Error(err),
			zap.Duration("backoff", wait))
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// flattenSource turns the gateway's source_code field into one blob. A
// plain string passes through unchanged; multi-file bundles concatenate
// in path order with a file banner between entries.
func flattenSource(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}

	// Standard-JSON verification payload: {"sources": {path: {"content": ...}}}.
	var standard struct {
		Sources map[string]struct {
			Content string `json:"content"`
		} `json:"sources"`
	}
	if err := json.Unmarshal(raw, &standard); err == nil && len(standard.Sources) > 0 {
		paths := make([]string, 0, len(standard.Sources))
		for path := range standard.Sources {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		var sb strings.Builder
		for _, path := range paths {
			fmt.Fprintf(&sb, "\n// File: %s\n\n%s\n\n", path, standard.Sources[path].Content)
		}
		return sb.String()
	}

	// Bare path-to-content mapping.
	var files map[string]string
	if err := json.Unmarshal(raw, &files); err == nil && len(files) > 0 {
		paths := make([]string, 0, len(files))
		for path := range files {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		var sb strings.Builder
		for _, path := range paths {
			fmt.Fprintf(&sb, "\n// File: %s\n\n%s\n\n", path, files[path])
		}
		return sb.String()
	}

	return string(raw)
}

// probeBalance asks the configured RPC node whether the contract holds
// funds. Best effort: any failure logs and reports false rather than
// failing the fetch.
func (c *Client) probeBalance(ctx context.Context, address string) bool {
	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		c.logger.Debug("Balance probe skipped: RPC dial failed", zap.Error(err))
		return false
	}
	defer client.Close()

	balance, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		c.logger.Debug("Balance probe skipped: query failed", zap.Error(err))
		return false
	}

	return balance.Sign() > 0
}

func truncateBody(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
