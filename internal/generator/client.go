// Package generator talks to the random program generator service.
//
// The service exposes one unary RPC per language on src.server.Generator.
// The client speaks gRPC over cleartext HTTP/2 by default and can switch to
// the Connect protocol for servers that only offer HTTP/1.1.
package generator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/http2"

	"github.com/signalnine/perffect/internal/project"
)

const (
	ServiceName = "src.server.Generator"

	GenerateJavaProcedure   = "/" + ServiceName + "/generateJava"
	GenerateKotlinProcedure = "/" + ServiceName + "/generateKotlin"
)

var (
	// ErrTimeout is returned when the service does not answer within the
	// configured generation timeout.
	ErrTimeout = errors.New("generation timed out")
	// ErrEmpty is returned for a blank program.
	ErrEmpty = errors.New("generator returned an empty program")
)

type Options struct {
	Addr      string
	Protocol  string // grpc or connect
	Timeout   time.Duration
	CacheSize int
}

type cacheKey struct {
	lang project.Language
	seed int64
}

type Client struct {
	java    *connect.Client[GenerateRequest, Program]
	kotlin  *connect.Client[GenerateRequest, Program]
	timeout time.Duration
	cache   *lru.Cache[cacheKey, Program]
}

func NewClient(opts Options) (*Client, error) {
	addr := strings.TrimRight(opts.Addr, "/")
	if addr == "" {
		return nil, errors.New("generator address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	clientOpts := []connect.ClientOption{connect.WithCodec(protoCodec{})}
	var httpClient *http.Client
	switch opts.Protocol {
	case "", "grpc":
		clientOpts = append(clientOpts, connect.WithGRPC())
		httpClient = &http.Client{Transport: h2cTransport()}
	case "connect":
		httpClient = http.DefaultClient
	default:
		return nil, fmt.Errorf("unknown generator protocol %q", opts.Protocol)
	}

	c := &Client{
		java:    connect.NewClient[GenerateRequest, Program](httpClient, addr+GenerateJavaProcedure, clientOpts...),
		kotlin:  connect.NewClient[GenerateRequest, Program](httpClient, addr+GenerateKotlinProcedure, clientOpts...),
		timeout: opts.Timeout,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[cacheKey, Program](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating program cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// h2cTransport dials plain TCP and speaks HTTP/2 without TLS, which is what
// a plaintext gRPC server expects.
func h2cTransport() *http2.Transport {
	return &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
}

// Generate returns the program for seed in lang. Programs are cached per
// (language, seed), so a rerun of the same seed does not hit the service.
func (c *Client) Generate(ctx context.Context, lang project.Language, seed int64) (*Program, error) {
	key := cacheKey{lang: lang, seed: seed}
	if c.cache != nil {
		if p, ok := c.cache.Get(key); ok {
			return &p, nil
		}
	}

	var rpc *connect.Client[GenerateRequest, Program]
	switch lang {
	case project.Java:
		rpc = c.java
	case project.Kotlin:
		rpc = c.kotlin
	default:
		return nil, fmt.Errorf("no generator for language %q", lang)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := rpc.CallUnary(ctx, connect.NewRequest(&GenerateRequest{Seed: seed}))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || connect.CodeOf(err) == connect.CodeDeadlineExceeded {
			return nil, fmt.Errorf("%s seed %d: %w", lang, seed, ErrTimeout)
		}
		return nil, fmt.Errorf("generating %s seed %d: %w", lang, seed, err)
	}
	prog := resp.Msg
	if strings.TrimSpace(prog.Text) == "" {
		return nil, fmt.Errorf("%s seed %d: %w", lang, seed, ErrEmpty)
	}
	if prog.Language == "" {
		prog.Language = string(lang)
	}
	if c.cache != nil {
		c.cache.Add(key, *prog)
	}
	return prog, nil
}

// Cached reports how many programs the client holds.
func (c *Client) Cached() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
