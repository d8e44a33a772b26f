package generator_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/signalnine/perffect/internal/generator"
	"github.com/signalnine/perffect/internal/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	calls atomic.Int32
	delay time.Duration
	text  func(lang string, seed int64) string
}

func (s *stubService) program(ctx context.Context, lang string, seed int64) (*generator.Program, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	text := fmt.Sprintf("package src.s%d;\n// %s\n", seed, lang)
	if s.text != nil {
		text = s.text(lang, seed)
	}
	return &generator.Program{Language: lang, Text: text}, nil
}

func (s *stubService) GenerateJava(ctx context.Context, req *generator.GenerateRequest) (*generator.Program, error) {
	return s.program(ctx, "java", req.Seed)
}

func (s *stubService) GenerateKotlin(ctx context.Context, req *generator.GenerateRequest) (*generator.Program, error) {
	return s.program(ctx, "kotlin", req.Seed)
}

func serve(t *testing.T, svc generator.Service) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(generator.NewServiceHandler(svc))
	srv := httptest.NewServer(h2c.NewHandler(mux, &http2.Server{}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateProtocols(t *testing.T) {
	for _, protocol := range []string{"grpc", "connect"} {
		t.Run(protocol, func(t *testing.T) {
			srv := serve(t, &stubService{})
			c, err := generator.NewClient(generator.Options{Addr: srv.URL, Protocol: protocol, Timeout: 5 * time.Second})
			require.NoError(t, err)

			prog, err := c.Generate(context.Background(), project.Java, 42)
			require.NoError(t, err)
			assert.Equal(t, "java", prog.Language)
			assert.Equal(t, "package src.s42;\n// java\n", prog.Text)

			prog, err = c.Generate(context.Background(), project.Kotlin, -7)
			require.NoError(t, err)
			assert.Equal(t, "kotlin", prog.Language)
			assert.Contains(t, prog.Text, "src.s-7")
		})
	}
}

func TestGenerateCachesPerLanguageAndSeed(t *testing.T) {
	svc := &stubService{}
	srv := serve(t, svc)
	c, err := generator.NewClient(generator.Options{Addr: srv.URL, Protocol: "connect", CacheSize: 8})
	require.NoError(t, err)

	for range 3 {
		_, err := c.Generate(context.Background(), project.Java, 1)
		require.NoError(t, err)
	}
	_, err = c.Generate(context.Background(), project.Kotlin, 1)
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), project.Java, 2)
	require.NoError(t, err)

	assert.EqualValues(t, 3, svc.calls.Load())
	assert.Equal(t, 3, c.Cached())
}

func TestGenerateTimeout(t *testing.T) {
	srv := serve(t, &stubService{delay: 2 * time.Second})
	c, err := generator.NewClient(generator.Options{Addr: srv.URL, Protocol: "connect", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), project.Java, 1)
	assert.ErrorIs(t, err, generator.ErrTimeout)
}

func TestGenerateEmpty(t *testing.T) {
	svc := &stubService{text: func(string, int64) string { return "  \n" }}
	srv := serve(t, svc)
	c, err := generator.NewClient(generator.Options{Addr: srv.URL, Protocol: "grpc", CacheSize: 4})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), project.Kotlin, 5)
	assert.ErrorIs(t, err, generator.ErrEmpty)
	assert.Equal(t, 0, c.Cached(), "empty programs are not cached")
}

type failingService struct{ stubService }

func (*failingService) GenerateJava(context.Context, *generator.GenerateRequest) (*generator.Program, error) {
	return nil, connect.NewError(connect.CodeInternal, errors.New("translator crashed"))
}

func TestGenerateServiceError(t *testing.T) {
	srv := serve(t, &failingService{})
	c, err := generator.NewClient(generator.Options{Addr: srv.URL, Protocol: "grpc"})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), project.Java, 9)
	require.Error(t, err)
	assert.Equal(t, connect.CodeInternal, connect.CodeOf(err))
	assert.NotErrorIs(t, err, generator.ErrTimeout)
}

func TestNewClientValidation(t *testing.T) {
	_, err := generator.NewClient(generator.Options{})
	assert.Error(t, err)
	_, err = generator.NewClient(generator.Options{Addr: "localhost:1", Protocol: "carrier-pigeon"})
	assert.Error(t, err)
	c, err := generator.NewClient(generator.Options{Addr: "localhost:50051"})
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), project.Language("scala"), 1)
	assert.Error(t, err)
}
