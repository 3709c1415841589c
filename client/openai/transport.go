package openai

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
)

// brotliTransport compresses request bodies and decodes br-encoded responses
type brotliTransport struct {
	base http.RoundTripper
}

func (t *brotliTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())

	if req.Body != nil && req.Body != http.NoBody {
		raw, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}

		// Quality 1 for speed, requests sit on the typing path
		var compressed bytes.Buffer
		bw := brotli.NewWriterLevel(&compressed, 1)
		if _, err := bw.Write(raw); err != nil {
			return nil, fmt.Errorf("failed to compress request: %w", err)
		}
		if err := bw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close brotli writer: %w", err)
		}

		body := compressed.Bytes()
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
		out.Header.Set("Content-Encoding", "br")
	}
	out.Header.Set("Accept-Encoding", "br")

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	if resp.Header.Get("Content-Encoding") == "br" {
		resp.Body = &brotliBody{reader: brotli.NewReader(resp.Body), closer: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
		resp.Uncompressed = true
	}
	return resp, nil
}

type brotliBody struct {
	reader io.Reader
	closer io.Closer
}

func (b *brotliBody) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

func (b *brotliBody) Close() error {
	return b.closer.Close()
}
