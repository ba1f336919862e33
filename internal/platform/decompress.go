// File: internal/platform/decompress.go
package platform

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// acceptEncoding is sent on every request. The transport's own gzip handling
// is disabled so brotli can sit first in the negotiation.
const acceptEncoding = "br, gzip, identity"

// Pooled readers keep per-request allocations down on large flaw listings.
var (
	gzipReaderPool = sync.Pool{
		New: func() any { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() any { return brotli.NewReader(nil) },
	}
)

var emptyReader = strings.NewReader("")

// decodeResponse swaps resp.Body for a decoding reader according to the
// Content-Encoding header. On error the body may be partially consumed and
// the response must be discarded.
func decodeResponse(resp *http.Response) error {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return nil

	case "gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(resp.Body); err != nil {
			gzipReaderPool.Put(zr)
			return fmt.Errorf("gzip initialization error: %w", err)
		}
		resp.Body = &decodedBody{
			reader:   zr,
			original: resp.Body,
			release: func() {
				_ = zr.Reset(emptyReader)
				gzipReaderPool.Put(zr)
			},
		}

	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(resp.Body); err != nil {
			brotliReaderPool.Put(br)
			return fmt.Errorf("brotli initialization error: %w", err)
		}
		resp.Body = &decodedBody{
			reader:   br,
			original: resp.Body,
			release: func() {
				_ = br.Reset(emptyReader)
				brotliReaderPool.Put(br)
			},
		}

	default:
		return fmt.Errorf("unsupported Content-Encoding: %s", encoding)
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// decodedBody reads through the decoder and, on Close, returns the pooled
// reader and closes the underlying connection body.
type decodedBody struct {
	reader   io.Reader
	original io.ReadCloser
	release  func()
}

func (b *decodedBody) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

func (b *decodedBody) Close() error {
	var closeErr error
	if b.release != nil {
		// Close the decoder before handing it back to the pool.
		if c, ok := b.reader.(io.Closer); ok {
			closeErr = c.Close()
		}
		b.release()
		b.release = nil
	}
	return errors.Join(closeErr, b.original.Close())
}
