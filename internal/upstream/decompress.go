package upstream

import (
	"bufio"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decodeBody wraps an HTTP body according to its Content-Encoding. The
// transport has DisableCompression set, so the wire advertises and decodes
// gzip/deflate/br/zstd here instead. Unknown encodings pass through.
func decodeBody(encoding string, body io.ReadCloser) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		return &decodedBody{r: zr, decoder: zr, underlying: body}, nil
	case "deflate":
		return deflateBody(body)
	case "br":
		return &decodedBody{r: brotli.NewReader(body), underlying: body}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, err
		}
		rc := zr.IOReadCloser()
		return &decodedBody{r: rc, decoder: rc, underlying: body}, nil
	}
	return body, nil
}

// deflateBody handles both RFC 2616 deflate (zlib-wrapped) and the raw
// DEFLATE some servers send under the same name. The zlib CMF byte has
// a low nibble of 8; peek one byte to pick the reader.
func deflateBody(body io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(body)
	head, err := br.Peek(1)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(head) > 0 && head[0]&0x0f == 0x08 {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, err
		}
		return &decodedBody{r: zr, decoder: zr, underlying: body}, nil
	}
	fr := flate.NewReader(br)
	return &decodedBody{r: fr, decoder: fr, underlying: body}, nil
}

// decodedBody closes the decoder (when it has one) and then the network body.
type decodedBody struct {
	r          io.Reader
	decoder    io.Closer
	underlying io.ReadCloser
}

func (d *decodedBody) Read(p []byte) (int, error) { return d.r.Read(p) }

func (d *decodedBody) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
	}
	return d.underlying.Close()
}
