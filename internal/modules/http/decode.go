package http

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// acceptEncoding is sent when the script does not choose its own.
const acceptEncoding = "gzip, deflate, br"

// decodeBody wraps r with the decoders named by a Content-Encoding header,
// applied in reverse order of their listing.
func decodeBody(r io.Reader, contentEncoding string) (io.Reader, error) {
	if contentEncoding == "" {
		return r, nil
	}
	codings := strings.Split(contentEncoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		var err error
		switch c := strings.ToLower(strings.TrimSpace(codings[i])); c {
		case "", "identity":
		case "gzip", "x-gzip":
			r, err = gzip.NewReader(r)
		case "deflate":
			r, err = inflate(r)
		case "br":
			r = brotli.NewReader(r)
		default:
			return nil, fmt.Errorf("unsupported content encoding %q", c)
		}
		if err != nil {
			return nil, fmt.Errorf("decoding %s body: %w", codings[i], err)
		}
	}
	return r, nil
}

// inflate accepts zlib-wrapped deflate and falls back to raw deflate,
// which some servers send instead.
func inflate(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(head) == 2 && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}
