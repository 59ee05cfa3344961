package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"

	"github.com/Sriram-PR/site-downloader/pkg/utils"
)

// acceptEncoding lists the encodings readBody can decode
const acceptEncoding = "gzip, deflate, br"

// readBody decodes the response's Content-Encoding and reads at most maxBytes (0 = unlimited).
// The body is always closed.
func readBody(resp *http.Response, maxBytes int64) ([]byte, error) {
	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: gzip decode: %w", utils.ErrResponseBodyRead, err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	if maxBytes <= 0 {
		body, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
		}
		return body, nil
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", utils.ErrBodyTooLarge, maxBytes)
	}
	return body, nil
}

// DecodeHTML converts an HTML body to UTF-8 using the Content-Type charset,
// a <meta> declaration or content sniffing, in that order.
func DecodeHTML(body []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return "", fmt.Errorf("%w: charset: %w", utils.ErrParsing, err)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: charset decode: %w", utils.ErrParsing, err)
	}
	return string(decoded), nil
}
