package transport

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// decompressResponse 根据Content-Encoding解压响应体
// 支持gzip、deflate、brotli三种编码,未知编码原样返回
func decompressResponse(resp *http.Response) (io.ReadCloser, error) {
	encoding := strings.ToLower(resp.Header.Get("Content-Encoding"))

	switch {
	case strings.Contains(encoding, "gzip"):
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return reader, nil

	case strings.Contains(encoding, "deflate"):
		return flate.NewReader(resp.Body), nil

	case strings.Contains(encoding, "br"):
		return io.NopCloser(brotli.NewReader(resp.Body)), nil

	default:
		return resp.Body, nil
	}
}
