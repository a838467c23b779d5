package marketapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/agromarket/internal/metrics"
)

// RequestIDHeader carries a per-request UUIDv4.
const RequestIDHeader = "X-Request-Id"

// loggingTransport stamps a request id and logs request metadata. Bodies are never logged.
type loggingTransport struct {
	base http.RoundTripper
	log  *zap.Logger
	rec  *metrics.Recorder
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(RequestIDHeader) == "" {
		req = req.Clone(req.Context())
		id, err := uuid.NewV4()
		if err == nil {
			req.Header.Set(RequestIDHeader, id.String())
		}
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start)

	code := 0
	if resp != nil {
		code = resp.StatusCode
	}
	endpoint := strings.TrimPrefix(req.URL.Path, "/")
	t.rec.APIRequest(endpoint, code, dur)

	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("endpoint", endpoint),
		zap.Int("code", code),
		zap.Duration("dur", dur),
		zap.String("request_id", req.Header.Get(RequestIDHeader)),
	}
	if err != nil {
		t.log.Warn("http", append(fields, zap.Error(err))...)
		return nil, err
	}
	t.log.Info("http", fields...)
	return resp, nil
}
