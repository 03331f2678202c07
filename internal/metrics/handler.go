package metrics

import (
	"bytes"
	"net/http"

	"github.com/muurk/tinyhttps/internal/http1"
	"github.com/muurk/tinyhttps/internal/logging"
	"github.com/muurk/tinyhttps/internal/server"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
)

// Handler serves the registry in the Prometheus exposition format from the
// embedded server. The format follows the request's Accept header.
func (c *Collector) Handler() server.Handler {
	return server.HandlerFunc(func(req *http1.Request, res *http1.Response) {
		families, err := c.registry.Gather()
		if err != nil {
			// Gather returns what it could collect alongside the error.
			logging.Warn("Metrics gather reported errors", zap.Error(err))
		}

		format := expfmt.Negotiate(http.Header{"Accept": []string{req.Header("Accept")}})

		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, format)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				logging.Error("Failed to encode metric family", zap.Error(err))
				res.Error(500, "metrics encoding failed")
				return
			}
		}
		if closer, ok := enc.(expfmt.Closer); ok {
			closer.Close()
		}

		res.Header().Set("Content-Type", string(format))
		res.SetContentLength(int64(buf.Len()))
		res.Write(buf.Bytes())
	})
}
