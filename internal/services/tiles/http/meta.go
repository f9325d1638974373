package http

import (
	"net/http"
	"time"

	"tilefetch/internal/core/version"
	phttp "tilefetch/internal/platform/net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetaDeps feed the health and metrics endpoints
type MetaDeps struct {
	ServiceName string
	StartedAt   time.Time
	Gatherer    prometheus.Gatherer
	// Stats is reported as-is under health; may be nil
	Stats func() any
}

// HealthResponse is the health payload
type HealthResponse struct {
	OK         bool              `json:"ok"`
	Service    string            `json:"service"`
	Build      version.BuildInfo `json:"build"`
	Started    string            `json:"started"`
	Uptime     int64             `json:"uptime"`
	Downloader any               `json:"downloader,omitempty"`
}

// RegisterMeta mounts /healthz and /metrics
func RegisterMeta(r phttp.Router, d MetaDeps) {
	phttp.GetJSON(r, "/healthz", func(_ *http.Request) (any, error) {
		out := HealthResponse{
			OK:      true,
			Service: d.ServiceName,
			Build:   version.Info(),
			Started: d.StartedAt.UTC().Format(time.RFC3339),
			Uptime:  int64(time.Since(d.StartedAt) / time.Second),
		}
		if d.Stats != nil {
			out.Downloader = d.Stats()
		}
		return out, nil
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
}
