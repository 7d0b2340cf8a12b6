package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the crawler's Prometheus collectors.
type Metrics struct {
	PagesTotal    *prometheus.CounterVec
	ListingsTotal *prometheus.CounterVec
	SiteRunsTotal *prometheus.CounterVec
	SiteDuration  *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests so repeated construction does not panic on duplicate registration.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		PagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobcrawler_pages_total",
			Help: "Listing pages fetched, by site and result.",
		}, []string{"site", "result"}), // result: ok, empty, error
		ListingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobcrawler_listings_total",
			Help: "Job listings written to storage, by site and kind.",
		}, []string{"site", "kind"}), // kind: new, refreshed, skipped
		SiteRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobcrawler_site_runs_total",
			Help: "Site scrape runs, by site and result.",
		}, []string{"site", "result"}),
		SiteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobcrawler_site_duration_seconds",
			Help:    "Duration of one site scrape.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"site"}),
		gatherer: reg,
	}

	reg.MustRegister(m.PagesTotal, m.ListingsTotal, m.SiteRunsTotal, m.SiteDuration)
	return m
}

func (m *Metrics) IncPage(site, result string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(site, result).Inc()
}

func (m *Metrics) AddListings(site, kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ListingsTotal.WithLabelValues(site, kind).Add(float64(n))
}

func (m *Metrics) ObserveSite(site, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.SiteRunsTotal.WithLabelValues(site, result).Inc()
	m.SiteDuration.WithLabelValues(site).Observe(d.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
