package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Prometheus series read from the server's /metrics endpoint.
const (
	metricStoreOps   = "screenpilot_vectorstore_operations_total"
	metricGoroutines = "go_goroutines"
	metricHeapAlloc  = "go_memstats_alloc_bytes"
	metricStartTime  = "process_start_time_seconds"
)

// Document is one stored source as listed by GET /documents.
type Document struct {
	SourceRef string `json:"source_ref"`
	Chunks    int    `json:"chunks"`
}

// Snapshot is the server state at one poll.
type Snapshot struct {
	Status      string
	VectorStore string
	Embeddings  string
	Primary     string
	Secondary   string
	HealthError string

	Documents []Document
	Chunks    int

	// StoreOps and StoreErrors are cumulative counts since server start.
	StoreOps    float64
	StoreErrors float64

	Goroutines  int
	MemoryBytes float64
	// StartTime is the server's start in Unix seconds, 0 when not exported.
	StartTime float64

	At time.Time
}

// Client polls a running screenpilot server.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the server at serverURL.
func NewClient(serverURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	VectorStore string `json:"vector_store"`
	Embeddings  string `json:"embeddings"`
	Primary     string `json:"primary"`
	Secondary   string `json:"secondary"`
	Error       string `json:"error"`
}

type documentsResponse struct {
	Documents []Document `json:"documents"`
	Total     int        `json:"total"`
}

// Fetch reads /health, /documents and /metrics.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	var health healthResponse
	if err := c.getJSON(ctx, "/health", &health); err != nil {
		return Snapshot{}, err
	}
	var docs documentsResponse
	if err := c.getJSON(ctx, "/documents", &docs); err != nil {
		return Snapshot{}, err
	}
	fams, err := c.scrape(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	s := Snapshot{
		Status:      health.Status,
		VectorStore: health.VectorStore,
		Embeddings:  health.Embeddings,
		Primary:     health.Primary,
		Secondary:   health.Secondary,
		HealthError: health.Error,
		Documents:   docs.Documents,
		StoreOps:    sumSamples(fams[metricStoreOps], nil),
		StoreErrors: sumSamples(fams[metricStoreOps], map[string]string{"status": "error"}),
		Goroutines:  int(sumSamples(fams[metricGoroutines], nil)),
		MemoryBytes: sumSamples(fams[metricHeapAlloc], nil),
		StartTime:   sumSamples(fams[metricStartTime], nil),
		At:          time.Now(),
	}
	for _, d := range docs.Documents {
		s.Chunks += d.Chunks
	}
	return s, nil
}

func (c *Client) get(ctx context.Context, path, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status code %d", path, resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.get(ctx, path, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: failed to decode response: %w", path, err)
	}
	return nil
}

func (c *Client) scrape(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	resp, err := c.get(ctx, "/metrics", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return parseMetrics(resp.Body)
}

// parseMetrics decodes the Prometheus text exposition format.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	dec := expfmt.NewDecoder(r, expfmt.NewFormat(expfmt.TypeTextPlain))
	fams := make(map[string]*dto.MetricFamily)
	for {
		mf := &dto.MetricFamily{}
		err := dec.Decode(mf)
		if errors.Is(err, io.EOF) {
			return fams, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse metrics: %w", err)
		}
		fams[mf.GetName()] = mf
	}
}

// sumSamples adds the counter, gauge or untyped values of every series in
// mf whose labels include all of match.
func sumSamples(mf *dto.MetricFamily, match map[string]string) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		if !hasLabels(m, match) {
			continue
		}
		switch {
		case m.GetCounter() != nil:
			total += m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			total += m.GetGauge().GetValue()
		case m.GetUntyped() != nil:
			total += m.GetUntyped().GetValue()
		}
	}
	return total
}

func hasLabels(m *dto.Metric, match map[string]string) bool {
	for name, want := range match {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == name && lp.GetValue() == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
