package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
)

// windowToken is substituted into provider expressions before querying, so
// one configured expression serves any step window.
const windowToken = "$__window"

// PrometheusProvider judges queries against a Prometheus range API.
type PrometheusProvider struct {
	api  promv1.API
	step time.Duration
}

// NewPrometheusProvider dials one Prometheus base URL.
func NewPrometheusProvider(address string) (*PrometheusProvider, error) {
	client, err := api.NewClient(api.Config{Address: strings.TrimSpace(address)})
	if err != nil {
		return nil, fmt.Errorf("analysis: prometheus client: %w", err)
	}
	return &PrometheusProvider{api: promv1.NewAPI(client), step: 15 * time.Second}, nil
}

func (p *PrometheusProvider) Query(ctx context.Context, expr string, window time.Duration) ([]Sample, error) {
	if window <= 0 {
		window = 5 * time.Minute
	}
	end := time.Now().UTC()
	expr = strings.ReplaceAll(expr, windowToken, model.Duration(window).String())

	val, _, err := p.api.QueryRange(ctx, expr, promv1.Range{
		Start: end.Add(-window),
		End:   end,
		Step:  p.step,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	matrix, ok := val.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result type %s", ErrProviderUnavailable, val.Type())
	}
	var out []Sample
	for _, stream := range matrix {
		for _, point := range stream.Values {
			out = append(out, Sample{At: point.Timestamp.Time(), Value: float64(point.Value)})
		}
	}
	return out, nil
}

// InfluxProvider judges flux queries against an InfluxDB 2.x query API.
type InfluxProvider struct {
	query influxapi.QueryAPI
	close func()
}

// NewInfluxProvider connects to one InfluxDB endpoint and org.
func NewInfluxProvider(url, token, org string) *InfluxProvider {
	client := influxdb2.NewClient(strings.TrimSpace(url), strings.TrimSpace(token))
	return &InfluxProvider{query: client.QueryAPI(org), close: client.Close}
}

func (p *InfluxProvider) Query(ctx context.Context, expr string, window time.Duration) ([]Sample, error) {
	if window <= 0 {
		window = 5 * time.Minute
	}
	expr = strings.ReplaceAll(expr, windowToken, window.String())

	result, err := p.query.Query(ctx, expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	var out []Sample
	for result.Next() {
		rec := result.Record()
		v, ok := rec.Value().(float64)
		if !ok {
			continue
		}
		out = append(out, Sample{At: rec.Time(), Value: v})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return out, nil
}

// Close releases the underlying client connections.
func (p *InfluxProvider) Close() {
	if p.close != nil {
		p.close()
	}
}
