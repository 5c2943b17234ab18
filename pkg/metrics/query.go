package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// SessionReport aggregates the conductor series scraped by a Prometheus
// server into one run summary.
type SessionReport struct {
	PhasesStarted    int64            `json:"phases_started"`
	PhasesCompleted  int64            `json:"phases_completed"`
	PhasesBlocked    int64            `json:"phases_blocked"`
	ApprovalsPending int64            `json:"approvals_pending"`
	AlertsByType     map[string]int64 `json:"alerts_by_type"`
	FilteredByReason map[string]int64 `json:"filtered_by_reason"`
}

// QueryService reads conductor metrics back out of a Prometheus server.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service against prometheusURL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// Report queries the current totals for one conductor instance.
func (q *QueryService) Report(ctx context.Context) (*SessionReport, error) {
	report := &SessionReport{}

	scalars := []struct {
		query string
		dest  *int64
	}{
		{`sum(conductor_phases_started_total)`, &report.PhasesStarted},
		{`sum(conductor_phases_completed_total)`, &report.PhasesCompleted},
		{`sum(conductor_phases_blocked_total)`, &report.PhasesBlocked},
		{`sum(conductor_approvals_pending)`, &report.ApprovalsPending},
	}
	for _, s := range scalars {
		val, err := q.queryScalar(ctx, s.query)
		if err != nil {
			return nil, err
		}
		*s.dest = val
	}

	alerts, err := q.queryByLabel(ctx, `sum by (type) (conductor_vigilance_alerts_total)`, "type")
	if err != nil {
		return nil, err
	}
	report.AlertsByType = alerts

	filtered, err := q.queryByLabel(ctx, `sum by (reason) (conductor_messages_filtered_total)`, "reason")
	if err != nil {
		return nil, err
	}
	report.FilteredByReason = filtered

	return report, nil
}

// queryScalar runs a sum query and returns 0 when no series exist yet.
func (q *QueryService) queryScalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("query %q failed: %w", query, err)
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return 0, fmt.Errorf("query %q returned %s, expected a vector", query, result.Type())
	}
	if len(vector) == 0 {
		return 0, nil
	}
	return int64(vector[0].Value), nil
}

func (q *QueryService) queryByLabel(ctx context.Context, query, label string) (map[string]int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", query, err)
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("query %q returned %s, expected a vector", query, result.Type())
	}
	out := make(map[string]int64, len(vector))
	for _, sample := range vector {
		out[string(sample.Metric[model.LabelName(label)])] = int64(sample.Value)
	}
	return out, nil
}
