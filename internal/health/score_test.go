package health

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/church-monitor/internal/registry"
	"github.com/hewenyu/church-monitor/pkg/model"
)

func services(healthy, unhealthy int) map[string]model.HealthStatus {
	out := make(map[string]model.HealthStatus)
	for i := 0; i < healthy; i++ {
		out[fmt.Sprintf("ok-%d", i)] = model.HealthStatusHealthy
	}
	for i := 0; i < unhealthy; i++ {
		out[fmt.Sprintf("bad-%d", i)] = model.HealthStatusUnhealthy
	}
	return out
}

func TestClassify(t *testing.T) {
	assert.Equal(t, model.HealthStatusHealthy, Classify(100))
	assert.Equal(t, model.HealthStatusHealthy, Classify(90))
	assert.Equal(t, model.HealthStatusDegraded, Classify(89))
	assert.Equal(t, model.HealthStatusDegraded, Classify(70))
	assert.Equal(t, model.HealthStatusUnhealthy, Classify(69))
	assert.Equal(t, model.HealthStatusUnhealthy, Classify(-20))
}

func TestCompute(t *testing.T) {
	status := Compute(Input{ServiceStatuses: services(3, 0)})
	assert.Equal(t, 100, status.Score)
	assert.Equal(t, model.HealthStatusHealthy, status.Status)
	assert.Equal(t, 3, status.HealthyCount)
	assert.Empty(t, status.Factors)

	status = Compute(Input{
		ServiceStatuses: map[string]model.HealthStatus{
			"api":      model.HealthStatusHealthy,
			"database": model.HealthStatusDegraded,
			"email":    model.HealthStatusUnknown,
		},
		Alerts:    model.AlertCounts{Open: 1, Acknowledged: 4, Muted: 2},
		Resources: model.ResourceUsage{CPU: 95, Memory: 90, Disk: 90.5},
	})
	// 100 - 2*10 - 5 - 10(cpu) - 10(disk)
	assert.Equal(t, 55, status.Score)
	assert.Equal(t, model.HealthStatusUnhealthy, status.Status)
	assert.Equal(t, 3, status.TotalServices)
	assert.Equal(t, 1, status.HealthyCount)
	assert.Equal(t, 1, status.OpenAlerts)
	assert.Len(t, status.Factors, 4)
}

func TestCompute_Boundaries(t *testing.T) {
	tests := []struct {
		name  string
		in    Input
		score int
		want  model.HealthStatus
	}{
		{"90分", Input{ServiceStatuses: services(1, 1)}, 90, model.HealthStatusHealthy},
		{"85分", Input{Alerts: model.AlertCounts{Open: 3}}, 85, model.HealthStatusDegraded},
		{"70分", Input{ServiceStatuses: services(0, 3)}, 70, model.HealthStatusDegraded},
		{"65分", Input{Alerts: model.AlertCounts{Open: 7}}, 65, model.HealthStatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.in)
			assert.Equal(t, tt.score, got.Score)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestCompute_NoClamp(t *testing.T) {
	status := Compute(Input{
		ServiceStatuses: services(0, 12),
		Alerts:          model.AlertCounts{Open: 4},
	})
	assert.Equal(t, -40, status.Score)
	assert.Equal(t, model.HealthStatusUnhealthy, status.Status)
}

func TestCompute_Monotonic(t *testing.T) {
	alerts := model.AlertCounts{Open: 2}
	resources := model.ResourceUsage{CPU: 50, Memory: 95}

	for n := 0; n < 15; n++ {
		before := Compute(Input{ServiceStatuses: services(2, n), Alerts: alerts, Resources: resources})
		after := Compute(Input{ServiceStatuses: services(2, n+1), Alerts: alerts, Resources: resources})
		assert.Equal(t, before.Score-10, after.Score)
	}

	for n := 0; n < 15; n++ {
		before := Compute(Input{ServiceStatuses: services(2, 1), Alerts: model.AlertCounts{Open: n}, Resources: resources})
		after := Compute(Input{ServiceStatuses: services(2, 1), Alerts: model.AlertCounts{Open: n + 1}, Resources: resources})
		assert.Equal(t, before.Score-5, after.Score)
	}
}

type stubSources struct {
	services []*model.Service
	counts   model.AlertCounts
	usage    model.ResourceUsage
	err      error
}

func (s *stubSources) List(ctx context.Context, filter registry.Filter) ([]*model.Service, error) {
	return s.services, s.err
}

func (s *stubSources) Counts(ctx context.Context) (model.AlertCounts, error) {
	return s.counts, nil
}

func (s *stubSources) Resources(ctx context.Context) (model.ResourceUsage, error) {
	return s.usage, nil
}

func TestAggregator_Status(t *testing.T) {
	src := &stubSources{
		services: []*model.Service{
			{Name: "api", Status: model.HealthStatusHealthy},
			{Name: "database", Status: model.HealthStatusUnhealthy},
		},
		counts: model.AlertCounts{Open: 1},
		usage:  model.ResourceUsage{Disk: 92},
	}
	agg := NewAggregator(src, src, src)

	status, err := agg.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 75, status.Score)
	assert.Equal(t, model.HealthStatusDegraded, status.Status)
	assert.Equal(t, 92.0, status.Resources.Disk)

	src.err = errors.New("registry down")
	_, err = agg.Status(context.Background())
	assert.Error(t, err)
}
