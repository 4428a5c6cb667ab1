// Package metrics 记录时序样本并计算窗口聚合、分位数和趋势
package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/church-monitor/internal/config"
	"github.com/hewenyu/church-monitor/pkg/apperror"
	"github.com/hewenyu/church-monitor/pkg/model"
	"github.com/hewenyu/church-monitor/pkg/storage"
)

// Options 聚合器参数
type Options struct {
	Retention      time.Duration // 样本保留时长
	DefaultWindow  time.Duration // 未指定时间范围时的查询窗口
	MaxQueryPoints int           // 单次查询最多返回的点数
}

// Aggregator 指标聚合器
type Aggregator struct {
	store  storage.MetricStorage
	opts   Options
	logger config.Logger
	now    func() time.Time
}

// New 创建指标聚合器
func New(store storage.MetricStorage, opts Options, logger config.Logger) *Aggregator {
	if opts.DefaultWindow <= 0 {
		opts.DefaultWindow = time.Hour
	}
	if opts.MaxQueryPoints <= 0 {
		opts.MaxQueryPoints = 1000
	}
	return &Aggregator{
		store:  store,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record 校验并写入一个样本，未指定时间戳时使用当前时间
func (a *Aggregator) Record(ctx context.Context, sample model.MetricSample) error {
	if sample.Service == "" {
		return apperror.Validation("指标所属服务不能为空")
	}
	if sample.Name == "" {
		return apperror.Validation("指标名称不能为空")
	}
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return apperror.Validation("指标值必须是有限数值")
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = a.now()
	}

	if err := a.store.AppendSample(ctx, sample); err != nil {
		return a.translate(err, "写入指标失败: %s/%s", sample.Service, sample.Name)
	}
	return nil
}

// Query 按时间升序返回[from, to]内的样本；零值时间表示最近一个默认窗口
func (a *Aggregator) Query(ctx context.Context, service, name string, from, to time.Time, limit int) ([]model.MetricSample, error) {
	if service == "" || name == "" {
		return nil, apperror.Validation("服务和指标名称不能为空")
	}
	if to.IsZero() {
		to = a.now()
	}
	if from.IsZero() {
		from = to.Add(-a.opts.DefaultWindow)
	}
	if from.After(to) {
		return nil, apperror.Validation("查询起始时间晚于结束时间")
	}
	if limit <= 0 || limit > a.opts.MaxQueryPoints {
		limit = a.opts.MaxQueryPoints
	}

	samples, err := a.store.QuerySamples(ctx, service, name, from, to, limit)
	if err != nil {
		return nil, a.translate(err, "查询指标失败: %s/%s", service, name)
	}
	return samples, nil
}

// Aggregate 计算最近window时长内的统计值
func (a *Aggregator) Aggregate(ctx context.Context, service, name string, window time.Duration) (*model.MetricAggregate, error) {
	if window <= 0 {
		window = a.opts.DefaultWindow
	}
	to := a.now()
	from := to.Add(-window)

	samples, err := a.store.QuerySamples(ctx, service, name, from, to, 0)
	if err != nil {
		return nil, a.translate(err, "查询指标失败: %s/%s", service, name)
	}

	result := &model.MetricAggregate{
		Service: service,
		Name:    name,
		Window:  window,
		From:    from,
		To:      to,
		Count:   len(samples),
		Trend:   model.Trend{Direction: model.TrendStable},
	}
	if len(samples) == 0 {
		return result, nil
	}

	values := make([]float64, len(samples))
	sum := 0.0
	result.Min, result.Max = math.Inf(1), math.Inf(-1)
	for i, s := range samples {
		values[i] = s.Value
		sum += s.Value
		result.Min = math.Min(result.Min, s.Value)
		result.Max = math.Max(result.Max, s.Value)
	}
	result.Avg = sum / float64(len(values))
	result.P50 = Percentile(values, 50)
	result.P95 = Percentile(values, 95)
	result.P99 = Percentile(values, 99)
	result.Trend = ComputeTrend(samples)
	return result, nil
}

// Resources 返回主机资源的最新使用率，没有上报过的指标取0
func (a *Aggregator) Resources(ctx context.Context) (model.ResourceUsage, error) {
	var usage model.ResourceUsage
	for _, item := range []struct {
		name  string
		value *float64
	}{
		{model.MetricCPUUsage, &usage.CPU},
		{model.MetricMemoryUsage, &usage.Memory},
		{model.MetricDiskUsage, &usage.Disk},
	} {
		sample, err := a.store.LatestSample(ctx, model.SystemService, item.name)
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return usage, a.translate(err, "读取资源指标失败: %s", item.name)
		}
		*item.value = sample.Value
	}
	return usage, nil
}

// Prune 删除超过保留时长的样本
func (a *Aggregator) Prune(ctx context.Context) (int, error) {
	if a.opts.Retention <= 0 {
		return 0, nil
	}
	cutoff := a.now().Add(-a.opts.Retention)
	removed, err := a.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, a.translate(err, "清理过期指标失败")
	}
	if removed > 0 {
		a.logger.Info("已清理过期指标", zap.Int("removed", removed), zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

func (a *Aggregator) translate(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	switch storage.CodeOf(err) {
	case storage.ErrNotFound:
		return apperror.NotFound("%s: %v", msg, err)
	case storage.ErrInvalidArgument:
		return apperror.Validation("%s: %v", msg, err)
	}
	a.logger.Error(msg, zap.Error(err))
	return apperror.Persistence(err, "%s", msg)
}

// Percentile 计算第p百分位数，在相邻两个排名之间线性插值；values为空时返回0
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// stableRatio 斜率绝对值低于均值的该比例(每分钟)时视为平稳
const stableRatio = 0.01

// ComputeTrend 用最小二乘法计算每分钟的变化斜率
func ComputeTrend(samples []model.MetricSample) model.Trend {
	trend := model.Trend{Direction: model.TrendStable}
	if len(samples) < 2 {
		return trend
	}

	origin := samples[0].Timestamp
	n := float64(len(samples))
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		x := s.Timestamp.Sub(origin).Minutes()
		sumX += x
		sumY += s.Value
		sumXY += x * s.Value
		sumXX += x * x
	}

	denominator := n*sumXX - sumX*sumX
	if denominator == 0 {
		return trend
	}
	trend.Slope = (n*sumXY - sumX*sumY) / denominator

	mean := sumY / n
	threshold := math.Abs(mean) * stableRatio
	switch {
	case math.Abs(trend.Slope) <= threshold:
		trend.Direction = model.TrendStable
	case trend.Slope > 0:
		trend.Direction = model.TrendIncreasing
	default:
		trend.Direction = model.TrendDecreasing
	}
	return trend
}
