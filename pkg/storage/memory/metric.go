package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hewenyu/church-monitor/pkg/model"
	"github.com/hewenyu/church-monitor/pkg/storage"
)

// MetricStorage 是基于内存的指标存储实现，每个序列按时间升序保存
type MetricStorage struct {
	series map[string][]model.MetricSample
	mutex  sync.RWMutex
}

// NewMetricStorage 创建新的内存指标存储
func NewMetricStorage() *MetricStorage {
	return &MetricStorage{
		series: make(map[string][]model.MetricSample),
	}
}

func seriesKey(service, name string) string {
	return service + "\x00" + name
}

// AppendSample 追加一个数据点，乱序到达的数据点插入到正确位置
func (m *MetricStorage) AppendSample(ctx context.Context, sample model.MetricSample) error {
	if sample.Service == "" || sample.Name == "" {
		return storage.NewInvalidArgumentError("服务名称和指标名称不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	key := seriesKey(sample.Service, sample.Name)
	samples := m.series[key]
	idx := sort.Search(len(samples), func(i int) bool {
		return samples[i].Timestamp.After(sample.Timestamp)
	})
	samples = append(samples, model.MetricSample{})
	copy(samples[idx+1:], samples[idx:])
	samples[idx] = sample
	m.series[key] = samples
	return nil
}

// QuerySamples 查询区间内的数据点
func (m *MetricStorage) QuerySamples(ctx context.Context, service, name string, from, to time.Time, limit int) ([]model.MetricSample, error) {
	if service == "" || name == "" {
		return nil, storage.NewInvalidArgumentError("服务名称和指标名称不能为空")
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]model.MetricSample, 0)
	for _, s := range m.series[seriesKey(service, name)] {
		if !from.IsZero() && s.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && s.Timestamp.After(to) {
			break
		}
		result = append(result, s)
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// LatestSample 获取最新的数据点
func (m *MetricStorage) LatestSample(ctx context.Context, service, name string) (*model.MetricSample, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	samples := m.series[seriesKey(service, name)]
	if len(samples) == 0 {
		return nil, storage.NewNotFoundError("指标不存在: " + service + "/" + name)
	}
	latest := samples[len(samples)-1]
	return &latest, nil
}

// PruneBefore 删除过期数据点
func (m *MetricStorage) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	removed := 0
	for key, samples := range m.series {
		idx := sort.Search(len(samples), func(i int) bool {
			return !samples[i].Timestamp.Before(cutoff)
		})
		if idx == 0 {
			continue
		}
		removed += idx
		if idx == len(samples) {
			delete(m.series, key)
			continue
		}
		m.series[key] = append([]model.MetricSample(nil), samples[idx:]...)
	}
	return removed, nil
}
