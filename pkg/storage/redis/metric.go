// Package redis 提供基于Redis有序集合的指标存储
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/hewenyu/church-monitor/pkg/model"
	"github.com/hewenyu/church-monitor/pkg/storage"
)

const defaultKeyPrefix = "church-monitor:metrics:"

// record 是有序集合中的成员，ID保证相同内容的数据点不会被合并
type record struct {
	ID     string             `json:"id"`
	Sample model.MetricSample `json:"sample"`
}

// MetricStorage 每个序列一个有序集合，分数为毫秒时间戳
type MetricStorage struct {
	client *redis.Client
	prefix string
}

// Connect 根据redis://地址连接Redis并检查连通性
func Connect(ctx context.Context, url, keyPrefix string) (*MetricStorage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("解析Redis地址失败: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}
	return NewMetricStorage(client, keyPrefix), nil
}

// NewMetricStorage 使用已有的客户端创建指标存储
func NewMetricStorage(client *redis.Client, keyPrefix string) *MetricStorage {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &MetricStorage{client: client, prefix: keyPrefix}
}

// Close 关闭Redis连接
func (s *MetricStorage) Close() error {
	return s.client.Close()
}

func (s *MetricStorage) seriesKey(service, name string) string {
	return s.prefix + "series:" + service + ":" + name
}

func (s *MetricStorage) indexKey() string {
	return s.prefix + "index"
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// AppendSample 追加一个数据点
func (s *MetricStorage) AppendSample(ctx context.Context, sample model.MetricSample) error {
	if sample.Service == "" || sample.Name == "" {
		return storage.NewInvalidArgumentError("服务名称和指标名称不能为空")
	}

	data, err := json.Marshal(record{ID: uuid.NewString(), Sample: sample})
	if err != nil {
		return storage.NewInternalError(fmt.Sprintf("序列化指标失败: %v", err))
	}

	key := s.seriesKey(sample.Service, sample.Name)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(sample.Timestamp.UnixMilli()), Member: data})
	pipe.SAdd(ctx, s.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return storage.NewInternalError(fmt.Sprintf("写入指标失败: %v", err))
	}
	return nil
}

// QuerySamples 查询区间内的数据点，按时间升序
func (s *MetricStorage) QuerySamples(ctx context.Context, service, name string, from, to time.Time, limit int) ([]model.MetricSample, error) {
	if service == "" || name == "" {
		return nil, storage.NewInvalidArgumentError("服务名称和指标名称不能为空")
	}

	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !from.IsZero() {
		by.Min = score(from)
	}
	if !to.IsZero() {
		by.Max = score(to)
	}

	key := s.seriesKey(service, name)
	var (
		members []string
		err     error
	)
	if limit > 0 {
		// 取最新的limit个后反转为升序
		by.Count = int64(limit)
		members, err = s.client.ZRevRangeByScore(ctx, key, by).Result()
		for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
			members[i], members[j] = members[j], members[i]
		}
	} else {
		members, err = s.client.ZRangeByScore(ctx, key, by).Result()
	}
	if err != nil {
		return nil, storage.NewInternalError(fmt.Sprintf("查询指标失败: %v", err))
	}

	return decode(members)
}

// LatestSample 获取最新的数据点
func (s *MetricStorage) LatestSample(ctx context.Context, service, name string) (*model.MetricSample, error) {
	members, err := s.client.ZRevRange(ctx, s.seriesKey(service, name), 0, 0).Result()
	if err != nil {
		return nil, storage.NewInternalError(fmt.Sprintf("查询指标失败: %v", err))
	}
	if len(members) == 0 {
		return nil, storage.NewNotFoundError("指标不存在: " + service + "/" + name)
	}

	samples, err := decode(members)
	if err != nil {
		return nil, err
	}
	return &samples[0], nil
}

// PruneBefore 删除所有序列中早于cutoff的数据点
func (s *MetricStorage) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, storage.NewInternalError(fmt.Sprintf("读取指标索引失败: %v", err))
	}

	// 分数上限为cutoff之前的最后一毫秒
	upper := "(" + score(cutoff)
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(keys))
	for _, key := range keys {
		cmds = append(cmds, pipe.ZRemRangeByScore(ctx, key, "-inf", upper))
	}
	if len(cmds) == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, storage.NewInternalError(fmt.Sprintf("清理指标失败: %v", err))
	}

	removed := 0
	for _, cmd := range cmds {
		removed += int(cmd.Val())
	}
	return removed, nil
}

func decode(members []string) ([]model.MetricSample, error) {
	samples := make([]model.MetricSample, 0, len(members))
	for _, m := range members {
		var r record
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			return nil, storage.NewInternalError(fmt.Sprintf("解析指标失败: %v", err))
		}
		samples = append(samples, r.Sample)
	}
	return samples, nil
}
