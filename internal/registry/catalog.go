package registry

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hewenyu/church-monitor/pkg/apperror"
)

// Catalog 服务目录文件
type Catalog struct {
	Services []RegisterRequest `yaml:"services"`
}

// ParseCatalog 解析YAML格式的服务目录
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("解析服务目录失败: %w", err)
	}
	return &catalog, nil
}

// LoadCatalog 读取服务目录并注册其中尚不存在的服务，返回新注册的数量
func (r *Registry) LoadCatalog(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("读取服务目录失败: %w", err)
	}
	catalog, err := ParseCatalog(data)
	if err != nil {
		return 0, err
	}

	registered := 0
	for _, req := range catalog.Services {
		if _, err := r.Register(ctx, req); err != nil {
			if apperror.Is(err, apperror.CodeConflict) {
				continue
			}
			return registered, fmt.Errorf("注册目录中的服务%s失败: %w", req.Name, err)
		}
		registered++
	}

	r.logger.Info("服务目录已加载",
		zap.String("path", path),
		zap.Int("services", len(catalog.Services)),
		zap.Int("registered", registered))
	return registered, nil
}
