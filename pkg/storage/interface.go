package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hewenyu/church-monitor/pkg/model"
)

// ServiceMutator 在存储的原子读改写过程中修改服务，返回错误时放弃写入
type ServiceMutator func(service *model.Service) error

// ServiceStorage 定义被监控服务的存储接口
type ServiceStorage interface {
	// CreateService 新建服务，名称已存在时返回ErrAlreadyExists
	CreateService(ctx context.Context, service *model.Service) error

	// GetService 获取服务详情
	GetService(ctx context.Context, name string) (*model.Service, error)

	// ListServices 获取所有服务，按名称排序
	ListServices(ctx context.Context) ([]*model.Service, error)

	// UpdateService 对单个服务做原子的读改写，返回写入后的服务
	UpdateService(ctx context.Context, name string, mutate ServiceMutator) (*model.Service, error)

	// DeleteService 删除服务
	DeleteService(ctx context.Context, name string) error
}

// AlertFilter 告警查询条件，零值字段表示不过滤
type AlertFilter struct {
	Severity model.AlertSeverity
	Status   model.AlertStatus
	Service  string
	Source   string
	Search   string // 标题和描述的模糊匹配，不区分大小写
	From     time.Time
	To       time.Time
	Offset   int
	Limit    int
}

// AlertStorage 定义告警的存储接口
type AlertStorage interface {
	// CreateAlert 新建告警
	CreateAlert(ctx context.Context, alert *model.Alert) error

	// GetAlert 获取告警详情
	GetAlert(ctx context.Context, id string) (*model.Alert, error)

	// UpdateAlert 条件更新告警：存储中的状态必须等于expected且版本号等于alert.Version，
	// 成功后版本号加一；条件不满足时返回ErrConflict
	UpdateAlert(ctx context.Context, alert *model.Alert, expected model.AlertStatus) error

	// DeleteAlert 删除告警
	DeleteAlert(ctx context.Context, id string) error

	// ListAlerts 按条件查询告警，按创建时间、ID倒序；返回分页结果和过滤后的总数
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*model.Alert, int, error)

	// ListExpiredMutes 获取静默截止时间不晚于now的告警
	ListExpiredMutes(ctx context.Context, now time.Time) ([]*model.Alert, error)

	// CountAlerts 按状态统计告警数量
	CountAlerts(ctx context.Context) (map[model.AlertStatus]int, error)
}

// MetricStorage 定义时序指标的存储接口
type MetricStorage interface {
	// AppendSample 追加一个数据点
	AppendSample(ctx context.Context, sample model.MetricSample) error

	// QuerySamples 查询[from, to]区间内的数据点，按时间升序；limit<=0表示不限制，
	// 超出limit时保留最新的limit个
	QuerySamples(ctx context.Context, service, name string, from, to time.Time, limit int) ([]model.MetricSample, error)

	// LatestSample 获取最新的数据点，没有数据时返回ErrNotFound
	LatestSample(ctx context.Context, service, name string) (*model.MetricSample, error)

	// PruneBefore 删除早于cutoff的数据点，返回删除数量
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StorageError 定义存储操作可能返回的错误类型
type StorageError struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *StorageError) Error() string {
	return e.Message
}

// 定义错误代码
const (
	// ErrNotFound 资源不存在
	ErrNotFound = iota + 1
	// ErrAlreadyExists 资源已存在
	ErrAlreadyExists
	// ErrInvalidArgument 参数无效
	ErrInvalidArgument
	// ErrInternal 内部错误
	ErrInternal
	// ErrConflict 条件更新失败
	ErrConflict
)

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) *StorageError {
	return &StorageError{
		Code:    ErrNotFound,
		Message: message,
	}
}

// NewAlreadyExistsError 创建资源已存在错误
func NewAlreadyExistsError(message string) *StorageError {
	return &StorageError{
		Code:    ErrAlreadyExists,
		Message: message,
	}
}

// NewInvalidArgumentError 创建参数无效错误
func NewInvalidArgumentError(message string) *StorageError {
	return &StorageError{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *StorageError {
	return &StorageError{
		Code:    ErrInternal,
		Message: message,
	}
}

// NewConflictError 创建条件更新失败错误
func NewConflictError(message string) *StorageError {
	return &StorageError{
		Code:    ErrConflict,
		Message: message,
	}
}

// CodeOf 返回错误中的存储错误代码，不是存储错误时返回0
func CodeOf(err error) int {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsNotFound 判断是否为资源不存在错误
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsConflict 判断是否为条件更新失败错误
func IsConflict(err error) bool {
	return CodeOf(err) == ErrConflict
}
