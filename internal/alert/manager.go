// Package alert 实现告警的生命周期状态机
package alert

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hewenyu/church-monitor/internal/config"
	"github.com/hewenyu/church-monitor/pkg/apperror"
	"github.com/hewenyu/church-monitor/pkg/model"
	"github.com/hewenyu/church-monitor/pkg/storage"
)

const (
	// SourceManual 人工创建的告警来源
	SourceManual = "manual"
	// SystemActor 系统自动操作使用的操作人
	SystemActor = "system"

	defaultPageSize = 20
	maxPageSize     = 200
	lockStripes     = 64
)

// Action 告警事件类型
type Action string

const (
	ActionCreated      Action = "created"
	ActionAcknowledged Action = "acknowledged"
	ActionResolved     Action = "resolved"
	ActionMuted        Action = "muted"
	ActionUnmuted      Action = "unmuted"
	ActionExpired      Action = "mute_expired"
	ActionEscalated    Action = "escalated"
	ActionDeleted      Action = "deleted"
)

// Event 告警发生的一次变化
type Event struct {
	Action Action            `json:"action"`
	From   model.AlertStatus `json:"from,omitempty"`
	To     model.AlertStatus `json:"to,omitempty"`
	Actor  string            `json:"actor,omitempty"`
	Alert  *model.Alert      `json:"alert"`
}

// EventPublisher 接收告警事件，实现方不能阻塞
type EventPublisher interface {
	PublishAlert(event Event)
}

// Options 告警管理参数
type Options struct {
	MaxEscalation int
	DefaultMute   time.Duration
}

// CreateRequest 创建告警请求
type CreateRequest struct {
	Title       string              `json:"title" validate:"required"`
	Description string              `json:"description"`
	Severity    model.AlertSeverity `json:"severity" validate:"omitempty,oneof=critical high medium low info"`
	Service     string              `json:"service"`
	Source      string              `json:"source"`
	Metadata    model.AlertMetadata `json:"metadata"`
}

// Query 告警列表查询条件，Page从1开始
type Query struct {
	Severity model.AlertSeverity
	Status   model.AlertStatus
	Service  string
	Source   string
	Search   string
	From     time.Time
	To       time.Time
	Page     int
	Limit    int
}

// Page 告警分页结果
type Page struct {
	Alerts []*model.Alert `json:"alerts"`
	Total  int            `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

// Manager 告警生命周期管理器
type Manager struct {
	store      storage.AlertStorage
	opts       Options
	publishers []EventPublisher
	locks      [lockStripes]sync.Mutex
	logger     config.Logger
	now        func() time.Time
}

// NewManager 创建告警管理器
func NewManager(store storage.AlertStorage, opts Options, logger config.Logger) *Manager {
	if opts.MaxEscalation <= 0 {
		opts.MaxEscalation = 5
	}
	if opts.DefaultMute <= 0 {
		opts.DefaultMute = 24 * time.Hour
	}
	return &Manager{
		store:  store,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AddPublisher 注册事件接收方
func (m *Manager) AddPublisher(p EventPublisher) {
	m.publishers = append(m.publishers, p)
}

// MaxEscalation 返回升级上限
func (m *Manager) MaxEscalation() int {
	return m.opts.MaxEscalation
}

// Create 创建一条open状态的告警
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*model.Alert, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Service = strings.TrimSpace(req.Service)
	if req.Title == "" {
		return nil, apperror.Validation("告警标题不能为空")
	}
	if req.Service == "" {
		return nil, apperror.Validation("告警所属服务不能为空")
	}
	if req.Severity == "" {
		req.Severity = model.SeverityMedium
	}
	if !req.Severity.Valid() {
		return nil, apperror.Validation("无效的告警级别: %q", req.Severity)
	}
	if req.Source == "" {
		req.Source = SourceManual
	}

	now := m.now()
	alert := &model.Alert{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		Service:     req.Service,
		Source:      req.Source,
		Metadata:    req.Metadata,
		Status:      model.AlertStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateAlert(ctx, alert); err != nil {
		return nil, m.translate(err, "创建告警失败")
	}

	m.logger.Info("告警已创建",
		zap.String("alert_id", alert.ID),
		zap.String("service", alert.Service),
		zap.String("severity", string(alert.Severity)),
		zap.String("source", alert.Source))
	m.publish(Event{Action: ActionCreated, To: alert.Status, Alert: alert})
	return alert.Clone(), nil
}

// Get 获取告警，静默到期的告警会先恢复为open
func (m *Manager) Get(ctx context.Context, id string) (*model.Alert, error) {
	mu := m.lock(id)
	mu.Lock()
	defer mu.Unlock()

	return m.load(ctx, id)
}

// Acknowledge 确认告警，只能从open状态确认
func (m *Manager) Acknowledge(ctx context.Context, id, actor string) (*model.Alert, error) {
	return m.transition(ctx, id, ActionAcknowledged, actor, func(a *model.Alert, now time.Time) (bool, error) {
		if a.Status != model.AlertStatusOpen {
			return false, invalid(a, "确认")
		}
		a.Status = model.AlertStatusAcknowledged
		a.AcknowledgedBy = actor
		a.AcknowledgedAt = &now
		return true, nil
	})
}

// Resolve 解决告警，resolved为终态
func (m *Manager) Resolve(ctx context.Context, id, actor string) (*model.Alert, error) {
	return m.transition(ctx, id, ActionResolved, actor, func(a *model.Alert, now time.Time) (bool, error) {
		if a.Status == model.AlertStatusResolved {
			return false, invalid(a, "解决")
		}
		a.Status = model.AlertStatusResolved
		a.ResolvedBy = actor
		a.ResolvedAt = &now
		a.MutedUntil = nil
		return true, nil
	})
}

// Mute 静默告警直到until，until为nil时使用默认时长
func (m *Manager) Mute(ctx context.Context, id, actor string, until *time.Time) (*model.Alert, error) {
	return m.transition(ctx, id, ActionMuted, actor, func(a *model.Alert, now time.Time) (bool, error) {
		if a.Status != model.AlertStatusOpen && a.Status != model.AlertStatusAcknowledged {
			return false, invalid(a, "静默")
		}
		end := now.Add(m.opts.DefaultMute)
		if until != nil {
			end = until.UTC()
		}
		if !end.After(now) {
			return false, apperror.InvalidTransition("静默截止时间必须晚于当前时间")
		}
		a.Status = model.AlertStatusMuted
		a.MutedBy = actor
		a.MutedUntil = &end
		return true, nil
	})
}

// Unmute 取消静默，告警回到open
func (m *Manager) Unmute(ctx context.Context, id, actor string) (*model.Alert, error) {
	return m.transition(ctx, id, ActionUnmuted, actor, func(a *model.Alert, now time.Time) (bool, error) {
		if a.Status != model.AlertStatusMuted {
			return false, invalid(a, "取消静默")
		}
		reopen(a)
		return true, nil
	})
}

// Escalate 升级告警，只能在open状态升级；达到上限后保持不变
func (m *Manager) Escalate(ctx context.Context, id string) (*model.Alert, error) {
	return m.transition(ctx, id, ActionEscalated, SystemActor, func(a *model.Alert, now time.Time) (bool, error) {
		if a.Status != model.AlertStatusOpen {
			return false, invalid(a, "升级")
		}
		if a.EscalationLevel >= m.opts.MaxEscalation {
			return false, nil
		}
		a.EscalationLevel++
		a.EscalatedAt = &now
		return true, nil
	})
}

// BulkResolve 批量解决告警，返回实际解决的数量
func (m *Manager) BulkResolve(ctx context.Context, ids []string, actor string) (int, error) {
	return m.bulk(ctx, ids, func(id string) (*model.Alert, error) {
		return m.Resolve(ctx, id, actor)
	})
}

// BulkAcknowledge 批量确认告警，返回实际确认的数量
func (m *Manager) BulkAcknowledge(ctx context.Context, ids []string, actor string) (int, error) {
	return m.bulk(ctx, ids, func(id string) (*model.Alert, error) {
		return m.Acknowledge(ctx, id, actor)
	})
}

// bulk 逐个执行单条操作，不符合条件或不存在的告警被跳过
func (m *Manager) bulk(ctx context.Context, ids []string, op func(id string) (*model.Alert, error)) (int, error) {
	if len(ids) == 0 {
		return 0, apperror.Validation("告警ID列表不能为空")
	}
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return 0, apperror.Validation("第%d个告警ID为空", i+1)
		}
	}

	count := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := op(id); err != nil {
			m.logger.Debug("批量操作跳过告警", zap.String("alert_id", id), zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

// List 查询告警，查询前先恢复静默到期的告警
func (m *Manager) List(ctx context.Context, q Query) (*Page, error) {
	if q.Severity != "" && !q.Severity.Valid() {
		return nil, apperror.Validation("无效的告警级别: %q", q.Severity)
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, apperror.Validation("无效的告警状态: %q", q.Status)
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return nil, apperror.Validation("查询起始时间晚于结束时间")
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}

	if err := m.sweep(ctx); err != nil {
		return nil, err
	}

	alerts, total, err := m.store.ListAlerts(ctx, storage.AlertFilter{
		Severity: q.Severity,
		Status:   q.Status,
		Service:  q.Service,
		Source:   q.Source,
		Search:   q.Search,
		From:     q.From,
		To:       q.To,
		Offset:   (q.Page - 1) * q.Limit,
		Limit:    q.Limit,
	})
	if err != nil {
		return nil, m.translate(err, "查询告警失败")
	}
	return &Page{Alerts: alerts, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

// Active 返回服务在指定来源下尚未解决的告警
func (m *Manager) Active(ctx context.Context, service, source string) ([]*model.Alert, error) {
	if err := m.sweep(ctx); err != nil {
		return nil, err
	}
	alerts, _, err := m.store.ListAlerts(ctx, storage.AlertFilter{Service: service, Source: source})
	if err != nil {
		return nil, m.translate(err, "查询告警失败")
	}

	active := alerts[:0]
	for _, a := range alerts {
		if a.Status != model.AlertStatusResolved {
			active = append(active, a)
		}
	}
	return active, nil
}

// Counts 按状态统计告警
func (m *Manager) Counts(ctx context.Context) (model.AlertCounts, error) {
	if err := m.sweep(ctx); err != nil {
		return model.AlertCounts{}, err
	}
	byStatus, err := m.store.CountAlerts(ctx)
	if err != nil {
		return model.AlertCounts{}, m.translate(err, "统计告警失败")
	}
	return model.AlertCounts{
		Open:         byStatus[model.AlertStatusOpen],
		Acknowledged: byStatus[model.AlertStatusAcknowledged],
		Muted:        byStatus[model.AlertStatusMuted],
		Resolved:     byStatus[model.AlertStatusResolved],
	}, nil
}

// Delete 删除告警
func (m *Manager) Delete(ctx context.Context, id string) error {
	mu := m.lock(id)
	mu.Lock()
	defer mu.Unlock()

	alert, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return m.translate(err, "获取告警失败: %s", id)
	}
	if err := m.store.DeleteAlert(ctx, id); err != nil {
		return m.translate(err, "删除告警失败: %s", id)
	}

	m.logger.Info("告警已删除", zap.String("alert_id", id))
	m.publish(Event{Action: ActionDeleted, From: alert.Status, Alert: alert})
	return nil
}

// sweep 把静默到期的告警恢复为open
func (m *Manager) sweep(ctx context.Context) error {
	expired, err := m.store.ListExpiredMutes(ctx, m.now())
	if err != nil {
		return m.translate(err, "查询到期静默失败")
	}
	for _, a := range expired {
		if _, err := m.Get(ctx, a.ID); err != nil && !apperror.Is(err, apperror.CodeNotFound) {
			return err
		}
	}
	return nil
}

// load 读取告警并处理静默到期，调用方必须持有该告警的锁
func (m *Manager) load(ctx context.Context, id string) (*model.Alert, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.Validation("告警ID不能为空")
	}
	alert, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return nil, m.translate(err, "获取告警失败: %s", id)
	}

	now := m.now()
	if !alert.MuteExpired(now) {
		return alert, nil
	}

	reopen(alert)
	alert.UpdatedAt = now
	if err := m.store.UpdateAlert(ctx, alert, model.AlertStatusMuted); err != nil {
		return nil, m.translate(err, "恢复静默到期告警失败: %s", id)
	}
	m.logger.Info("告警静默已到期", zap.String("alert_id", id))
	m.publish(Event{Action: ActionExpired, From: model.AlertStatusMuted, To: alert.Status, Actor: SystemActor, Alert: alert})
	return alert, nil
}

// transition 在告警锁内读取、修改并条件写回告警
func (m *Manager) transition(ctx context.Context, id string, action Action, actor string, apply func(a *model.Alert, now time.Time) (bool, error)) (*model.Alert, error) {
	mu := m.lock(id)
	mu.Lock()
	defer mu.Unlock()

	alert, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}

	from := alert.Status
	now := m.now()
	changed, err := apply(alert, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return alert, nil
	}

	alert.UpdatedAt = now
	if err := m.store.UpdateAlert(ctx, alert, from); err != nil {
		return nil, m.translate(err, "更新告警失败: %s", id)
	}

	m.logger.Info("告警状态已变更",
		zap.String("alert_id", id),
		zap.String("action", string(action)),
		zap.String("from", string(from)),
		zap.String("to", string(alert.Status)),
		zap.String("actor", actor))
	m.publish(Event{Action: action, From: from, To: alert.Status, Actor: actor, Alert: alert})
	return alert.Clone(), nil
}

func (m *Manager) publish(event Event) {
	for _, p := range m.publishers {
		p.PublishAlert(Event{
			Action: event.Action,
			From:   event.From,
			To:     event.To,
			Actor:  event.Actor,
			Alert:  event.Alert.Clone(),
		})
	}
}

func (m *Manager) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &m.locks[h.Sum32()%lockStripes]
}

func (m *Manager) translate(err error, format string, args ...interface{}) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	msg := fmt.Sprintf(format, args...)
	switch storage.CodeOf(err) {
	case storage.ErrNotFound:
		return apperror.NotFound("%s: %v", msg, err)
	case storage.ErrInvalidArgument:
		return apperror.Validation("%s: %v", msg, err)
	case storage.ErrConflict:
		m.logger.Warn(msg, zap.Error(err))
		return apperror.Conflict("%s: %v", msg, err)
	}

	m.logger.Error(msg, zap.Error(err))
	return apperror.Persistence(err, "%s", msg)
}

func reopen(a *model.Alert) {
	a.Status = model.AlertStatusOpen
	a.MutedBy = ""
	a.MutedUntil = nil
}

func invalid(a *model.Alert, op string) error {
	return apperror.InvalidTransition("告警当前状态为%s，不能%s", a.Status, op)
}
