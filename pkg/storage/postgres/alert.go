// Package postgres 提供基于PostgreSQL的告警存储
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hewenyu/church-monitor/pkg/model"
	"github.com/hewenyu/church-monitor/pkg/storage"
)

const alertColumns = `id, title, description, severity, service, source, metadata, status,
	escalation_level, acknowledged_by, acknowledged_at, resolved_by, resolved_at,
	muted_by, muted_until, escalated_at, created_at, updated_at, version`

// AlertStorage 实现基于PostgreSQL的告警存储
type AlertStorage struct {
	pool *pgxpool.Pool
}

// Connect 连接数据库并检查连通性
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*AlertStorage, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("解析数据库地址失败: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}
	return &AlertStorage{pool: pool}, nil
}

// Close 关闭连接池
func (s *AlertStorage) Close() {
	s.pool.Close()
}

// Migrate 创建告警表，可重复执行
func (s *AlertStorage) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS alerts (
			id               TEXT PRIMARY KEY,
			title            TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			severity         TEXT NOT NULL,
			service          TEXT NOT NULL,
			source           TEXT NOT NULL,
			metadata         JSONB NOT NULL DEFAULT '{}',
			status           TEXT NOT NULL DEFAULT 'open',
			escalation_level INTEGER NOT NULL DEFAULT 0,
			acknowledged_by  TEXT NOT NULL DEFAULT '',
			acknowledged_at  TIMESTAMPTZ,
			resolved_by      TEXT NOT NULL DEFAULT '',
			resolved_at      TIMESTAMPTZ,
			muted_by         TEXT NOT NULL DEFAULT '',
			muted_until      TIMESTAMPTZ,
			escalated_at     TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			version          BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_alerts_service ON alerts(service, status);
		CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at DESC, id DESC);
	`)
	if err != nil {
		return fmt.Errorf("创建告警表失败: %w", err)
	}
	return nil
}

// CreateAlert 新建告警
func (s *AlertStorage) CreateAlert(ctx context.Context, alert *model.Alert) error {
	if alert == nil || alert.ID == "" {
		return storage.NewInvalidArgumentError("告警ID不能为空")
	}

	metadata, err := json.Marshal(alert.Metadata)
	if err != nil {
		return storage.NewInternalError(fmt.Sprintf("序列化告警元数据失败: %v", err))
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (id) DO NOTHING`,
		alert.ID, alert.Title, alert.Description, string(alert.Severity), alert.Service, alert.Source,
		metadata, string(alert.Status), alert.EscalationLevel, alert.AcknowledgedBy, alert.AcknowledgedAt,
		alert.ResolvedBy, alert.ResolvedAt, alert.MutedBy, alert.MutedUntil, alert.EscalatedAt,
		alert.CreatedAt, alert.UpdatedAt, alert.Version,
	)
	if err != nil {
		return storage.NewInternalError(fmt.Sprintf("写入告警失败: %v", err))
	}
	if tag.RowsAffected() == 0 {
		return storage.NewAlreadyExistsError("告警已存在: " + alert.ID)
	}
	return nil
}

// GetAlert 获取告警详情
func (s *AlertStorage) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	if id == "" {
		return nil, storage.NewInvalidArgumentError("告警ID不能为空")
	}

	row := s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.NewNotFoundError("告警不存在: " + id)
		}
		return nil, storage.NewInternalError(fmt.Sprintf("读取告警失败: %v", err))
	}
	return alert, nil
}

// UpdateAlert 条件更新告警，状态和版本号都匹配时才写入
func (s *AlertStorage) UpdateAlert(ctx context.Context, alert *model.Alert, expected model.AlertStatus) error {
	if alert == nil || alert.ID == "" {
		return storage.NewInvalidArgumentError("告警ID不能为空")
	}

	metadata, err := json.Marshal(alert.Metadata)
	if err != nil {
		return storage.NewInternalError(fmt.Sprintf("序列化告警元数据失败: %v", err))
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET
			title = $4, description = $5, severity = $6, metadata = $7, status = $8,
			escalation_level = $9, acknowledged_by = $10, acknowledged_at = $11,
			resolved_by = $12, resolved_at = $13, muted_by = $14, muted_until = $15,
			escalated_at = $16, updated_at = $17, version = version + 1
		 WHERE id = $1 AND status = $2 AND version = $3`,
		alert.ID, string(expected), alert.Version,
		alert.Title, alert.Description, string(alert.Severity), metadata, string(alert.Status),
		alert.EscalationLevel, alert.AcknowledgedBy, alert.AcknowledgedAt,
		alert.ResolvedBy, alert.ResolvedAt, alert.MutedBy, alert.MutedUntil,
		alert.EscalatedAt, alert.UpdatedAt,
	)
	if err != nil {
		return storage.NewInternalError(fmt.Sprintf("更新告警失败: %v", err))
	}
	if tag.RowsAffected() == 1 {
		alert.Version++
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM alerts WHERE id = $1)`, alert.ID).Scan(&exists); err != nil {
		return storage.NewInternalError(fmt.Sprintf("读取告警失败: %v", err))
	}
	if !exists {
		return storage.NewNotFoundError("告警不存在: " + alert.ID)
	}
	return storage.NewConflictError("告警已被并发修改: " + alert.ID)
}

// DeleteAlert 删除告警
func (s *AlertStorage) DeleteAlert(ctx context.Context, id string) error {
	if id == "" {
		return storage.NewInvalidArgumentError("告警ID不能为空")
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		return storage.NewInternalError(fmt.Sprintf("删除告警失败: %v", err))
	}
	if tag.RowsAffected() == 0 {
		return storage.NewNotFoundError("告警不存在: " + id)
	}
	return nil
}

// ListAlerts 按条件查询告警
func (s *AlertStorage) ListAlerts(ctx context.Context, f storage.AlertFilter) ([]*model.Alert, int, error) {
	where := ""
	args := []interface{}{}
	argN := 1

	if f.Severity != "" {
		where += fmt.Sprintf(" AND severity = $%d", argN)
		args = append(args, string(f.Severity))
		argN++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, string(f.Status))
		argN++
	}
	if f.Service != "" {
		where += fmt.Sprintf(" AND service = $%d", argN)
		args = append(args, f.Service)
		argN++
	}
	if f.Source != "" {
		where += fmt.Sprintf(" AND source = $%d", argN)
		args = append(args, f.Source)
		argN++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND (strpos(lower(title), lower($%d)) > 0 OR strpos(lower(description), lower($%d)) > 0)", argN, argN)
		args = append(args, f.Search)
		argN++
	}
	if !f.From.IsZero() {
		where += fmt.Sprintf(" AND created_at >= $%d", argN)
		args = append(args, f.From)
		argN++
	}
	if !f.To.IsZero() {
		where += fmt.Sprintf(" AND created_at <= $%d", argN)
		args = append(args, f.To)
		argN++
	}

	var total int
	countSQL := "SELECT COUNT(*) FROM alerts WHERE 1=1" + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, storage.NewInternalError(fmt.Sprintf("统计告警失败: %v", err))
	}

	var limit interface{}
	if f.Limit > 0 {
		limit = f.Limit
	}
	querySQL := fmt.Sprintf(
		"SELECT %s FROM alerts WHERE 1=1%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		alertColumns, where, argN, argN+1,
	)
	args = append(args, limit, f.Offset)

	alerts, err := s.query(ctx, querySQL, args...)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// ListExpiredMutes 获取静默已到期的告警
func (s *AlertStorage) ListExpiredMutes(ctx context.Context, now time.Time) ([]*model.Alert, error) {
	return s.query(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE status = $1 AND muted_until <= $2`,
		string(model.AlertStatusMuted), now,
	)
}

// CountAlerts 按状态统计告警数量
func (s *AlertStorage) CountAlerts(ctx context.Context) (map[model.AlertStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM alerts GROUP BY status`)
	if err != nil {
		return nil, storage.NewInternalError(fmt.Sprintf("统计告警失败: %v", err))
	}
	defer rows.Close()

	counts := make(map[model.AlertStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storage.NewInternalError(fmt.Sprintf("统计告警失败: %v", err))
		}
		counts[model.AlertStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storage.NewInternalError(fmt.Sprintf("统计告警失败: %v", err))
	}
	return counts, nil
}

func (s *AlertStorage) query(ctx context.Context, sql string, args ...interface{}) ([]*model.Alert, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storage.NewInternalError(fmt.Sprintf("查询告警失败: %v", err))
	}
	defer rows.Close()

	alerts := make([]*model.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, storage.NewInternalError(fmt.Sprintf("读取告警失败: %v", err))
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.NewInternalError(fmt.Sprintf("查询告警失败: %v", err))
	}
	return alerts, nil
}

func scanAlert(row pgx.Row) (*model.Alert, error) {
	var (
		a        model.Alert
		severity string
		status   string
		metadata []byte
	)
	err := row.Scan(
		&a.ID, &a.Title, &a.Description, &severity, &a.Service, &a.Source, &metadata, &status,
		&a.EscalationLevel, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolvedBy, &a.ResolvedAt,
		&a.MutedBy, &a.MutedUntil, &a.EscalatedAt, &a.CreatedAt, &a.UpdatedAt, &a.Version,
	)
	if err != nil {
		return nil, err
	}
	a.Severity = model.AlertSeverity(severity)
	a.Status = model.AlertStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return nil, fmt.Errorf("解析告警元数据失败: %w", err)
		}
	}
	return &a, nil
}
