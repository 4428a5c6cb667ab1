package storage

import (
	"sort"
	"strings"

	"github.com/hewenyu/church-monitor/pkg/model"
)

// Match 判断告警是否满足过滤条件
func (f AlertFilter) Match(a *model.Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Service != "" && a.Service != f.Service {
		return false
	}
	if f.Source != "" && a.Source != f.Source {
		return false
	}
	if !f.From.IsZero() && a.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.CreatedAt.After(f.To) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(a.Title), needle) &&
			!strings.Contains(strings.ToLower(a.Description), needle) {
			return false
		}
	}
	return true
}

// Page 对已排序的结果做分页
func (f AlertFilter) Page(alerts []*model.Alert) []*model.Alert {
	if f.Offset >= len(alerts) {
		return []*model.Alert{}
	}
	end := len(alerts)
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return alerts[f.Offset:end]
}

// SortAlerts 按创建时间倒序排列，创建时间相同时按ID倒序
func SortAlerts(alerts []*model.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
		}
		return alerts[i].ID > alerts[j].ID
	})
}
