package model

// ScoreFactor 表示影响系统评分的一个因素
type ScoreFactor struct {
	Name   string `json:"name"`
	Impact int    `json:"impact"`
	Detail string `json:"detail"`
}

// SystemStatus 系统综合状态，每次读取时重新计算，不持久化
type SystemStatus struct {
	Status        HealthStatus  `json:"status"`
	Score         int           `json:"score"`
	Factors       []ScoreFactor `json:"factors"`
	TotalServices int           `json:"total_services"`
	HealthyCount  int           `json:"healthy_services"`
	OpenAlerts    int           `json:"open_alerts"`
	Resources     ResourceUsage `json:"resources"`
}
