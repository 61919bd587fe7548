package model

import "time"

// QueryAudit 对应于数据库中的 query_audits 表。
// 只记录请求的路由与结果统计，不保存问题与答案原文。
type QueryAudit struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID     string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"requestId"`
	Intent        string    `gorm:"type:varchar(32);not null;index" json:"intent"`
	Keywords      string    `gorm:"type:varchar(512)" json:"keywords"`
	Model         string    `gorm:"type:varchar(128)" json:"model"`
	HitCount      int       `gorm:"not null;default:0" json:"hitCount"`
	ChunkCount    int       `gorm:"not null;default:0" json:"chunkCount"`
	Status        string    `gorm:"type:varchar(16);not null" json:"status"`
	ErrorCategory string    `gorm:"type:varchar(32)" json:"errorCategory"`
	DurationMs    int64     `gorm:"not null" json:"durationMs"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (QueryAudit) TableName() string {
	return "query_audits"
}
