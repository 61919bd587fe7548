package repository

import (
	"errors"

	"docqa-go/internal/apperr"
	"docqa-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuditRepository 定义了对 query_audits 表的数据操作接口。
type AuditRepository interface {
	// Save 按 RequestID 幂等写入，重复投递的消息不会产生多条记录。
	Save(audit *model.QueryAudit) error
	FindByRequestID(requestID string) (*model.QueryAudit, error)
	CountByIntent() (map[string]int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository 创建一个新的 AuditRepository 实例。
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Save(audit *model.QueryAudit) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}},
		DoNothing: true,
	}).Create(audit).Error
}

func (r *auditRepository) FindByRequestID(requestID string) (*model.QueryAudit, error) {
	var audit model.QueryAudit
	if err := r.db.Where("request_id = ?", requestID).First(&audit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("no audit record for request %q", requestID)
		}
		return nil, apperr.Unavailable(err, "audit store unavailable")
	}
	return &audit, nil
}

// CountByIntent 统计各意图的请求数量。
func (r *auditRepository) CountByIntent() (map[string]int64, error) {
	var rows []struct {
		Intent string
		Total  int64
	}
	err := r.db.Model(&model.QueryAudit{}).
		Select("intent, count(*) as total").
		Group("intent").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Intent] = row.Total
	}
	return out, nil
}
