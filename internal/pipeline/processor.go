// Package pipeline 定义了查询审计事件的消费流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"docqa-go/internal/repository"
	"docqa-go/pkg/events"
	"docqa-go/pkg/log"
)

// AuditProcessor 将 Kafka 中的查询事件落库。
type AuditProcessor struct {
	auditRepo repository.AuditRepository
}

// NewAuditProcessor 创建一个新的 AuditProcessor 实例。
func NewAuditProcessor(auditRepo repository.AuditRepository) *AuditProcessor {
	return &AuditProcessor{auditRepo: auditRepo}
}

// Process 校验并保存一条查询事件。缺少 RequestID 的事件无法去重，直接丢弃。
func (p *AuditProcessor) Process(ctx context.Context, e events.QueryEvent) error {
	if e.RequestID == "" {
		log.Warnf("[AuditProcessor] 丢弃缺少 RequestID 的事件, intent: %s", e.Intent)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Status == "" {
		return errors.New("event has no status")
	}

	if err := p.auditRepo.Save(e.Audit()); err != nil {
		log.Errorf("[AuditProcessor] 保存审计记录失败, RequestID: %s, Error: %v", e.RequestID, err)
		return fmt.Errorf("保存审计记录失败: %w", err)
	}
	log.Infof("[AuditProcessor] 审计记录已保存, RequestID: %s, Intent: %s, Status: %s, Hits: %d",
		e.RequestID, e.Intent, e.Status, e.HitCount)
	return nil
}
