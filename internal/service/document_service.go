package service

import (
	"context"
	"strings"

	"docqa-go/internal/apperr"
	"docqa-go/internal/model"
	"docqa-go/internal/repository"
	"docqa-go/pkg/log"
)

// DocumentService 接口定义了索引中文件的只读操作。
type DocumentService interface {
	ListFiles(ctx context.Context) ([]model.FileRecord, error)
	GetFile(ctx context.Context, id string) (*model.FileContentDTO, error)
}

type documentService struct {
	docs repository.DocumentRepository
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docs repository.DocumentRepository) DocumentService {
	return &documentService{docs: docs}
}

// ListFiles 返回去重后的文件列表，每个 (path, fileName) 只出现一次。
func (s *documentService) ListFiles(ctx context.Context) ([]model.FileRecord, error) {
	files, err := s.docs.ListFiles(ctx)
	if err != nil {
		log.Errorf("[DocumentService] 获取文件列表失败: %v", err)
		return nil, err
	}
	return files, nil
}

// GetFile 返回文件内容以及内容是否为 base64 编码。
func (s *documentService) GetFile(ctx context.Context, id string) (*model.FileContentDTO, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Validation("file id is required")
	}
	file, err := s.docs.GetFile(ctx, id)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindNotFound {
			log.Errorf("[DocumentService] 读取文件失败, id: %s, error: %v", id, err)
		}
		return nil, err
	}
	return file, nil
}
