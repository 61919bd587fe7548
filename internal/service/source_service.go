package service

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"docqa-go/internal/apperr"
	"docqa-go/internal/model"
	"docqa-go/pkg/log"
	"docqa-go/pkg/storage"
	"docqa-go/pkg/tika"
)

// 直接按文本读取的最大对象大小
const maxPlainTextBytes = 20 << 20

// SourceDocumentContent 是外部文档导出的纯文本。
type SourceDocumentContent struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// SourceService 访问外部文档源。凭据在启动时已经配置好，这里不处理任何授权流程。
type SourceService interface {
	ListDocuments(ctx context.Context) ([]model.SourceDocument, error)
	ExportText(ctx context.Context, id string) (*SourceDocumentContent, error)
}

type sourceService struct {
	store storage.DocumentStore
	tika  *tika.Client
}

// NewSourceService 创建一个新的 SourceService 实例。tikaClient 为 nil 时只支持文本类文档。
func NewSourceService(store storage.DocumentStore, tikaClient *tika.Client) SourceService {
	return &sourceService{store: store, tika: tikaClient}
}

func (s *sourceService) ListDocuments(ctx context.Context) ([]model.SourceDocument, error) {
	objects, err := s.store.List(ctx)
	if err != nil {
		log.Errorf("[SourceService] 列出外部文档失败: %v", err)
		return nil, apperr.Unavailable(err, "document provider unavailable")
	}
	docs := make([]model.SourceDocument, 0, len(objects))
	for _, o := range objects {
		if strings.HasSuffix(o.Key, "/") {
			continue
		}
		docs = append(docs, model.SourceDocument{
			ID:          o.Key,
			Name:        baseName(o.Key),
			ContentType: contentTypeOf(o),
			Size:        o.Size,
			ModifiedAt:  o.LastModified,
		})
	}
	return docs, nil
}

// ExportText 以纯文本导出文档：文本类对象直接读取，其他类型交给 Tika 提取。
func (s *sourceService) ExportText(ctx context.Context, id string) (*SourceDocumentContent, error) {
	id = strings.TrimPrefix(strings.TrimSpace(id), "/")
	if id == "" {
		return nil, apperr.Validation("document id is required")
	}
	reader, obj, err := s.store.Open(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("document %q not found", id)
		}
		return nil, apperr.Unavailable(err, "document provider unavailable")
	}
	defer reader.Close()

	contentType := contentTypeOf(obj)
	if isTextType(contentType) || textExtensions[strings.ToLower(path.Ext(obj.Key))] {
		data, err := io.ReadAll(io.LimitReader(reader, maxPlainTextBytes+1))
		if err != nil {
			return nil, apperr.Unavailable(err, "failed to read document")
		}
		if len(data) > maxPlainTextBytes {
			return nil, apperr.Validation("document %q is too large to export as text", id)
		}
		return &SourceDocumentContent{ID: id, Content: string(data)}, nil
	}

	if !s.tika.Enabled() {
		return nil, apperr.Decode(nil, "document %q has type %s and no text extractor is configured", id, contentType)
	}
	text, err := s.tika.ExtractText(ctx, reader, obj.Key)
	if err != nil {
		log.Errorf("[SourceService] 使用Tika提取文本失败, id: %s, error: %v", id, err)
		return nil, apperr.Decode(err, "failed to extract text from %q", id)
	}
	return &SourceDocumentContent{ID: id, Content: text}, nil
}

func contentTypeOf(o storage.Object) string {
	if o.ContentType != "" && o.ContentType != "application/octet-stream" {
		return o.ContentType
	}
	return tika.DetectMimeType(o.Key)
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".log": true,
	".yaml": true, ".yml": true, ".json": true, ".xml": true, ".html": true,
}

func isTextType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/") ||
		strings.HasPrefix(ct, "application/json") ||
		strings.HasPrefix(ct, "application/xml")
}

func baseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
