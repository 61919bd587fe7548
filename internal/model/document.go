package model

// ContentType 取值与索引中 content_type 字段一致。
const (
	ContentTypeText      = "text"
	ContentTypePDFBase64 = "pdf_base64"
)

// ChunkDocument 是 Elasticsearch 中每个文档分块的 _source 结构。
// 同一个逻辑文件会有多条分块记录，content 为整份文件内容。
type ChunkDocument struct {
	FileName    string    `json:"file_name"`
	Path        string    `json:"path"`
	Content     *string   `json:"content,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	ChunkText   *string   `json:"chunk_text,omitempty"`
	ChunkVector []float32 `json:"chunk_vector,omitempty"`
	Timestamp   string    `json:"timestamp,omitempty"`
}

// FileRecord 是文件列表中的一项；列表内 (Path, FileName) 唯一。
type FileRecord struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	Path     string `json:"path"`
}

// SearchHit 是一次检索返回的单条结果，创建后不再修改。
type SearchHit struct {
	ID       string
	FileName string
	Path     string
	Snippet  string
	Score    float64
}

// Source 将命中结果转换为对外的文件引用。
func (h SearchHit) Source() FileRecord {
	return FileRecord{ID: h.ID, FileName: h.FileName, Path: h.Path}
}

// SearchResultDTO 定义了 /api/search 返回给前端的结构。
type SearchResultDTO struct {
	Source         FileRecord `json:"source"`
	ContentSnippet string     `json:"contentSnippet"`
	Score          float64    `json:"score"`
}

// FileContentDTO 定义了 /api/files/{id} 的返回结构。
type FileContentDTO struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	Path     string `json:"path"`
	Content  string `json:"content"`
	IsBase64 bool   `json:"isBase64"`
	Snippet  string `json:"snippet"`
}

// SourceDocument 是外部文档源中的一份文档。
type SourceDocument struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	ModifiedAt  string `json:"modifiedAt"`
}
