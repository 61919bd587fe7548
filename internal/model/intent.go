package model

// Intent 是意图分类结果，取值为封闭集合。
type Intent int

const (
	IntentQueryDocuments Intent = iota
	IntentChitChat
	IntentGenerateCode
)

func (i Intent) String() string {
	switch i {
	case IntentChitChat:
		return "chit_chat"
	case IntentGenerateCode:
		return "generate_code"
	default:
		return "query_documents"
	}
}

// NeedsRetrieval 表示该意图是否需要先检索文档。
func (i Intent) NeedsRetrieval() bool {
	return i != IntentChitChat
}
