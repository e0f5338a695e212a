package mcp

import "github.com/Aman-CERP/vaultrag/internal/async"

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query     string   `json:"query" jsonschema:"what to look for in the vault"`
	Limit     int      `json:"limit,omitempty" jsonschema:"maximum number of results, default from config"`
	Folder    string   `json:"folder,omitempty" jsonschema:"only search notes under this folder, e.g. Projects/"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"minimum relevance score between 0 and 1"`
	Hybrid    *bool    `json:"hybrid,omitempty" jsonschema:"combine keyword and semantic ranking"`
}

// RelatedInput defines the input schema for the find_related tool.
type RelatedInput struct {
	Content string `json:"content,omitempty" jsonschema:"text to find related notes for"`
	Path    string `json:"path,omitempty" jsonschema:"vault-relative path of a note to find related notes for; used when content is empty"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// ContextInput defines the input schema for the get_context tool.
type ContextInput struct {
	Query  string `json:"query" jsonschema:"question or topic to gather context for"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of passages"`
	Folder string `json:"folder,omitempty" jsonschema:"only use notes under this folder"`
}

// ReindexInput defines the input schema for the reindex tool.
type ReindexInput struct {
	Force bool `json:"force,omitempty" jsonschema:"clear the index and re-embed every note"`
}

// StatsInput defines the input schema for the index_stats tool (no parameters).
type StatsInput struct{}

// SearchOutput defines the output schema for search and find_related.
type SearchOutput struct {
	Results []ResultOutput `json:"results" jsonschema:"matching passages, best first"`
}

// ResultOutput is one retrieved passage.
type ResultOutput struct {
	DocumentID string   `json:"document_id" jsonschema:"vault-relative note path"`
	Content    string   `json:"content" jsonschema:"passage text"`
	Score      float64  `json:"score" jsonschema:"relevance score between 0 and 1"`
	Breadcrumb []string `json:"breadcrumb,omitempty" jsonschema:"heading path of the passage"`
	Tags       []string `json:"tags,omitempty" jsonschema:"note tags"`
	Backend    string   `json:"backend,omitempty" jsonschema:"search backend that produced the result"`
}

// ContextOutput defines the output schema for get_context.
type ContextOutput struct {
	Context string `json:"context" jsonschema:"passages formatted for a prompt, empty when nothing matched"`
}

// ReindexOutput defines the output schema for reindex.
type ReindexOutput struct {
	JobID   string `json:"job_id,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatsOutput defines the output schema for index_stats.
type StatsOutput struct {
	Enabled       bool   `json:"enabled"`
	ActiveBackend string `json:"active_backend,omitempty" jsonschema:"backend serving searches, empty until the first search"`
	Vault         string `json:"vault"`

	Documents   int    `json:"documents"`
	Chunks      int    `json:"chunks"`
	Dimensions  int    `json:"dimensions"`
	LastUpdated string `json:"last_updated,omitempty"`
	Store       string `json:"store,omitempty"`

	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`

	Indexing *async.Snapshot `json:"indexing,omitempty" jsonschema:"progress of the current or last indexing job"`
	Error    string          `json:"error,omitempty"`
}
