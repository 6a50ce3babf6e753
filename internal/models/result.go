package models

// SearchResult is a single ranked chunk.
type SearchResult struct {
	ChunkIndex int64   `json:"chunk_index"`
	ChunkText  string  `json:"chunk_text"`
	Tag        string  `json:"tag"`
	Source     string  `json:"source,omitempty"`
	Distance   float64 `json:"distance"`
	Rank       int     `json:"rank"`
}

// SearchResponse is the response for a search request.
// Results are ordered by ascending distance.
type SearchResponse struct {
	Query     string          `json:"query"`
	TagFilter *string         `json:"tag_filter,omitempty"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
}

// LookupHit is a lexical match on chunk text.
type LookupHit struct {
	ChunkIndex int64   `json:"chunk_index"`
	ChunkText  string  `json:"chunk_text"`
	Tag        string  `json:"tag"`
	Score      float64 `json:"score"`
}

// LookupResponse is the response for a lexical lookup.
type LookupResponse struct {
	Query     string       `json:"query"`
	Hits      []*LookupHit `json:"hits"`
	Total     int          `json:"total"`
	QueryTime int64        `json:"query_time_ms"`
}

// Stats summarises the corpus.
type Stats struct {
	TotalChunks    int64    `json:"total_chunks"`
	Tags           []string `json:"tags"`
	Curvature      float64  `json:"curvature"`
	Dimensions     int      `json:"dimensions"`
	DiskUsageBytes int64    `json:"disk_usage_bytes,omitempty"`
}
