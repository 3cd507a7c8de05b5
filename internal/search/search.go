package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Snippet    string `json:"snippet"`
	Visibility string `json:"visibility"`
	Completed  bool   `json:"completed"`
}

// Query describes a search over one caller's visible items. GroupID and
// UserID scope every backend with the same predicate the item list uses, so
// a hit can never reveal another member's private item.
type Query struct {
	Text    string
	GroupID string
	UserID  string
	Limit   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push items into a search index.
type Indexer interface {
	IndexItem(item ItemRecord) error
	DeleteItem(id string) error
}

// ItemRecord is the data we index for an item.
type ItemRecord struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	GroupID    string `json:"groupId"`
	CreatedBy  string `json:"createdBy"`
	Visibility string `json:"visibility"`
	Completed  bool   `json:"completed"`
}
