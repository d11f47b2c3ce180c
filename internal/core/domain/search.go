package domain

// SearchFilter carries the structured filter expressions accepted by the
// search surface. Zero values mean "not filtered".
type SearchFilter struct {
	Area     string
	Year     int
	Client   string
	Subject  string
	DocType  string
	Category string
	Ext      string
	LotCode  string
}

type DateFilterType string

const (
	DateFrom    DateFilterType = "from"    // year >= Year
	DateAfter   DateFilterType = "after"   // year > Year
	DateUntil   DateFilterType = "until"   // year <= Year
	DateBefore  DateFilterType = "before"  // year < Year
	DateEqual   DateFilterType = "equal"   // year == Year
	DateBetween DateFilterType = "between" // Year <= year <= YearEnd
)

// DateFilter is a year-range constraint recognized from natural-language
// phrasing in the query.
type DateFilter struct {
	Type    DateFilterType `json:"type"`
	Year    int            `json:"year"`
	YearEnd int            `json:"year_end,omitempty"`
}

// Matches reports whether a document year satisfies the constraint.
func (f DateFilter) Matches(year int) bool {
	switch f.Type {
	case DateFrom:
		return year >= f.Year
	case DateAfter:
		return year > f.Year
	case DateUntil:
		return year <= f.Year
	case DateBefore:
		return year < f.Year
	case DateEqual:
		return year == f.Year
	case DateBetween:
		return year >= f.Year && year <= f.YearEnd
	default:
		return true
	}
}

type SearchSource string

const (
	SourceLexical SearchSource = "lexical"
	SourceVector  SearchSource = "vector"
	SourceBoth    SearchSource = "both"
)

// SearchHit is one ranked result. Page is the citation page of the best
// matching chunk when the hit came through the vector index.
type SearchHit struct {
	DocumentID string       `json:"document_id"`
	Title      string       `json:"title"`
	Path       string       `json:"path"`
	Snippet    string       `json:"snippet,omitempty"`
	Page       int          `json:"page,omitempty"`
	Score      float64      `json:"score"`
	Source     SearchSource `json:"source"`
	Metadata   Metadata     `json:"metadata"`
	// AlternateVersions counts result versions hidden by dedup clustering.
	AlternateVersions int `json:"alternate_versions,omitempty"`
}

// Enhancement describes what the rewriter and fusion engine changed. It is
// omitted entirely when post-processing failed and raw results were returned.
type Enhancement struct {
	CleanedQuery      string      `json:"cleaned_query"`
	DateFilter        *DateFilter `json:"date_filter,omitempty"`
	RemovedByDate     int         `json:"removed_by_date"`
	RemovedDuplicates int         `json:"removed_duplicates"`
}

// SearchResult is the full response of the query surface.
type SearchResult struct {
	Hits        []SearchHit  `json:"hits"`
	Total       int          `json:"total"`
	Enhancement *Enhancement `json:"enhancement,omitempty"`
}
