package domain

// DiscoveredFile is one corpus file found during a scan, before any
// processing. Path is corpus-relative and doubles as the document ID.
type DiscoveredFile struct {
	Path      string
	AbsPath   string
	Ext       string
	SizeBytes int64
}

// LexicalDoc is the unit upserted into the lexical index, keyed by the
// document ID so re-indexing overwrites in place.
type LexicalDoc struct {
	ID       string
	Title    string
	Path     string
	Content  string
	Metadata Metadata
}

// FilterValues lists the distinct structured attribute values present in the
// metadata store, for building filter facets.
type FilterValues struct {
	Areas      []string `json:"areas"`
	Years      []int    `json:"years"`
	Clients    []string `json:"clients"`
	Subjects   []string `json:"subjects"`
	DocTypes   []string `json:"doc_types"`
	Categories []string `json:"categories"`
	Extensions []string `json:"extensions"`
}

// DeviceCapability is the result of the one-shot accelerator probe, taken at
// process start and passed explicitly into the embedding dispatcher.
type DeviceCapability struct {
	Accelerated  bool
	FreeMemoryMB int
}

// SearchRequest is the single operation accepted by the query surface.
type SearchRequest struct {
	Query       string
	Model       string
	TopK        int
	Filter      SearchFilter
	Dedup       bool
	SmartFilter bool
}
