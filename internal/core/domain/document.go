package domain

import "time"

type DocumentStatus string

const (
	StatusDiscovered  DocumentStatus = "discovered"
	StatusExtracting  DocumentStatus = "extracting"
	StatusExtracted   DocumentStatus = "extracted"
	StatusEmbedding   DocumentStatus = "embedding"
	StatusIndexed     DocumentStatus = "indexed"
	StatusFailed      DocumentStatus = "failed"
	StatusQuarantined DocumentStatus = "quarantined"
)

// Document is one corpus file. ID is the corpus-relative path, which is
// stable across re-scans; content changes are tracked via ContentHash.
type Document struct {
	ID                  string         `json:"id"`
	Path                string         `json:"path"`
	Title               string         `json:"title"`
	Ext                 string         `json:"ext"`
	SizeBytes           int64          `json:"size_bytes"`
	Status              DocumentStatus `json:"status"`
	ContentHash         string         `json:"content_hash,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures,omitempty"`
	Error               string         `json:"error,omitempty"`
	Metadata            Metadata       `json:"metadata"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Metadata holds the structured fields parsed from path and filename
// conventions of the corpus (tender folders, framework lots, versioning).
type Metadata struct {
	Area     string `json:"area,omitempty"`
	Year     int    `json:"year,omitempty"`
	Client   string `json:"client,omitempty"`
	Subject  string `json:"subject,omitempty"`
	DocType  string `json:"doc_type,omitempty"`
	LotCode  string `json:"lot_code,omitempty"`
	Category string `json:"category,omitempty"`
	Version  string `json:"version,omitempty"`
}

// PageText is one page of extracted text; Number is 1-based.
type PageText struct {
	Number int
	Text   string
}

// Extraction is the extractor output: the full text plus the page map that
// lets downstream chunking preserve page numbers for citation.
type Extraction struct {
	Text  string
	Pages []PageText
	// ViaOCR marks text recovered through the OCR fallback path.
	ViaOCR bool
}

// Chunk is a bounded slice of a document's extracted text, the unit that is
// embedded and indexed. Ordinal is unique within the document.
type Chunk struct {
	DocumentID string
	Ordinal    int
	Page       int
	Text       string
}
