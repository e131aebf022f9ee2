package models

import (
	"fmt"
	"time"
)

// Document tags
const (
	// TagTemplate marks a document usable as a transformation template
	TagTemplate = "template"
)

// Document formats as stored
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatPDF      = "pdf"
	FormatCSV      = "csv"
)

// Document types that pick the transformation guidance
const (
	DocumentTypeLegal      = "legal"
	DocumentTypeRealEstate = "real_estate"
	DocumentTypeContract   = "contract"
	DocumentTypeLease      = "lease"
	DocumentTypeDeposition = "deposition"
	DocumentTypeOther      = "other"
)

// IsValidDocumentType checks a document type against the known set.
// Empty is allowed and treated as "other" downstream.
func IsValidDocumentType(documentType string) bool {
	switch documentType {
	case "", DocumentTypeLegal, DocumentTypeRealEstate, DocumentTypeContract,
		DocumentTypeLease, DocumentTypeDeposition, DocumentTypeOther:
		return true
	default:
		return false
	}
}

// Document represents a stored document with its extracted text content
type Document struct {
	ID       string `badgerhold:"key" json:"id"` // doc_{uuid}
	OwnerID  string `badgerhold:"index" json:"owner_id"`
	Title    string `json:"title"`
	Filename string `json:"filename,omitempty"` // Original upload filename
	Format   string `json:"format"`             // text, markdown, html, pdf, csv
	Tag      string `badgerhold:"index" json:"tag,omitempty"`

	// Extracted plain-text content. May be empty when extraction failed
	// or has not run; the pipeline treats that as content-unavailable.
	Content string `json:"content"`

	Raw       []byte `json:"raw,omitempty"` // Original bytes for binary formats
	PageCount int    `json:"page_count,omitempty"`
	SizeBytes int    `json:"size_bytes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTemplate returns true for documents tagged as templates
func (d *Document) IsTemplate() bool {
	return d.Tag == TagTemplate
}

// Validate checks the document record
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if d.OwnerID == "" {
		return fmt.Errorf("owner ID is required")
	}
	if d.Title == "" {
		return fmt.Errorf("document title is required")
	}
	return nil
}
