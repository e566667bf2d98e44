// Package render turns report documents into deliverable bytes: an HTML
// page laid out for print or as a slide deck, and PDF printed from that HTML
// by headless Chromium.
package render

import (
	"context"
	"time"

	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// SignatureTitle heads the electronic signature block of a final report.
const SignatureTitle = "Electronic Signature (21 CFR Part 11)"

// SignatureStatement opens the signature block.
const SignatureStatement = "This document was electronically signed and locked in the VERITAS system."

// Document is a renderer-neutral report.
type Document struct {
	Title       string
	Subtitle    string
	Format      models.ReportFormat
	Sections    []Section
	Watermark   string
	Signature   *SignatureBlock
	GeneratedAt time.Time
}

// Section is one heading with its content, rendered in field order:
// paragraphs, then tables, then charts.
type Section struct {
	Heading    string
	Paragraphs []string
	Tables     []Table
	Charts     []Chart
}

// Table is a pre-formatted grid of cells.
type Table struct {
	Caption string
	Columns []string
	Rows    [][]string
}

// Chart references a chart produced elsewhere. Only the handle is embedded;
// chart drawing is left to the presentation layer.
type Chart struct {
	Title  string
	Handle string
}

// SignatureBlock is the signer manifestation printed on a final report.
type SignatureBlock struct {
	User      string
	Timestamp time.Time
	Reason    models.SigningReason
}

// MediaType describes the bytes a renderer produces for a format.
type MediaType struct {
	MIME      string
	Extension string
}

var (
	MediaTypeHTML = MediaType{MIME: "text/html; charset=utf-8", Extension: "html"}
	MediaTypePDF  = MediaType{MIME: "application/pdf", Extension: "pdf"}
)

// Renderer produces report bytes from a Document.
type Renderer interface {
	Render(ctx context.Context, doc Document) ([]byte, error)
	MediaType(format models.ReportFormat) MediaType
}
