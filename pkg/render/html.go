package render

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"

	"github.com/veritas-qms/veritas-engine/pkg/models"
)

const stylesheet = `
body { font-family: Helvetica, Arial, sans-serif; color: #1b1f24; margin: 0; }
.report { padding: 2rem 2.5rem; position: relative; }
.report h1 { color: #0b3d91; margin-bottom: 0.25rem; }
.subtitle { color: #57606a; margin-top: 0; }
.watermark { position: fixed; top: 40%; left: 10%; font-size: 8rem; font-weight: bold;
  color: rgba(200, 0, 0, 0.12); transform: rotate(-30deg); pointer-events: none; z-index: 10; }
table { border-collapse: collapse; margin: 0.75rem 0; font-size: 0.85rem; }
th, td { border: 1px solid #d0d7de; padding: 0.25rem 0.5rem; text-align: left; }
th { background: #f6f8fa; }
.chart { border: 1px dashed #8c959f; padding: 1rem; color: #57606a; }
.signature { border: 2px solid #0b3d91; padding: 0.75rem 1rem; margin-top: 2rem; }
.deck .slide { min-height: 90vh; padding: 2rem 3rem; page-break-after: always; break-after: page;
  border-bottom: 1px solid #d0d7de; position: relative; }
.deck .slide h2 { color: #0b3d91; font-size: 2rem; }
footer { color: #8c959f; font-size: 0.75rem; margin-top: 2rem; }
`

// HTMLRenderer renders documents as standalone HTML pages. PDF-format
// documents get a print layout, Slides-format documents a slide deck.
type HTMLRenderer struct {
	logger *zap.Logger
}

// NewHTMLRenderer creates an HTML renderer.
func NewHTMLRenderer(logger *zap.Logger) *HTMLRenderer {
	return &HTMLRenderer{logger: logger.Named("html-renderer")}
}

var _ Renderer = (*HTMLRenderer)(nil)

// MediaType is always HTML.
func (r *HTMLRenderer) MediaType(models.ReportFormat) MediaType {
	return MediaTypeHTML
}

// Render writes the document as HTML.
func (r *HTMLRenderer) Render(ctx context.Context, doc Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !doc.Format.IsValid() {
		return nil, fmt.Errorf("unsupported report format %q", doc.Format)
	}

	var buf bytes.Buffer
	if err := documentPage(doc).Render(&buf); err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}
	r.logger.Debug("Rendered report html",
		zap.String("title", doc.Title),
		zap.String("format", string(doc.Format)),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func documentPage(doc Document) g.Node {
	var body g.Node
	if doc.Format == models.ReportFormatSlides {
		body = slideDeck(doc)
	} else {
		body = printLayout(doc)
	}
	return h.Doctype(h.HTML(
		h.Lang("en"),
		h.Head(
			h.Meta(h.Charset("utf-8")),
			h.TitleEl(g.Text(doc.Title)),
			h.StyleEl(g.Raw(stylesheet)),
		),
		h.Body(
			g.If(doc.Watermark != "", h.Div(h.Class("watermark"), g.Text(doc.Watermark))),
			body,
		),
	))
}

func printLayout(doc Document) g.Node {
	sections := make([]g.Node, 0, len(doc.Sections))
	for _, s := range doc.Sections {
		sections = append(sections, h.Section(h.H2(g.Text(s.Heading)), sectionBody(s)))
	}
	return h.Article(h.Class("report"),
		h.Header(
			h.H1(g.Text(doc.Title)),
			g.If(doc.Subtitle != "", h.P(h.Class("subtitle"), g.Text(doc.Subtitle))),
		),
		g.Group(sections),
		signatureNode(doc.Signature),
		footer(doc),
	)
}

func slideDeck(doc Document) g.Node {
	slides := []g.Node{
		h.Section(h.Class("slide title-slide"),
			h.H1(g.Text(doc.Title)),
			g.If(doc.Subtitle != "", h.P(h.Class("subtitle"), g.Text(doc.Subtitle))),
		),
	}
	for _, s := range doc.Sections {
		slides = append(slides, h.Section(h.Class("slide"), h.H2(g.Text(s.Heading)), sectionBody(s)))
	}
	if doc.Signature != nil {
		slides = append(slides, h.Section(h.Class("slide"), signatureNode(doc.Signature)))
	}
	return h.Div(h.Class("deck"), g.Group(slides), footer(doc))
}

func sectionBody(s Section) g.Node {
	nodes := make([]g.Node, 0, len(s.Paragraphs)+len(s.Tables)+len(s.Charts))
	for _, p := range s.Paragraphs {
		nodes = append(nodes, h.P(g.Text(p)))
	}
	for _, t := range s.Tables {
		nodes = append(nodes, tableNode(t))
	}
	for _, c := range s.Charts {
		nodes = append(nodes, h.Figure(h.Class("chart"), g.Attr("data-chart", c.Handle),
			h.FigCaption(g.Text(c.Title))))
	}
	return g.Group(nodes)
}

func tableNode(t Table) g.Node {
	head := make([]g.Node, 0, len(t.Columns))
	for _, c := range t.Columns {
		head = append(head, h.Th(g.Text(c)))
	}
	rows := make([]g.Node, 0, len(t.Rows))
	for _, row := range t.Rows {
		cells := make([]g.Node, 0, len(row))
		for _, cell := range row {
			cells = append(cells, h.Td(g.Text(cell)))
		}
		rows = append(rows, h.Tr(cells...))
	}
	return h.Table(
		g.If(t.Caption != "", h.Caption(g.Text(t.Caption))),
		h.THead(h.Tr(head...)),
		h.TBody(rows...),
	)
}

func signatureNode(sig *SignatureBlock) g.Node {
	if sig == nil {
		return nil
	}
	return h.Div(h.Class("signature"),
		h.H3(g.Text(SignatureTitle)),
		h.P(g.Text(SignatureStatement)),
		h.P(h.Strong(g.Text("Signed by: ")), g.Text(sig.User)),
		h.P(h.Strong(g.Text("Timestamp (UTC): ")), g.Text(sig.Timestamp.UTC().Format(time.RFC3339))),
		h.P(h.Strong(g.Text("Meaning: ")), g.Text(string(sig.Reason))),
	)
}

func footer(doc Document) g.Node {
	if doc.GeneratedAt.IsZero() {
		return nil
	}
	return h.Footer(g.Text("Generated " + doc.GeneratedAt.UTC().Format(time.RFC3339) + " by VERITAS"))
}
