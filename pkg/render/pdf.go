package render

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// PDFConfig controls the headless Chromium printer.
type PDFConfig struct {
	ChromiumPath string
	Timeout      time.Duration
}

// PDFRenderer prints PDF-format documents to PDF via headless Chromium.
// Slides-format documents are delivered as the HTML deck.
type PDFRenderer struct {
	html   *HTMLRenderer
	cfg    PDFConfig
	logger *zap.Logger
}

// NewPDFRenderer creates a PDF renderer on top of html.
func NewPDFRenderer(html *HTMLRenderer, cfg PDFConfig, logger *zap.Logger) *PDFRenderer {
	return &PDFRenderer{
		html:   html,
		cfg:    cfg,
		logger: logger.Named("pdf-renderer"),
	}
}

var _ Renderer = (*PDFRenderer)(nil)

// MediaType is PDF for PDF-format documents and HTML for slide decks.
func (r *PDFRenderer) MediaType(format models.ReportFormat) MediaType {
	if format == models.ReportFormatSlides {
		return MediaTypeHTML
	}
	return MediaTypePDF
}

// Render builds the HTML and, for PDF-format documents, prints it. If
// Chromium is unavailable it returns an error and nothing is produced.
func (r *PDFRenderer) Render(ctx context.Context, doc Document) ([]byte, error) {
	html, err := r.html.Render(ctx, doc)
	if err != nil {
		return nil, err
	}
	if doc.Format == models.ReportFormatSlides {
		return html, nil
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if r.cfg.ChromiumPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.cfg.ChromiumPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	runCtx, cancelRun := chromedp.NewContext(allocCtx)
	defer cancelRun()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()

	var pdf []byte
	start := time.Now()
	err = chromedp.Run(runCtx,
		chromedp.Navigate("data:text/html,"+url.PathEscape(string(html))),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, perr := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if perr == nil {
				pdf = buf
			}
			return perr
		}),
	)
	if err != nil {
		r.logger.Error("PDF print failed", zap.String("title", doc.Title), zap.Error(err))
		return nil, fmt.Errorf("chromedp run failed: %w", err)
	}
	r.logger.Debug("Printed report pdf",
		zap.String("title", doc.Title),
		zap.Int("bytes", len(pdf)),
		zap.Duration("elapsed", time.Since(start)))
	return pdf, nil
}
