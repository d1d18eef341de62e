package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	appLog "eventpro/internal/log"
)

// DefaultPrintTimeout bounds one PDF rendering.
const DefaultPrintTimeout = 30 * time.Second

// ChromiumOptions configures the headless browser used for PDF output.
type ChromiumOptions struct {
	// RemoteURL attaches to a running browser's DevTools websocket instead
	// of launching a local one.
	RemoteURL string
	Timeout   time.Duration
	Landscape bool
}

// Chromium prints HTML documents to PDF with a headless Chromium driven by
// chromedp.
type Chromium struct {
	opts ChromiumOptions
}

func NewChromium(opts ChromiumOptions) *Chromium {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPrintTimeout
	}
	return &Chromium{opts: opts}
}

// PrintPDF loads html into a blank page, waits for the body to signal it is
// ready and prints it to A4 with backgrounds.
func (c *Chromium) PrintPDF(parent context.Context, html []byte) ([]byte, error) {
	if len(html) == 0 {
		return nil, errors.New("export: empty HTML document")
	}

	allocCtx := parent
	if c.opts.RemoteURL != "" {
		var cancel context.CancelFunc
		allocCtx, cancel = chromedp.NewRemoteAllocator(parent, c.opts.RemoteURL)
		defer cancel()
	}

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer timeoutCancel()

	var pdf []byte
	tasks := chromedp.Tasks{
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, string(html)).Do(ctx)
		}),
		chromedp.WaitVisible(`body[data-ready="true"]`, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithLandscape(c.opts.Landscape).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = data
			return nil
		}),
	}

	start := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("export: chromedp run failed: %w", err)
	}
	appLog.Debug("pdf printed", "bytes", len(pdf), "elapsed", time.Since(start).String())
	return pdf, nil
}
