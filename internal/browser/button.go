// internal/browser/button.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const sendBinding = "__amSend"

// InstallSendButton adds the floating "Send Article to Gmail" button to the
// tab and keeps it there across SPA navigation and full page loads. onClick
// gets the page URL at the time of the click.
func (p *Page) InstallSendButton(ctx context.Context, poll time.Duration, onClick func(pageURL string)) error {
	if poll <= 0 {
		poll = 700 * time.Millisecond
	}
	if err := p.Expose(ctx, sendBinding, onClick); err != nil {
		return err
	}
	js := fmt.Sprintf(buttonJS, sendBinding, poll.Milliseconds())
	if err := p.InjectScriptPersistently(ctx, js); err != nil {
		return err
	}
	if err := p.run(ctx, chromedp.Evaluate(js, nil)); err != nil {
		return fmt.Errorf("failed to add send button: %w", err)
	}
	p.logger.Debug("Send button installed.", zap.Duration("poll", poll))
	return nil
}
