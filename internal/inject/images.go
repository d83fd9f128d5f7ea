package inject

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/xkilldash9x/articlemail/internal/dom"
	"go.uber.org/zap"
)

// BestFitCSS is the inline style for an image of the given natural width in a
// container of the given width. Images wider than the container fill it;
// smaller ones keep their natural size.
func BestFitCSS(natural, container float64) string {
	width := "100%"
	switch {
	case natural <= 0:
		width = "auto"
	case natural <= container:
		width = strconv.FormatFloat(math.Min(natural, container), 'f', -1, 64) + "px"
	}
	return fmt.Sprintf("width: %s; max-width: 100%%; height: auto; box-sizing: border-box; display: block; border-radius: 4px;", width)
}

// fitImages sizes every loaded image in the container and hands the rest to
// a watcher. It returns how many images the container holds.
func (e *Engine) fitImages(ctx context.Context, doc dom.Document, container dom.Ref) (int, error) {
	width, err := e.containerWidth(ctx, doc, container)
	if err != nil {
		return 0, err
	}
	imgs, err := doc.Images(ctx, container)
	if err != nil {
		return 0, fmt.Errorf("list images: %w", err)
	}

	styled := map[dom.Ref]bool{}
	pending := 0
	for _, img := range imgs {
		if !img.Complete {
			pending++
			continue
		}
		if err := doc.StyleImage(ctx, img.Ref, BestFitCSS(img.NaturalWidth, width)); err != nil {
			return len(imgs), err
		}
		styled[img.Ref] = true
	}
	if pending > 0 && e.cfg.ImageWatch > 0 {
		e.watchImages(ctx, doc, container, styled)
	}
	return len(imgs), nil
}

func (e *Engine) containerWidth(ctx context.Context, doc dom.Document, container dom.Ref) (float64, error) {
	w, err := doc.ClientWidth(ctx, container)
	if err != nil {
		return 0, fmt.Errorf("container width: %w", err)
	}
	if w <= 0 {
		return e.cfg.FallbackWidth, nil
	}
	return w, nil
}

// watchImages keeps sizing images as they finish loading, including ones
// added after the first pass, until the watch window closes or nothing is
// left pending. The watcher ignores cancellation of ctx and is bounded by
// ImageWatch instead.
func (e *Engine) watchImages(ctx context.Context, doc dom.Document, container dom.Ref, styled map[dom.Ref]bool) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ImageWatch)
	poll := e.cfg.ImagePoll
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	e.watchers.Add(1)
	go func() {
		defer e.watchers.Done()
		defer cancel()
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		for {
			select {
			case <-wctx.Done():
				e.logger.Debug("Image watch window closed.")
				return
			case <-ticker.C:
			}
			width, err := e.containerWidth(wctx, doc, container)
			if err != nil {
				e.logger.Debug("Image watch stopped.", zap.Error(err))
				return
			}
			imgs, err := doc.Images(wctx, container)
			if err != nil {
				e.logger.Debug("Image watch stopped.", zap.Error(err))
				return
			}
			left := 0
			for _, img := range imgs {
				if styled[img.Ref] {
					continue
				}
				if !img.Complete {
					left++
					continue
				}
				if err := doc.StyleImage(wctx, img.Ref, BestFitCSS(img.NaturalWidth, width)); err != nil {
					e.logger.Debug("Failed to size late image.", zap.Error(err))
					continue
				}
				styled[img.Ref] = true
			}
			if left == 0 {
				return
			}
		}
	}()
}
