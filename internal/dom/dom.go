// Package dom is the narrow view of a page that the extraction and compose
// code works against. The live implementation talks to Chrome; Static works
// on parsed HTML.
package dom

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrStale means the referenced element is gone from the document.
	ErrStale = errors.New("dom: element is no longer attached")
	// ErrInvalidSelector is returned for selectors the engine cannot parse.
	ErrInvalidSelector = errors.New("dom: invalid selector")
)

// Ref identifies an element inside one document for as long as it stays attached.
type Ref int

// Rect is the bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Visible reports whether the box has area.
func (r Rect) Visible() bool { return r.Width > 0 && r.Height > 0 }

// Element is a snapshot of one element, taken when it was queried.
type Element struct {
	Ref   Ref               `json:"ref"`
	Tag   string            `json:"tag"`
	Attrs map[string]string `json:"attrs"`
	// ClassName is the class attribute as a plain string.
	ClassName       string `json:"className"`
	ContentEditable bool   `json:"contentEditable"`
	// ContainerText is the text of the nearest tr, div or td, the element included.
	ContainerText string `json:"containerText"`
	// DataName is data-name of the nearest element carrying one.
	DataName string `json:"dataName"`
	// Value is the form value, or a text prefix for other elements.
	Value string `json:"value"`
	Rect  Rect   `json:"rect"`
}

// Attr returns the attribute value, or "".
func (e Element) Attr(name string) string { return e.Attrs[name] }

// IsFormField reports whether the element takes a form value rather than text content.
func (e Element) IsFormField() bool {
	return e.Tag == "input" || e.Tag == "textarea"
}

// Image describes an img inside a container.
type Image struct {
	Ref          Ref     `json:"ref"`
	NaturalWidth float64 `json:"naturalWidth"`
	Complete     bool    `json:"complete"`
}

// DOM event names dispatched after a programmatic edit.
const (
	EventInput  = "input"
	EventChange = "change"
	EventKeyUp  = "keyup"
	EventPaste  = "paste"
	EventBlur   = "blur"
)

// Querier finds elements.
type Querier interface {
	// QueryAll returns every match in document order. An unparseable
	// selector yields ErrInvalidSelector.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// Document is a page we can read and edit.
type Document interface {
	Querier
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	OuterHTML(ctx context.Context, ref Ref) (string, error)
	InnerHTML(ctx context.Context, ref Ref) (string, error)
	ClientWidth(ctx context.Context, ref Ref) (float64, error)
	Focus(ctx context.Context, ref Ref) error
	SetInnerHTML(ctx context.Context, ref Ref, html string) error
	// SetValue assigns the form value of inputs and textareas and the text
	// content of anything else.
	SetValue(ctx context.Context, ref Ref, value string) error
	Dispatch(ctx context.Context, ref Ref, events ...string) error
	Images(ctx context.Context, container Ref) ([]Image, error)
	// StyleImage drops the width and height attributes and replaces the inline style.
	StyleImage(ctx context.Context, img Ref, css string) error
}

// Observable documents report subtree changes. Each receive on the channel
// stands for at least one batch of mutations; bursts may be coalesced.
type Observable interface {
	Observe(ctx context.Context) (<-chan struct{}, func(), error)
}

// QueryFirst returns the first match for selector.
func QueryFirst(ctx context.Context, q Querier, selector string) (Element, bool, error) {
	els, err := q.QueryAll(ctx, selector)
	if err != nil || len(els) == 0 {
		return Element{}, false, err
	}
	return els[0], true, nil
}

// Exists reports whether any selector in the list matches. Invalid selectors are skipped.
func Exists(ctx context.Context, q Querier, selectors ...string) (bool, error) {
	for _, sel := range selectors {
		_, ok, err := QueryFirst(ctx, q, sel)
		if errors.Is(err, ErrInvalidSelector) {
			continue
		}
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Truncate shortens s to n runes.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
