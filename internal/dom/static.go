package dom

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Dispatched is one event fired through a Static document.
type Dispatched struct {
	Ref   Ref
	Event string
}

// Static is a Document over parsed HTML. There is no layout engine: element
// boxes come from inline style width/height (px) and left/top, and anything
// hidden by display:none, visibility:hidden or the hidden attribute has an
// empty box. Image natural widths come from data-natural-width and an image
// with data-pending is not yet loaded.
type Static struct {
	mu        sync.Mutex
	url       string
	doc       *goquery.Document
	nodes     []*html.Node
	refs      map[*html.Node]Ref
	focused   Ref
	events    []Dispatched
	observers map[int]chan struct{}
	nextObs   int
}

// NewStatic parses r as the document found at url.
func NewStatic(url string, r io.Reader) (*Static, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &Static{url: url, doc: doc, refs: map[*html.Node]Ref{}, focused: -1, observers: map[int]chan struct{}{}}, nil
}

// NewStaticString is NewStatic over a string.
func NewStaticString(url, src string) (*Static, error) {
	return NewStatic(url, strings.NewReader(src))
}

func (s *Static) URL(context.Context) (string, error) { return s.url, nil }

func (s *Static) Title(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.doc.Find("title").First().Text()), nil
}

func (s *Static) QueryAll(_ context.Context, selector string) ([]Element, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSelector, selector, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Element
	for _, n := range sel.MatchAll(s.doc.Get(0)) {
		if n.Type != html.ElementNode {
			continue
		}
		out = append(out, s.snapshot(n))
	}
	return out, nil
}

func (s *Static) OuterHTML(_ context.Context, ref Ref) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(ref)
	if err != nil {
		return "", err
	}
	return goquery.OuterHtml(goquery.NewDocumentFromNode(n).Selection)
}

func (s *Static) InnerHTML(_ context.Context, ref Ref) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(ref)
	if err != nil {
		return "", err
	}
	return goquery.NewDocumentFromNode(n).Selection.Html()
}

func (s *Static) ClientWidth(_ context.Context, ref Ref) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(ref)
	if err != nil {
		return 0, err
	}
	return layout(n).Width, nil
}

func (s *Static) Focus(_ context.Context, ref Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.node(ref); err != nil {
		return err
	}
	s.focused = ref
	return nil
}

// Focused returns the last focused element, or -1.
func (s *Static) Focused() Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

func (s *Static) SetInnerHTML(_ context.Context, ref Ref, markup string) error {
	s.mu.Lock()
	n, err := s.node(ref)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	goquery.NewDocumentFromNode(n).Selection.SetHtml(markup)
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Static) SetValue(_ context.Context, ref Ref, value string) error {
	s.mu.Lock()
	n, err := s.node(ref)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	sel := goquery.NewDocumentFromNode(n).Selection
	if n.Data == "input" {
		sel.SetAttr("value", value)
		s.mu.Unlock()
		return nil
	}
	sel.SetText(value)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Value reads back what SetValue wrote.
func (s *Static) Value(ref Ref) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(ref)
	if err != nil {
		return "", err
	}
	return valueOf(n), nil
}

func (s *Static) Dispatch(_ context.Context, ref Ref, events ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.node(ref); err != nil {
		return err
	}
	for _, e := range events {
		s.events = append(s.events, Dispatched{Ref: ref, Event: e})
	}
	return nil
}

// Events returns everything dispatched so far.
func (s *Static) Events() []Dispatched {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Dispatched(nil), s.events...)
}

// EventsFor returns the event names dispatched at ref, in order.
func (s *Static) EventsFor(ref Ref) []string {
	var out []string
	for _, e := range s.Events() {
		if e.Ref == ref {
			out = append(out, e.Event)
		}
	}
	return out
}

func (s *Static) Images(_ context.Context, container Ref) ([]Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(container)
	if err != nil {
		return nil, err
	}
	var out []Image
	goquery.NewDocumentFromNode(n).Find("img").Each(func(_ int, img *goquery.Selection) {
		node := img.Get(0)
		w, _ := strconv.ParseFloat(img.AttrOr("data-natural-width", "0"), 64)
		_, pending := img.Attr("data-pending")
		out = append(out, Image{Ref: s.refFor(node), NaturalWidth: w, Complete: !pending})
	})
	return out, nil
}

func (s *Static) StyleImage(_ context.Context, img Ref, css string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(img)
	if err != nil {
		return err
	}
	sel := goquery.NewDocumentFromNode(n).Selection
	sel.RemoveAttr("width")
	sel.RemoveAttr("height")
	sel.SetAttr("style", css)
	return nil
}

// Observe reports every structural change made through this document or Mutate.
func (s *Static) Observe(ctx context.Context) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ch, stop, nil
}

// Mutate runs fn against the underlying document and notifies observers.
// Tests use it to play the part of the page's own scripts.
func (s *Static) Mutate(fn func(doc *goquery.Document)) {
	s.mu.Lock()
	fn(s.doc)
	s.mu.Unlock()
	s.notify()
}

// HTML renders the whole document.
func (s *Static) HTML() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Html()
}

func (s *Static) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.observers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Static) refFor(n *html.Node) Ref {
	if r, ok := s.refs[n]; ok {
		return r
	}
	r := Ref(len(s.nodes))
	s.nodes = append(s.nodes, n)
	s.refs[n] = r
	return r
}

func (s *Static) node(ref Ref) (*html.Node, error) {
	if ref < 0 || int(ref) >= len(s.nodes) {
		return nil, fmt.Errorf("%w: ref %d", ErrStale, ref)
	}
	n := s.nodes[ref]
	root := s.doc.Get(0)
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: ref %d", ErrStale, ref)
}

func (s *Static) snapshot(n *html.Node) Element {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	el := Element{
		Ref:             s.refFor(n),
		Tag:             strings.ToLower(n.Data),
		Attrs:           attrs,
		ClassName:       attrs["class"],
		ContentEditable: isContentEditable(n),
		Value:           Truncate(valueOf(n), 200),
		Rect:            layout(n),
	}
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && (p.Data == "tr" || p.Data == "div" || p.Data == "td") {
			el.ContainerText = goquery.NewDocumentFromNode(p).Selection.Text()
			break
		}
	}
	for p := n; p != nil; p = p.Parent {
		if v, ok := attr(p, "data-name"); ok && p.Type == html.ElementNode {
			el.DataName = v
			break
		}
	}
	return el
}

func valueOf(n *html.Node) string {
	if n.Data == "input" {
		v, _ := attr(n, "value")
		return v
	}
	return goquery.NewDocumentFromNode(n).Selection.Text()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// isContentEditable follows the inheritance rule of HTMLElement.isContentEditable.
func isContentEditable(n *html.Node) bool {
	for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		v, ok := attr(p, "contenteditable")
		if !ok {
			continue
		}
		switch strings.ToLower(v) {
		case "", "true", "plaintext-only":
			return true
		case "false":
			return false
		}
	}
	return false
}

// layout derives a box from inline styles.
func layout(n *html.Node) Rect {
	for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if _, hidden := attr(p, "hidden"); hidden {
			return Rect{}
		}
		style := parseStyle(p)
		if style["display"] == "none" || (p == n && style["visibility"] == "hidden") {
			return Rect{}
		}
	}
	style := parseStyle(n)
	return Rect{
		X:      px(style["left"]),
		Y:      px(style["top"]),
		Width:  px(style["width"]),
		Height: px(style["height"]),
	}
}

func parseStyle(n *html.Node) map[string]string {
	raw, _ := attr(n, "style")
	out := map[string]string{}
	for _, decl := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func px(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64)
	if err != nil {
		return 0
	}
	return f
}
