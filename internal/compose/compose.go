// Package compose finds the body, recipient and subject fields of a webmail
// compose window.
//
// Each role has an ordered selector list. Matches are walked in selector
// order, then document order, and the first element that passes the
// exclusion rules and the size filter wins. Roles are resolved independently.
package compose

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"unicode/utf8"

	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/dom"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// Role is one of the compose fields.
type Role string

const (
	RoleBody      Role = "body"
	RoleRecipient Role = "recipient"
	RoleSubject   Role = "subject"
)

// Roles lists every role in the order they are filled.
var Roles = []Role{RoleBody, RoleRecipient, RoleSubject}

// ErrNotFound means no candidate survived for a role.
var ErrNotFound = errors.New("compose: field not found")

// Target is a resolved field.
type Target struct {
	Role     Role        `json:"role"`
	Element  dom.Element `json:"element"`
	Selector string      `json:"selector"`
}

// Surface holds whatever was resolved. Missing roles are nil.
type Surface struct {
	Body      *Target
	Recipient *Target
	Subject   *Target
}

// Get returns the target for role.
func (s Surface) Get(r Role) *Target {
	switch r {
	case RoleBody:
		return s.Body
	case RoleRecipient:
		return s.Recipient
	case RoleSubject:
		return s.Subject
	}
	return nil
}

// Complete reports whether all three roles resolved.
func (s Surface) Complete() bool {
	return s.Body != nil && s.Recipient != nil && s.Subject != nil
}

func (s *Surface) set(t *Target) {
	switch t.Role {
	case RoleBody:
		s.Body = t
	case RoleRecipient:
		s.Recipient = t
	case RoleSubject:
		s.Subject = t
	}
}

type keyword struct {
	role Role
	re   *regexp.Regexp
}

type roleSpec struct {
	role      Role
	selectors []string
	detect    []string
	minWidth  float64
	minHeight float64
	// fields need a label naming their own role; a body does not.
	needsEvidence bool
}

// Locator resolves compose fields. It is safe for concurrent use.
type Locator struct {
	specs    []roleSpec
	keywords []keyword
	logger   *zap.Logger
}

// NewLocator builds a locator from the compose configuration.
func NewLocator(cfg config.ComposeConfig, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Locator{logger: logger.Named("compose")}
	for _, rc := range []struct {
		role Role
		cfg  config.RoleConfig
	}{
		{RoleBody, cfg.Body},
		{RoleRecipient, cfg.Recipient},
		{RoleSubject, cfg.Subject},
	} {
		l.specs = append(l.specs, roleSpec{
			role:          rc.role,
			selectors:     rc.cfg.Selectors,
			detect:        rc.cfg.Detect,
			minWidth:      rc.cfg.MinWidth,
			minHeight:     rc.cfg.MinHeight,
			needsEvidence: rc.role != RoleBody,
		})
		for _, kw := range rc.cfg.Keywords {
			l.keywords = append(l.keywords, keyword{role: rc.role, re: keywordPattern(kw)})
		}
	}
	return l
}

// keywordPattern matches kw case-insensitively. Short keywords like "to"
// must stand alone; longer ones may be part of a word ("subjectbox").
func keywordPattern(kw string) *regexp.Regexp {
	kw = fold(kw)
	if utf8.RuneCountInString(kw) <= 3 {
		return regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	}
	return regexp.MustCompile(regexp.QuoteMeta(kw))
}

func fold(s string) string {
	// A Caser keeps state, so each call gets its own.
	return cases.Fold().String(s)
}

func (l *Locator) spec(r Role) (roleSpec, bool) {
	for _, s := range l.specs {
		if s.role == r {
			return s, true
		}
	}
	return roleSpec{}, false
}

// Locate resolves every role. Unresolved roles are left nil.
func (l *Locator) Locate(ctx context.Context, q dom.Querier) (Surface, error) {
	var surface Surface
	for _, r := range Roles {
		t, err := l.Find(ctx, q, r)
		if errors.Is(err, ErrNotFound) {
			l.logger.Debug("Compose field not found.", zap.String("role", string(r)))
			continue
		}
		if err != nil {
			return surface, err
		}
		surface.set(t)
	}
	return surface, nil
}

// Find resolves one role.
func (l *Locator) Find(ctx context.Context, q dom.Querier, r Role) (*Target, error) {
	spec, ok := l.spec(r)
	if !ok {
		return nil, fmt.Errorf("unknown role %q", r)
	}
	for _, sel := range spec.selectors {
		els, err := q.QueryAll(ctx, sel)
		if errors.Is(err, dom.ErrInvalidSelector) {
			l.logger.Warn("Skipping invalid compose selector.", zap.String("role", string(r)), zap.String("selector", sel))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query %s candidates: %w", r, err)
		}
		for _, el := range els {
			if reason := l.reject(spec, el); reason != "" {
				continue
			}
			l.logger.Debug("Compose field found.",
				zap.String("role", string(r)),
				zap.String("selector", sel),
				zap.Float64("width", el.Rect.Width),
				zap.Float64("height", el.Rect.Height))
			return &Target{Role: r, Element: el, Selector: sel}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, r)
}

// Candidate is one element a role's selectors matched, with the verdict.
type Candidate struct {
	Selector string      `json:"selector"`
	Element  dom.Element `json:"element"`
	// Reason is empty for an accepted candidate.
	Reason string `json:"reason,omitempty"`
}

// Candidates lists everything the selectors of role match, in search order,
// and why each element was or would have been rejected.
func (l *Locator) Candidates(ctx context.Context, q dom.Querier, r Role) ([]Candidate, error) {
	spec, ok := l.spec(r)
	if !ok {
		return nil, fmt.Errorf("unknown role %q", r)
	}
	var out []Candidate
	for _, sel := range spec.selectors {
		els, err := q.QueryAll(ctx, sel)
		if errors.Is(err, dom.ErrInvalidSelector) {
			out = append(out, Candidate{Selector: sel, Reason: "invalid selector"})
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, el := range els {
			out = append(out, Candidate{Selector: sel, Element: el, Reason: l.reject(spec, el)})
		}
	}
	return out, nil
}

// reject returns why el cannot serve spec.role, or "".
func (l *Locator) reject(spec roleSpec, el dom.Element) string {
	declared, field := l.declaredRole(el)
	evidence := declared == spec.role
	switch {
	case declared != "" && declared != spec.role:
		return fmt.Sprintf("%s names %s", field, declared)
	case declared == "" && spec.needsEvidence:
		// Fields fall back to the surrounding row. A body's container is
		// itself, so its own text never counts.
		if r := l.earliestRole(el.ContainerText); r != "" {
			if r != spec.role {
				return fmt.Sprintf("container names %s", r)
			}
			evidence = true
		}
	}
	if spec.needsEvidence && !evidence {
		return "nothing names " + string(spec.role)
	}
	if el.Rect.Width <= spec.minWidth || el.Rect.Height <= spec.minHeight {
		return fmt.Sprintf("too small (%.0fx%.0f)", el.Rect.Width, el.Rect.Height)
	}
	return ""
}

// declaredRole checks the labelling fields in priority order and returns the
// role named by the first one that names any.
func (l *Locator) declaredRole(el dom.Element) (Role, string) {
	fields := []struct{ name, value string }{
		{"aria-label", el.Attr("aria-label")},
		{"placeholder", el.Attr("placeholder")},
		{"name", el.Attr("name")},
		{"data-name", el.DataName},
		{"class", el.ClassName},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if r := l.earliestRole(f.value); r != "" {
			return r, f.name
		}
	}
	return "", ""
}

// earliestRole returns the role whose keyword appears first in text.
func (l *Locator) earliestRole(text string) Role {
	if text == "" {
		return ""
	}
	text = fold(text)
	type hit struct {
		role Role
		at   int
	}
	var hits []hit
	for _, kw := range l.keywords {
		if loc := kw.re.FindStringIndex(text); loc != nil {
			hits = append(hits, hit{kw.role, loc[0]})
		}
	}
	if len(hits) == 0 {
		return ""
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].at < hits[j].at })
	return hits[0].role
}

// Presence is a cheap readiness snapshot.
type Presence struct {
	Body      bool `json:"body"`
	Recipient bool `json:"recipient"`
	Subject   bool `json:"subject"`
}

// All reports whether every role is present.
func (p Presence) All() bool { return p.Body && p.Recipient && p.Subject }

// Probe checks the detection selectors. The body also has to be large enough;
// the fields only have to exist.
func (l *Locator) Probe(ctx context.Context, q dom.Querier) (Presence, error) {
	var p Presence
	var err error
	if _, p.Body, err = l.DetectBody(ctx, q); err != nil {
		return p, err
	}
	rcpt, _ := l.spec(RoleRecipient)
	if p.Recipient, err = dom.Exists(ctx, q, rcpt.detect...); err != nil {
		return p, err
	}
	subj, _ := l.spec(RoleSubject)
	if p.Subject, err = dom.Exists(ctx, q, subj.detect...); err != nil {
		return p, err
	}
	return p, nil
}

// DetectBody returns the first detection-selector match for the body that is
// large enough, whatever it contains.
func (l *Locator) DetectBody(ctx context.Context, q dom.Querier) (dom.Element, bool, error) {
	body, _ := l.spec(RoleBody)
	for _, sel := range body.detect {
		el, ok, err := dom.QueryFirst(ctx, q, sel)
		if errors.Is(err, dom.ErrInvalidSelector) {
			continue
		}
		if err != nil {
			return dom.Element{}, false, err
		}
		if ok && el.Rect.Width > body.minWidth && el.Rect.Height > body.minHeight {
			return el, true, nil
		}
	}
	return dom.Element{}, false, nil
}

// NamesField reports whether the element's aria-label names the recipient or
// subject role.
func (l *Locator) NamesField(el dom.Element) bool {
	r := l.earliestRole(el.Attr("aria-label"))
	return r == RoleRecipient || r == RoleSubject
}

// EditableSelector matches everything a user could type into.
const EditableSelector = `input, textarea, [contenteditable="true"]`

// Editables returns the visible elements matching EditableSelector, for
// diagnosing pages where a role could not be resolved.
func Editables(ctx context.Context, q dom.Querier) ([]dom.Element, error) {
	els, err := q.QueryAll(ctx, EditableSelector)
	if err != nil {
		return nil, err
	}
	out := els[:0]
	for _, el := range els {
		if el.Rect.Visible() {
			out = append(out, el)
		}
	}
	return out, nil
}
