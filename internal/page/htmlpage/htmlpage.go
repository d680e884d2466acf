// internal/page/htmlpage/htmlpage.go

// Package htmlpage implements page.Page over a static HTML document parsed with
// goquery. It backs the offline `explain` command and serves as the DOM double in
// engine tests. Clicks on radios, checkboxes, labels and options are simulated; a
// field carrying data-reject="setvalue keys click" ignores the named write paths, the
// way controlled inputs on live sites discard writes they did not originate. A
// rejected click still reaches the element through its label.
package htmlpage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/applypilot/internal/page"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ClickHook runs after the default click behavior, outside the page lock.
type ClickHook func(ctx context.Context, p *Page, n page.Node) error

// Evaluator emulates script execution. It runs under the page lock and may mutate
// the document through target or doc.
type Evaluator func(doc *goquery.Document, target *goquery.Selection, fn string, args []any) (any, error)

// Event is a recorded DispatchEvent call.
type Event struct {
	Type string
	Tag  string
	ID   string
	Name string
}

// Page is a static, mutable document.
type Page struct {
	mu     sync.Mutex
	doc    *goquery.Document
	gen    int
	url    string
	closed bool

	events []Event
	clicks []string

	OnClick   ClickHook
	Evaluator Evaluator
}

type node struct {
	n   *html.Node
	gen int
}

func (n *node) Tag() string { return strings.ToLower(n.n.Data) }

// New parses markup into a Page.
func New(markup string) (*Page, error) {
	p := &Page{}
	if err := p.Load(markup); err != nil {
		return nil, err
	}
	return p, nil
}

// Load replaces the document. Nodes obtained before the call become stale.
func (p *Page) Load(markup string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("htmlpage: parse document: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = doc
	p.gen++
	return nil
}

// SetURL sets the value reported by CurrentURL.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
}

// Close makes every later call fail with page.ErrSessionLost.
func (p *Page) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Events returns the dispatched events in order.
func (p *Page) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Clicks returns a short description (tag#id or tag.text) of each clicked node.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// HTML renders the current document.
func (p *Page) HTML() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return goquery.OuterHtml(p.doc.Selection)
}

// -- resolution --

func (p *Page) live() error {
	if p.closed {
		return page.ErrSessionLost
	}
	return nil
}

func (p *Page) resolve(n page.Node) (*goquery.Selection, error) {
	if err := p.live(); err != nil {
		return nil, err
	}
	nd, ok := n.(*node)
	if !ok || nd == nil {
		return nil, fmt.Errorf("htmlpage: foreign node %T: %w", n, page.ErrStaleNode)
	}
	if nd.gen != p.gen || !attached(nd.n, p.doc) {
		return nil, page.ErrStaleNode
	}
	return p.doc.FindNodes(nd.n), nil
}

func attached(n *html.Node, doc *goquery.Document) bool {
	root := doc.Nodes[0]
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}

func (p *Page) wrap(s *goquery.Selection) []page.Node {
	out := make([]page.Node, 0, s.Length())
	for _, hn := range s.Nodes {
		out = append(out, &node{n: hn, gen: p.gen})
	}
	return out
}

// -- queries --

func (p *Page) QueryOne(ctx context.Context, selector string) (page.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(); err != nil {
		return nil, err
	}
	s := p.doc.Find(selector).First()
	if s.Length() == 0 {
		return nil, nil
	}
	return &node{n: s.Nodes[0], gen: p.gen}, nil
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]page.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(); err != nil {
		return nil, err
	}
	return p.wrap(p.doc.Find(selector)), nil
}

func (p *Page) QueryWithin(ctx context.Context, parent page.Node, selector string) ([]page.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.resolve(parent)
	if err != nil {
		return nil, err
	}
	return p.wrap(s.Find(selector)), nil
}

func (p *Page) Closest(ctx context.Context, n page.Node, selector string) (page.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.resolve(n)
	if err != nil {
		return nil, err
	}
	c := s.Closest(selector)
	if c.Length() == 0 {
		return nil, nil
	}
	return &node{n: c.Nodes[0], gen: p.gen}, nil
}

func (p *Page) Text(ctx context.Context, n page.Node) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.resolve(n)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(s.Text()), " "), nil
}

func (p *Page) Attribute(ctx context.Context, n page.Node, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.resolve(n)
	if err != nil {
		return "", false, err
	}
	v, ok := s.Attr(name)
	return v, ok, nil
}

func (p *Page) Property(ctx context.Context, n page.Node, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.resolve(n)
	if err != nil {
		return "", err
	}
	switch name {
	case "value":
		return valueOf(s), nil
	case "checked":
		return boolString(isChecked(s)), nil
	case "selected":
		_, ok := s.Attr("selected")
		return boolString(ok), nil
	case "disabled":
		_, ok := s.Attr("disabled")
		return boolString(ok || s.AttrOr("aria-disabled", "") == "true"), nil
	}
	return s.AttrOr(name, ""), nil
}

func (p *Page) Visible(ctx context.Context, n page.Node) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.resolve(n)
	if err != nil {
		return false, err
	}
	if strings.EqualFold(s.AttrOr("type", ""), "hidden") {
		return false, nil
	}
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		if cur.Nodes[0].Type != html.ElementNode {
			break
		}
		if _, ok := cur.Attr("hidden"); ok {
			return false, nil
		}
		if cur.AttrOr("aria-hidden", "") == "true" {
			return false, nil
		}
		style := strings.ReplaceAll(strings.ToLower(cur.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false, nil
		}
	}
	return true, nil
}

func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(); err != nil {
		return "", err
	}
	return p.url, nil
}

// -- mutations --

func (p *Page) SetValue(ctx context.Context, n page.Node, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.resolve(n)
	if err != nil {
		return err
	}
	if rejects(s, "setvalue") || disabled(s) {
		return nil
	}
	writeValue(s, value)
	return nil
}

func (p *Page) SendKeys(ctx context.Context, n page.Node, keys string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.resolve(n)
	if err != nil {
		return err
	}
	if rejects(s, "keys") || disabled(s) {
		return nil
	}
	writeValue(s, valueOf(s)+keys)
	return nil
}

func (p *Page) DispatchEvent(ctx context.Context, n page.Node, eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.resolve(n)
	if err != nil {
		return err
	}
	p.events = append(p.events, Event{
		Type: eventType,
		Tag:  goquery.NodeName(s),
		ID:   s.AttrOr("id", ""),
		Name: s.AttrOr("name", ""),
	})
	return nil
}

func (p *Page) Click(ctx context.Context, n page.Node) error {
	p.mu.Lock()
	s, err := p.resolve(n)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.clicks = append(p.clicks, describe(s))
	off := disabled(s)
	if !off && !rejects(s, "click") {
		p.activate(s)
	}
	hook := p.OnClick
	p.mu.Unlock()

	if hook != nil && !off {
		return hook(ctx, p, n)
	}
	return nil
}

// activate applies the default action of a click.
func (p *Page) activate(s *goquery.Selection) {
	switch goquery.NodeName(s) {
	case "input":
		switch strings.ToLower(s.AttrOr("type", "")) {
		case "radio":
			if name := s.AttrOr("name", ""); name != "" {
				p.doc.Find(fmt.Sprintf(`input[type="radio"][name=%q]`, name)).RemoveAttr("checked")
			}
			s.SetAttr("checked", "")
		case "checkbox":
			if _, ok := s.Attr("checked"); ok {
				s.RemoveAttr("checked")
			} else {
				s.SetAttr("checked", "")
			}
		}
		return
	case "label":
		target := s.Find("input")
		if id := s.AttrOr("for", ""); id != "" {
			target = p.doc.Find(fmt.Sprintf(`[id=%q]`, id))
		}
		if target.Length() > 0 && !disabled(target.First()) {
			p.activate(target.First())
		}
		return
	case "option":
		sel := s.Closest("select")
		if _, multi := sel.Attr("multiple"); !multi {
			sel.Find("option").RemoveAttr("selected")
		}
		s.SetAttr("selected", "")
		return
	}

	switch s.AttrOr("role", "") {
	case "radio":
		group := s.Closest(`[role="radiogroup"]`)
		if group.Length() > 0 {
			group.Find(`[role="radio"]`).SetAttr("aria-checked", "false")
		}
		s.SetAttr("aria-checked", "true")
	case "checkbox", "option":
		key := "aria-checked"
		if s.AttrOr("role", "") == "option" {
			key = "aria-selected"
		}
		if s.AttrOr(key, "") == "true" {
			s.SetAttr(key, "false")
		} else {
			s.SetAttr(key, "true")
		}
	}
}

func (p *Page) Evaluate(ctx context.Context, fn string, target page.Node, out any, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(); err != nil {
		return err
	}
	if p.Evaluator == nil {
		return page.ErrUnsupported
	}
	var sel *goquery.Selection
	if target != nil {
		s, err := p.resolve(target)
		if err != nil {
			return err
		}
		sel = s
	}
	res, err := p.Evaluator(p.doc, sel, fn, args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("htmlpage: encode evaluate result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// -- element helpers --

func valueOf(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "select":
		opt := s.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = s.Find("option").First()
		}
		if v, ok := opt.Attr("value"); ok {
			return v
		}
		return strings.TrimSpace(opt.Text())
	case "textarea":
		return s.Text()
	}
	if s.AttrOr("contenteditable", "") == "true" {
		return s.Text()
	}
	return s.AttrOr("value", "")
}

func writeValue(s *goquery.Selection, value string) {
	switch goquery.NodeName(s) {
	case "select":
		var match *goquery.Selection
		s.Find("option").EachWithBreak(func(_ int, o *goquery.Selection) bool {
			if o.AttrOr("value", "") == value || strings.TrimSpace(o.Text()) == value {
				match = o
				return false
			}
			return true
		})
		if match != nil {
			s.Find("option").RemoveAttr("selected")
			match.SetAttr("selected", "")
		}
		return
	case "textarea":
		s.SetText(value)
		return
	}
	if s.AttrOr("contenteditable", "") == "true" {
		s.SetText(value)
		return
	}
	s.SetAttr("value", value)
}

func isChecked(s *goquery.Selection) bool {
	if _, ok := s.Attr("checked"); ok {
		return true
	}
	return s.AttrOr("aria-checked", "") == "true" || s.AttrOr("aria-selected", "") == "true"
}

func disabled(s *goquery.Selection) bool {
	_, ok := s.Attr("disabled")
	return ok || s.AttrOr("aria-disabled", "") == "true"
}

func rejects(s *goquery.Selection, path string) bool {
	for _, f := range strings.Fields(s.AttrOr("data-reject", "")) {
		if f == path {
			return true
		}
	}
	return false
}

func describe(s *goquery.Selection) string {
	tag := goquery.NodeName(s)
	if id := s.AttrOr("id", ""); id != "" {
		return tag + "#" + id
	}
	return tag + "." + strings.Join(strings.Fields(s.Text()), " ")
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
