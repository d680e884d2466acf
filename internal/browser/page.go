// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applypilot/internal/humanoid"
	"github.com/xkilldash9x/applypilot/internal/page"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultOpTimeout = 10 * time.Second

// node is a live element held by remote object id.
type node struct {
	id  runtime.RemoteObjectID
	tag string
}

func (n *node) Tag() string { return n.tag }

// Page drives one browser tab through the Chrome DevTools Protocol. Operations are
// serialized: only one runs against the tab at a time.
type Page struct {
	ctx       context.Context
	cancel    context.CancelFunc
	opTimeout time.Duration
	logger    *zap.Logger

	// pointer, when set, moves the mouse to an element before clicking it.
	pointer *humanoid.Pointer

	mu      sync.Mutex
	closed  bool
	onClose func()
	mouse   humanoid.Vector2D
	// group is the DevTools object group that holds the current node handles.
	group string
	gen   int
}

// newPage wraps a chromedp tab context. cancel must close the tab.
func newPage(tabCtx context.Context, cancel context.CancelFunc, opTimeout time.Duration, logger *zap.Logger) *Page {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Page{ctx: tabCtx, cancel: cancel, opTimeout: opTimeout, logger: logger, group: groupName(0)}
}

func groupName(gen int) string { return "applypilot-nodes-" + strconv.Itoa(gen) }

func (p *Page) objectGroup() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.group
}

// ReleaseNodes frees the remote objects behind every node handed out so far and
// starts a new object group. Those nodes must not be used afterwards.
func (p *Page) ReleaseNodes(ctx context.Context) error {
	p.mu.Lock()
	old := p.group
	p.gen++
	p.group = groupName(p.gen)
	p.mu.Unlock()

	return p.run(ctx, runtime.ReleaseObjectGroup(old))
}

// Close closes the tab. It is safe to call more than once.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	onClose := p.onClose
	p.mu.Unlock()

	p.cancel()
	if onClose != nil {
		onClose()
	}
	return nil
}

// run executes actions on the tab, bounded by the op timeout and by ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.ctx.Err() != nil {
		return page.ErrSessionLost
	}

	opCtx, cancel := context.WithTimeout(p.ctx, p.opTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	return p.classify(ctx, opCtx, err)
}

// classify maps driver errors onto the page error set.
func (p *Page) classify(ctx, opCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, page.ErrStaleNode) || errors.Is(err, page.ErrSessionLost) {
		return err
	}
	if p.ctx.Err() != nil ||
		errors.Is(err, chromedp.ErrChannelClosed) ||
		errors.Is(err, chromedp.ErrInvalidContext) ||
		errors.Is(err, chromedp.ErrInvalidTarget) {
		return fmt.Errorf("%w: %v", page.ErrSessionLost, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if opCtx.Err() != nil {
		return fmt.Errorf("%w: browser operation exceeded %s", page.ErrTimeout, p.opTimeout)
	}
	msg := err.Error()
	for _, s := range staleMessages {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", page.ErrStaleNode, err)
		}
	}
	for _, s := range lostMessages {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", page.ErrSessionLost, err)
		}
	}
	return err
}

// Protocol messages that mean a remote object outlived its document.
var staleMessages = []string{
	"Could not find object with given id",
	"Cannot find context with specified id",
	"Execution context was destroyed",
	"Inspected target navigated or closed",
	"No node with given id",
}

var lostMessages = []string{
	"Target closed",
	"target closed",
	"Session with given id not found",
	"websocket: close",
}

func asNode(n page.Node) (*node, error) {
	nd, ok := n.(*node)
	if !ok || nd == nil || nd.id == "" {
		return nil, fmt.Errorf("%w: foreign node %T", page.ErrStaleNode, n)
	}
	return nd, nil
}

// tagOf reads the element name from a remote object description such as
// "input#ctc.form-control".
func tagOf(desc string) string {
	if i := strings.IndexAny(desc, "#.[ "); i >= 0 {
		desc = desc[:i]
	}
	return strings.ToLower(desc)
}

// -- queries --

const queryWithinJS = `function(sel) {
	if (!this.isConnected) { return 'stale'; }
	return Array.from(this.querySelectorAll(sel));
}`

const closestJS = `function(sel) {
	if (!this.isConnected) { return 'stale'; }
	return this.closest(sel);
}`

func (p *Page) QueryOne(ctx context.Context, selector string) (page.Node, error) {
	nodes, err := p.QueryAll(ctx, selector)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]page.Node, error) {
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%s))`, jsonEncode(selector))
	group := p.objectGroup()
	var nodes []page.Node
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, exc, err := runtime.Evaluate(expr).WithObjectGroup(group).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("query %q: %w", selector, exc)
		}
		nodes, err = elements(ctx, res)
		return err
	}))
	return nodes, err
}

func (p *Page) QueryWithin(ctx context.Context, parent page.Node, selector string) ([]page.Node, error) {
	nd, err := asNode(parent)
	if err != nil {
		return nil, err
	}
	group := p.objectGroup()
	var nodes []page.Node
	err = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, err := callByReference(ctx, nd, group, queryWithinJS, selector)
		if err != nil {
			return err
		}
		nodes, err = elements(ctx, res)
		return err
	}))
	return nodes, err
}

func (p *Page) Closest(ctx context.Context, n page.Node, selector string) (page.Node, error) {
	nd, err := asNode(n)
	if err != nil {
		return nil, err
	}
	group := p.objectGroup()
	var found page.Node
	err = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, err := callByReference(ctx, nd, group, closestJS, selector)
		if err != nil {
			return err
		}
		if res.ObjectID != "" && res.Subtype == runtime.SubtypeNode {
			found = &node{id: res.ObjectID, tag: tagOf(res.Description)}
		}
		return nil
	}))
	return found, err
}

// callByReference calls fn with nd as this and returns the result as a remote object
// in group.
func callByReference(ctx context.Context, nd *node, group, fn string, args ...any) (*runtime.RemoteObject, error) {
	var res *runtime.RemoteObject
	err := chromedp.CallFunctionOn(fn, &res, func(cp *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
		return cp.WithObjectID(nd.id).WithObjectGroup(group)
	}, args...).Do(ctx)
	if err != nil {
		return nil, err
	}
	if res.Type == runtime.TypeString && string(res.Value) == `"stale"` {
		return nil, page.ErrStaleNode
	}
	return res, nil
}

// elements lists the element entries of a remote array in index order and
// releases the array. The entries stay in the array's object group.
func elements(ctx context.Context, arr *runtime.RemoteObject) ([]page.Node, error) {
	if arr == nil || arr.ObjectID == "" {
		return nil, nil
	}
	defer func() { _ = runtime.ReleaseObject(arr.ObjectID).Do(ctx) }()

	props, _, _, exc, err := runtime.GetProperties(arr.ObjectID).WithOwnProperties(true).Do(ctx)
	if err != nil {
		return nil, err
	}
	if exc != nil {
		return nil, exc
	}

	type indexed struct {
		i int
		n *node
	}
	var found []indexed
	for _, prop := range props {
		i, err := strconv.Atoi(prop.Name)
		if err != nil || prop.Value == nil || prop.Value.ObjectID == "" {
			continue
		}
		found = append(found, indexed{i, &node{id: prop.Value.ObjectID, tag: tagOf(prop.Value.Description)}})
	}
	sort.Slice(found, func(a, b int) bool { return found[a].i < found[b].i })

	nodes := make([]page.Node, len(found))
	for i, f := range found {
		nodes[i] = f.n
	}
	return nodes, nil
}

// -- reads --

// call runs fn with n as this. Detached nodes fail with ErrStaleNode before fn runs.
func (p *Page) call(ctx context.Context, n page.Node, fn string, out any, args ...any) error {
	nd, err := asNode(n)
	if err != nil {
		return err
	}
	wrapped := fmt.Sprintf(`async function(...args) {
	if (!this.isConnected) { return {stale: true}; }
	return {stale: false, value: await (%s).apply(this, args)};
}`, fn)

	var raw []byte
	err = p.run(ctx, chromedp.CallFunctionOn(wrapped, &raw, func(cp *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
		return cp.WithObjectID(nd.id).WithAwaitPromise(true)
	}, args...))
	if err != nil {
		return err
	}

	var res struct {
		Stale bool                `json:"stale"`
		Value jsoniter.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("browser: decode result: %w", err)
	}
	if res.Stale {
		return page.ErrStaleNode
	}
	if out == nil || len(res.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return fmt.Errorf("browser: decode result: %w (payload: %s)", err, string(res.Value))
	}
	return nil
}

const textJS = `function() {
	const t = this.innerText !== undefined && this.innerText !== '' ? this.innerText : this.textContent;
	return (t || '').replace(/\s+/g, ' ').trim();
}`

const attributeJS = `function(name) {
	return {ok: this.hasAttribute(name), value: this.getAttribute(name) || ''};
}`

const propertyJS = `function(name) {
	switch (name) {
	case 'checked':
		if (!('checked' in this)) { return String(this.getAttribute('aria-checked') === 'true'); }
		return String(this.checked);
	case 'selected':
		if (!('selected' in this)) { return String(this.getAttribute('aria-selected') === 'true'); }
		return String(this.selected);
	case 'disabled':
		return String(!!this.disabled || this.getAttribute('aria-disabled') === 'true');
	case 'value':
		if (this.isContentEditable) { return this.textContent || ''; }
	}
	const v = this[name];
	if (v === undefined || v === null) { return this.getAttribute(name) || ''; }
	return String(v);
}`

const visibleJS = `function() {
	if (this.type === 'hidden' || this.closest('[hidden], [aria-hidden="true"]')) { return false; }
	const s = window.getComputedStyle(this);
	if (s.display === 'none' || s.visibility === 'hidden') { return false; }
	return this.getClientRects().length > 0;
}`

func (p *Page) Text(ctx context.Context, n page.Node) (string, error) {
	var s string
	err := p.call(ctx, n, textJS, &s)
	return s, err
}

func (p *Page) Attribute(ctx context.Context, n page.Node, name string) (string, bool, error) {
	var res struct {
		OK    bool   `json:"ok"`
		Value string `json:"value"`
	}
	if err := p.call(ctx, n, attributeJS, &res, name); err != nil {
		return "", false, err
	}
	return res.Value, res.OK, nil
}

func (p *Page) Property(ctx context.Context, n page.Node, name string) (string, error) {
	var s string
	err := p.call(ctx, n, propertyJS, &s, name)
	return s, err
}

func (p *Page) Visible(ctx context.Context, n page.Node) (bool, error) {
	var ok bool
	err := p.call(ctx, n, visibleJS, &ok)
	return ok, err
}

func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

// -- mutations --

const plainSetValueJS = `function(v) {
	if (this.isContentEditable) { this.textContent = v; } else { this.value = v; }
	return true;
}`

const focusJS = `function() { this.focus(); return document.activeElement === this; }`

// centerJS scrolls the element into view and returns its center, or null when it
// has no box.
const centerJS = `function() {
	this.scrollIntoView({block: 'center', inline: 'center'});
	const r = this.getBoundingClientRect();
	if (r.width === 0 || r.height === 0) { return null; }
	return {x: r.left + r.width / 2, y: r.top + r.height / 2};
}`

const jsClickJS = `function() { this.click(); return true; }`

const dispatchJS = `function(type) {
	const init = {bubbles: true, cancelable: true};
	let ev;
	if (type === 'input') { ev = new InputEvent('input', init); }
	else if (type.startsWith('key')) { ev = new KeyboardEvent(type, init); }
	else if (type.startsWith('mouse') || type === 'click') { ev = new MouseEvent(type, init); }
	else if (type === 'focus' || type === 'blur') { ev = new FocusEvent(type, init); }
	else { ev = new Event(type, init); }
	return this.dispatchEvent(ev);
}`

func (p *Page) SetValue(ctx context.Context, n page.Node, value string) error {
	return p.call(ctx, n, plainSetValueJS, nil, value)
}

// Click presses the mouse at the element's center, falling back to a script click
// for elements without a box, such as visually hidden inputs.
func (p *Page) Click(ctx context.Context, n page.Node) error {
	var center *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := p.call(ctx, n, centerJS, &center); err != nil {
		return err
	}
	if center == nil {
		return p.call(ctx, n, jsClickJS, nil)
	}
	if err := p.moveMouse(ctx, humanoid.Vector2D{X: center.X, Y: center.Y}); err != nil {
		return err
	}
	return p.run(ctx, chromedp.MouseClickXY(center.X, center.Y))
}

// moveMouse dispatches the pointer's planned moves from the last known position.
func (p *Page) moveMouse(ctx context.Context, to humanoid.Vector2D) error {
	if p.pointer == nil {
		return nil
	}
	p.mu.Lock()
	from := p.mouse
	p.mu.Unlock()

	for _, step := range p.pointer.Plan(from, to) {
		if err := page.Sleep(ctx, step.Wait); err != nil {
			return err
		}
		if err := p.run(ctx, input.DispatchMouseEvent(input.MouseMoved, step.At.X, step.At.Y)); err != nil {
			return err
		}
		p.mu.Lock()
		p.mouse = step.At
		p.mu.Unlock()
	}
	return nil
}

// SendKeys focuses the element and types keys as key events.
func (p *Page) SendKeys(ctx context.Context, n page.Node, keys string) error {
	var focused bool
	if err := p.call(ctx, n, focusJS, &focused); err != nil {
		return err
	}
	if !focused {
		p.logger.Debug("Element did not take focus before typing.", zap.String("tag", n.Tag()))
	}
	return p.run(ctx, chromedp.KeyEvent(keys))
}

func (p *Page) DispatchEvent(ctx context.Context, n page.Node, eventType string) error {
	return p.call(ctx, n, dispatchJS, nil, eventType)
}

// Evaluate runs fn with target as this, or in the page's global scope when target
// is nil.
func (p *Page) Evaluate(ctx context.Context, fn string, target page.Node, out any, args ...any) error {
	if target != nil {
		return p.call(ctx, target, fn, out, args...)
	}
	if args == nil {
		args = []any{}
	}
	expr := fmt.Sprintf(`(%s).apply(null, %s)`, fn, jsonEncode(args))
	var raw []byte
	err := p.run(ctx, chromedp.Evaluate(expr, &raw, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err != nil || out == nil || len(raw) == 0 {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("browser: decode result: %w (payload: %s)", err, string(raw))
	}
	return nil
}

// navigate loads url and waits for the body to be ready.
func (p *Page) navigate(ctx context.Context, url string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.ctx.Err() != nil {
		return page.ErrSessionLost
	}
	navCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
	return p.classify(ctx, navCtx, err)
}

// jsonEncode encodes v as a JavaScript literal.
func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

var _ page.Page = (*Page)(nil)
