// internal/page/page.go
package page

import (
	"context"
	"errors"
)

var (
	// ErrSessionLost means the tab or browser behind a Page is gone. It is never retried.
	ErrSessionLost = errors.New("page: session lost")
	// ErrStaleNode means a Node no longer belongs to the live document.
	ErrStaleNode = errors.New("page: stale node")
	// ErrNotFound is returned by helpers that require a match.
	ErrNotFound = errors.New("page: element not found")
	// ErrUnsupported is returned when a backend cannot perform an operation.
	ErrUnsupported = errors.New("page: operation not supported")
	// ErrTimeout is returned by Poll when its condition never held.
	ErrTimeout = errors.New("page: timed out waiting for condition")
)

// Node is an opaque handle to an element. Handles are only meaningful to the Page
// that produced them.
type Node interface {
	// Tag returns the lower-case element name.
	Tag() string
}

// Page is the narrow DOM capability the form engine drives. One attempt owns a Page
// exclusively; implementations need not be safe for concurrent mutation.
//
// Query methods return a nil Node and a nil error when nothing matches.
type Page interface {
	QueryOne(ctx context.Context, selector string) (Node, error)
	QueryAll(ctx context.Context, selector string) ([]Node, error)
	QueryWithin(ctx context.Context, parent Node, selector string) ([]Node, error)
	Closest(ctx context.Context, n Node, selector string) (Node, error)

	Text(ctx context.Context, n Node) (string, error)
	Attribute(ctx context.Context, n Node, name string) (string, bool, error)
	// Property reads a live property such as value, checked or selected, as a string.
	Property(ctx context.Context, n Node, name string) (string, error)
	Visible(ctx context.Context, n Node) (bool, error)

	SetValue(ctx context.Context, n Node, value string) error
	Click(ctx context.Context, n Node) error
	SendKeys(ctx context.Context, n Node, keys string) error
	DispatchEvent(ctx context.Context, n Node, eventType string) error

	CurrentURL(ctx context.Context) (string, error)
	// Evaluate runs fn, a JavaScript function declaration. When target is non-nil it is
	// bound as `this`. The return value is decoded into out when out is non-nil.
	Evaluate(ctx context.Context, fn string, target Node, out any, args ...any) error
}

// NodeReleaser is implemented by pages whose nodes pin remote resources. Calling
// ReleaseNodes invalidates every node obtained before it.
type NodeReleaser interface {
	ReleaseNodes(ctx context.Context) error
}

// IsFatal reports whether err means the page can no longer be used.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSessionLost)
}
