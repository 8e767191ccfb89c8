package upsock

import "context"

// RequestContext is attached to every request passing through the
// pre-dispatch hook. It carries the upgraded connection, if any.
type RequestContext struct {
	conn Conn
}

// NewRequestContext returns a context for conn; a nil conn marks a plain
// HTTP request.
func NewRequestContext(conn Conn) *RequestContext {
	return &RequestContext{conn: conn}
}

// IsWebSocket reports whether the request was upgraded.
func (rc *RequestContext) IsWebSocket() bool {
	return rc != nil && rc.conn != nil
}

// Conn returns the upgraded connection or nil.
func (rc *RequestContext) Conn() Conn {
	if rc == nil {
		return nil
	}
	return rc.conn
}

type requestContextKey struct{}

// WithRequestContext returns a copy of ctx carrying rc.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext extracts the RequestContext stored by the hook.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok
}
