package source

import (
	"context"
	"errors"
)

// Mux dispatches references to sources by URI scheme. Plain paths go to
// the fallback source.
type Mux struct {
	fallback Source
	schemes  map[string]Source
}

var _ Source = (*Mux)(nil)

// NewMux creates a mux with the source used for plain paths.
func NewMux(fallback Source) *Mux {
	return &Mux{fallback: fallback, schemes: make(map[string]Source)}
}

// Handle registers src for a scheme (e.g., "s3").
func (m *Mux) Handle(scheme string, src Source) {
	m.schemes[scheme] = src
}

// Open implements Source.
func (m *Mux) Open(ctx context.Context, ref string) (*Object, error) {
	scheme := Scheme(ref)
	if scheme == "" {
		if m.fallback == nil {
			return nil, &SourceError{Op: "Open", Source: TypeFile, Ref: ref, Err: ErrUnsupportedScheme}
		}
		return m.fallback.Open(ctx, ref)
	}
	src, ok := m.schemes[scheme]
	if !ok {
		return nil, &SourceError{Op: "Open", Source: Type(scheme), Ref: ref, Err: ErrUnsupportedScheme}
	}
	return src.Open(ctx, ref)
}

// Close closes every registered source.
func (m *Mux) Close() error {
	var errs []error
	if m.fallback != nil {
		errs = append(errs, m.fallback.Close())
	}
	for _, src := range m.schemes {
		errs = append(errs, src.Close())
	}
	return errors.Join(errs...)
}
