package gameobject

import (
	"context"
	"errors"
)

// Source loads entities by id, normally a Cache.
type Source[E any] interface {
	FetchByID(ctx context.Context, id string) (E, error)
}

// Ref is a named link from one entity to another. The id is read at resolve
// time, so a Ref always follows the current field value. Nothing is cached
// here; the Source decides whether a lookup hits memory.
type Ref[E any] struct {
	Name     string
	ID       func() string
	Source   Source[E]
	Optional bool
}

// Resolve fetches the referenced entity. ok is false only for an unset
// optional reference. A mandatory reference that is unset or points at a
// missing record fails with BROKEN_REFERENCE; an optional one pointing at a
// missing record returns the NOT_FOUND error from the source.
func (r Ref[E]) Resolve(ctx context.Context) (e E, ok bool, err error) {
	id := r.ID()
	if id == "" {
		if r.Optional {
			return e, false, nil
		}
		return e, false, &Error{Code: CodeBrokenReference, Op: "resolve", Field: r.Name, Err: errors.New("reference unset")}
	}
	e, err = r.Source.FetchByID(ctx, id)
	if err != nil {
		var zero E
		if !r.Optional && IsCode(err, CodeNotFound) {
			return zero, false, &Error{Code: CodeBrokenReference, Op: "resolve", ID: id, Field: r.Name, Err: err}
		}
		return zero, false, err
	}
	return e, true, nil
}

// Must resolves a reference that is expected to be set.
func (r Ref[E]) Must(ctx context.Context) (E, error) {
	e, ok, err := r.Resolve(ctx)
	if err != nil {
		return e, err
	}
	if !ok {
		return e, &Error{Code: CodeBrokenReference, Op: "resolve", Field: r.Name, Err: errors.New("reference unset")}
	}
	return e, nil
}
