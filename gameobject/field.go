package gameobject

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"
)

// Rule validates a candidate field value before it is stored.
type Rule[V any] func(V) error

// Field binds a named document attribute to its location in T and the rules
// every new value must satisfy.
type Field[T, V any] struct {
	Name  string
	Ref   func(*T) *V
	Rules []Rule[V]
}

func (f Field[T, V]) validate(v V) error {
	for _, rule := range f.Rules {
		if err := rule(v); err != nil {
			return &Error{Code: CodeInvalidValue, Field: f.Name, Err: err}
		}
	}
	return nil
}

// Check validates v without storing it, for documents built before a record exists.
func (f Field[T, V]) Check(v V) error {
	return f.validate(v)
}

// Number is the set of numeric field types rules can compare.
type Number interface {
	~int | ~int32 | ~int64 | ~float64
}

// NonNegative rejects values below zero.
func NonNegative[V Number]() Rule[V] {
	return func(v V) error {
		if v < 0 {
			return fmt.Errorf("must be non-negative, got %v", v)
		}
		return nil
	}
}

// MaxLen bounds the length of a list field.
func MaxLen[E any](n int) Rule[[]E] {
	return func(v []E) error {
		if len(v) > n {
			return fmt.Errorf("length %d exceeds %d", len(v), n)
		}
		return nil
	}
}

// Unique rejects lists containing duplicates.
func Unique[E comparable]() Rule[[]E] {
	return func(v []E) error {
		seen := make(map[E]struct{}, len(v))
		for _, e := range v {
			if _, dup := seen[e]; dup {
				return fmt.Errorf("duplicate element %v", e)
			}
			seen[e] = struct{}{}
		}
		return nil
	}
}

// NonNegativeValues rejects maps holding a negative value.
func NonNegativeValues[K comparable, V Number]() Rule[map[K]V] {
	return func(m map[K]V) error {
		for k, v := range m {
			if v < 0 {
				return fmt.Errorf("value for %v must be non-negative, got %v", k, v)
			}
		}
		return nil
	}
}

// MaxRunes bounds a string's length in characters.
func MaxRunes(n int) Rule[string] {
	return func(s string) error {
		if c := utf8.RuneCountInString(s); c > n {
			return fmt.Errorf("%d characters exceeds %d", c, n)
		}
		return nil
	}
}

// Forbid rejects strings containing any of chars.
func Forbid(chars string) Rule[string] {
	return func(s string) error {
		if i := strings.IndexAny(s, chars); i >= 0 {
			r, _ := utf8.DecodeRuneInString(s[i:])
			return fmt.Errorf("contains forbidden character %q", r)
		}
		return nil
	}
}

// NotBlank rejects empty or whitespace-only strings.
func NotBlank() Rule[string] {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New("must not be blank")
		}
		return nil
	}
}

// cloneValue copies the compound value kinds documents use so that callers
// never alias record state.
func cloneValue[V any](v V) V {
	switch x := any(v).(type) {
	case []string:
		return any(slices.Clone(x)).(V)
	case []int:
		return any(slices.Clone(x)).(V)
	case map[string]int:
		return any(maps.Clone(x)).(V)
	}
	return v
}
