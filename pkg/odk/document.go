package odk

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Document is one parsed submission element. Values are scalars, nested
// documents, or []any holding every occurrence of a repeated element.
type Document map[string]any

const (
	// AttrKey holds an element's attributes.
	AttrKey = "$"
	// TextKey holds an element's text when it also carries attributes.
	TextKey = "_"
)

// Path addresses a value inside a Document. Steps are element names (string)
// or occurrence indices (int).
type Path []any

func (p Path) String() string {
	var b strings.Builder
	for i, step := range p {
		switch s := step.(type) {
		case int:
			fmt.Fprintf(&b, "[%d]", s)
		default:
			if i > 0 {
				b.WriteByte('.')
			}
			fmt.Fprintf(&b, "%v", s)
		}
	}
	return b.String()
}

// PathTypeError reports a path that exists but does not have the expected
// shape.
type PathTypeError struct {
	Path  Path
	Want  string
	Found string
}

func (e *PathTypeError) Error() string {
	return fmt.Sprintf("path %s: expected %s, found %s", e.Path, e.Want, e.Found)
}

func IsPathTypeError(err error) bool {
	var pe *PathTypeError
	return errors.As(err, &pe)
}

// Text is an optional scalar read from a document.
type Text struct {
	Value   string
	Present bool
}

func Present(v string) Text {
	return Text{Value: v, Present: v != ""}
}

// Or returns the value, or def when absent.
func (t Text) Or(def string) string {
	if !t.Present {
		return def
	}
	return t.Value
}

func (t Text) Upper() Text {
	if !t.Present {
		return t
	}
	return Text{Value: strings.ToUpper(t.Value), Present: true}
}

// Lookup walks p from doc. A missing step yields (nil, false, nil). An index
// step on a non-sequence treats the value as a one-element sequence.
func (p Path) Lookup(doc Document) (any, bool, error) {
	var cur any = doc
	for i, step := range p {
		switch s := step.(type) {
		case string:
			m, ok := asDocument(cur)
			if !ok {
				return nil, false, &PathTypeError{Path: p[:i+1], Want: "element", Found: kindOf(cur)}
			}
			v, ok := m[s]
			if !ok || v == nil {
				return nil, false, nil
			}
			cur = v
		case int:
			if seq, ok := cur.([]any); ok {
				if s < 0 || s >= len(seq) {
					return nil, false, nil
				}
				cur = seq[s]
				if cur == nil {
					return nil, false, nil
				}
				continue
			}
			if s != 0 {
				return nil, false, nil
			}
		default:
			return nil, false, &PathTypeError{Path: p[:i+1], Want: "element name or index", Found: fmt.Sprintf("%T", step)}
		}
	}
	return cur, true, nil
}

// TextAt reads the scalar at p. Empty text is reported as absent.
func TextAt(doc Document, p Path) (Text, error) {
	v, ok, err := p.Lookup(doc)
	if err != nil || !ok {
		return Text{}, err
	}
	return textOf(p, v)
}

// SequenceAt reads the repeated element at p. An absent element is an empty
// sequence and a single element is a sequence of one.
func SequenceAt(doc Document, p Path) ([]Document, error) {
	v, ok, err := p.Lookup(doc)
	if err != nil {
		return nil, err
	}
	out := []Document{}
	if !ok {
		return out, nil
	}

	items, isSeq := v.([]any)
	if !isSeq {
		items = []any{v}
	}
	for i, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) == "" {
			out = append(out, Document{})
			continue
		}
		d, ok := asDocument(item)
		if !ok {
			return nil, &PathTypeError{Path: append(append(Path{}, p...), i), Want: "element", Found: kindOf(item)}
		}
		out = append(out, d)
	}
	return out, nil
}

// ElementAt reads the single nested element at p.
func ElementAt(doc Document, p Path) (Document, bool, error) {
	v, ok, err := p.Lookup(doc)
	if err != nil || !ok {
		return nil, false, err
	}
	if seq, isSeq := v.([]any); isSeq {
		if len(seq) != 1 {
			return nil, false, &PathTypeError{Path: p, Want: "single element", Found: fmt.Sprintf("%d occurrences", len(seq))}
		}
		v = seq[0]
	}
	d, isDoc := asDocument(v)
	if !isDoc {
		return nil, false, &PathTypeError{Path: p, Want: "element", Found: kindOf(v)}
	}
	return d, true, nil
}

func textOf(p Path, v any) (Text, error) {
	switch t := v.(type) {
	case string:
		return Present(strings.TrimSpace(t)), nil
	case json.Number:
		return Present(t.String()), nil
	case float64:
		return Present(strconv.FormatFloat(t, 'f', -1, 64)), nil
	case bool:
		return Present(strconv.FormatBool(t)), nil
	case []any:
		if len(t) == 1 {
			return textOf(p, t[0])
		}
		return Text{}, &PathTypeError{Path: p, Want: "text", Found: fmt.Sprintf("%d occurrences", len(t))}
	}
	if d, ok := asDocument(v); ok {
		if text, has := d[TextKey]; has {
			return textOf(p, text)
		}
		if _, hasAttrs := d[AttrKey]; hasAttrs && len(d) == 1 {
			return Text{}, nil
		}
	}
	return Text{}, &PathTypeError{Path: p, Want: "text", Found: kindOf(v)}
}

func asDocument(v any) (Document, bool) {
	switch d := v.(type) {
	case Document:
		return d, true
	case map[string]any:
		return Document(d), true
	}
	return nil, false
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "nothing"
	case string, json.Number, float64, bool:
		return "text"
	case []any:
		return "repeated element"
	case Document, map[string]any:
		return "element"
	}
	return fmt.Sprintf("%T", v)
}
