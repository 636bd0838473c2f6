package odk

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrEmptySubmission = errors.New("submission contains no root element")

type elementBuilder struct {
	name     string
	attrs    Document
	children Document
	text     strings.Builder
}

// ParseXML decodes an ODK instance document. The result is keyed by the root
// element name; every child element is a sequence of occurrences, attributes
// sit under AttrKey and mixed text under TextKey.
func ParseXML(r io.Reader) (Document, error) {
	dec := xml.NewDecoder(r)
	var stack []*elementBuilder
	var root Document

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding submission xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &elementBuilder{name: t.Name.Local, children: Document{}}
			if len(t.Attr) > 0 {
				el.attrs = Document{}
				for _, a := range t.Attr {
					el.attrs[attrName(a.Name)] = a.Value
				}
			}
			stack = append(stack, el)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("decoding submission xml: unexpected </%s>", t.Name.Local)
			}
			el := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			value := el.value()
			if len(stack) == 0 {
				root = Document{el.name: value}
				continue
			}
			parent := stack[len(stack)-1]
			seq, _ := parent.children[el.name].([]any)
			parent.children[el.name] = append(seq, value)
		}
	}

	if root == nil {
		return nil, ErrEmptySubmission
	}
	return root, nil
}

func (e *elementBuilder) value() any {
	text := e.text.String()
	if len(e.children) == 0 && e.attrs == nil {
		return text
	}
	doc := e.children
	if e.attrs != nil {
		doc[AttrKey] = e.attrs
	}
	if strings.TrimSpace(text) != "" {
		doc[TextKey] = text
	}
	return doc
}

func attrName(n xml.Name) string {
	if n.Space == "xmlns" {
		return "xmlns:" + n.Local
	}
	return n.Local
}
