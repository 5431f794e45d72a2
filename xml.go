package onvif

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/juju/errors"
	"golang.org/x/net/html/charset"
)

// FindText returns the trimmed text of the first element whose local name
// is the last item of path and which is nested, in order and at any depth,
// inside elements named by the preceding items. Namespace prefixes are
// ignored, so FindText(doc, "Media", "XAddr") matches tt:Media/tt:XAddr as
// well as trt:Media/XAddr.
func FindText(doc []byte, path ...string) (string, error) {
	if len(path) == 0 {
		return "", errors.NotValidf("empty element path")
	}
	target := path[len(path)-1]
	ancestors := path[:len(path)-1]

	var text string
	err := scan(doc, target, func(d *xml.Decoder, stack []string, start xml.StartElement) (bool, error) {
		if start.Name.Local != target || !hasAncestors(stack[:len(stack)-1], ancestors) {
			return false, nil
		}
		value, err := elementText(d)
		if err != nil {
			return false, err
		}
		text = strings.TrimSpace(value)
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// FindAttr returns the value of attr on the first element named element
func FindAttr(doc []byte, element, attr string) (string, error) {
	var value string
	err := scan(doc, element, func(_ *xml.Decoder, _ []string, start xml.StartElement) (bool, error) {
		if start.Name.Local != element {
			return false, nil
		}
		for _, a := range start.Attr {
			if a.Name.Local == attr {
				value = a.Value
				return true, nil
			}
		}
		// Only the first occurrence counts.
		return false, errors.NotFoundf("attribute %q on <%s>", attr, element)
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

type matchFunc func(d *xml.Decoder, stack []string, start xml.StartElement) (bool, error)

// scan walks doc once, calling match for every start element until it
// reports a hit.
func scan(doc []byte, element string, match matchFunc) error {
	d := xml.NewDecoder(bytes.NewReader(doc))
	d.CharsetReader = charset.NewReaderLabel

	stack := make([]string, 0, 16)
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return errors.NotFoundf("element <%s>", element)
		}
		if err != nil {
			return &ParseError{Element: element, Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			found, err := match(d, stack, t)
			if err != nil {
				if _, ok := err.(*xml.SyntaxError); ok {
					return &ParseError{Element: element, Err: err}
				}
				return err
			}
			if found {
				return nil
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// elementText consumes the current element and returns its character data
func elementText(d *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return "", &xml.SyntaxError{Msg: err.Error()}
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return sb.String(), nil
}

func hasAncestors(stack, ancestors []string) bool {
	i := 0
	for _, name := range stack {
		if i == len(ancestors) {
			break
		}
		if name == ancestors[i] {
			i++
		}
	}
	return i == len(ancestors)
}
