package transcode

import (
	"regexp"

	"github.com/beevik/etree"
	"github.com/pkg/errors"
)

// ValueKey holds the text of an element that also carries attributes.
const ValueKey = "Value"

// illegalCharRefs matches numeric character references XML 1.0 does not
// allow. Exchange emits them inside subjects and bodies now and then.
var illegalCharRefs = regexp.MustCompile(`(?i)&#x([0-8BCEF]|1[0-9A-F]|D[89A-F][0-9A-F][0-9A-F]|FFF[EF]);`)

// SanitizeXML strips character references that would make a parser reject the document.
func SanitizeXML(data []byte) []byte {
	return illegalCharRefs.ReplaceAll(data, nil)
}

// ParseDocument sanitizes and parses data into an etree document.
func ParseDocument(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(SanitizeXML(data)); err != nil {
		return nil, errors.Wrap(err, "parsing XML")
	}
	if doc.Root() == nil {
		return nil, errors.New("XML document has no root element")
	}
	return doc, nil
}

// Decode converts an element into plain Go values.
//
// An element with only text becomes a string. An element with attributes
// but no child elements becomes a map of its attributes, plus ValueKey when
// it has text. An element with children becomes a map keyed by the local
// names of the children; repeated names collect into a []any in document
// order and the element's own attributes are merged in. Namespace prefixes
// are dropped.
func Decode(el *etree.Element) any {
	children := el.ChildElements()
	attrs := dataAttrs(el)
	if len(children) == 0 && len(attrs) == 0 {
		return el.Text()
	}

	result := make(map[string]any, len(children)+len(attrs)+1)
	for _, a := range attrs {
		result[a.Key] = a.Value
	}
	if len(children) == 0 {
		if text := el.Text(); text != "" {
			result[ValueKey] = text
		}
		return result
	}

	for _, child := range children {
		value := Decode(child)
		existing, ok := result[child.Tag]
		if !ok {
			result[child.Tag] = value
			continue
		}
		if list, isList := existing.([]any); isList {
			result[child.Tag] = append(list, value)
		} else {
			result[child.Tag] = []any{existing, value}
		}
	}
	return result
}

func dataAttrs(el *etree.Element) []etree.Attr {
	attrs := make([]etree.Attr, 0, len(el.Attr))
	for _, a := range el.Attr {
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
			continue
		}
		attrs = append(attrs, a)
	}
	return attrs
}

// FindElement returns the first element below el, in document order,
// whose local name is tag.
func FindElement(el *etree.Element, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			return child
		}
		if found := FindElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}

// FindElementWithAttr returns the first element below el that carries the
// attribute key with the given value.
func FindElementWithAttr(el *etree.Element, key, value string) *etree.Element {
	for _, child := range el.ChildElements() {
		for _, a := range child.Attr {
			if a.Key == key && a.Value == value {
				return child
			}
		}
		if found := FindElementWithAttr(child, key, value); found != nil {
			return found
		}
	}
	return nil
}
