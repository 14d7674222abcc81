package transcode

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/pkg/errors"
)

// TextContentKey sets the text of the enclosing element instead of creating a child.
const TextContentKey = "_TextContent_"

const (
	NamespaceSOAP     = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceMessages = "http://schemas.microsoft.com/exchange/services/2006/messages"
	NamespaceTypes    = "http://schemas.microsoft.com/exchange/services/2006/types"
)

// Encoder turns Object trees into XML elements. Keys of the form
// "prefix$Local" become child elements in the namespace bound to prefix,
// plain keys become attributes and arrays become repeated siblings.
type Encoder struct {
	namespaces map[string]string
}

func NewEncoder(namespaces map[string]string) *Encoder {
	ns := make(map[string]string, len(namespaces))
	for prefix, uri := range namespaces {
		ns[prefix] = uri
	}
	return &Encoder{namespaces: ns}
}

// Bind declares every namespace of the encoder on el.
func (e *Encoder) Bind(el *etree.Element) {
	prefixes := make([]string, 0, len(e.namespaces))
	for prefix := range e.namespaces {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		el.CreateAttr("xmlns:"+prefix, e.namespaces[prefix])
	}
}

// Encode appends node to parent under tag, which has the "prefix:Local" form.
// A nil node produces nothing.
func (e *Encoder) Encode(parent *etree.Element, node any, tag string) error {
	if isNil(node) {
		return nil
	}
	switch v := node.(type) {
	case Object:
		el := parent.CreateElement(tag)
		return e.encodeFields(el, v)
	case map[string]any:
		el := parent.CreateElement(tag)
		return e.encodeFields(el, FromMap(v))
	case []any:
		for _, item := range v {
			if err := e.Encode(parent, item, tag); err != nil {
				return err
			}
		}
		return nil
	case []byte:
		el := parent.CreateElement(tag)
		el.SetText(string(v))
		return nil
	}

	rv := reflect.ValueOf(node)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if err := e.Encode(parent, rv.Index(i).Interface(), tag); err != nil {
				return err
			}
		}
		return nil
	}

	text, err := scalarText(node)
	if err != nil {
		return errors.Wrapf(err, "encoding <%s>", tag)
	}
	el := parent.CreateElement(tag)
	el.SetText(text)
	return nil
}

func (e *Encoder) encodeFields(el *etree.Element, fields Object) error {
	for _, f := range fields {
		switch {
		case f.Key == TextContentKey:
			if isNil(f.Value) {
				continue
			}
			text, err := scalarText(f.Value)
			if err != nil {
				return errors.Wrapf(err, "text of <%s>", el.FullTag())
			}
			el.SetText(text)
		case strings.Contains(f.Key, "$"):
			prefix, local, _ := strings.Cut(f.Key, "$")
			if _, ok := e.namespaces[prefix]; !ok {
				return errors.Errorf("unbound namespace prefix %q in key %q", prefix, f.Key)
			}
			if err := e.Encode(el, f.Value, prefix+":"+local); err != nil {
				return err
			}
		default:
			if isNil(f.Value) {
				continue
			}
			text, err := scalarText(f.Value)
			if err != nil {
				return errors.Wrapf(err, "attribute %s of <%s>", f.Key, el.FullTag())
			}
			el.CreateAttr(f.Key, text)
		}
	}
	return nil
}

func scalarText(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case bool:
		return strconv.FormatBool(s), nil
	case int:
		return strconv.Itoa(s), nil
	case int32:
		return strconv.FormatInt(int64(s), 10), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case uint:
		return strconv.FormatUint(uint64(s), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(s), 10), nil
	case uint64:
		return strconv.FormatUint(s, 10), nil
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case time.Time:
		return s.UTC().Format(time.RFC3339), nil
	case fmt.Stringer:
		return s.String(), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		return scalarText(rv.Elem().Interface())
	}
	if rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	return "", errors.Errorf("unsupported value of type %T", v)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
