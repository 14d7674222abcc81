package request

import (
	"reflect"
)

// Request is anything that can be sent to Exchange.
type Request interface {
	// Action names the operation, e.g. "CreateItem".
	Action() string
	// Wire returns the body handed to the transcoder or the JSON encoder.
	Wire() any
}

// Endpointer is implemented by requests that do not go to the default
// service endpoint. The returned path is resolved against the account URL.
type Endpointer interface {
	Endpoint() string
}

// FieldRequest is a request built from field directives.
type FieldRequest interface {
	Request
	AddField(itemType, property string, value any, fieldURI string)
	Directives() []Directive
}

type DirectiveKind int

const (
	SetField DirectiveKind = iota
	DeleteField
)

func (k DirectiveKind) String() string {
	if k == DeleteField {
		return "delete"
	}
	return "set"
}

// Directive is one recorded call to AddField. A nil value records a delete.
type Directive struct {
	Kind     DirectiveKind
	ItemType string
	Property string
	Value    any
	FieldURI string
}

type fieldList struct {
	directives []Directive
}

func (l *fieldList) AddField(itemType, property string, value any, fieldURI string) {
	kind := SetField
	if isNil(value) {
		kind = DeleteField
		value = nil
	}
	l.directives = append(l.directives, Directive{
		Kind:     kind,
		ItemType: itemType,
		Property: property,
		Value:    value,
		FieldURI: fieldURI,
	})
}

func (l *fieldList) Directives() []Directive {
	out := make([]Directive, len(l.directives))
	copy(out, l.directives)
	return out
}

// Operation is a request with a fixed body.
type Operation struct {
	name     string
	body     any
	endpoint string
}

func (o *Operation) Action() string { return o.name }

func (o *Operation) Wire() any { return o.body }

func (o *Operation) Endpoint() string { return o.endpoint }

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
