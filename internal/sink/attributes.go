package sink

import (
	"github.com/ajitpratap0/gpkgsink/pkg/entity"
	"github.com/ajitpratap0/gpkgsink/pkg/sinkerrors"
)

// Attributes is an insertion-ordered string map.
type Attributes struct {
	keys   []string
	values map[string]string
}

// NewAttributes returns an empty map with room for n keys.
func NewAttributes(n int) *Attributes {
	return &Attributes{
		keys:   make([]string, 0, n),
		values: make(map[string]string, n),
	}
}

// Set stores v under k, keeping the position of an existing key.
func (a *Attributes) Set(k, v string) {
	if _, ok := a.values[k]; !ok {
		a.keys = append(a.keys, k)
	}
	a.values[k] = v
}

// SetIfAbsent stores v under k unless k is present. It reports whether v was stored.
func (a *Attributes) SetIfAbsent(k, v string) bool {
	if _, ok := a.values[k]; ok {
		return false
	}
	a.keys = append(a.keys, k)
	a.values[k] = v
	return true
}

// Get returns the value stored under k.
func (a *Attributes) Get(k string) (string, bool) {
	v, ok := a.values[k]
	return v, ok
}

// Delete removes k and returns its value, preserving the order of the rest.
func (a *Attributes) Delete(k string) (string, bool) {
	v, ok := a.values[k]
	if !ok {
		return "", false
	}
	delete(a.values, k)
	for i, key := range a.keys {
		if key == k {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			break
		}
	}
	return v, true
}

// Len returns the number of keys.
func (a *Attributes) Len() int {
	return len(a.keys)
}

// Keys returns the keys in insertion order. The slice must not be modified.
func (a *Attributes) Keys() []string {
	return a.keys
}

// Range calls fn for each pair in order until fn returns false.
func (a *Attributes) Range(fn func(k, v string) bool) {
	for _, k := range a.keys {
		if !fn(k, a.values[k]) {
			return
		}
	}
}

// prepareAttributes renders the attribute bag of obj into column values.
// Null values are left out; arrays and objects become JSON text.
func prepareAttributes(obj *entity.Object) (*Attributes, error) {
	attrs := NewAttributes(len(obj.Attributes))
	for _, a := range obj.Attributes {
		if a.Value.Kind == entity.KindNull {
			continue
		}
		text, err := a.Value.Text()
		if err != nil {
			return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeData, "failed to render attribute").
				WithDetail("type", obj.TypeName).
				WithDetail("attribute", a.Name)
		}
		attrs.Set(a.Name, text)
	}
	return attrs, nil
}
