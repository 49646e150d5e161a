package attr

import (
	"slices"
)

// Mode selects the rules Normalize applies.
type Mode int

const (
	// ModePut applies defaults and enforces required attributes.
	ModePut Mode = iota
	// ModeUpdate only touches supplied attributes. Defaults are not applied at
	// the top level and read-only attributes are rejected.
	ModeUpdate
	// ModeRead applies get transforms and drops hidden attributes.
	ModeRead
)

const (
	reasonRequired  = "Missing required attribute"
	reasonRemove    = "Required attribute cannot be removed"
	reasonReadOnly  = "Attribute is Read-Only and cannot be updated"
	reasonUnknown   = "Attribute does not exist on model"
	reasonTransform = "Set transform failed"
)

type walker struct {
	errs ValidationErrors
}

func (w *walker) fail(path string, code ErrorCode, reason string, cause error) {
	w.errs = append(w.errs, &ValidationError{Field: path, Code: code, Reason: reason, Cause: cause})
}

// Normalize runs the attribute pipeline over item and returns a new item.
// Attributes are processed in declaration order: default, required check,
// type check, children, validator, set transform. All failures are
// collected and returned together as ValidationErrors.
//
// Undeclared attributes are dropped on put. On update they are rejected.
// A nil value counts as absent, except on update where it requests removal.
func (s *Schema) Normalize(item Item, mode Mode) (Item, error) {
	if mode == ModeRead {
		return s.Format(item)
	}
	w := &walker{}
	out := make(Item, len(item))
	for _, a := range s.attrs {
		v, supplied := item[a.Name]
		if mode == ModeUpdate {
			if !supplied {
				continue
			}
			if a.ReadOnly {
				w.fail(a.Name, CodeReadOnly, reasonReadOnly, nil)
				continue
			}
			if v == nil {
				if a.Required {
					w.fail(a.Name, CodeRequired, reasonRemove, nil)
				}
				continue
			}
		}
		nv, ok := w.value(a.Name, a, v, v != nil, item, mode == ModePut)
		if ok {
			out[a.Name] = nv
		}
	}
	if mode == ModeUpdate {
		var unknown []string
		for name := range item {
			if _, ok := s.byName[name]; !ok {
				unknown = append(unknown, name)
			}
		}
		slices.Sort(unknown)
		for _, name := range unknown {
			w.fail(name, CodeUnknownAttribute, reasonUnknown, nil)
		}
	}
	if len(w.errs) > 0 {
		return nil, w.errs
	}
	return out, nil
}

// CheckRemovable reports whether the named attributes may be removed by an
// update.
func (s *Schema) CheckRemovable(names ...string) error {
	w := &walker{}
	for _, name := range names {
		a, ok := s.byName[name]
		switch {
		case !ok:
			w.fail(name, CodeUnknownAttribute, reasonUnknown, nil)
		case a.ReadOnly:
			w.fail(name, CodeReadOnly, reasonReadOnly, nil)
		case a.Required:
			w.fail(name, CodeRequired, reasonRemove, nil)
		}
	}
	if len(w.errs) > 0 {
		return w.errs
	}
	return nil
}

// value walks one attribute. parent is the item or map containing the value
// and is what set transforms receive. defaults is false only for top-level
// attributes on update; a container written in full always gets defaults for
// its descendants.
func (w *walker) value(path string, a *Attribute, v any, present bool, parent Item, defaults bool) (any, bool) {
	if !present && defaults {
		d, err := a.defaultValue()
		if err != nil {
			w.fail(path, CodeInvalidValue, GenericReason, err)
			return nil, false
		}
		v, present = d, d != nil
	}
	if !present {
		if a.Required && defaults {
			w.fail(path, CodeRequired, reasonRequired, nil)
		}
		return nil, false
	}

	cv, reason := coerce(a.Type, v)
	if reason != "" {
		w.fail(path, CodeTypeMismatch, reason, nil)
		return nil, false
	}

	before := len(w.errs)
	switch a.Type.Kind {
	case KindMap:
		m := cv.(map[string]any)
		if len(a.Type.Properties) > 0 {
			out := make(map[string]any, len(a.Type.Properties))
			for i := range a.Type.Properties {
				p := &a.Type.Properties[i]
				pv := m[p.Name]
				if nv, ok := w.value(path+"."+p.Name, p, pv, pv != nil, m, true); ok {
					out[p.Name] = nv
				}
			}
			cv = out
		}
	case KindList:
		l := cv.([]any)
		for i, e := range l {
			if nv, ok := w.value(path+"[*]", a.Type.Item, e, e != nil, nil, true); ok {
				l[i] = nv
			}
		}
	}
	if len(w.errs) > before {
		return nil, false
	}

	if a.Validate != nil {
		if reason, cause, ok := a.Validate.run(cv); !ok {
			w.fail(path, CodeInvalidValue, reason, cause)
			return nil, false
		}
	}
	if a.Set != nil {
		nv, err := callTransform(a.Set, cv, parent)
		if err != nil {
			w.fail(path, CodeTransform, reasonTransform, err)
			return nil, false
		}
		cv = nv
	}
	return cv, true
}

func callTransform(fn func(any, Item) any, v any, item Item) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError("transform", r)
		}
	}()
	return fn(v, item), nil
}
