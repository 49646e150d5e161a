package expr

import (
	"fmt"
	"strings"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Update collects the clauses of an update expression. Attribute paths are
// resolved against the schema; fields are used as given.
type Update struct {
	b      *Builder
	set    []string
	remove []string
	add    []string
	del    []string
}

func (u *Update) path(path string) (string, string, bool) {
	def, fields, err := u.b.schema.Resolve(path)
	if err != nil {
		u.b.setErr(ddberr.Wrap(ddberr.CodeValidation, err, "update %q", path))
		return "", "", false
	}
	return u.b.reg.Path(fields), def.Name, true
}

// Set assigns v to an attribute path.
func (u *Update) Set(path string, v types.AttributeValue) {
	if name, base, ok := u.path(path); ok {
		u.set = append(u.set, name+" = "+u.b.reg.Value(base, v))
	}
}

// SetField assigns v to a physical field such as a key or identity field.
func (u *Update) SetField(field string, v types.AttributeValue) {
	u.set = append(u.set, u.b.reg.Name(field)+" = "+u.b.reg.Value(field, v))
}

// Remove deletes an attribute path.
func (u *Update) Remove(path string) {
	if name, _, ok := u.path(path); ok {
		u.remove = append(u.remove, name)
	}
}

// RemoveField deletes a physical field.
func (u *Update) RemoveField(field string) {
	u.remove = append(u.remove, u.b.reg.Name(field))
}

// Add adds a number to a numeric attribute or elements to a set.
func (u *Update) Add(path string, v types.AttributeValue) {
	if name, base, ok := u.path(path); ok {
		u.add = append(u.add, name+" "+u.b.reg.Value(base, v))
	}
}

// Subtract decrements a numeric attribute.
func (u *Update) Subtract(path string, v types.AttributeValue) {
	if name, base, ok := u.path(path); ok {
		u.set = append(u.set, name+" = "+name+" - "+u.b.reg.Value(base, v))
	}
}

// Append appends the elements of the list v to a list attribute.
func (u *Update) Append(path string, v types.AttributeValue) {
	if name, base, ok := u.path(path); ok {
		u.set = append(u.set, name+" = list_append("+name+", "+u.b.reg.Value(base, v)+")")
	}
}

// Delete removes elements from a set attribute.
func (u *Update) Delete(path string, v types.AttributeValue) {
	if name, base, ok := u.path(path); ok {
		u.del = append(u.del, name+" "+u.b.reg.Value(base, v))
	}
}

// Empty reports whether no clause was added.
func (u *Update) Empty() bool {
	return len(u.set)+len(u.remove)+len(u.add)+len(u.del) == 0
}

func (u *Update) render() string {
	var clauses []string
	for _, c := range []struct {
		kw    string
		parts []string
	}{{"SET", u.set}, {"REMOVE", u.remove}, {"ADD", u.add}, {"DELETE", u.del}} {
		if len(c.parts) > 0 {
			clauses = append(clauses, c.kw+" "+strings.Join(c.parts, ", "))
		}
	}
	return strings.Join(clauses, " ")
}

// UpdateKind is the operation of an UpdateOp.
type UpdateKind int

const (
	UpdateSet UpdateKind = iota
	UpdateRemove
	UpdateAdd
	UpdateSubtract
	UpdateAppend
	UpdateDelete
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateSet:
		return "set"
	case UpdateRemove:
		return "remove"
	case UpdateAdd:
		return "add"
	case UpdateSubtract:
		return "subtract"
	case UpdateAppend:
		return "append"
	case UpdateDelete:
		return "delete"
	}
	return fmt.Sprintf("UpdateKind(%d)", int(k))
}

// UpdateOp is one operation requested by a DataFunc, before validation and
// marshaling.
type UpdateOp struct {
	Kind  UpdateKind
	Path  string
	Value any
}

// DataFunc describes updates through ops.
//
//	func(a expr.Attrs, op expr.DataOps) {
//	    op.Add(a["visits"], 1)
//	    op.Remove(a["discount"])
//	}
type DataFunc func(a Attrs, op DataOps)

// DataOps records the operations of a DataFunc.
type DataOps struct {
	ops *[]UpdateOp
	s   *callbackState
}

func (o DataOps) record(kind UpdateKind, a Attr, v any) {
	if _, def := o.s.resolve(a); def == nil {
		return
	}
	*o.ops = append(*o.ops, UpdateOp{Kind: kind, Path: a.path, Value: v})
}

func (o DataOps) Set(a Attr, v any)      { o.record(UpdateSet, a, v) }
func (o DataOps) Remove(a Attr)          { o.record(UpdateRemove, a, nil) }
func (o DataOps) Add(a Attr, v any)      { o.record(UpdateAdd, a, v) }
func (o DataOps) Subtract(a Attr, v any) { o.record(UpdateSubtract, a, v) }
func (o DataOps) Append(a Attr, v any)   { o.record(UpdateAppend, a, v) }
func (o DataOps) Delete(a Attr, v any)   { o.record(UpdateDelete, a, v) }

// CollectData runs fn and returns the operations it requested.
func CollectData(schema *attr.Schema, fn DataFunc) (ops []UpdateOp, err error) {
	s := &callbackState{b: NewBuilder(schema)}
	defer func() {
		if r := recover(); r != nil {
			ops, err = nil, ddberr.Wrap(ddberr.CodeInvalidFilterResponse, fmt.Errorf("%v", r), "data callback panicked")
		}
	}()
	fn(attrsOf(schema), DataOps{ops: &ops, s: s})
	if s.err != nil {
		return nil, s.err
	}
	return ops, nil
}
