package entity

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/acksell/facet/dynamodb/ddbsdk"
	"github.com/acksell/facet/dynamodb/expr"
	"github.com/acksell/facet/dynamodb/index"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// UpdateOp edits an item in place.
type UpdateOp struct {
	e     *Entity
	key   attr.Item
	patch bool
	steps []updateStep
	conditions
}

// updateStep is either recorded operations or a DataFunc run at build time.
type updateStep struct {
	ops  []expr.UpdateOp
	data expr.DataFunc
}

// Update returns an operation editing the item identified by key. The item
// is created when it does not exist.
func (e *Entity) Update(key attr.Item) *UpdateOp {
	return &UpdateOp{e: e, key: key}
}

// Patch is like Update but fails when the item does not exist.
func (e *Entity) Patch(key attr.Item) *UpdateOp {
	return &UpdateOp{e: e, key: key, patch: true}
}

func (u *UpdateOp) record(kind expr.UpdateKind, values attr.Item) *UpdateOp {
	var ops []expr.UpdateOp
	for _, name := range sortedNames(u.e.attrs, values) {
		ops = append(ops, expr.UpdateOp{Kind: kind, Path: name, Value: values[name]})
	}
	u.steps = append(u.steps, updateStep{ops: ops})
	return u
}

// sortedNames returns the keys of values in declaration order, undeclared
// names last in lexical order.
func sortedNames(schema *attr.Schema, values attr.Item) []string {
	names := make([]string, 0, len(values))
	for _, n := range schema.Names() {
		if _, ok := values[n]; ok {
			names = append(names, n)
		}
	}
	var unknown []string
	for n := range values {
		if _, ok := schema.Lookup(n); !ok {
			unknown = append(unknown, n)
		}
	}
	slices.Sort(unknown)
	return append(names, unknown...)
}

// Set assigns attributes. A nil value removes the attribute.
func (u *UpdateOp) Set(values attr.Item) *UpdateOp { return u.record(expr.UpdateSet, values) }

// Add adds to numbers and sets.
func (u *UpdateOp) Add(values attr.Item) *UpdateOp { return u.record(expr.UpdateAdd, values) }

// Subtract subtracts from numbers.
func (u *UpdateOp) Subtract(values attr.Item) *UpdateOp { return u.record(expr.UpdateSubtract, values) }

// Append appends to lists.
func (u *UpdateOp) Append(values attr.Item) *UpdateOp { return u.record(expr.UpdateAppend, values) }

// Delete removes elements from sets.
func (u *UpdateOp) Delete(values attr.Item) *UpdateOp { return u.record(expr.UpdateDelete, values) }

// Remove deletes attributes.
func (u *UpdateOp) Remove(names ...string) *UpdateOp {
	ops := make([]expr.UpdateOp, len(names))
	for i, n := range names {
		ops[i] = expr.UpdateOp{Kind: expr.UpdateRemove, Path: n}
	}
	u.steps = append(u.steps, updateStep{ops: ops})
	return u
}

// Data describes updates with a callback, which may address nested paths.
func (u *UpdateOp) Data(fn expr.DataFunc) *UpdateOp {
	u.steps = append(u.steps, updateStep{data: fn})
	return u
}

func (u *UpdateOp) Where(fn expr.WhereFunc) *UpdateOp {
	u.where = append(u.where, fn)
	return u
}

func (u *UpdateOp) Condition(cb expression.ConditionBuilder) *UpdateOp {
	u.cbs = append(u.cbs, cb)
	return u
}

func (u *UpdateOp) collect() ([]expr.UpdateOp, error) {
	var ops []expr.UpdateOp
	for _, s := range u.steps {
		if s.data == nil {
			ops = append(ops, s.ops...)
			continue
		}
		data, err := expr.CollectData(u.e.attrs, s.data)
		if err != nil {
			return nil, err
		}
		ops = append(ops, data...)
	}
	return ops, nil
}

// update is the validated content of an UpdateOp.
type update struct {
	set     attr.Item
	setKeys []string
	// nested holds operations on paths below the top level, and every
	// operation other than set and remove.
	nested  []expr.UpdateOp
	remove  []string
	touched []string
}

func rootOf(path string) (string, bool, error) {
	segs, err := attr.ParsePath(path)
	if err != nil {
		return "", false, err
	}
	return segs[0].Name, len(segs) == 1 && len(segs[0].Indexes) == 0, nil
}

// mergeOps keeps the last of several top level sets or removes of the same
// attribute, in the position of the first.
func mergeOps(ops []expr.UpdateOp) []expr.UpdateOp {
	out := make([]expr.UpdateOp, 0, len(ops))
	pos := make(map[string]int)
	for _, op := range ops {
		if op.Kind == expr.UpdateSet || op.Kind == expr.UpdateRemove {
			if _, top, err := rootOf(op.Path); err == nil && top {
				if i, ok := pos[op.Path]; ok {
					out[i] = op
					continue
				}
				pos[op.Path] = len(out)
			}
		}
		out = append(out, op)
	}
	return out
}

// overlapping returns the first pair of paths where one equals or contains
// the other.
func overlapping(ops []expr.UpdateOp) (string, string, bool) {
	for i, a := range ops {
		for _, b := range ops[i+1:] {
			if pathContains(a.Path, b.Path) || pathContains(b.Path, a.Path) {
				return a.Path, b.Path, true
			}
		}
	}
	return "", "", false
}

func pathContains(parent, child string) bool {
	if !strings.HasPrefix(child, parent) {
		return false
	}
	rest := child[len(parent):]
	return rest == "" || rest[0] == '.' || rest[0] == '['
}

func (u *UpdateOp) validate(ops []expr.UpdateOp) (*update, error) {
	ops = mergeOps(ops)
	var (
		errs   attr.ValidationErrors
		out    = &update{set: attr.Item{}}
		main   = u.e.indexes.Main()
		setRaw = attr.Item{}
	)
	fail := func(field string, code attr.ErrorCode, reason string) {
		errs = append(errs, &attr.ValidationError{Field: field, Code: code, Reason: reason})
	}
	if p, q, ok := overlapping(ops); ok {
		fail(q, attr.CodeInvalidValue, fmt.Sprintf("Update paths %q and %q overlap", p, q))
	}
	for _, op := range ops {
		root, top, err := rootOf(op.Path)
		if err != nil {
			return nil, ddberr.Wrap(ddberr.CodeValidation, err, "update %q", op.Path)
		}
		a, ok := u.e.attrs.Lookup(root)
		if !ok {
			fail(root, attr.CodeUnknownAttribute, "Attribute does not exist on model")
			continue
		}
		if main.HasFacet(root) {
			if top && op.Kind == expr.UpdateSet && op.Value != nil && sameValue(op.Value, u.key[root]) {
				continue
			}
			fail(root, attr.CodeReadOnly, "Attribute is a table key facet and cannot be updated")
			continue
		}
		if !slices.Contains(out.touched, root) {
			out.touched = append(out.touched, root)
		}
		switch {
		case top && op.Kind == expr.UpdateSet && op.Value != nil:
			setRaw[root] = op.Value
			out.setKeys = append(out.setKeys, root)
		case top && (op.Kind == expr.UpdateRemove || op.Kind == expr.UpdateSet):
			out.remove = append(out.remove, root)
		default:
			if a.ReadOnly {
				fail(root, attr.CodeReadOnly, "Attribute is Read-Only and cannot be updated")
				continue
			}
			def, _, err := u.e.attrs.Resolve(op.Path)
			if err != nil {
				return nil, ddberr.Wrap(ddberr.CodeValidation, err, "update %q", op.Path)
			}
			if reason := checkKind(op.Kind, def); reason != "" {
				fail(op.Path, attr.CodeTypeMismatch, reason)
				continue
			}
			out.nested = append(out.nested, op)
		}
	}
	if len(setRaw) > 0 {
		normalized, err := u.e.attrs.Normalize(setRaw, attr.ModeUpdate)
		var verrs attr.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			errs = append(errs, verrs...)
		case err != nil:
			return nil, ddberr.Wrap(ddberr.CodeValidation, err, "invalid %s update", u.e.model.Entity)
		}
		out.set = normalized
	}
	if len(out.remove) > 0 {
		var verrs attr.ValidationErrors
		if err := u.e.attrs.CheckRemovable(out.remove...); errors.As(err, &verrs) {
			errs = append(errs, verrs...)
		}
	}
	if len(errs) > 0 {
		return nil, ddberr.Wrap(ddberr.CodeValidation, errs, "invalid %s update", u.e.model.Entity).WithAttributes(errs.Fields()...)
	}
	return out, nil
}

func checkKind(kind expr.UpdateKind, def *attr.Attribute) string {
	k := def.Type.Kind
	if k == attr.KindCustom {
		return ""
	}
	switch kind {
	case expr.UpdateAdd:
		if k != attr.KindNumber && k != attr.KindSet {
			return fmt.Sprintf("%s only applies to numbers and sets, not %s", kind, def.Type)
		}
	case expr.UpdateSubtract:
		if k != attr.KindNumber {
			return fmt.Sprintf("%s only applies to numbers, not %s", kind, def.Type)
		}
	case expr.UpdateAppend:
		if k != attr.KindList {
			return fmt.Sprintf("%s only applies to lists, not %s", kind, def.Type)
		}
	case expr.UpdateDelete:
		if k != attr.KindSet {
			return fmt.Sprintf("%s only applies to sets, not %s", kind, def.Type)
		}
	}
	return ""
}

func sameValue(a, b any) bool {
	if b == nil {
		return false
	}
	if x, ok := attr.Float(a); ok {
		y, ok := attr.Float(b)
		return ok && x == y
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func (u *UpdateOp) build(table string) (*Params, error) {
	key, err := u.e.primaryKey(u.key)
	if err != nil {
		return nil, err
	}
	ops, err := u.collect()
	if err != nil {
		return nil, err
	}
	v, err := u.validate(ops)
	if err != nil {
		return nil, err
	}

	b := expr.NewBuilder(u.e.attrs)
	up := b.Update()
	main := u.e.indexes.Main()
	for _, name := range main.Facets() {
		a, _ := u.e.attrs.Lookup(name)
		if _, isKey := key[a.FieldName()]; isKey {
			continue
		}
		if err := marshalInto(a, u.key[name], func(av types.AttributeValue) { up.Set(name, av) }); err != nil {
			return nil, err
		}
	}
	for _, name := range v.setKeys {
		a, _ := u.e.attrs.Lookup(name)
		val, ok := v.set[name]
		if !ok {
			continue
		}
		av, err := a.Marshal(val)
		if err != nil {
			return nil, ddberr.Wrap(ddberr.CodeValidation, err, "update %q", name)
		}
		if av == nil {
			// Empty sets cannot be stored.
			up.Remove(name)
			continue
		}
		up.Set(name, av)
	}
	for _, name := range v.remove {
		up.Remove(name)
	}
	for _, op := range v.nested {
		if op.Kind == expr.UpdateRemove {
			up.Remove(op.Path)
			continue
		}
		def, _, err := u.e.attrs.Resolve(op.Path)
		if err != nil {
			return nil, ddberr.Wrap(ddberr.CodeValidation, err, "update %q", op.Path)
		}
		av, err := def.Marshal(op.Value)
		if err != nil || av == nil {
			return nil, ddberr.New(ddberr.CodeValidation, "update %q: invalid value %v", op.Path, op.Value).WithAttributes(op.Path)
		}
		switch op.Kind {
		case expr.UpdateSet:
			up.Set(op.Path, av)
		case expr.UpdateAdd:
			up.Add(op.Path, av)
		case expr.UpdateSubtract:
			up.Subtract(op.Path, av)
		case expr.UpdateAppend:
			up.Append(op.Path, av)
		case expr.UpdateDelete:
			up.Delete(op.Path, av)
		}
	}

	values := maps.Clone(u.key)
	maps.Copy(values, v.set)
	rebuilt := make(map[string]string)
	for _, idx := range u.e.indexes.Affected(v.touched) {
		if err := index.RebuildKeys(idx, values, rebuilt); err != nil {
			return nil, err
		}
	}
	fields := slices.Sorted(maps.Keys(rebuilt))
	for _, f := range fields {
		up.SetField(f, &types.AttributeValueMemberS{Value: rebuilt[f]})
	}
	up.SetField(expr.FieldEntity, &types.AttributeValueMemberS{Value: u.e.model.Entity})
	up.SetField(expr.FieldVersion, &types.AttributeValueMemberS{Value: u.e.model.Version})

	if u.patch {
		b.KeysExist(true, u.e.keyFields()...)
	}
	u.conditions.apply(b)
	x, err := b.Build()
	if err != nil {
		return nil, err
	}
	p := &Params{TableName: table, Key: key, ReturnValues: types.ReturnValueAllNew}
	p.setExpressions(x)
	return p, nil
}

func marshalInto(a *attr.Attribute, v any, set func(types.AttributeValue)) error {
	if v == nil {
		return nil
	}
	av, err := a.Marshal(v)
	if err != nil {
		return ddberr.Wrap(ddberr.CodeValidation, err, "key facet %q", a.Name).WithAttributes(a.Name)
	}
	if av != nil {
		set(av)
	}
	return nil
}

func (u *UpdateOp) Params(opts ...Option) (*Params, error) {
	o, err := u.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	return u.build(o.table)
}

// Go applies the update and returns the item as it is afterwards.
func (u *UpdateOp) Go(ctx context.Context, opts ...Option) (*ItemResult, error) {
	if u.e.client == nil {
		return nil, u.e.noClient()
	}
	o, err := u.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	p, err := u.build(o.table)
	if err != nil {
		return nil, err
	}
	out, err := u.e.client.UpdateItem(ctx, p.ToUpdateItemInput())
	if err != nil {
		return nil, clientError(err, "update item")
	}
	return u.e.itemResult(out.Attributes, o)
}

func (u *UpdateOp) TableName() string { return u.e.table }

func (u *UpdateOp) Key() (ddbsdk.Item, error) { return u.e.primaryKey(u.key) }

func (u *UpdateOp) TransactWriteItem() (types.TransactWriteItem, error) {
	p, err := u.build(u.e.table)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Update: p.ToUpdate()}, nil
}
