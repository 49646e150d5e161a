// Package expr builds DynamoDB key condition, filter, condition, update and
// projection expressions together with their placeholder maps.
//
// Every request uses its own Builder and therefore its own Registry of
// aliases; nothing is shared between builds.
package expr

import (
	"strconv"
	"strings"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Registry assigns expression aliases: #name for attribute names and :name
// for values. A field always maps to the same name alias. Value aliases are
// never reused; a taken alias gets a numeric suffix.
type Registry struct {
	names   map[string]string
	aliases map[string]string
	values  map[string]types.AttributeValue
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		names:   make(map[string]string),
		aliases: make(map[string]string),
		values:  make(map[string]types.AttributeValue),
	}
}

// Name returns the alias of a single field name.
func (r *Registry) Name(field string) string {
	if alias, ok := r.aliases[field]; ok {
		return alias
	}
	alias := r.free("#"+sanitize(field), func(a string) bool { _, ok := r.names[a]; return ok })
	r.names[alias] = field
	r.aliases[field] = alias
	return alias
}

// Path returns the alias form of a document path, e.g. #rooms[0].#name.
func (r *Registry) Path(segs []attr.PathSegment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = attr.PathSegment{Name: r.Name(s.Name), Indexes: s.Indexes}.String()
	}
	return strings.Join(parts, ".")
}

// Value registers v under an alias derived from name.
func (r *Registry) Value(name string, v types.AttributeValue) string {
	alias := r.free(":"+sanitize(name), func(a string) bool { _, ok := r.values[a]; return ok })
	r.values[alias] = v
	return alias
}

func (r *Registry) free(base string, taken func(string) bool) string {
	alias := base
	for i := 1; taken(alias); i++ {
		alias = base + strconv.Itoa(i)
	}
	return alias
}

// Names returns the ExpressionAttributeNames map, nil when empty.
func (r *Registry) Names() map[string]string {
	if len(r.names) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.names))
	for k, v := range r.names {
		out[k] = v
	}
	return out
}

// Values returns the ExpressionAttributeValues map, nil when empty.
func (r *Registry) Values() map[string]types.AttributeValue {
	if len(r.values) == 0 {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// sanitize keeps the characters that are valid in an alias.
func sanitize(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "v"
	}
	return b.String()
}
