// Package index compiles the index definitions of an entity and selects the
// most specific index able to serve a read.
package index

import (
	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/acksell/facet/dynamodb/index/keys"
)

// Key describes the partition or sort key of an index: the physical field and
// either ordered facets or a template.
type Key struct {
	Field    string
	Facets   []string
	Template string
	Casing   keys.Casing
}

// Definition declares one access pattern of an entity.
//
// Example:
//
//	index.Definition{
//	    AccessPattern: "units",
//	    Index:         "gsi1",
//	    PK:            index.Key{Field: "gsi1pk", Facets: []string{"mall"}},
//	    SK:            &index.Key{Field: "gsi1sk", Facets: []string{"building", "unit"}},
//	    Collection:    "tenants",
//	}
type Definition struct {
	// AccessPattern is the name callers use with Query.
	AccessPattern string
	// Index is the store-native index name. Empty means the table itself.
	Index      string
	PK         Key
	SK         *Key
	Collection string
}

// IsMain reports whether the definition addresses the table itself.
func (d Definition) IsMain() bool {
	return d.Index == ""
}

// Prefixes identify an entity inside composite keys.
type Prefixes struct {
	Service string
	Entity  string
	Version string
}

// pk returns the partition key prefix. Without a sort key the entity is
// identified in the partition key, otherwise in the sort key.
func (p Prefixes) pk(hasSK bool) string {
	if hasSK {
		return "$" + p.Service
	}
	return "$" + p.Service + "$" + p.Entity + "_" + p.Version
}

func (p Prefixes) sk(collection string) string {
	if collection != "" {
		return "$" + collection + "#" + p.Entity + "_" + p.Version
	}
	return "$" + p.Entity + "_" + p.Version
}

// Index is a compiled Definition.
type Index struct {
	Definition
	PK *keys.Composer
	// SK is nil when the index has no sort key.
	SK *keys.Composer
}

// Facets returns the partition key facets followed by the sort key facets.
func (i *Index) Facets() []string {
	f := i.PK.Facets()
	if i.SK != nil {
		f = append(f, i.SK.Facets()...)
	}
	return f
}

// HasFacet reports whether name is part of either key.
func (i *Index) HasFacet(name string) bool {
	for _, f := range i.Facets() {
		if f == name {
			return true
		}
	}
	return false
}

// Keys composes both keys. The partition key must be complete, the sort key
// is truncated at the first missing facet unless full is set.
func (i *Index) Keys(values map[string]any, full bool) (pk, sk string, err error) {
	pk, err = i.PK.Build(values)
	if err != nil {
		return "", "", err
	}
	if i.SK == nil {
		return pk, "", nil
	}
	if full {
		sk, err = i.SK.Build(values)
		return pk, sk, err
	}
	return pk, i.SK.BuildPartial(values), nil
}

func compile(d Definition, schema *attr.Schema, p Prefixes) (*Index, error) {
	if d.PK.Field == "" {
		return nil, ddberr.New(ddberr.CodeSchemaValidation,
			"access pattern %q: partition key is missing a field name", d.AccessPattern)
	}
	if d.Collection != "" && d.SK == nil {
		return nil, ddberr.New(ddberr.CodeSchemaValidation,
			"access pattern %q: a collection requires a sort key", d.AccessPattern)
	}
	idx := &Index{Definition: d}
	var err error
	idx.PK, err = keys.New(keys.Spec{
		Field:    d.PK.Field,
		Prefix:   p.pk(d.SK != nil),
		Facets:   d.PK.Facets,
		Template: d.PK.Template,
		Casing:   d.PK.Casing,
	}, schema)
	if err != nil {
		return nil, ddberr.Wrap(ddberr.CodeSchemaValidation, err, "access pattern %q", d.AccessPattern)
	}
	if d.SK != nil {
		idx.SK, err = keys.New(keys.Spec{
			Field:    d.SK.Field,
			Prefix:   p.sk(d.Collection),
			Facets:   d.SK.Facets,
			Template: d.SK.Template,
			Casing:   d.SK.Casing,
		}, schema)
		if err != nil {
			return nil, ddberr.Wrap(ddberr.CodeSchemaValidation, err, "access pattern %q", d.AccessPattern)
		}
	}
	return idx, nil
}
