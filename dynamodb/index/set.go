package index

import (
	"slices"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
)

// FacetType tells which key a matched facet belongs to.
type FacetType string

const (
	FacetPK FacetType = "pk"
	FacetSK FacetType = "sk"
)

// FacetMatch is one facet used by a Match.
type FacetMatch struct {
	Name string
	Type FacetType
}

// Match is the result of FindBest. The zero Match means no index qualified.
type Match struct {
	// Index is the store-native index name, empty for the table.
	Index         string
	AccessPattern string
	Facets        []FacetMatch
}

// Found reports whether an index qualified.
func (m Match) Found() bool {
	return m.AccessPattern != ""
}

// Set is the compiled, ordered collection of an entity's indexes.
type Set struct {
	indexes   []*Index
	byPattern map[string]*Index
	main      *Index
}

// Compile validates the definitions against the schema and compiles them in
// declaration order.
//
// Exactly one definition must address the table. Access patterns and index
// names must be unique, and a physical key field used by several indexes must
// be defined the same way everywhere.
func Compile(defs []Definition, schema *attr.Schema, p Prefixes) (*Set, error) {
	s := &Set{byPattern: make(map[string]*Index, len(defs))}
	byIndexName := make(map[string]string, len(defs))
	fields := make(map[string]fieldUse)

	for _, d := range defs {
		if d.AccessPattern == "" {
			return nil, ddberr.New(ddberr.CodeSchemaValidation, "index definition is missing an access pattern name")
		}
		if _, dup := s.byPattern[d.AccessPattern]; dup {
			return nil, ddberr.New(ddberr.CodeSchemaValidation, "duplicate access pattern %q", d.AccessPattern)
		}
		if other, dup := byIndexName[d.Index]; dup {
			if d.IsMain() {
				return nil, ddberr.New(ddberr.CodeSchemaValidation,
					"access patterns %q and %q both address the table index", other, d.AccessPattern)
			}
			return nil, ddberr.New(ddberr.CodeSchemaValidation,
				"access patterns %q and %q both use index %q", other, d.AccessPattern, d.Index)
		}
		byIndexName[d.Index] = d.AccessPattern

		idx, err := compile(d, schema, p)
		if err != nil {
			return nil, err
		}
		if err := checkField(fields, d.AccessPattern, d.PK); err != nil {
			return nil, err
		}
		if d.SK != nil {
			if err := checkField(fields, d.AccessPattern, *d.SK); err != nil {
				return nil, err
			}
		}
		s.indexes = append(s.indexes, idx)
		s.byPattern[d.AccessPattern] = idx
		if idx.IsMain() {
			s.main = idx
		}
	}
	if s.main == nil {
		return nil, ddberr.New(ddberr.CodeSchemaValidation, "no access pattern addresses the table index")
	}
	return s, nil
}

type fieldUse struct {
	pattern string
	key     Key
}

func checkField(fields map[string]fieldUse, pattern string, k Key) error {
	prev, seen := fields[k.Field]
	if !seen {
		fields[k.Field] = fieldUse{pattern: pattern, key: k}
		return nil
	}
	if !slices.Equal(prev.key.Facets, k.Facets) || prev.key.Template != k.Template || prev.key.Casing != k.Casing {
		return ddberr.New(ddberr.CodeSchemaValidation,
			"field %q is defined inconsistently by access patterns %q and %q", k.Field, prev.pattern, pattern)
	}
	return nil
}

// Main returns the table index.
func (s *Set) Main() *Index { return s.main }

// All returns the indexes in declaration order.
func (s *Set) All() []*Index { return s.indexes }

// Get returns the index for an access pattern.
func (s *Set) Get(accessPattern string) (*Index, error) {
	idx, ok := s.byPattern[accessPattern]
	if !ok {
		return nil, ddberr.New(ddberr.CodeInvalidIndexName, "unknown access pattern %q", accessPattern)
	}
	return idx, nil
}

// ByIndexName returns the index with the store-native name, empty for the
// table.
func (s *Set) ByIndexName(name string) (*Index, bool) {
	for _, idx := range s.indexes {
		if idx.Index == name {
			return idx, true
		}
	}
	return nil, false
}

// KeyFields returns every physical key field used by the indexes.
func (s *Set) KeyFields() []string {
	var fields []string
	for _, idx := range s.indexes {
		if !idx.PK.IsRaw() && !slices.Contains(fields, idx.PK.Field()) {
			fields = append(fields, idx.PK.Field())
		}
		if idx.SK != nil && !idx.SK.IsRaw() && !slices.Contains(fields, idx.SK.Field()) {
			fields = append(fields, idx.SK.Field())
		}
	}
	return fields
}

// FindBest selects the index that uses the most supplied attributes.
//
// An index qualifies when every partition key facet is supplied. Matching then
// continues into the sort key facets in order and stops at the first facet not
// supplied. The index with the most matched facets wins; on a tie the index
// declared first wins.
func (s *Set) FindBest(supplied []string) Match {
	var best Match
	bestCount := -1
	for _, idx := range s.indexes {
		var facets []FacetMatch
		complete := true
		for _, f := range idx.PK.Facets() {
			if !slices.Contains(supplied, f) {
				complete = false
				break
			}
			facets = append(facets, FacetMatch{Name: f, Type: FacetPK})
		}
		if !complete {
			continue
		}
		if idx.SK != nil {
			for _, f := range idx.SK.Facets() {
				if !slices.Contains(supplied, f) {
					break
				}
				facets = append(facets, FacetMatch{Name: f, Type: FacetSK})
			}
		}
		if len(facets) > bestCount {
			bestCount = len(facets)
			best = Match{Index: idx.Index, AccessPattern: idx.AccessPattern, Facets: facets}
		}
	}
	return best
}

// SecondaryKeys composes the keys of every secondary index the values
// address, keyed by physical field. An index is skipped when none of its
// facets have a value, which keeps it sparse. An index with only some of its
// facets fails with IncompleteKeyFacets. Raw keys are not included since the
// attribute is already the key.
func (s *Set) SecondaryKeys(values map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	for _, idx := range s.indexes {
		if idx.IsMain() {
			continue
		}
		if err := secondaryKeys(idx, values, out, false); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Affected returns the secondary indexes that use any of the named
// attributes, in declaration order.
func (s *Set) Affected(names []string) []*Index {
	var out []*Index
	for _, idx := range s.indexes {
		if idx.IsMain() {
			continue
		}
		for _, n := range names {
			if idx.HasFacet(n) {
				out = append(out, idx)
				break
			}
		}
	}
	return out
}

// RebuildKeys composes the keys of idx, requiring every facet.
func RebuildKeys(idx *Index, values map[string]any, out map[string]string) error {
	return secondaryKeys(idx, values, out, true)
}

func secondaryKeys(idx *Index, values map[string]any, out map[string]string, required bool) error {
	facets := idx.Facets()
	present := 0
	var missing []string
	for _, f := range facets {
		if v, ok := values[f]; ok && v != nil {
			present++
		} else {
			missing = append(missing, f)
		}
	}
	if present == 0 && len(facets) > 0 && !required {
		return nil
	}
	if len(missing) > 0 {
		return ddberr.New(ddberr.CodeIncompleteKeyFacets,
			"incomplete key facets for access pattern %q: missing %q", idx.AccessPattern, missing).WithAttributes(missing...)
	}
	pk, sk, err := idx.Keys(values, true)
	if err != nil {
		return err
	}
	if !idx.PK.IsRaw() {
		out[idx.PK.Field()] = pk
	}
	if idx.SK != nil && !idx.SK.IsRaw() {
		out[idx.SK.Field()] = sk
	}
	return nil
}
