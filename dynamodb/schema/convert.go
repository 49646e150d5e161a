package schema

import (
	"fmt"
	"regexp"
	"time"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/acksell/facet/dynamodb/entity"
	"github.com/acksell/facet/dynamodb/expr"
	"github.com/acksell/facet/dynamodb/index"
	"github.com/acksell/facet/dynamodb/index/keys"
	"github.com/acksell/facet/dynamodb/table"
	"github.com/google/uuid"
)

// generators are the producers available to the generate property.
var generators = map[string]func() any{
	"uuid": func() any { return uuid.NewString() },
	"now":  func() any { return time.Now().UTC().Format(time.RFC3339) },
}

// TableDefinition returns the physical table the document describes.
func (d *Document) TableDefinition() table.TableDefinition {
	def := table.TableDefinition{
		Name: d.Table.Name,
		KeyDefinitions: table.PrimaryKeyDefinition{
			PartitionKey: keyDef(d.Table.PartitionKey),
		},
		TimeToLiveKey: d.Table.TimeToLive,
	}
	if d.Table.SortKey != nil {
		def.KeyDefinitions.SortKey = keyDef(*d.Table.SortKey)
	}
	for _, g := range d.Table.GSIs {
		gsi := table.GSIDefinition{
			Name: g.Name,
			KeyDefinitions: table.PrimaryKeyDefinition{
				PartitionKey: keyDef(g.PartitionKey),
			},
		}
		if g.SortKey != nil {
			gsi.KeyDefinitions.SortKey = keyDef(*g.SortKey)
		}
		def.GSIs = append(def.GSIs, gsi)
	}
	return def
}

func keyDef(k KeyDef) table.KeyDef {
	return table.KeyDef{Name: k.Name, Kind: table.KeyKind(k.Kind)}
}

// Schemas converts every entity of the document.
func (d *Document) Schemas() ([]entity.Schema, error) {
	out := make([]entity.Schema, 0, len(d.Entities))
	for _, e := range d.Entities {
		s, err := e.schema(d.Table.Name, d.Table.TimeToLive)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", e.Model.Entity, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Compile builds every entity of the document with opts.
func (d *Document) Compile(opts ...entity.EntityOption) ([]*entity.Entity, error) {
	schemas, err := d.Schemas()
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Entity, 0, len(schemas))
	for _, s := range schemas {
		e, err := entity.New(s, opts...)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", s.Model.Entity, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Entity compiles the entity with the given name.
func (d *Document) Entity(name string, opts ...entity.EntityOption) (*entity.Entity, error) {
	for _, e := range d.Entities {
		if e.Model.Entity != name {
			continue
		}
		s, err := e.schema(d.Table.Name, d.Table.TimeToLive)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", name, err)
		}
		return entity.New(s, opts...)
	}
	return nil, ddberr.New(ddberr.CodeInvalidOptions, "schema has no entity %q", name)
}

func (e Entity) schema(tableName, ttl string) (entity.Schema, error) {
	s := entity.Schema{
		Model: entity.Model{
			Service: e.Model.Service,
			Entity:  e.Model.Entity,
			Version: e.Model.Version,
		},
		Table:           tableName,
		TimeToLiveField: ttl,
	}
	for _, a := range e.Attributes {
		converted, err := a.attribute()
		if err != nil {
			return entity.Schema{}, err
		}
		s.Attributes = append(s.Attributes, converted)
	}
	for _, idx := range e.Indexes {
		def := index.Definition{
			AccessPattern: idx.AccessPattern,
			Index:         idx.Index,
			Collection:    idx.Collection,
			PK:            idx.PK.key(),
		}
		if idx.SK != nil {
			sk := idx.SK.key()
			def.SK = &sk
		}
		s.Indexes = append(s.Indexes, def)
	}
	if len(e.Filters) > 0 {
		s.Filters = make(map[string]entity.NamedFilter, len(e.Filters))
		for name, f := range e.Filters {
			s.Filters[name] = f.named()
		}
	}
	return s, nil
}

func (k Key) key() index.Key {
	return index.Key{
		Field:    k.Field,
		Facets:   k.Facets,
		Template: k.Template,
		Casing:   keys.Casing(k.Casing),
	}
}

func (f Filter) named() entity.NamedFilter {
	return func(a expr.Attrs, op expr.Ops, args ...any) string {
		var out string
		for i, name := range f.Equals {
			if i >= len(args) {
				break
			}
			if out != "" {
				out += " AND "
			}
			out += op.Eq(a[name], args[i])
		}
		return out
	}
}

func (a Attribute) attribute() (attr.Attribute, error) {
	out := attr.Attribute{
		Name:     a.Name,
		Required: a.Required,
		ReadOnly: a.ReadOnly,
		Hidden:   a.Hidden,
		Field:    a.Field,
		Label:    a.Label,
		Default:  a.Default,
	}
	if a.Padding != nil {
		out.Padding = &attr.Padding{Length: a.Padding.Length, Char: a.Padding.Char}
	}
	if a.Generate != "" {
		out.DefaultFunc = generators[a.Generate]
	}
	if a.Pattern != "" {
		re, err := regexp.Compile(a.Pattern)
		if err != nil {
			return attr.Attribute{}, ddberr.Wrap(ddberr.CodeSchemaValidation, err,
				"attribute %q: invalid pattern", a.Name).WithAttributes(a.Name)
		}
		out.Validate = attr.Pattern(re)
	}
	switch a.Type {
	case "string":
		out.Type = attr.String()
	case "number":
		out.Type = attr.Number()
	case "boolean":
		out.Type = attr.Boolean()
	case "enum":
		out.Type = attr.Enum(a.Values...)
	case "set":
		switch a.Elem {
		case "string":
			out.Type = attr.StringSet()
		case "number":
			out.Type = attr.NumberSet()
		default:
			return attr.Attribute{}, ddberr.New(ddberr.CodeSchemaValidation,
				"attribute %q: property \"elem\" received %q, expected string or number", a.Name, a.Elem).WithAttributes(a.Name)
		}
	case "list":
		item, err := a.Item.attribute()
		if err != nil {
			return attr.Attribute{}, err
		}
		out.Type = attr.List(item)
	case "map":
		props := make([]attr.Attribute, 0, len(a.Properties))
		for _, p := range a.Properties {
			converted, err := p.attribute()
			if err != nil {
				return attr.Attribute{}, err
			}
			props = append(props, converted)
		}
		out.Type = attr.Map(props...)
	case "any":
		out.Type = attr.Custom(nil)
	default:
		return attr.Attribute{}, ddberr.New(ddberr.CodeSchemaValidation,
			"attribute %q: unknown type %q", a.Name, a.Type).WithAttributes(a.Name)
	}
	return out, nil
}
