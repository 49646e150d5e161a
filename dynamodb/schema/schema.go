// Package schema reads entity definitions from YAML documents. A document
// describes one physical table and the entities stored in it:
//
//	table:
//	  name: StoreDirectory
//	  partitionKey: {name: pk, kind: S}
//	  sortKey: {name: sk, kind: S}
//	  gsis:
//	    - name: gsi1
//	      partitionKey: {name: gsi1pk, kind: S}
//	      sortKey: {name: gsi1sk, kind: S}
//	entities:
//	  - model: {service: MallStoreDirectory, entity: MallStores, version: "1"}
//	    attributes:
//	      - {name: storeId, type: string, required: true, generate: uuid}
//	      - {name: mall, type: string, required: true}
//	    indexes:
//	      - accessPattern: store
//	        pk: {field: pk, facets: [storeId]}
//	        sk: {field: sk}
//
// Documents are validated on load, the entity rules on top of that are
// checked by entity.New when the document is compiled.
package schema

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Document is the root of a schema file.
type Document struct {
	Table    Table    `yaml:"table" json:"table" validate:"required"`
	Entities []Entity `yaml:"entities" json:"entities" validate:"required,min=1,dive"`
}

// Table describes the physical DynamoDB table.
type Table struct {
	Name         string  `yaml:"name" json:"name" validate:"required"`
	PartitionKey KeyDef  `yaml:"partitionKey" json:"partitionKey" validate:"required"`
	SortKey      *KeyDef `yaml:"sortKey,omitempty" json:"sortKey,omitempty" validate:"omitempty"`
	TimeToLive   string  `yaml:"timeToLive,omitempty" json:"timeToLive,omitempty"`
	GSIs         []GSI   `yaml:"gsis,omitempty" json:"gsis,omitempty" validate:"dive"`
}

// KeyDef is a physical key attribute.
type KeyDef struct {
	Name string `yaml:"name" json:"name" validate:"required"`
	Kind string `yaml:"kind" json:"kind" validate:"required,oneof=S N B"`
}

// GSI describes a Global Secondary Index.
type GSI struct {
	Name         string  `yaml:"name" json:"name" validate:"required"`
	PartitionKey KeyDef  `yaml:"partitionKey" json:"partitionKey" validate:"required"`
	SortKey      *KeyDef `yaml:"sortKey,omitempty" json:"sortKey,omitempty" validate:"omitempty"`
}

// Entity describes one entity stored in the table.
type Entity struct {
	Model      Model       `yaml:"model" json:"model" validate:"required"`
	Attributes []Attribute `yaml:"attributes" json:"attributes" validate:"required,min=1,dive"`
	Indexes    []Index     `yaml:"indexes" json:"indexes" validate:"required,min=1,dive"`
	// Filters are named where-expressions, see entity.NamedFilter.
	Filters map[string]Filter `yaml:"filters,omitempty" json:"filters,omitempty" validate:"dive"`
}

type Model struct {
	Service string `yaml:"service" json:"service" validate:"required"`
	Entity  string `yaml:"entity" json:"entity" validate:"required"`
	Version string `yaml:"version" json:"version" validate:"required"`
}

// Attribute mirrors attr.Attribute. Type is one of string, number,
// boolean, enum, set, list, map or any.
type Attribute struct {
	Name     string `yaml:"name" json:"name" validate:"required"`
	Type     string `yaml:"type" json:"type" validate:"required,oneof=string number boolean enum set list map any"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
	ReadOnly bool   `yaml:"readOnly,omitempty" json:"readOnly,omitempty"`
	Hidden   bool   `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Field    string `yaml:"field,omitempty" json:"field,omitempty"`
	Label    string `yaml:"label,omitempty" json:"label,omitempty"`

	// Values are the literals of an enum.
	Values []string `yaml:"values,omitempty" json:"values,omitempty" validate:"required_if=Type enum,dive,required"`
	// Elem is the element type of a set.
	Elem string `yaml:"elem,omitempty" json:"elem,omitempty" validate:"required_if=Type set"`
	// Item describes the elements of a list.
	Item *Attribute `yaml:"item,omitempty" json:"item,omitempty" validate:"required_if=Type list"`
	// Properties describe the keys of a map.
	Properties []Attribute `yaml:"properties,omitempty" json:"properties,omitempty" validate:"dive"`

	Default any `yaml:"default,omitempty" json:"default,omitempty"`
	// Generate produces a default value on put: uuid or now.
	Generate string   `yaml:"generate,omitempty" json:"generate,omitempty" validate:"omitempty,oneof=uuid now"`
	Pattern  string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Padding  *Padding `yaml:"padding,omitempty" json:"padding,omitempty"`
}

type Padding struct {
	Length int    `yaml:"length" json:"length" validate:"gt=0"`
	Char   string `yaml:"char" json:"char" validate:"len=1"`
}

// Index mirrors index.Definition.
type Index struct {
	AccessPattern string `yaml:"accessPattern" json:"accessPattern" validate:"required"`
	Index         string `yaml:"index,omitempty" json:"index,omitempty"`
	Collection    string `yaml:"collection,omitempty" json:"collection,omitempty"`
	PK            Key    `yaml:"pk" json:"pk" validate:"required"`
	SK            *Key   `yaml:"sk,omitempty" json:"sk,omitempty" validate:"omitempty"`
}

type Key struct {
	Field    string   `yaml:"field" json:"field" validate:"required"`
	Facets   []string `yaml:"facets,omitempty" json:"facets,omitempty" validate:"excluded_with=Template"`
	Template string   `yaml:"template,omitempty" json:"template,omitempty"`
	Casing   string   `yaml:"casing,omitempty" json:"casing,omitempty" validate:"omitempty,oneof=default lower upper none"`
}

// Filter is a named equality filter: every attribute in Equals must hold
// the value of the argument at the same position.
type Filter struct {
	Equals []string `yaml:"equals" json:"equals" validate:"required,min=1,dive,required"`
}

var validate = validator.New()

// Parse decodes and validates a document. Unknown keys are rejected.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, ddberr.Wrap(ddberr.CodeSchemaValidation, err, "decode schema document")
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, formatValidationError(err)
	}
	return &doc, nil
}

// Load reads the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return doc, nil
}

func formatValidationError(err error) error {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ddberr.Wrap(ddberr.CodeSchemaValidation, err, "invalid schema document")
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = formatFieldError(fe)
	}
	return ddberr.New(ddberr.CodeSchemaValidation, "invalid schema document: %s", strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Document.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s, got %q", field, fe.Param(), fmt.Sprint(fe.Value()))
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	case "excluded_with":
		return fmt.Sprintf("%s cannot be combined with %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}
