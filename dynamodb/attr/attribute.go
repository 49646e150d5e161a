// Package attr implements the attribute pipeline: schema definitions for entity
// attributes and the recursive walk that defaults, type checks, validates and
// transforms items before they are written and after they are read.
//
// A Schema is immutable once built and safe for concurrent use.
package attr

// Item is an entity item keyed by attribute name.
type Item = map[string]any

// Padding left-pads a facet value when it is written into a composite key,
// which keeps numeric sort keys in lexical order.
type Padding struct {
	Length int
	Char   string
}

// Attribute defines one attribute of an entity, or one property of a map,
// or the element definition of a list.
type Attribute struct {
	Name string
	Type Type

	Required bool
	// ReadOnly attributes may be written on put/create but never updated.
	ReadOnly bool
	// Hidden attributes are stored but removed from formatted read results.
	Hidden bool

	// Default is used when the value is absent on put.
	Default any
	// DefaultFunc takes precedence over Default.
	DefaultFunc func() any

	// Get transforms a stored value on read. item is the containing item.
	Get func(value any, item Item) any
	// Set transforms a validated value before it is written.
	Set func(value any, item Item) any

	Validate Validator

	// Field is the storage attribute name. Defaults to Name.
	Field string
	// Label replaces the attribute name in composite keys.
	Label string
	// Padding applies to the value when used as a key facet.
	Padding *Padding
}

// FieldName returns the storage name of the attribute.
func (a *Attribute) FieldName() string {
	if a.Field != "" {
		return a.Field
	}
	return a.Name
}

// KeyLabel returns the label used for the attribute in composite keys.
func (a *Attribute) KeyLabel() string {
	if a.Label != "" {
		return a.Label
	}
	return a.Name
}

func (a *Attribute) defaultValue() (v any, err error) {
	if a.DefaultFunc != nil {
		defer func() {
			if r := recover(); r != nil {
				err = panicError("default", r)
			}
		}()
		return a.DefaultFunc(), nil
	}
	return cloneValue(a.Default), nil
}
