// Package schema describes collections, their fields, and the relational tables
// derived from them.
package schema

// Kind is the semantic kind of a field.
type Kind string

const (
	KindText         Kind = "text"
	KindNumber       Kind = "number"
	KindCheckbox     Kind = "checkbox"
	KindDate         Kind = "date"
	KindJSON         Kind = "json"
	KindSelect       Kind = "select"
	KindRelationship Kind = "relationship"
	KindGroup        Kind = "group"
	KindArray        Kind = "array"
	KindBlocks       Kind = "blocks"
)

// Field describes one field of a collection, group, array row or block.
type Field struct {
	Name string `yaml:"name"`
	Kind Kind   `yaml:"type"`

	// Localized fields hold one value per locale.
	Localized bool `yaml:"localized"`

	// HasMany makes number, select and relationship fields many-valued.
	HasMany bool `yaml:"hasMany"`

	// Unique adds a unique constraint to the column. Only valid on scalars at
	// the root level; usable as an upsert conflict target.
	Unique bool `yaml:"unique"`

	// RelationTo lists the collections a relationship may reference. More than
	// one target makes the relationship polymorphic.
	RelationTo []string `yaml:"relationTo"`

	// Options lists the allowed values of a select field.
	Options []string `yaml:"options"`

	// Fields are the sub-fields of group and array fields.
	Fields []Field `yaml:"fields"`

	// Blocks are the block types a blocks field accepts.
	Blocks []Block `yaml:"blocks"`
}

// Block is one variant of a blocks field, identified by its slug.
type Block struct {
	Slug   string  `yaml:"slug"`
	Fields []Field `yaml:"fields"`
}

// Collection is a root document type stored in its own base table.
type Collection struct {
	Slug   string  `yaml:"slug"`
	Fields []Field `yaml:"fields"`
}

// IsPolymorphic reports whether a relationship may reference more than one collection.
func (f Field) IsPolymorphic() bool {
	return f.Kind == KindRelationship && len(f.RelationTo) > 1
}

// StoredInColumn reports whether the field's value lives in a column of its
// level's row (or locale row), rather than in a dependent table.
func (f Field) StoredInColumn() bool {
	switch f.Kind {
	case KindText, KindCheckbox, KindDate, KindJSON:
		return true
	case KindNumber, KindSelect:
		return !f.HasMany
	}
	return false
}

// ColumnType returns the storage type of a column-stored field.
func (f Field) ColumnType() ColumnType {
	switch f.Kind {
	case KindNumber:
		return ColumnNumeric
	case KindCheckbox:
		return ColumnBool
	case KindJSON:
		return ColumnJSON
	}
	return ColumnText
}

// Block returns the block with the given slug.
func (f Field) Block(slug string) (Block, bool) {
	for _, b := range f.Blocks {
		if b.Slug == slug {
			return b, true
		}
	}
	return Block{}, false
}

// AllowsTarget reports whether collection is a valid relationship target.
func (f Field) AllowsTarget(collection string) bool {
	for _, t := range f.RelationTo {
		if t == collection {
			return true
		}
	}
	return false
}

// AllowsOption reports whether value is one of the select options.
func (f Field) AllowsOption(value string) bool {
	for _, o := range f.Options {
		if o == value {
			return true
		}
	}
	return false
}
