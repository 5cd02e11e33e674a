// Package testschema holds the collection definitions shared by package tests.
package testschema

import "github.com/jacentio/docrel/schema"

// Users is a plain collection used as a relationship target.
var Users = schema.Collection{
	Slug: "users",
	Fields: []schema.Field{
		{Name: "name", Kind: schema.KindText},
		{Name: "email", Kind: schema.KindText, Unique: true},
	},
}

// Media is a second relationship target, used for polymorphic relationships.
var Media = schema.Collection{
	Slug: "media",
	Fields: []schema.Field{
		{Name: "alt", Kind: schema.KindText},
	},
}

// Quote and Video are the block types of Pages.layout.
var (
	Quote = schema.Block{
		Slug: "quote",
		Fields: []schema.Field{
			{Name: "text", Kind: schema.KindText},
			{Name: "citation", Kind: schema.KindText, Localized: true},
			{Name: "sources", Kind: schema.KindArray, Fields: []schema.Field{
				{Name: "url", Kind: schema.KindText},
			}},
		},
	}
	Video = schema.Block{
		Slug: "video",
		Fields: []schema.Field{
			{Name: "url", Kind: schema.KindText},
			{Name: "poster", Kind: schema.KindRelationship, RelationTo: []string{"media"}},
		},
	}
)

// Pages exercises every field kind.
var Pages = schema.Collection{
	Slug: "pages",
	Fields: []schema.Field{
		{Name: "title", Kind: schema.KindText, Localized: true},
		{Name: "slug", Kind: schema.KindText, Unique: true},
		{Name: "views", Kind: schema.KindNumber},
		{Name: "published", Kind: schema.KindCheckbox},
		{Name: "publishedAt", Kind: schema.KindDate},
		{Name: "meta", Kind: schema.KindJSON},
		{Name: "status", Kind: schema.KindSelect, Options: []string{"draft", "published"}},
		{Name: "tags", Kind: schema.KindSelect, HasMany: true, Options: []string{"news", "tech", "sport"}},
		{Name: "scores", Kind: schema.KindNumber, HasMany: true},
		{Name: "author", Kind: schema.KindRelationship, RelationTo: []string{"users"}},
		{Name: "reviewers", Kind: schema.KindRelationship, HasMany: true, RelationTo: []string{"users"}},
		{Name: "related", Kind: schema.KindRelationship, HasMany: true, RelationTo: []string{"pages", "media"}},
		{Name: "hero", Kind: schema.KindGroup, Fields: []schema.Field{
			{Name: "heading", Kind: schema.KindText},
			{Name: "subheading", Kind: schema.KindText, Localized: true},
			{Name: "image", Kind: schema.KindRelationship, RelationTo: []string{"media"}},
			{Name: "links", Kind: schema.KindArray, Fields: []schema.Field{
				{Name: "label", Kind: schema.KindText},
				{Name: "url", Kind: schema.KindText},
			}},
		}},
		{Name: "items", Kind: schema.KindArray, Fields: []schema.Field{
			{Name: "label", Kind: schema.KindText},
			{Name: "caption", Kind: schema.KindText, Localized: true},
			{Name: "owner", Kind: schema.KindRelationship, RelationTo: []string{"users"}},
			{Name: "weights", Kind: schema.KindNumber, HasMany: true},
			{Name: "kinds", Kind: schema.KindSelect, HasMany: true, Options: []string{"a", "b", "c"}},
			{Name: "sub", Kind: schema.KindArray, Fields: []schema.Field{
				{Name: "note", Kind: schema.KindText},
			}},
		}},
		{Name: "layout", Kind: schema.KindBlocks, Blocks: []schema.Block{Quote, Video}},
		{Name: "translations", Kind: schema.KindArray, Localized: true, Fields: []schema.Field{
			{Name: "text", Kind: schema.KindText},
		}},
	},
}

// Collections returns every test collection.
func Collections() []schema.Collection {
	return []schema.Collection{Users, Media, Pages}
}

// Registry builds the registry of every test collection.
func Registry() *schema.Registry {
	return schema.MustRegistry(schema.DefaultConfig(), Collections()...)
}
