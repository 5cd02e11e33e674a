package schema

// Table naming. These names are the compatibility contract with existing
// stores and must not change.

// LocalesTableName returns the locale table of a level table.
func LocalesTableName(table string) string {
	return table + "_locales"
}

// RelationshipsTableName returns the relationship table of a collection.
func RelationshipsTableName(collection string) string {
	return collection + "_relationships"
}

// NumbersTableName returns the hasMany number table of a collection.
func NumbersTableName(collection string) string {
	return collection + "_numbers"
}

// BlockTableName returns the table holding blocks of type slug in a collection.
func BlockTableName(collection, slug string) string {
	return collection + "_" + slug
}

// ArrayTableName returns the table of an array field declared at the level
// whose table is levelTable, under column prefix prefix.
func ArrayTableName(levelTable, prefix, name string) string {
	return levelTable + "_" + prefix + name
}

// SelectTableName returns the table of a hasMany select field declared at the
// level whose table is levelTable, under column prefix prefix.
func SelectTableName(levelTable, prefix, name string) string {
	return levelTable + "_" + prefix + name
}

// GroupPrefix extends a column prefix with a group name.
func GroupPrefix(prefix, name string) string {
	return prefix + name + "_"
}
