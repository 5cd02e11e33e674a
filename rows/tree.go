package rows

// RowToInsert is the decomposition of one root document: the base row plus every
// row set that lives in a dependent table.
type RowToInsert struct {
	// Row is the base row. Only columns present in the input are set.
	Row Row

	// Locales maps a locale code to the root locale row for that locale.
	Locales map[string]Row

	// Relationships holds one row per relationship value, anywhere in the document.
	Relationships []Row

	// RelationshipsToDelete holds path (and optional locale) markers for
	// relationship fields whose values are absent from the input.
	RelationshipsToDelete []Row

	// Numbers holds one row per value of every hasMany number field.
	Numbers []Row

	// NumbersToDelete mirrors RelationshipsToDelete for hasMany numbers.
	NumbersToDelete []Row

	// Selects maps each select table of the collection to its new rows. Every
	// select table appears, possibly with no rows.
	Selects map[string][]Row

	// Blocks maps a block table name to its new block rows.
	Blocks map[string][]*BlockRowToInsert

	// BlocksToDelete maps a block table name to path markers for blocks fields
	// that no longer hold elements of that type.
	BlocksToDelete map[string][]Row

	// Arrays maps each root-level array table to its new rows. Every root-level
	// array table appears, possibly with no rows.
	Arrays map[string][]*ArrayRowToInsert

	// PrunePrefixes are path prefixes ("items.") whose hoisted rows belong to a
	// replaced subtree.
	PrunePrefixes []string
}

// BlockRowToInsert is one element of a blocks field.
type BlockRowToInsert struct {
	Row     Row
	Locales map[string]Row
	Arrays  map[string][]*ArrayRowToInsert
}

// ArrayRowToInsert is one element of an array field.
type ArrayRowToInsert struct {
	Row     Row
	Locales map[string]Row
	Arrays  map[string][]*ArrayRowToInsert
}

// NewRowToInsert returns an empty decomposition with all maps allocated.
func NewRowToInsert() *RowToInsert {
	return &RowToInsert{
		Row:            Row{},
		Locales:        map[string]Row{},
		Selects:        map[string][]Row{},
		Blocks:         map[string][]*BlockRowToInsert{},
		BlocksToDelete: map[string][]Row{},
		Arrays:         map[string][]*ArrayRowToInsert{},
	}
}

// NonEmptyLocales returns the locale rows that carry at least one value besides
// the reserved locale columns.
func NonEmptyLocales(locales map[string]Row) map[string]Row {
	out := make(map[string]Row, len(locales))
	for code, row := range locales {
		for k := range row {
			if k != ColParentID && k != ColLocale && k != ColID {
				out[code] = row
				break
			}
		}
	}
	return out
}
