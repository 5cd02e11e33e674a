package testschema

// PageDocument returns a Pages document that sets every field kind.
func PageDocument() map[string]any {
	return map[string]any{
		"title":       map[string]any{"en": "Hello", "de": "Hallo"},
		"slug":        "hello",
		"views":       12.0,
		"published":   true,
		"publishedAt": "2024-05-01T10:00:00Z",
		"meta":        map[string]any{"k": "v"},
		"status":      "draft",
		"tags":        []any{"tech", "news"},
		"scores":      []any{3.0, 1.0, 2.0},
		"author":      "u1",
		"reviewers":   []any{"u2", "u1"},
		"related": []any{
			map[string]any{"relationTo": "media", "value": "m1"},
			map[string]any{"relationTo": "pages", "value": "p2"},
		},
		"hero": map[string]any{
			"heading":    "H",
			"subheading": map[string]any{"en": "sub"},
			"image":      "m2",
			"links":      []any{map[string]any{"label": "a", "url": "/a"}},
		},
		"items": []any{
			map[string]any{
				"label":   "one",
				"caption": map[string]any{"en": "c1"},
				"owner":   "u1",
				"weights": []any{1.5},
				"kinds":   []any{"a", "c"},
				"sub":     []any{map[string]any{"note": "n"}},
			},
			map[string]any{"label": "two"},
		},
		"layout": []any{
			map[string]any{
				"blockType": "quote",
				"text":      "q1",
				"citation":  map[string]any{"en": "c"},
				"sources":   []any{map[string]any{"url": "/s"}},
			},
			map[string]any{"blockType": "video", "url": "/v", "poster": "m1"},
			map[string]any{"blockType": "quote", "text": "q2"},
		},
		"translations": map[string]any{
			"en": []any{map[string]any{"text": "x"}},
			"de": []any{map[string]any{"text": "y"}},
		},
	}
}

// StripIDs returns a copy of a composed document without "id" keys, so
// documents compare by content.
func StripIDs(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			if k == "id" {
				continue
			}
			out[k] = StripIDs(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = StripIDs(e)
		}
		return out
	}
	return v
}
