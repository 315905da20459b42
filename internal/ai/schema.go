package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Item fields the extraction model may return, per category.
var listingFields = map[string]map[string]string{
	"events": {
		"title":       "event name",
		"date":        "date and time as written, or YYYY-MM-DD HH:MM",
		"venue":       "venue name",
		"location":    "street address or city",
		"description": "one or two sentences",
		"price":       "ticket price or Free",
		"category":    "music, sports, arts, family, food, festival or community",
		"url":         "detail page link",
	},
	"restaurants": {
		"name":        "restaurant name",
		"cuisine":     "cuisine type",
		"location":    "street address",
		"description": "one or two sentences",
		"price_range": "$, $$, $$$ or $$$$",
		"url":         "website",
	},
	"restaurant_openings": {
		"name":         "restaurant name",
		"opening_date": "opening date as written",
		"cuisine":      "cuisine type",
		"location":     "street address",
		"description":  "one or two sentences",
		"url":          "website",
	},
	"playgrounds": {
		"name":        "park or playground name",
		"location":    "street address",
		"description": "one or two sentences",
		"amenities":   "comma separated amenities",
		"url":         "website",
	},
	"attractions": {
		"name":        "attraction name",
		"location":    "street address",
		"description": "one or two sentences",
		"price":       "admission price or Free",
		"category":    "museum, park, zoo, landmark or entertainment",
		"url":         "website",
	},
}

// TitleField is the required name field of a category's items.
func TitleField(category string) string {
	if category == "events" {
		return "title"
	}
	return "name"
}

// ListingSchema is the JSON schema one extracted item of category must satisfy.
func ListingSchema(category string) map[string]any {
	fields, ok := listingFields[category]
	if !ok {
		fields = listingFields["attractions"]
	}
	props := make(map[string]any, len(fields))
	for name := range fields {
		props[name] = map[string]any{"type": []string{"string", "null"}}
	}
	title := TitleField(category)
	props[title] = map[string]any{"type": "string", "minLength": 2}

	required := []string{title}
	if category == "events" {
		props["date"] = map[string]any{"type": "string", "minLength": 3}
		required = append(required, "date")
	}

	return map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// DescribeSchema renders the category's fields for a prompt.
func DescribeSchema(category string) string {
	fields, ok := listingFields[category]
	if !ok {
		fields = listingFields["attractions"]
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "- %q: %s\n", name, fields[name])
	}
	return b.String()
}

var (
	compiledMu sync.Mutex
	compiled   = map[string]*jsonschema.Schema{}
)

func compileListingSchema(category string) (*jsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()
	if s, ok := compiled[category]; ok {
		return s, nil
	}

	b, err := json.Marshal(ListingSchema(category))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	name := category + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	compiled[category] = s
	return s, nil
}

// ValidateItem checks one raw item against the category schema.
func ValidateItem(category string, item []byte) error {
	schema, err := compileListingSchema(category)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(item, &v); err != nil {
		return fmt.Errorf("unmarshal item: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("item does not match schema: %w", err)
	}
	return nil
}
