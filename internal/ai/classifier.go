package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Subcategories lists the tags the classifier may choose from, per category.
var Subcategories = map[string][]string{
	"events":              {"Music", "Sports", "Arts", "Family", "Food & Drink", "Festival", "Community"},
	"restaurants":         {"American", "Mexican", "Italian", "Asian", "Breakfast", "Bar & Grill", "Cafe"},
	"restaurant_openings": {"American", "Mexican", "Italian", "Asian", "Breakfast", "Bar & Grill", "Cafe"},
	"playgrounds":         {"Playground", "Splash Pad", "Park", "Indoor Play"},
	"attractions":         {"Museum", "Park", "Zoo", "Landmark", "Entertainment"},
}

type ClassificationResult struct {
	Subcategory string `json:"subcategory"`
}

// ClassifyListing picks one subcategory for a listing. An empty result means
// the model chose nothing from the allowed list.
func ClassifyListing(ctx context.Context, client Completer, category, title, description string) (string, error) {
	allowed, ok := Subcategories[category]
	if !ok {
		return "", fmt.Errorf("no subcategories for %q", category)
	}

	prompt := fmt.Sprintf(`You are classifying local %s listings for a city guide.

TITLE: %s
DESCRIPTION: %s

Pick the single most relevant tag from this EXACT list. Do not invent new tags.
AVAILABLE TAGS: %s

Return a JSON object with this format:
{
  "subcategory": "Tag"
}

If no tag applies, return an empty string. RESPOND ONLY WITH JSON.`, category, title, description, strings.Join(allowed, ", "))

	resp, err := client.GenerateCompletion(ctx, prompt, true)
	if err != nil {
		return "", err
	}

	var result ClassificationResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &result); err != nil {
		return "", fmt.Errorf("failed to parse classification json: %w. Response: %s", err, resp)
	}

	valid := filterValid([]string{result.Subcategory}, allowed)
	if len(valid) == 0 {
		return "", nil
	}
	return valid[0], nil
}

func filterValid(tags []string, allowed []string) []string {
	valid := make([]string, 0)
	allowedMap := make(map[string]bool)
	for _, a := range allowed {
		allowedMap[a] = true
	}

	for _, t := range tags {
		t = strings.TrimSpace(t)
		if allowedMap[t] {
			valid = append(valid, t)
			continue
		}
		for a := range allowedMap {
			if strings.EqualFold(a, t) {
				valid = append(valid, a) // Store the canonical one
				break
			}
		}
	}
	return valid
}
