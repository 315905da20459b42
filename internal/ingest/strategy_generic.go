package ingest

import (
	"context"
	"encoding/json"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/cityguide/listings-ingest/internal/models"
)

// GenericStrategy extracts listings from any page using the job's selector
// hints, schema.org JSON-LD and free-text event lines, in that order. Event
// feeds found by API probing are decoded first.
type GenericStrategy struct{}

func (s *GenericStrategy) Name() string { return "generic" }

func (s *GenericStrategy) Matches(models.SourceJob) bool { return true }

func (s *GenericStrategy) Extract(ctx context.Context, page Page, job models.SourceJob) []CandidateRecord {
	if job.Category == models.CategoryEvents && !looksLikeHTML(page) {
		if recs := extractWordPressEvents(page, job); len(recs) > 0 {
			return recs
		}
	}

	doc, err := ParseHTML(page.Content)
	if err != nil {
		log.Printf("[job:%s] generic: %v", job.ID, err)
		return nil
	}

	if job.Hints.Container != "" {
		if recs := extractBlocks(doc, job.Hints, page, job); len(recs) > 0 {
			return recs
		}
	}
	if recs := extractJSONLD(doc, page, job); len(recs) > 0 {
		return recs
	}
	if job.Category.Dated() {
		return extractEventLines(pageLines(page, doc), page, job)
	}
	return extractPageRecord(doc, page, job)
}

// extractBlocks reads one record per container match. Each field walks its
// chain: hint, field class, generic tag.
func extractBlocks(doc Document, h models.ExtractionHints, page Page, job models.SourceJob) []CandidateRecord {
	var out []CandidateRecord
	for _, b := range doc.Blocks(h.Container) {
		title := b.Text(h.Title, ".event-title", ".title", ".card-title", ".name", "h2", "h3", "h4", "a")
		if title == "" {
			continue
		}

		date := b.Attr("datetime", h.Date, "time")
		if date == "" {
			date = b.Text(h.Date, ".event-date", ".date", ".dates", "time", ".when")
		}
		if clock := b.Text(h.Time, ".event-time", ".time"); clock != "" && !strings.Contains(date, clock) {
			date = strings.TrimSpace(date + " " + clock)
		}

		desc := b.Text(h.Description, ".description", ".summary", ".excerpt", "p")
		if desc == title {
			desc = ""
		}

		link := b.Attr("href", h.Link, "a")
		image := b.Attr("src", h.Image, "img")
		if image == "" {
			image = b.Attr("data-src", h.Image, "img")
		}

		out = append(out, CandidateRecord{
			Category:    job.Category,
			Title:       title,
			Description: desc,
			DateText:    date,
			Venue:       b.Text(h.Venue, ".venue", ".event-venue", ".location-name"),
			Location:    b.Text(h.Location, ".address", ".location", "address"),
			Price:       b.Text(h.Price, ".price", ".cost", ".admission"),
			Website:     resolveURL(page.URL, link),
			ImageURL:    resolveURL(page.URL, image),
			SourceURL:   page.URL,
		})
	}
	return out
}

// extractPageRecord treats the whole page as one venue-like listing.
func extractPageRecord(doc Document, page Page, job models.SourceJob) []CandidateRecord {
	root := doc.Root()
	title := root.Text(job.Hints.Title, "h1")
	if title == "" {
		title = doc.Title()
	}
	if title == "" {
		return nil
	}
	desc := root.Attr("content", `meta[name="description"]`, `meta[property="og:description"]`)
	if desc == "" {
		desc = root.Text(job.Hints.Description, "main p", "article p", "p")
	}
	return []CandidateRecord{{
		Category:    job.Category,
		Title:       title,
		Description: desc,
		Location:    root.Text(job.Hints.Location, "address", ".address", ".location"),
		Price:       root.Text(job.Hints.Price, ".price", ".admission"),
		Website:     page.URL,
		ImageURL:    resolveURL(page.URL, root.Attr("content", `meta[property="og:image"]`)),
		SourceURL:   page.URL,
	}}
}

const monthAlternation = `January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sept|Sep|Oct|Nov|Dec`

const lineDate = `((?:(?:Mon|Tue|Wed|Thu|Fri|Sat|Sun)[a-z]*\.?,?\s+)?(?:` + monthAlternation + `)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?|\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{2}-\d{2})`

const lineClock = `(\d{1,2}(?::\d{2})?\s*(?:[aApP]\.?\s?[mM]\.?))`

var (
	// Title — Date [at Venue][, Time]
	eventLineVenueFirst = regexp.MustCompile(`^(.{3,120}?)\s+(?:[—–|]|-{1,2})\s+` + lineDate + `(?:\s+(?:at|@)\s+(.+?))?(?:,?\s+` + lineClock + `)?\s*\.?$`)
	// Title — Date[, Time] [at Venue]
	eventLineClockFirst = regexp.MustCompile(`^(.{3,120}?)\s+(?:[—–|]|-{1,2})\s+` + lineDate + `,?\s+` + lineClock + `(?:\s+(?:at|@)\s+(.+?))?\s*\.?$`)
)

// extractEventLines matches free-text listing lines.
func extractEventLines(lines []string, page Page, job models.SourceJob) []CandidateRecord {
	var out []CandidateRecord
	for _, line := range lines {
		if len(line) > 300 {
			continue
		}
		var title, date, venue, clock string
		if m := eventLineClockFirst.FindStringSubmatch(line); m != nil {
			title, date, clock, venue = m[1], m[2], m[3], m[4]
		} else if m := eventLineVenueFirst.FindStringSubmatch(line); m != nil {
			title, date, venue, clock = m[1], m[2], m[3], m[4]
		} else {
			continue
		}

		dateText := date
		if clock != "" {
			dateText += " " + clock
		}
		out = append(out, CandidateRecord{
			Category:  job.Category,
			Title:     strings.TrimSpace(title),
			DateText:  dateText,
			Venue:     strings.TrimRight(strings.TrimSpace(venue), ".,;"),
			SourceURL: page.URL,
		})
	}
	return out
}

// pageLines splits plain text on newlines and HTML into leaf block texts.
func pageLines(page Page, doc Document) []string {
	if looksLikeHTML(page) {
		return doc.Lines()
	}
	var out []string
	for _, l := range strings.Split(page.Content, "\n") {
		if l = cleanText(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func looksLikeHTML(page Page) bool {
	ct := strings.ToLower(page.ContentType)
	if strings.Contains(ct, "html") {
		return true
	}
	if strings.Contains(ct, "json") {
		return false
	}
	body := strings.TrimSpace(page.Content)
	if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
		return false
	}
	head := strings.ToLower(page.Content[:min(len(page.Content), 1024)])
	return strings.Contains(head, "<html") || strings.Contains(head, "<body") || strings.Contains(head, "<div") || strings.Contains(head, "<p")
}

// extractJSONLD maps schema.org nodes of the job's category.
func extractJSONLD(doc Document, page Page, job models.SourceJob) []CandidateRecord {
	var out []CandidateRecord
	for _, raw := range doc.JSONLD() {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		walkLD(v, func(node map[string]any) {
			if ldCategory(node["@type"]) != job.Category {
				return
			}
			c := CandidateRecord{
				Category:    job.Category,
				Title:       ldString(node["name"]),
				Description: HTMLToText(ldString(node["description"])),
				Website:     resolveURL(page.URL, ldString(node["url"])),
				ImageURL:    resolveURL(page.URL, ldImage(node["image"])),
				SourceURL:   page.URL,
			}
			if job.Category.Dated() {
				c.DateText = ldString(node["startDate"])
				c.Venue, c.Location = ldPlace(node["location"])
				c.Price = ldPrice(node["offers"])
			} else {
				_, c.Location = ldPlace(node)
				c.Price = firstNonEmpty(ldString(node["priceRange"]), ldPrice(node["offers"]))
				c.Subcategory = ldString(node["servesCuisine"])
			}
			out = append(out, c)
		})
	}
	return out
}

func walkLD(v any, visit func(map[string]any)) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			walkLD(item, visit)
		}
	case map[string]any:
		if _, ok := t["@type"]; ok {
			visit(t)
		}
		for _, key := range []string{"@graph", "itemListElement", "item", "subEvent"} {
			if child, ok := t[key]; ok {
				walkLD(child, visit)
			}
		}
	}
}

func ldCategory(typ any) models.Category {
	var types []string
	switch t := typ.(type) {
	case string:
		types = []string{t}
	case []any:
		for _, x := range t {
			if s, ok := x.(string); ok {
				types = append(types, s)
			}
		}
	}
	for _, t := range types {
		switch {
		case strings.HasSuffix(t, "Event"), t == "Festival":
			return models.CategoryEvents
		case t == "Restaurant", t == "FoodEstablishment", t == "CafeOrCoffeeShop", t == "BarOrPub", t == "Bakery":
			return models.CategoryRestaurants
		case t == "Playground":
			return models.CategoryPlaygrounds
		case t == "TouristAttraction", t == "Museum", t == "Zoo", t == "AmusementPark", t == "Park", t == "LandmarksOrHistoricalBuildings":
			return models.CategoryAttractions
		}
	}
	return ""
}

func ldString(v any) string {
	switch t := v.(type) {
	case string:
		return cleanText(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		for _, x := range t {
			if s := ldString(x); s != "" {
				return s
			}
		}
	case map[string]any:
		return firstNonEmpty(ldString(t["name"]), ldString(t["@value"]))
	}
	return ""
}

func ldImage(v any) string {
	switch t := v.(type) {
	case map[string]any:
		return ldString(t["url"])
	case []any:
		if len(t) > 0 {
			return ldImage(t[0])
		}
	}
	return ldString(v)
}

// ldPlace returns a venue name and a postal location.
func ldPlace(v any) (string, string) {
	switch t := v.(type) {
	case string:
		return "", cleanText(t)
	case []any:
		if len(t) > 0 {
			return ldPlace(t[0])
		}
	case map[string]any:
		venue := ldString(t["name"])
		switch addr := t["address"].(type) {
		case string:
			return venue, cleanText(addr)
		case map[string]any:
			var parts []string
			for _, k := range []string{"streetAddress", "addressLocality", "addressRegion"} {
				if s := ldString(addr[k]); s != "" {
					parts = append(parts, s)
				}
			}
			return venue, strings.Join(parts, ", ")
		}
		return venue, ""
	}
	return "", ""
}

func ldPrice(v any) string {
	switch t := v.(type) {
	case []any:
		if len(t) > 0 {
			return ldPrice(t[0])
		}
	case map[string]any:
		price := firstNonEmpty(ldString(t["price"]), ldString(t["lowPrice"]))
		if price == "" {
			return ""
		}
		if f, err := strconv.ParseFloat(price, 64); err == nil {
			if f == 0 {
				return "Free"
			}
			cur := ldString(t["priceCurrency"])
			if cur == "" || cur == "USD" {
				return "$" + strings.TrimSuffix(strconv.FormatFloat(f, 'f', 2, 64), ".00")
			}
			return price + " " + cur
		}
		return price
	}
	return ""
}
