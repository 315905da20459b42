package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	priceNumberRegex = regexp.MustCompile(`\d[\d,]*(?:\.\d{1,2})?`)
	freeRegex        = regexp.MustCompile(`(?i)\b(free|no cost|no charge|complimentary)\b`)
)

const maxPriceText = 60

// NormalizePrice renders loose price text as "Free", "$15", "$15-$30" or, when
// no amount is found, the trimmed text itself. Empty input stays empty.
func NormalizePrice(text string) string {
	text = cleanText(text)
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)

	amounts := parsePriceAmounts(text)
	if len(amounts) == 0 {
		if freeRegex.MatchString(text) {
			return "Free"
		}
		return TruncateText(text, maxPriceText)
	}

	lo, hi := amounts[0], amounts[0]
	for _, a := range amounts[1:] {
		lo = min(lo, a)
		hi = max(hi, a)
	}
	if hi == 0 {
		return "Free"
	}

	switch {
	case lo == hi && (strings.Contains(lower, "up to") || strings.Contains(lower, "under")):
		return "Up to " + formatDollars(hi)
	case lo == hi:
		return formatDollars(hi)
	case lo == 0:
		return "Free-" + formatDollars(hi)
	default:
		return formatDollars(lo) + "-" + formatDollars(hi)
	}
}

// parsePriceAmounts finds dollar amounts. Bare numbers count only when the text
// mentions a currency.
func parsePriceAmounts(text string) []float64 {
	lower := strings.ToLower(text)
	currency := strings.Contains(text, "$") || strings.Contains(lower, "usd") || strings.Contains(lower, "dollar")
	if !currency {
		return nil
	}

	var out []float64
	for _, m := range priceNumberRegex.FindAllString(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err != nil || v < 0 || v > 100000 {
			continue
		}
		out = append(out, v)
	}
	return out
}

func formatDollars(v float64) string {
	if v == float64(int64(v)) {
		return "$" + strconv.FormatInt(int64(v), 10)
	}
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}
