package perception

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Clock supplies "now" so date-phrase resolution is deterministic in tests.
type Clock func() time.Time

const dateLayout = "2006-01-02"

var (
	isoDateRe   = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	lastNDaysRe = regexp.MustCompile(`\b(?:last|past)\s+(\d+)\s+days?\b`)
	lastNWeeksRe = regexp.MustCompile(`\b(?:last|past)\s+(\d+)\s+weeks?\b`)
)

var monthNames = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

var monthYearRe = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)(?:\s+(\d{4}))?\b`)

// defaultDateRange is the window used when the text names no dates:
// the last 30 days ending yesterday.
func defaultDateRange() DateRange {
	return DateRange{Start: "30daysAgo", End: "yesterday", Label: "last_30_days"}
}

// parseDateRange resolves the text's date phrasing into a single range.
// Precedence, most specific first: absolute dates, named months, relative
// phrases. Absolute always outranks relative even when both appear.
func parseDateRange(text string, now time.Time) (DateRange, bool) {
	if r, ok := parseAbsoluteDates(text); ok {
		return r, true
	}
	if r, ok := parseNamedMonth(text, now); ok {
		return r, true
	}
	if r, ok := parseRelativePhrase(text, now); ok {
		return r, true
	}
	return defaultDateRange(), false
}

// parseAbsoluteDates handles explicit ISO dates: a pair is a range, a
// single date is that one day.
func parseAbsoluteDates(text string) (DateRange, bool) {
	matches := isoDateRe.FindAllString(text, 2)
	switch len(matches) {
	case 0:
		return DateRange{}, false
	case 1:
		return DateRange{Start: matches[0], End: matches[0], Label: matches[0]}, true
	default:
		start, end := matches[0], matches[1]
		if end < start {
			start, end = end, start
		}
		return DateRange{Start: start, End: end, Label: fmt.Sprintf("%s_to_%s", start, end)}, true
	}
}

// parseNamedMonth handles "march" or "march 2025". A bare month later in
// the calendar than the current one is taken from the previous year.
func parseNamedMonth(text string, now time.Time) (DateRange, bool) {
	for _, loc := range monthYearRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]]
		yearStr := ""
		if loc[4] >= 0 {
			yearStr = text[loc[4]:loc[5]]
		}
		// "may" doubles as a modal verb, so without a year it only reads
		// as the month when a preposition anchors it ("in may").
		if name == "may" && yearStr == "" && !monthAnchored(text[:loc[0]]) {
			continue
		}
		month := monthNames[name]

		year := now.Year()
		if yearStr != "" {
			year, _ = strconv.Atoi(yearStr)
		} else if month > now.Month() {
			year--
		}

		first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		last := first.AddDate(0, 1, -1)
		return DateRange{
			Start: first.Format(dateLayout),
			End:   last.Format(dateLayout),
			Label: name,
		}, true
	}
	return DateRange{}, false
}

// monthAnchored reports whether the text immediately before a month word
// is a preposition that marks it as a date reference.
func monthAnchored(prefix string) bool {
	prefix = strings.TrimRight(prefix, " ")
	for _, p := range []string{"in", "for", "during", "of", "since"} {
		if prefix == p || strings.HasSuffix(prefix, " "+p) {
			return true
		}
	}
	return false
}

// parseRelativePhrase handles the rolling-window vocabulary. Windows end at
// "yesterday" so partial-day data never skews the report.
func parseRelativePhrase(text string, now time.Time) (DateRange, bool) {
	if m := lastNDaysRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			return DateRange{
				Start: fmt.Sprintf("%ddaysAgo", n),
				End:   "yesterday",
				Label: fmt.Sprintf("last_%d_days", n),
			}, true
		}
	}
	if m := lastNWeeksRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			return DateRange{
				Start: fmt.Sprintf("%ddaysAgo", n*7),
				End:   "yesterday",
				Label: fmt.Sprintf("last_%d_weeks", n),
			}, true
		}
	}

	switch {
	case strings.Contains(text, "this month"):
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return DateRange{Start: first.Format(dateLayout), End: "yesterday", Label: "this_month"}, true
	case strings.Contains(text, "last month"):
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
		last := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
		return DateRange{Start: first.Format(dateLayout), End: last.Format(dateLayout), Label: "last_month"}, true
	case strings.Contains(text, "this week"):
		// Week starts Monday.
		offset := (int(now.Weekday()) + 6) % 7
		first := now.AddDate(0, 0, -offset)
		return DateRange{Start: first.Format(dateLayout), End: "yesterday", Label: "this_week"}, true
	case strings.Contains(text, "last week"):
		offset := (int(now.Weekday()) + 6) % 7
		thisMonday := now.AddDate(0, 0, -offset)
		return DateRange{
			Start: thisMonday.AddDate(0, 0, -7).Format(dateLayout),
			End:   thisMonday.AddDate(0, 0, -1).Format(dateLayout),
			Label: "last_week",
		}, true
	case strings.Contains(text, "yesterday"):
		return DateRange{Start: "yesterday", End: "yesterday", Label: "yesterday"}, true
	case strings.Contains(text, "today"):
		return DateRange{Start: "today", End: "today", Label: "today"}, true
	case strings.Contains(text, "this year"):
		first := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return DateRange{Start: first.Format(dateLayout), End: "yesterday", Label: "this_year"}, true
	}
	return DateRange{}, false
}
