package perception

import "strings"

// synonym maps one request phrase to a canonical identifier or value.
type synonym struct {
	phrase string
	value  string
}

// Phrase tables for the deterministic rule pass. Order inside each table is
// deliberate: earlier entries win, and longer phrases sort before their
// substrings so "engaged sessions" is not swallowed by "sessions".

// metricSynonyms maps request phrases to metric identifiers.
var metricSynonyms = []synonym{
	{"engagement rate", "engagementRate"},
	{"engaged sessions", "engagedSessions"},
	{"average session duration", "averageSessionDuration"},
	{"session duration", "averageSessionDuration"},
	{"bounce rate", "bounceRate"},
	{"event count", "eventCount"},
	{"new users", "newUsers"},
	{"total users", "totalUsers"},
	{"active users", "activeUsers"},
	{"conversions", "conversions"},
	{"revenue", "totalRevenue"},
	{"visitors", "activeUsers"},
	{"users", "activeUsers"},
	{"sessions", "sessions"},
	{"visits", "sessions"},
	{"events", "eventCount"},
}

// Context-sensitive default metric sets, used when no explicit metric
// phrase matched. Engagement intent outranks channel intent when both
// triggers are present.
var (
	engagementDefaultMetrics = []string{"engagementRate", "engagedSessions", "eventCount", "screenPageViews"}
	channelDefaultMetrics    = []string{"sessions", "activeUsers"}
	pageviewDefaultMetrics   = []string{"screenPageViews", "sessions"}
	generalDefaultMetrics    = []string{"activeUsers", "sessions", "screenPageViews"}
)

var engagementIntentPhrases = []string{
	"in terms of engagement",
	"engagement",
	"engaging",
	"most engaged",
}

var channelIntentPhrases = []string{
	"traffic source",
	"where is my traffic coming from",
	"channels",
	"channel",
	"sources",
	"source",
	"referrals",
}

// Pageview phrasing routes through the default set rather than a single
// metric so a bare "pageviews" question still carries session context.
var pageviewIntentPhrases = []string{
	"pageview",
	"page view",
	"screen views",
	"top pages",
	"popular pages",
}

// dimensionSynonyms maps request phrases to dimension identifiers. The
// "author" entries target the custom content-author dimension registered
// on the property.
var dimensionSynonyms = []synonym{
	{"landing page", "landingPage"},
	{"channel group", "sessionDefaultChannelGroup"},
	{"channels", "sessionDefaultChannelGroup"},
	{"channel", "sessionDefaultChannelGroup"},
	{"sources", "sessionSource"},
	{"source", "sessionSource"},
	{"medium", "sessionMedium"},
	{"countries", "country"},
	{"country", "country"},
	{"cities", "city"},
	{"city", "city"},
	{"browsers", "browser"},
	{"browser", "browser"},
	{"devices", "deviceCategory"},
	{"device", "deviceCategory"},
	{"operating system", "operatingSystem"},
	{"authors", "customEvent:author"},
	{"author", "customEvent:author"},
	{"pages", "pagePath"},
	{"page", "pagePath"},
	{"hostname", "hostName"},
}

// explicitDatePhrases force-keep the date dimension even when a categorical
// dimension is present.
var explicitDatePhrases = []string{
	"by day", "by date", "daily", "per day", "over time", "trend", "day by day",
}

// entityDimensions are the per-entity dimensions that suppress the date
// dimension on engagement queries, so results aggregate per entity rather
// than per day.
var entityDimensions = map[string]bool{
	"customEvent:author": true,
	"pagePath":           true,
	"landingPage":        true,
}

// countryFilters maps location phrases to canonical country values.
var countryFilters = []synonym{
	{"united states", "United States"},
	{"the usa", "United States"},
	{"the us", "United States"},
	{"america", "United States"},
	{"united kingdom", "United Kingdom"},
	{"the uk", "United Kingdom"},
	{"germany", "Germany"},
	{"france", "France"},
	{"india", "India"},
	{"canada", "Canada"},
	{"australia", "Australia"},
	{"japan", "Japan"},
	{"brazil", "Brazil"},
	{"spain", "Spain"},
}

// cityFilters maps city phrases to canonical city values.
var cityFilters = []synonym{
	{"new york", "New York"},
	{"london", "London"},
	{"paris", "Paris"},
	{"berlin", "Berlin"},
	{"tokyo", "Tokyo"},
	{"sydney", "Sydney"},
	{"toronto", "Toronto"},
	{"mumbai", "Mumbai"},
	{"san francisco", "San Francisco"},
}

// deviceFilters maps device phrases to deviceCategory values.
var deviceFilters = []synonym{
	{"mobile", "mobile"},
	{"phones", "mobile"},
	{"phone", "mobile"},
	{"desktop", "desktop"},
	{"computers", "desktop"},
	{"tablets", "tablet"},
	{"tablet", "tablet"},
}

// compositePhrases flag a request for the full multi-section report.
var compositePhrases = []string{
	"full breakdown",
	"comprehensive report",
	"complete analysis",
	"comprehensive",
	"complete overview",
	"everything about my traffic",
}

var chartPhrases = []struct {
	phrase string
	hint   ChartHint
}{
	{"doughnut", ChartDoughnut},
	{"donut", ChartDoughnut},
	{"pie", ChartPie},
	{"bar chart", ChartBar},
	{"bar graph", ChartBar},
	{"line chart", ChartLine},
	{"line graph", ChartLine},
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
