package usecase

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// Temporal recognizer rules, tried in this order; the first rule that
// matches anywhere in the query wins and the rest are ignored. When a query
// carries several temporal phrases only the first recognized one is honored.
type dateRule struct {
	re  *regexp.Regexp
	typ domain.DateFilterType
}

var dateRules = []dateRule{
	{regexp.MustCompile(`(?i)\bdal(?:l['o])?\s+(\d{4})(?:\s+in\s+poi)?`), domain.DateFrom},
	{regexp.MustCompile(`(?i)\b(?:fino\s+al|entro\s+(?:il\s+)?)\s*(\d{4})`), domain.DateUntil},
	{regexp.MustCompile(`(?i)\bnel(?:l['o])?\s+(?:anno\s+)?(\d{4})`), domain.DateEqual},
	{regexp.MustCompile(`(?i)\btra\s+(?:il\s+)?(\d{4})\s+e\s+(?:il\s+)?(\d{4})`), domain.DateBetween},
	{regexp.MustCompile(`(?i)\b(?:dopo\s+(?:il\s+)?|successiv[io]\s+al\s+)(\d{4})`), domain.DateAfter},
	{regexp.MustCompile(`(?i)\b(?:prima\s+del|precedent[io]\s+al)\s+(\d{4})`), domain.DateBefore},
}

// Stopword set for the corpus language. Removed from the lexical query only;
// the vector backend always receives the raw query text.
var stopwords = buildStopwordSet(
	"il", "lo", "la", "i", "gli", "le",
	"un", "uno", "una", "dei", "degli", "delle",
	"di", "a", "da", "in", "con", "su", "per", "tra", "fra",
	"del", "dello", "della",
	"al", "allo", "alla", "ai", "agli", "alle",
	"dal", "dallo", "dalla", "dai", "dagli", "dalle",
	"nel", "nello", "nella", "nei", "negli", "nelle",
	"sul", "sullo", "sulla", "sui", "sugli", "sulle",
	"e", "o", "ma", "però", "anche", "oppure",
	"che", "cui", "chi", "quale", "quanto",
	"questo", "quello", "questi", "quelli",
	"suo", "sua", "loro", "nostro", "vostro",
	"essere", "avere", "fare",
	"è", "sono", "ha", "hanno", "fa", "fanno",
)

func buildStopwordSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// extractDateFilter scans the query against the ordered rule list.
func extractDateFilter(query string) *domain.DateFilter {
	for _, rule := range dateRules {
		m := rule.re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		year, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		filter := &domain.DateFilter{Type: rule.typ, Year: year}
		if rule.typ == domain.DateBetween {
			end, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			filter.YearEnd = end
		}
		return filter
	}
	return nil
}

// cleanQuery strips recognized temporal phrases (when stripDates) and the
// stopword set, producing the text handed to the lexical backend.
func cleanQuery(query string, stripDates bool) string {
	if query == "" {
		return query
	}
	if stripDates {
		for _, rule := range dateRules {
			query = rule.re.ReplaceAllString(query, " ")
		}
	}

	words := strings.Fields(strings.ToLower(query))
	cleaned := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) <= 1 {
			continue
		}
		if _, skip := stopwords[w]; skip {
			continue
		}
		cleaned = append(cleaned, w)
	}
	return strings.Join(cleaned, " ")
}

// rewriteQuery is the rewriter contract: cleaned lexical query plus the
// recognized date filter, nil when no temporal phrase was found.
func rewriteQuery(query string) (string, *domain.DateFilter) {
	filter := extractDateFilter(query)
	return cleanQuery(query, filter != nil), filter
}
