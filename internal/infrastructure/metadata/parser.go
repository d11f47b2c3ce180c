package metadata

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// Parser derives structured metadata from the corpus folder conventions:
//
//	_AQ/SD{N}/99_AS/AS{code}_{Client}/04_OffertaTecnica/file.ext
//	_Gare/{YYYY}_{Client}-{Subject}/01_Documentazione/file.ext
//
// Every field is best-effort; unrecognized layouts produce partial metadata,
// never an error.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

// Framework agreement tranche folders map to procurement years.
var trancheYears = map[string]int{
	"SD1": 2021,
	"SD2": 2022,
	"SD3": 2023,
	"SD4": 2024,
	"SD5": 2025,
	"SD6": 2026,
}

var docTypeAliases = map[string]string{
	"01_Documentazione":    "Documentazione",
	"02_Chiarimenti":       "Chiarimenti",
	"03_Risposta tecnica":  "Risposta Tecnica",
	"04_OffertaTecnica":    "Offerta Tecnica",
	"04_Offerta Tecnica":   "Offerta Tecnica",
	"05_OffertaTempo":      "Offerta Tempi",
	"08_AccessoAgliAtti":   "Accesso Atti",
	"98_ODA":               "Ordine Acquisto",
	"99_AS":                "Appalto Specifico",
}

// Known subject acronyms and their category, in match priority order.
type subjectRule struct {
	name     string
	category string
	re       *regexp.Regexp
}

var subjectRules = buildSubjectRules([][2]string{
	{"SIO", "Sanità"},
	{"SIA", "Sanità"},
	{"CCE", "Sanità"},
	{"LIS", "Sanità"},
	{"RIS", "Sanità"},
	{"PACS", "Sanità"},
	{"AP", "Sanità"},
	{"PS", "Sanità"},
	{"CUP", "Sanità"},
	{"118", "Emergenza"},
	{"SIT", "Territoriale"},
	{"FSE", "Territoriale"},
	{"Telemedicina", "Territoriale"},
	{"AMC", "Gestionale"},
	{"HR", "Gestionale"},
	{"Logistica", "Gestionale"},
	{"Inventario", "Gestionale"},
	{"DWH", "Analytics"},
	{"GDPR", "Compliance"},
})

func buildSubjectRules(pairs [][2]string) []subjectRule {
	rules := make([]subjectRule, 0, len(pairs))
	for _, pair := range pairs {
		// Underscores separate tokens in corpus names, so \b is not enough.
		rules = append(rules, subjectRule{
			name:     pair[0],
			category: pair[1],
			re:       regexp.MustCompile(`(?i)(?:^|[\W_])` + regexp.QuoteMeta(pair[0]) + `(?:[\W_]|$)`),
		})
	}
	return rules
}

var (
	reLotCode      = regexp.MustCompile(`\b(AS\d{4}[_A-Z0-9]*)\b`)
	reNumberedDir  = regexp.MustCompile(`^\d{2}_`)
	reTenderDir    = regexp.MustCompile(`^(\d{4})_([^-]+?)(?:-(.+))?$`)
	reVersion      = regexp.MustCompile(`[vV]\.?\d+\.\d+(?:\.\d+)?`)
	reClientPrefix = regexp.MustCompile(`(?i)^(AOU|AORN|ARNAS|AUSL|ASL|ASP|AO|Regione|Provincia)\s*`)
)

func (p *Parser) Parse(relPath string) domain.Metadata {
	var meta domain.Metadata
	parts := strings.Split(strings.Trim(relPath, "/"), "/")
	if len(parts) < 2 {
		return meta
	}

	if strings.HasPrefix(parts[0], "_") {
		meta.Area = strings.TrimLeft(parts[0], "_")
	}

	switch meta.Area {
	case "AQ":
		p.parseFramework(parts, &meta)
	case "Gare":
		p.parseTender(parts, &meta)
	}

	for _, part := range parts {
		if reNumberedDir.MatchString(part) {
			if alias, ok := docTypeAliases[part]; ok {
				meta.DocType = alias
			} else {
				meta.DocType = part
			}
			break
		}
	}

	if meta.Subject == "" {
		filename := path.Base(relPath)
		p.matchSubject(append(parts, filename), &meta)
	}

	if m := reVersion.FindString(path.Base(relPath)); m != "" {
		meta.Version = m
	}
	return meta
}

func (p *Parser) parseFramework(parts []string, meta *domain.Metadata) {
	if len(parts) > 1 {
		if year, ok := trancheYears[parts[1]]; ok {
			meta.Year = year
		}
	}
	for _, part := range parts {
		m := reLotCode.FindString(part)
		if m == "" {
			continue
		}
		meta.LotCode = m
		// Lot folders carry the client after the code: AS1440_ESTAR.
		if idx := strings.Index(part, "_"); idx > 0 && idx < len(part)-1 {
			meta.Client = part[idx+1:]
		}
		break
	}
}

func (p *Parser) parseTender(parts []string, meta *domain.Metadata) {
	m := reTenderDir.FindStringSubmatch(parts[1])
	if m == nil {
		return
	}
	if year, err := strconv.Atoi(m[1]); err == nil {
		meta.Year = year
	}
	meta.Client = cleanClientName(m[2])
	if m[3] != "" {
		p.matchSubject([]string{m[3]}, meta)
		if meta.Subject == "" {
			meta.Subject = strings.ReplaceAll(m[3], "_", " ")
		}
	}
}

func (p *Parser) matchSubject(candidates []string, meta *domain.Metadata) {
	for _, candidate := range candidates {
		for _, rule := range subjectRules {
			if rule.re.MatchString(candidate) {
				meta.Subject = rule.name
				meta.Category = rule.category
				return
			}
		}
	}
}

func cleanClientName(raw string) string {
	return strings.TrimSpace(reClientPrefix.ReplaceAllString(raw, ""))
}
