package usecase

import (
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// Version markers found in corpus filenames, from most to least specific.
// The ordering matters: "Relazione_finale_v2.pdf" must classify as final.
var (
	reFinal     = regexp.MustCompile(`(?i)[_\s\-](final[ei]?|definitiv\w*|ultima)`)
	reDotted    = regexp.MustCompile(`[vV](\d+)\.(\d+)(?:\.(\d+))?`)
	reSimpleV   = regexp.MustCompile(`(?i)v0?(\d+)(?:[^0-9]|$)`)
	reCopyN     = regexp.MustCompile(`\((\d+)\)`)
	reRevN      = regexp.MustCompile(`(?i)[_\s]?rev[\s_-]?(\d+)`)
	reTrailingN = regexp.MustCompile(`(?i)_(\d{1,2})\.(?:pdf|docx?|xlsx?|pptx?|txt|odt)$`)
)

// finalVersion outranks every numbered revision.
const finalVersion = 999.0

type versionInfo struct {
	version  float64
	isFinal  bool
	baseName string
}

type versionMember struct {
	hit  domain.SearchHit
	info versionInfo
}

func extractVersionInfo(filename string) versionInfo {
	info := versionInfo{baseName: baseName(filename)}

	if reFinal.MatchString(filename) {
		info.version = finalVersion
		info.isFinal = true
		return info
	}
	if m := reDotted.FindStringSubmatch(filename); m != nil {
		patch := m[3]
		if patch == "" {
			patch = "0"
		}
		v, err := strconv.ParseFloat(m[1]+"."+m[2]+patch, 64)
		if err == nil {
			info.version = v
			return info
		}
	}
	if m := reSimpleV.FindStringSubmatch(filename); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			info.version = v
			return info
		}
	}
	if m := reCopyN.FindStringSubmatch(filename); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			info.version = v
			return info
		}
	}
	if m := reRevN.FindStringSubmatch(filename); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			info.version = v
			return info
		}
	}
	if m := reTrailingN.FindStringSubmatch(filename); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			info.version = v
			return info
		}
	}
	return info
}

var (
	reStripDotted = regexp.MustCompile(`[vV]\d+\.?\d*\.?\d*`)
	reStripRev    = regexp.MustCompile(`(?i)[_\s]?rev[\s_-]?\d+`)
	reStripCopy   = regexp.MustCompile(`\(\d+\)`)
	reStripFinal  = regexp.MustCompile(`(?i)[_\s\-](final[ei]?|definitiv\w*|ultima)`)
	reStripTrail  = regexp.MustCompile(`_\d{1,2}(\.|$)`)
	reStripSuffix = regexp.MustCompile(`(?i)[_\s-]+(with[_\s]track[_\s]changes?|firmato|signed?|approved|con[_\s]modifiche|revisioni|draft|bozza|definitiv\w*)`)
	reStripExt    = regexp.MustCompile(`(?i)\.(pdf|docx?|xlsx?|pptx?|txt|odt|ods|mpp|dwg)$`)
	reSeparators  = regexp.MustCompile(`[\s_\-]+`)
)

// baseName normalizes a filename for duplicate grouping: version markers,
// common suffixes and the extension removed, separators collapsed.
func baseName(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	// Extension first, so version markers glued to it still strip cleanly;
	// rev markers before plain v markers, so "rev1" is not read as "v1".
	base = reStripExt.ReplaceAllString(base, "")
	base = reStripRev.ReplaceAllString(base, "")
	base = reStripCopy.ReplaceAllString(base, "")
	base = reStripFinal.ReplaceAllString(base, "")
	base = reStripDotted.ReplaceAllString(base, "")
	base = reStripTrail.ReplaceAllString(base, "$1")
	base = reStripSuffix.ReplaceAllString(base, "")
	base = reSeparators.ReplaceAllString(base, "_")
	return strings.ToLower(strings.Trim(base, "_- "))
}

// deduplicateHits clusters result versions of the same logical document and
// keeps one survivor per cluster: a final revision wins outright, then the
// highest version number, then PDF over editable formats, then score.
// Returns the survivors and the number of hidden versions.
func deduplicateHits(hits []domain.SearchHit, preferPDF bool) ([]domain.SearchHit, int) {
	if len(hits) <= 1 {
		return hits, 0
	}

	groups := make(map[string][]versionMember, len(hits))
	order := make([]string, 0, len(hits))
	for _, hit := range hits {
		filename := hitFilename(hit)
		key := "solo:" + hit.DocumentID
		info := versionInfo{}
		if filename != "" {
			info = extractVersionInfo(filename)
			if info.baseName != "" {
				key = info.baseName
			}
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], versionMember{hit: hit, info: info})
	}

	removed := 0
	out := make([]domain.SearchHit, 0, len(groups))
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			out = append(out, group[0].hit)
			continue
		}

		best := group[0]
		bestScore := group[0].hit.Score
		for _, m := range group[1:] {
			if m.hit.Score > bestScore {
				bestScore = m.hit.Score
			}
			if versionLess(best, m, preferPDF) {
				best = m
			}
		}
		survivor := best.hit
		survivor.Score = bestScore
		survivor.AlternateVersions = len(group) - 1
		removed += len(group) - 1
		out = append(out, survivor)
	}
	// A survivor carries its group's best score, which can outrank hits
	// that preceded it in the incoming order. Stable, so equal scores keep
	// the fused tie-break.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, removed
}

// versionLess reports whether b should be preferred over a.
func versionLess(a, b versionMember, preferPDF bool) bool {
	if a.info.isFinal != b.info.isFinal {
		return b.info.isFinal
	}
	if a.info.version != b.info.version {
		return b.info.version > a.info.version
	}
	if preferPDF {
		aPDF := strings.HasSuffix(strings.ToLower(hitFilename(a.hit)), ".pdf")
		bPDF := strings.HasSuffix(strings.ToLower(hitFilename(b.hit)), ".pdf")
		if aPDF != bPDF {
			return bPDF
		}
	}
	return b.hit.Score > a.hit.Score
}

func hitFilename(hit domain.SearchHit) string {
	for _, candidate := range []string{hit.Path, hit.Title, hit.DocumentID} {
		if candidate != "" {
			return path.Base(strings.ReplaceAll(candidate, "\\", "/"))
		}
	}
	return ""
}
