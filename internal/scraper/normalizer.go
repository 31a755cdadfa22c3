package scraper

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"boardwatch/scraper-engine/internal/model"
)

// Keyword vocabularies for best-effort field extraction. Matching is
// case-insensitive against title + description.
var (
	remoteKeywords = []string{"remote", "wfh", "work from home", "anywhere", "fully distributed"}

	employmentTypes = map[string][]string{
		"full_time":  {"full-time", "full time", "fulltime", "permanent"},
		"part_time":  {"part-time", "part time", "parttime"},
		"contract":   {"contract", "contractor", "freelance", "b2b"},
		"internship": {"intern", "internship", "trainee"},
		"temporary":  {"temporary", "temp ", "seasonal"},
	}

	// currencySalaryPattern matches currency-anchored figures and ranges:
	// "$70,000 - $90,000", "€65k", "USD 120000".
	currencySalaryPattern = regexp.MustCompile(`(?i)(?:[$€£]|usd|eur|gbp)\s?(\d{1,3}(?:,\d{3})+|\d{2,3}k|\d{4,6})(?:\s*[-–—]\s*(?:[$€£]|usd|eur|gbp)?\s?(\d{1,3}(?:,\d{3})+|\d{2,3}k|\d{4,6}))?`)

	// kRangeSalaryPattern matches bare thousand-suffixed ranges: "80k–100k".
	kRangeSalaryPattern = regexp.MustCompile(`(?i)\b(\d{2,3}k)\s*[-–—]\s*(\d{2,3}k)\b`)
)

// Quality score weights — field-completeness signals, summing to 1.0.
const (
	weightDescription = 0.30 // description length above threshold
	weightLocation    = 0.20
	weightSalary      = 0.20
	weightPostedAt    = 0.15
	weightCompany     = 0.15

	descriptionLengthThreshold = 200
)

// locationPattern matches "Location: X" style lines in summaries.
var locationPattern = regexp.MustCompile(`(?i)location:\s*([^\n|<,.;]{2,60})`)

// Normalizer maps a RawJob's heterogeneous payload into a canonical
// NormalizedJob. It must never fail: absent data yields zero values, since
// any single malformed listing must not stop the batch.
type Normalizer struct {
	publishThreshold float64
}

// NewNormalizer constructs a Normalizer. Jobs scoring at or above
// publishThreshold are flagged publishable as an initial signal only.
func NewNormalizer(publishThreshold float64) *Normalizer {
	return &Normalizer{publishThreshold: publishThreshold}
}

// Normalize produces the NormalizedJob for a RawJob. Best effort on every
// optional field; Title falls back to the source URL so the record is never
// empty.
func (n *Normalizer) Normalize(raw *model.RawJob) *model.NormalizedJob {
	title := strings.TrimSpace(raw.SourceTitle)
	if title == "" {
		title = raw.SourceURL
	}

	description := extractDescription(raw.Raw)
	haystack := strings.ToLower(title + " " + description)

	salaryMin, salaryMax := parseSalary(title + " " + description)
	location := extractLocation(description)

	job := &model.NormalizedJob{
		ID:             uuid.NewString(),
		RawID:          raw.ID,
		Title:          title,
		Company:        strings.TrimSpace(raw.SourceCompany),
		Location:       location,
		Remote:         containsAny(haystack, remoteKeywords),
		EmploymentType: matchEmploymentType(haystack),
		Description:    description,
		Tags:           extractTags(haystack),
		SalaryMin:      salaryMin,
		SalaryMax:      salaryMax,
		ApplyURL:       raw.SourceURL,
		PostedAt:       raw.PostedAt,
		CreatedAt:      time.Now().UTC(),
	}
	if job.Remote && job.Location == "" {
		job.Location = "Remote"
	}

	job.QualityScore = n.score(job)
	job.IsPublished = job.QualityScore >= n.publishThreshold
	return job
}

// score is a bounded [0,1] weighted sum of completeness signals.
func (n *Normalizer) score(job *model.NormalizedJob) float64 {
	score := 0.0
	if len(job.Description) >= descriptionLengthThreshold {
		score += weightDescription
	}
	if job.Location != "" {
		score += weightLocation
	}
	if job.SalaryMin != nil || job.SalaryMax != nil {
		score += weightSalary
	}
	if job.PostedAt != nil {
		score += weightPostedAt
	}
	if job.Company != "" {
		score += weightCompany
	}
	if score > 1 {
		score = 1
	}
	return score
}

// extractDescription pulls readable text out of the raw payload. Raw is
// either a JSON fragment with a "summary" field (RSS) or an HTML fragment
// (board listings); both degrade to stripped text.
func extractDescription(raw string) string {
	if summary := jsonField(raw, "summary"); summary != "" {
		return stripMarkup(summary)
	}
	return stripMarkup(raw)
}

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	spacesPattern = regexp.MustCompile(`\s+`)
)

func stripMarkup(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = spacesPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// jsonField does a tolerant single-field extraction without requiring the
// payload to be valid JSON end to end.
func jsonField(raw, field string) string {
	pattern := regexp.MustCompile(`"` + field + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	m := pattern.FindStringSubmatch(raw)
	if len(m) < 2 {
		return ""
	}
	unquoted, err := strconv.Unquote(`"` + m[1] + `"`)
	if err != nil {
		return m[1]
	}
	return unquoted
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func matchEmploymentType(haystack string) string {
	// Fixed precedence so mixed listings map deterministically.
	for _, kind := range []string{"internship", "contract", "part_time", "temporary", "full_time"} {
		if containsAny(haystack, employmentTypes[kind]) {
			return kind
		}
	}
	return ""
}

func extractLocation(description string) string {
	m := locationPattern.FindStringSubmatch(description)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// commonTags are surfaced as tags when mentioned anywhere in the posting.
var commonTags = []string{
	"go", "golang", "python", "java", "javascript", "typescript", "rust",
	"react", "kubernetes", "docker", "aws", "gcp", "azure", "sql", "devops",
	"backend", "frontend", "fullstack", "data", "ml", "security",
}

func extractTags(haystack string) []string {
	tags := make([]string, 0, 4)
	for _, t := range commonTags {
		if containsWord(haystack, t) {
			tags = append(tags, t)
		}
	}
	return tags
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(haystack[start-1])
		afterOK := end == len(haystack) || !isWordChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = end
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// parseSalary extracts a salary range (annual figures) from free text.
// Single figures populate SalaryMin only. Figures must be currency-anchored
// or thousand-suffixed so bare numbers (years, ids) are not mistaken for pay.
func parseSalary(text string) (*int, *int) {
	m := currencySalaryPattern.FindStringSubmatch(text)
	if m == nil {
		m = kRangeSalaryPattern.FindStringSubmatch(text)
	}
	if m == nil {
		return nil, nil
	}

	low := parseAmount(m[1])
	if low == 0 {
		return nil, nil
	}
	min := low

	if m[2] != "" {
		if high := parseAmount(m[2]); high >= low {
			return &min, &high
		}
	}
	return &min, nil
}

func parseAmount(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	multiplier := 1
	if strings.HasSuffix(s, "k") {
		multiplier = 1000
		s = strings.TrimSuffix(s, "k")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, ".", "")
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v * multiplier
}
