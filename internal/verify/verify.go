// Package verify implements the structural citation verifier. It checks
// citation completeness of paragraph drafts and the rendered report; it
// does not judge factual accuracy of sources.
package verify

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// endMarkerPattern requires a paragraph to end with a well-formed
// citation marker: (C001) or (C001, C002, ...).
var endMarkerPattern = regexp.MustCompile(`\((C\d{3}(?:,\s*C\d{3})*)\)\s*$`)

// cidPattern is the canonical citation id shape.
var cidPattern = regexp.MustCompile(`^C\d{3}$`)

// Verifier runs structural checks over drafts and rendered reports.
type Verifier struct {
	logger *zap.Logger
}

// New creates a Verifier.
func New(logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{logger: logger}
}

// JSONLCheck is the outcome of verifying drafts/paragraphs.jsonl.
type JSONLCheck struct {
	Passed               bool     `json:"paragraphs_jsonl_cite_ids_passed"`
	WithoutCitationCount int      `json:"paragraph_without_citation_count"`
	TotalEntries         int      `json:"total_entries"`
	Issues               []string `json:"issues,omitempty"`
}

// draftLine is the required shape of each paragraphs.jsonl entry.
type draftLine struct {
	Text    string   `json:"text"`
	CiteIDs []string `json:"cite_ids"`
}

// ParagraphsJSONL verifies that every line parses as {text, cite_ids},
// that cite_ids is non-empty, and that every id matches the cid pattern.
// WithoutCitationCount counts entries violating any of those rules.
func (v *Verifier) ParagraphsJSONL(r io.Reader) JSONLCheck {
	check := JSONLCheck{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		check.TotalEntries++

		var entry draftLine
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			check.WithoutCitationCount++
			check.Issues = append(check.Issues, fmt.Sprintf("line %d: invalid JSON: %v", lineNo, err))
			continue
		}
		if len(entry.CiteIDs) == 0 {
			check.WithoutCitationCount++
			check.Issues = append(check.Issues, fmt.Sprintf("line %d: cite_ids is empty", lineNo))
			continue
		}
		ok := true
		for _, cid := range entry.CiteIDs {
			if !cidPattern.MatchString(cid) {
				check.Issues = append(check.Issues,
					fmt.Sprintf("line %d: cite_id %q has invalid format (expected C001-C999)", lineNo, cid))
				ok = false
			}
		}
		if !ok {
			check.WithoutCitationCount++
		}
	}
	if err := scanner.Err(); err != nil {
		check.Issues = append(check.Issues, fmt.Sprintf("read drafts: %v", err))
	}

	if check.TotalEntries == 0 {
		check.Issues = append(check.Issues, "paragraphs.jsonl is empty")
	}
	check.Passed = check.TotalEntries > 0 && check.WithoutCitationCount == 0 && len(check.Issues) == 0
	return check
}

// ReportCheck is the outcome of verifying the rendered report text.
// EndCitationPassed is purely structural (every paragraph ends with a
// well-formed marker); ReportPassed additionally requires every
// referenced cid to resolve against the citation list. The two are
// independently falsifiable.
type ReportCheck struct {
	ReportPassed         bool     `json:"report_passed"`
	EndCitationPassed    bool     `json:"paragraph_end_citation_passed"`
	TotalParagraphs      int      `json:"total_paragraphs"`
	WithoutCitationCount int      `json:"paragraph_without_citation_count"`
	CitationsFound       int      `json:"citations_found"`
	VerifiedClaims       int      `json:"verified_claims_count"`
	SingleSourceClaims   int      `json:"single_source_claims_count"`
	Conflicts            int      `json:"conflicts_count"`
	Issues               []string `json:"issues,omitempty"`
}

// Report verifies that every rendered paragraph ends with a citation
// marker and that referenced cids resolve. Markdown headers are skipped.
// resolve may be nil, in which case only the structural check applies.
func (v *Verifier) Report(text string, resolve func(cid string) bool) ReportCheck {
	check := ReportCheck{}
	danglingRefs := 0

	for i, para := range splitParagraphs(text) {
		if strings.HasPrefix(strings.TrimSpace(para), "#") {
			continue
		}
		check.TotalParagraphs++

		m := endMarkerPattern.FindStringSubmatch(strings.TrimRight(para, " \t\n"))
		if m == nil {
			check.WithoutCitationCount++
			check.Issues = append(check.Issues, fmt.Sprintf("paragraph %d missing end citation", i+1))
			continue
		}
		check.CitationsFound++

		cids := splitCIDGroup(m[1])
		if len(cids) == 1 {
			check.SingleSourceClaims++
		}
		if resolve != nil {
			for _, cid := range cids {
				if !resolve(cid) {
					danglingRefs++
					check.Issues = append(check.Issues,
						fmt.Sprintf("paragraph %d references unregistered citation %s", i+1, cid))
				}
			}
		}
	}

	check.VerifiedClaims = check.CitationsFound
	check.EndCitationPassed = check.WithoutCitationCount == 0
	check.ReportPassed = check.EndCitationPassed && danglingRefs == 0
	return check
}

// Result is the combined structural verification outcome persisted as
// evidence/verify.json. Passed is the conjunction of the three checks;
// there is no partial credit.
type Result struct {
	VerifiedClaimsCount           int  `json:"verified_claims_count"`
	SingleSourceClaimsCount       int  `json:"single_source_claims_count"`
	ConflictsCount                int  `json:"conflicts_count"`
	TotalParagraphs               int  `json:"total_paragraphs"`
	ParagraphWithoutCitationCount int  `json:"paragraph_without_citation_count"`
	ParagraphEndCitationPassed    bool `json:"paragraph_end_citation_passed"`
	ParagraphsJSONLCiteIDsPassed  bool `json:"paragraphs_jsonl_cite_ids_passed"`
	ReportPassed                  bool `json:"report_passed"`
	CitationsFound                int  `json:"citations_found"`
	Passed                        bool `json:"passed"`

	Issues []string `json:"issues,omitempty"`
}

// Combine folds the report and drafts checks into the final result.
// ParagraphWithoutCitationCount takes the worse of the two counts so a
// violation in either artifact is visible in the summary.
func Combine(rep ReportCheck, jl JSONLCheck) Result {
	without := rep.WithoutCitationCount
	if jl.WithoutCitationCount > without {
		without = jl.WithoutCitationCount
	}
	res := Result{
		VerifiedClaimsCount:           rep.VerifiedClaims,
		SingleSourceClaimsCount:       rep.SingleSourceClaims,
		ConflictsCount:                rep.Conflicts,
		TotalParagraphs:               rep.TotalParagraphs,
		ParagraphWithoutCitationCount: without,
		ParagraphEndCitationPassed:    rep.EndCitationPassed,
		ParagraphsJSONLCiteIDsPassed:  jl.Passed,
		ReportPassed:                  rep.ReportPassed,
		CitationsFound:                rep.CitationsFound,
		Passed:                        rep.ReportPassed && jl.Passed && rep.EndCitationPassed,
	}
	res.Issues = append(res.Issues, rep.Issues...)
	res.Issues = append(res.Issues, jl.Issues...)
	return res
}

// splitParagraphs breaks text into paragraphs. A blank line always ends
// a paragraph, and so does a newline followed by a non-indented line;
// only indented continuation lines stay attached to their paragraph.
func splitParagraphs(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if p := strings.TrimSpace(cur.String()); p != "" {
			out = append(out, p)
		}
		cur.Reset()
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		switch {
		case strings.TrimSpace(line) == "":
			flush()
		case cur.Len() > 0 && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t"):
			flush()
			cur.WriteString(line)
		default:
			if cur.Len() > 0 {
				cur.WriteString("\n")
			}
			cur.WriteString(line)
		}
	}
	flush()
	return out
}

// splitCIDGroup splits the inside of a marker group on commas.
func splitCIDGroup(group string) []string {
	parts := strings.Split(group, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
