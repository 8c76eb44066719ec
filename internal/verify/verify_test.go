package verify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParagraphsJSONLAllValid(t *testing.T) {
	v := New(zap.NewNop())
	input := `{"text":"First point.","cite_ids":["C001"]}
{"text":"Second point.","cite_ids":["C001","C002"]}
`
	check := v.ParagraphsJSONL(strings.NewReader(input))
	assert.True(t, check.Passed)
	assert.Equal(t, 0, check.WithoutCitationCount)
	assert.Equal(t, 2, check.TotalEntries)
}

func TestParagraphsJSONLEmptyCiteIDs(t *testing.T) {
	v := New(zap.NewNop())
	check := v.ParagraphsJSONL(strings.NewReader(`{"text":"x","cite_ids":[]}`))

	assert.False(t, check.Passed)
	assert.Equal(t, 1, check.WithoutCitationCount)
}

func TestParagraphsJSONLBadCIDFormat(t *testing.T) {
	v := New(zap.NewNop())
	input := `{"text":"ok","cite_ids":["C001"]}
{"text":"bad","cite_ids":["C1"]}
{"text":"also bad","cite_ids":["C0012"]}
`
	check := v.ParagraphsJSONL(strings.NewReader(input))
	assert.False(t, check.Passed)
	assert.Equal(t, 2, check.WithoutCitationCount)
}

func TestParagraphsJSONLInvalidJSONAndEmptyFile(t *testing.T) {
	v := New(zap.NewNop())

	check := v.ParagraphsJSONL(strings.NewReader("{not json}\n"))
	assert.False(t, check.Passed)
	assert.Equal(t, 1, check.WithoutCitationCount)

	empty := v.ParagraphsJSONL(strings.NewReader(""))
	assert.False(t, empty.Passed)
}

func TestReportEveryParagraphCited(t *testing.T) {
	v := New(zap.NewNop())
	report := "# Research Report\n\nFirst finding. (C001)\n\nSecond finding across sources. (C001, C002)\n"

	resolve := func(cid string) bool { return cid == "C001" || cid == "C002" }
	check := v.Report(report, resolve)

	assert.True(t, check.EndCitationPassed)
	assert.True(t, check.ReportPassed)
	assert.Equal(t, 2, check.TotalParagraphs)
	assert.Equal(t, 2, check.CitationsFound)
	assert.Equal(t, 0, check.WithoutCitationCount)
	assert.Equal(t, 1, check.SingleSourceClaims)
	assert.Equal(t, 2, check.VerifiedClaims)
}

func TestReportMissingEndCitation(t *testing.T) {
	v := New(zap.NewNop())
	report := "Cited finding. (C001)\n\nUncited trailing paragraph.\n"

	check := v.Report(report, func(string) bool { return true })
	assert.False(t, check.EndCitationPassed)
	assert.False(t, check.ReportPassed)
	assert.Equal(t, 1, check.WithoutCitationCount)
}

func TestReportDanglingReferenceFailsReportCheckOnly(t *testing.T) {
	v := New(zap.NewNop())
	report := "Finding with unknown source. (C042)\n"

	check := v.Report(report, func(cid string) bool { return false })
	// Structurally fine; referentially broken. The two checks must be
	// independently falsifiable.
	assert.True(t, check.EndCitationPassed)
	assert.False(t, check.ReportPassed)
}

func TestReportMarkerInMiddleDoesNotCount(t *testing.T) {
	v := New(zap.NewNop())
	report := "A claim (C001) continued without trailing marker.\n"

	check := v.Report(report, nil)
	assert.False(t, check.EndCitationPassed)
	assert.Equal(t, 1, check.WithoutCitationCount)
}

func TestReportSingleNewlineStartsNewParagraph(t *testing.T) {
	v := New(zap.NewNop())

	// No blank line between the two: the uncited line must not hide
	// inside the cited paragraph.
	report := "An uncited claim on its own line.\nA cited claim. (C001)\n"
	check := v.Report(report, nil)
	assert.Equal(t, 2, check.TotalParagraphs)
	assert.False(t, check.EndCitationPassed)
	assert.Equal(t, 1, check.WithoutCitationCount)

	// Indented lines continue the paragraph above.
	wrapped := "A claim wrapped over\n  two lines. (C001)\n"
	check = v.Report(wrapped, nil)
	assert.Equal(t, 1, check.TotalParagraphs)
	assert.True(t, check.EndCitationPassed)
}

func TestCombineConjunction(t *testing.T) {
	rep := ReportCheck{
		ReportPassed:      true,
		EndCitationPassed: true,
		TotalParagraphs:   2,
		CitationsFound:    2,
		VerifiedClaims:    2,
	}
	jl := JSONLCheck{Passed: true, TotalEntries: 2}

	res := Combine(rep, jl)
	assert.True(t, res.Passed)

	// Any single failing check must fail the conjunction.
	jlFail := jl
	jlFail.Passed = false
	jlFail.WithoutCitationCount = 1
	res = Combine(rep, jlFail)
	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.ParagraphWithoutCitationCount)

	repFail := rep
	repFail.ReportPassed = false
	res = Combine(repFail, jl)
	assert.False(t, res.Passed)

	repFail = rep
	repFail.EndCitationPassed = false
	res = Combine(repFail, jl)
	assert.False(t, res.Passed)
}

func TestCombineCarriesCounts(t *testing.T) {
	rep := ReportCheck{
		TotalParagraphs:    3,
		CitationsFound:     2,
		VerifiedClaims:     2,
		SingleSourceClaims: 1,
	}
	jl := JSONLCheck{TotalEntries: 3}

	res := Combine(rep, jl)
	require.Equal(t, 3, res.TotalParagraphs)
	assert.Equal(t, 2, res.CitationsFound)
	assert.Equal(t, 2, res.VerifiedClaimsCount)
	assert.Equal(t, 1, res.SingleSourceClaimsCount)
	assert.Equal(t, 0, res.ConflictsCount)
}
