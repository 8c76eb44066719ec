package clarify

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNeedsClarificationShortTopics(t *testing.T) {
	c := New(zap.NewNop())

	shorts := []string{
		"",
		"ai",
		"golang",
		"quantum",
		"a topic",
		"exactly nineteen c.",
	}
	for _, topic := range shorts {
		assert.True(t, c.NeedsClarification(topic), "topic %q should need clarification", topic)
	}
}

func TestNeedsClarificationCountsCharactersNotBytes(t *testing.T) {
	c := New(zap.NewNop())

	// 10 characters, 30 bytes.
	assert.True(t, c.NeedsClarification("人工知能の倫理的課題"),
		"topic with fewer than 20 characters must need clarification")
	// 20 characters, 60 bytes.
	assert.False(t, c.NeedsClarification("人工知能の倫理的課題に関する国際的な規制"))

	// The very-short question set keys off characters too.
	qs := c.GenerateQuestions("倫理")
	assert.Len(t, qs, 3)
}

func TestNeedsClarificationAmbiguousTerms(t *testing.T) {
	c := New(zap.NewNop())

	tests := []struct {
		topic string
		want  bool
	}{
		{"explain how distributed consensus protocols work", true},
		{"tell me about THIS new framework everyone uses", true},
		{"what are the applications of graph databases", true},
		{"quantum computing applications", false},
		{"distributed consensus protocols in production", false},
		{"thistle cultivation in northern climates today", false}, // substring, not whole token
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.NeedsClarification(tt.topic), "topic %q", tt.topic)
	}
}

func TestNeedsClarificationShortAbbreviations(t *testing.T) {
	c := New(zap.NewNop())

	assert.True(t, c.NeedsClarification("llm"))
	assert.True(t, c.NeedsClarification("API"))
	// Abbreviation as a token inside a long topic still gates.
	assert.True(t, c.NeedsClarification("the future of the web considered broadly"))
}

func TestGenerateQuestionsDeterministic(t *testing.T) {
	c := New(zap.NewNop())

	first := c.GenerateQuestions("ml")
	second := c.GenerateQuestions("ml")
	assert.Equal(t, first, second)
	assert.LessOrEqual(t, len(first), 3)
	assert.NotEmpty(t, first)
}

func TestGenerateQuestionsVeryShort(t *testing.T) {
	c := New(zap.NewNop())

	qs := c.GenerateQuestions("")
	require.Len(t, qs, 3)
}

func TestCheckReturnsNilForSpecificTopic(t *testing.T) {
	c := New(zap.NewNop())

	assert.Nil(t, c.Check("quantum computing applications"))

	rec := c.Check("ai")
	require.NotNil(t, rec)
	assert.Equal(t, StatusPending, rec.Status)
	assert.NotEmpty(t, rec.Questions)
	assert.Equal(t, "ai", rec.OriginalTopic)
}

func TestRecordMarkClarifiedRequiresAnswers(t *testing.T) {
	rec := &Record{Status: StatusPending, OriginalTopic: "ai"}

	err := rec.MarkClarified(nil, "ai")
	require.Error(t, err)
	assert.Equal(t, StatusPending, rec.Status)

	err = rec.MarkClarified([]string{"ai safety in autonomous vehicles"}, "ai safety in autonomous vehicles")
	require.NoError(t, err)
	assert.Equal(t, StatusClarified, rec.Status)
	assert.NotEmpty(t, rec.Answers)
}

func TestRecordSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clarify.json")

	rec := &Record{
		Status:        StatusFailed,
		OriginalTopic: "db",
		Questions:     []string{"Which database engine?"},
		FailureReason: "no answer provided",
		FinalTopic:    "db",
	}
	require.NoError(t, rec.Save(path))

	loaded, err := LoadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}
