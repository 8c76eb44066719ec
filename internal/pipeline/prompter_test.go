package pipeline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIOPrompterReadsOneAnswerPerQuestion(t *testing.T) {
	in := strings.NewReader("superconducting qubits\ncomprehensive analysis\n")
	var out bytes.Buffer
	p := NewIOPrompter(in, &out)

	answers, err := p.Ask([]string{"Which subfield?", "What depth?"})
	require.NoError(t, err)
	assert.Equal(t, []string{"superconducting qubits", "comprehensive analysis"}, answers)
	assert.Contains(t, out.String(), "1. Which subfield?")
	assert.Contains(t, out.String(), "2. What depth?")
}

func TestIOPrompterSkipsBlankAnswers(t *testing.T) {
	in := strings.NewReader("\n  \n")
	var out bytes.Buffer
	p := NewIOPrompter(in, &out)

	answers, err := p.Ask([]string{"q1", "q2"})
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestIOPrompterStopsAtEOF(t *testing.T) {
	in := strings.NewReader("only answer")
	var out bytes.Buffer
	p := NewIOPrompter(in, &out)

	answers, err := p.Ask([]string{"q1", "q2", "q3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"only answer"}, answers)
}
