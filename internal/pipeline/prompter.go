package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompter supplies answers to clarification questions in interactive
// mode. The machine blocks on Ask until answers arrive.
type Prompter interface {
	Ask(questions []string) ([]string, error)
}

// IOPrompter asks over a reader/writer pair, one question per line;
// blank answers are dropped.
type IOPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewIOPrompter creates a prompter, typically over stdin/stdout.
func NewIOPrompter(in io.Reader, out io.Writer) *IOPrompter {
	return &IOPrompter{in: bufio.NewReader(in), out: out}
}

// Ask prints each question and reads one line of answer for it.
func (p *IOPrompter) Ask(questions []string) ([]string, error) {
	var answers []string
	for i, q := range questions {
		if _, err := fmt.Fprintf(p.out, "%d. %s\n> ", i+1, q); err != nil {
			return nil, fmt.Errorf("write question: %w", err)
		}
		line, err := p.in.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read answer: %w", err)
		}
		if answer := strings.TrimSpace(line); answer != "" {
			answers = append(answers, answer)
		}
		if err == io.EOF {
			break
		}
	}
	return answers, nil
}
