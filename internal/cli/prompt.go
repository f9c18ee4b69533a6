package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
)

// Prompter asks for missing input on a terminal.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter reads answers from in and writes questions to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Line prints label and returns the trimmed answer. An empty answer is
// returned as "" without error.
func (p *Prompter) Line(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	input, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && input != "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// Category shows the category menu until a valid choice is made. Choices
// are accepted by number or by name.
func (p *Prompter) Category() (diagnosis.Category, error) {
	fmt.Fprintln(p.out, "What are you diagnosing?")
	for i, c := range diagnosis.Categories {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, c.Label())
	}
	for {
		answer, err := p.Line("Category")
		if err != nil {
			return "", err
		}
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(diagnosis.Categories) {
			return diagnosis.Categories[n-1], nil
		}
		if c, err := diagnosis.ParseCategory(answer); err == nil {
			return c, nil
		}
		fmt.Fprintf(p.out, "Please enter 1-%d.\n", len(diagnosis.Categories))
	}
}

// FillContext asks for the category when dc has none, and for the optional
// fields when askOptional is set and they are empty.
func (p *Prompter) FillContext(dc diagnosis.Context, askOptional bool) (diagnosis.Context, error) {
	if dc.Category == "" {
		c, err := p.Category()
		if err != nil {
			return dc, err
		}
		dc.Category = c
	}
	if !askOptional {
		return dc, nil
	}
	var err error
	if dc.MakeModel == "" {
		if dc.MakeModel, err = p.Line("Make and model (optional)"); err != nil {
			return dc, err
		}
	}
	if dc.Symptoms == "" {
		if dc.Symptoms, err = p.Line("Symptoms (optional)"); err != nil {
			return dc, err
		}
	}
	return dc, nil
}
