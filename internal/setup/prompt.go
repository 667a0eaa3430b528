// Package setup implements the interactive init wizard that writes the
// omadamirror configuration.
package setup

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Prompter provides terminal prompts backed by an io.Reader/Writer pair. In
// production these are os.Stdin and os.Stdout; tests inject buffers.
type Prompter struct {
	scanner *bufio.Scanner
	w       io.Writer
}

// NewPrompter creates a Prompter wired to the given reader and writer.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(r), w: w}
}

// line reads one trimmed line. ok is false at end of input.
func (p *Prompter) line() (string, bool) {
	if !p.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}

// String prompts for a text value. Enter alone returns defaultVal; an empty
// defaultVal makes the field required and the prompt repeats.
func (p *Prompter) String(label, defaultVal string) string {
	for {
		if defaultVal != "" {
			_, _ = fmt.Fprintf(p.w, "  %s [%s]: ", label, defaultVal)
		} else {
			_, _ = fmt.Fprintf(p.w, "  %s: ", label)
		}

		val, ok := p.line()
		if !ok {
			return defaultVal
		}
		if val == "" {
			if defaultVal != "" {
				return defaultVal
			}
			_, _ = fmt.Fprintf(p.w, "  (required, please enter a value)\n")
			continue
		}
		return val
	}
}

// Optional prompts for a value that may be left empty.
func (p *Prompter) Optional(label string) string {
	_, _ = fmt.Fprintf(p.w, "  %s (optional): ", label)
	val, _ := p.line()
	return val
}

// Secret prompts for a sensitive value such as a client secret or password.
// Input is not masked.
func (p *Prompter) Secret(label string) string {
	for {
		_, _ = fmt.Fprintf(p.w, "  %s: ", label)

		val, ok := p.line()
		if !ok {
			return ""
		}
		if val == "" {
			_, _ = fmt.Fprintf(p.w, "  (required, please enter a value)\n")
			continue
		}
		return val
	}
}

// Confirm asks a yes/no question. defaultYes decides a bare Enter.
func (p *Prompter) Confirm(label string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	_, _ = fmt.Fprintf(p.w, "  %s %s: ", label, hint)

	answer, ok := p.line()
	if !ok || answer == "" {
		return defaultYes
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

// Duration prompts for a Go duration of at least min. Invalid input repeats
// the prompt; end of input returns defaultVal.
func (p *Prompter) Duration(label string, defaultVal, min time.Duration) time.Duration {
	for {
		raw := p.String(label, defaultVal.String())
		d, err := time.ParseDuration(raw)
		if err == nil && d >= min {
			return d
		}
		if raw == defaultVal.String() {
			return defaultVal
		}
		_, _ = fmt.Fprintf(p.w, "  (enter a duration of at least %s, e.g. 5m)\n", min)
	}
}

// MultiSelect presents a numbered list and asks for one or more picks
// separated by commas (e.g. "1,3,5"). A bare Enter selects every option and
// returns nil. Duplicates are collapsed; order follows the input.
func (p *Prompter) MultiSelect(label string, options []string) ([]int, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("no options to select from")
	}

	_, _ = fmt.Fprintf(p.w, "  %s:\n", label)
	for i, opt := range options {
		_, _ = fmt.Fprintf(p.w, "    %d) %s\n", i+1, opt)
	}

	for {
		_, _ = fmt.Fprintf(p.w, "  Choices (comma-separated, Enter for all): ")

		raw, ok := p.line()
		if !ok {
			return nil, fmt.Errorf("no input")
		}
		if raw == "" {
			return nil, nil
		}

		indices, err := parseChoices(raw, len(options))
		if err != nil {
			_, _ = fmt.Fprintf(p.w, "  (%v)\n", err)
			continue
		}
		return indices, nil
	}
}

func parseChoices(raw string, n int) ([]int, error) {
	seen := make(map[int]bool)
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v < 1 || v > n {
			return nil, fmt.Errorf("enter numbers between 1 and %d, separated by commas", n)
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v-1)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("enter at least one number")
	}
	return out, nil
}
