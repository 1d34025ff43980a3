package followup

import (
	"regexp"
	"sort"
	"strings"
)

// Question is one parsed follow-up question.
type Question struct {
	Category string
	Ordinal  int
	Text     string
}

var (
	sectionHeader = regexp.MustCompile(`^(?:#+\s*)?\**\s*([ABC])\)\s*\S`)
	numberedLine  = regexp.MustCompile(`^(\d+)[.\)]\s*(.+)$`)
)

// Parse extracts questions from a generated reply. Questions are grouped under
// "A) ...", "B) ..." and "C) ..." headers and numbered "1." or "1)"; lines
// that follow a question without a number continue it. Ordinals are assigned
// in order of appearance within each category, so repeated or skipped numbers
// in the reply do not matter.
func Parse(reply string) []Question {
	var (
		out     []Question
		current string
		counts  = map[string]int{}
	)
	for _, raw := range strings.Split(reply, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := sectionHeader.FindStringSubmatch(line); m != nil && !numberedLine.MatchString(line) {
			current = m[1]
			continue
		}
		if current == "" {
			continue
		}
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			text := cleanText(m[2])
			if text == "" {
				continue
			}
			counts[current]++
			out = append(out, Question{Category: current, Ordinal: counts[current], Text: text})
			continue
		}
		if n := len(out); n > 0 && out[n-1].Category == current {
			out[n-1].Text += " " + cleanText(line)
		}
	}
	return out
}

func cleanText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "- ")
	s = strings.Trim(s, "*")
	return strings.TrimSpace(s)
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
