// Package summary turns a pair of document texts into a short description of the edit.
package summary

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	shortLineLimit   = 50
	significantDelta = 100
	smallEditLines   = 3
)

var (
	headingPattern  = regexp.MustCompile(`^(#{1,6}) +(.*\S)\s*$`)
	listItemPattern = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.*\S)\s*$`)
)

type heading struct {
	level int
	text  string
}

func parseHeading(line string) (heading, bool) {
	m := headingPattern.FindStringSubmatch(line)
	if m == nil {
		return heading{}, false
	}
	return heading{level: len(m[1]), text: m[2]}, true
}

func parseListItem(line string) (string, bool) {
	m := listItemPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func levelName(level int) string {
	switch level {
	case 1:
		return "title"
	case 2:
		return "section"
	case 3:
		return "subsection"
	default:
		return "header"
	}
}

// Summarize describes the change from before to after. It is pure and never fails: when no
// specific rule matches it falls back to a size based description.
func Summarize(before, after string) string {
	removed, added := diffLines(before, after)
	switch {
	case len(removed) == 1 && len(added) == 1:
		return singleLineChange(removed[0], added[0])
	case len(added) > 0 && len(removed) == 0:
		return oneSided("Added", added)
	case len(removed) > 0 && len(added) == 0:
		return oneSided("Removed", removed)
	case len(added) > 0 && len(removed) > 0:
		return mixedChange(before, after, len(added), len(removed))
	}
	return sizeFallback(before, after)
}

// diffLines returns the non-blank lines removed from before and added in after.
func diffLines(before, after string) (removed, added []string) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(terminate(before), terminate(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			removed = append(removed, contentLines(d.Text)...)
		case diffmatchpatch.DiffInsert:
			added = append(added, contentLines(d.Text)...)
		}
	}
	return removed, added
}

// terminate gives every line a trailing newline so the last line compares like the others.
func terminate(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func contentLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func singleLineChange(oldLine, newLine string) string {
	oldHeading, oldIsHeading := parseHeading(oldLine)
	newHeading, newIsHeading := parseHeading(newLine)
	if oldIsHeading && newIsHeading && oldHeading.level == newHeading.level {
		return fmt.Sprintf("Changed %s from \"%s\" to \"%s\"", levelName(newHeading.level), oldHeading.text, newHeading.text)
	}
	_, oldIsItem := parseListItem(oldLine)
	newItem, newIsItem := parseListItem(newLine)
	if oldIsItem && newIsItem {
		if len(newItem) < shortLineLimit {
			return fmt.Sprintf("Changed list item to \"%s\"", newItem)
		}
		return "Modified list item"
	}
	trimmed := strings.TrimSpace(newLine)
	if len(trimmed) < shortLineLimit {
		return fmt.Sprintf("Changed text to \"%s\"", trimmed)
	}
	return "Modified paragraph"
}

func oneSided(verb string, lines []string) string {
	for _, line := range lines {
		if h, ok := parseHeading(line); ok {
			return fmt.Sprintf("%s %s: \"%s\"", verb, levelName(h.level), h.text)
		}
	}
	for _, line := range lines {
		if _, ok := parseListItem(line); ok {
			return verb + " list items"
		}
	}
	if len(lines) == 1 {
		return verb + " 1 line"
	}
	return fmt.Sprintf("%s %d lines", verb, len(lines))
}

func mixedChange(before, after string, addedCount, removedCount int) string {
	oldLines := contentLines(before)
	newLines := contentLines(after)
	n := len(oldLines)
	if len(newLines) > n {
		n = len(newLines)
	}
	for i := 0; i < n; i++ {
		oldLine := lineAt(oldLines, i)
		newLine := lineAt(newLines, i)
		if oldLine == newLine {
			continue
		}
		if oldLine == "" || newLine == "" {
			break
		}
		oldHeading, oldIsHeading := parseHeading(oldLine)
		newHeading, newIsHeading := parseHeading(newLine)
		switch {
		case oldIsHeading && newIsHeading:
			return fmt.Sprintf("Changed header from \"%s\" to \"%s\"", oldHeading.text, newHeading.text)
		case newIsHeading:
			return fmt.Sprintf("Converted \"%s\" to heading", strings.TrimSpace(oldLine))
		case oldIsHeading:
			return fmt.Sprintf("Converted heading \"%s\" to text", oldHeading.text)
		}
		break
	}
	if addedCount == removedCount && addedCount <= smallEditLines {
		return "Modified text"
	}
	return fmt.Sprintf("Modified content (%d added, %d removed)", addedCount, removedCount)
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return ""
}

func sizeFallback(before, after string) string {
	delta := len(after) - len(before)
	switch {
	case delta > significantDelta:
		return "Added significant content"
	case delta < -significantDelta:
		return "Removed significant content"
	default:
		return "Minor edits"
	}
}
