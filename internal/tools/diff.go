package tools

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// maxDiffLines bounds the rendered diff that goes back to the model.
const maxDiffLines = 200

// DiffSummary is the line-level change between two versions of a file.
type DiffSummary struct {
	Insertions int
	Deletions  int
	Text       string
}

// LineDiff compares two file versions line by line. Text lists changed
// lines prefixed with + or -, truncated after maxDiffLines lines.
func LineDiff(oldContent, newContent string) DiffSummary {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var summary DiffSummary
	var sb strings.Builder
	rendered := 0
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		default:
			continue
		}
		for _, line := range splitLines(d.Text) {
			if prefix == "+" {
				summary.Insertions++
			} else {
				summary.Deletions++
			}
			if rendered < maxDiffLines {
				sb.WriteString(prefix)
				sb.WriteString(line)
				sb.WriteString("\n")
			}
			rendered++
		}
	}
	if rendered > maxDiffLines {
		fmt.Fprintf(&sb, "... (%d more changed lines)\n", rendered-maxDiffLines)
	}
	summary.Text = sb.String()
	return summary
}

// String renders the counts the way git does.
func (d DiffSummary) String() string {
	return fmt.Sprintf("%d insertion(s), %d deletion(s)", d.Insertions, d.Deletions)
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return []string{""}
	}
	return strings.Split(s, "\n")
}
