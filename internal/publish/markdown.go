// Package publish renders a project outline as a markdown checklist.
package publish

import (
	"bytes"
	"strings"
	"time"

	"minder-cli/internal/model"
	"minder-cli/internal/outline"
)

type RenderOptions struct {
	// IncludeIDs appends each item's id as inline code.
	IncludeIDs bool
}

// RenderOutlineMarkdown writes rows as nested "- [ ]" list entries, two
// spaces per depth. Done items are checked; states other than new are
// shown in brackets and snoozed items carry their wake time. The output
// depends only on rows, so republishing an unchanged outline is a no-op.
func RenderOutlineMarkdown(title string, filter model.Filter, rows []outline.Row, opt RenderOptions) string {
	var buf bytes.Buffer
	writeLn := func(s string) {
		buf.WriteString(s)
		buf.WriteString("\n")
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "Outline"
	}
	writeLn("# " + title)
	writeLn("")
	writeLn("_Filter: " + string(filter) + "_")
	writeLn("")

	if len(rows) == 0 {
		writeLn("_Nothing visible._")
		return buf.String()
	}

	for _, r := range rows {
		writeLn(strings.Repeat("  ", r.Depth) + rowLine(r, opt))
	}
	return buf.String()
}

func rowLine(r outline.Row, opt RenderOptions) string {
	it := r.Item
	box := "- [ ] "
	if it.State == model.StateDone {
		box = "- [x] "
	}
	var b strings.Builder
	b.WriteString(box)
	b.WriteString(escapeInline(singleLine(it.Text)))
	if it.State != model.StateNew && it.State != model.StateDone {
		b.WriteString(" [" + string(it.State) + "]")
	}
	if it.State == model.StateWaiting && it.SnoozeTil != nil {
		b.WriteString(" (until " + it.SnoozeTil.UTC().Format(time.RFC3339) + ")")
	}
	if r.Pinned {
		b.WriteString(" (pinned)")
	}
	if it.Collapsed && r.IsParent {
		b.WriteString(" (collapsed)")
	}
	if opt.IncludeIDs {
		b.WriteString(" `" + it.ID + "`")
	}
	return b.String()
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// escapeInline keeps item text from opening markdown structure of its own.
func escapeInline(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		"`", "\\`",
		"*", `\*`,
		"_", `\_`,
		"[", `\[`,
		"]", `\]`,
	)
	return r.Replace(s)
}
