package format

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"minder-cli/internal/model"
	"minder-cli/internal/outline"
)

func ac(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

type textStyles struct {
	active  lipgloss.Style
	done    lipgloss.Style
	waiting lipgloss.Style
	muted   lipgloss.Style
	text    lipgloss.Style
}

// newTextStyles binds styles to w's renderer, so non-terminal writers get
// plain text.
func newTextStyles(w io.Writer) textStyles {
	r := lipgloss.NewRenderer(w)
	muted := ac("#6f6f6f", "#9a9a9a")
	return textStyles{
		active:  r.NewStyle().Foreground(ac("#325cc0", "#5f87d7")).Bold(true),
		done:    r.NewStyle().Foreground(ac("#22863a", "#97e023")),
		waiting: r.NewStyle().Foreground(ac("#ff8b00", "#ffaf00")),
		muted:   r.NewStyle().Foreground(muted),
		text:    r.NewStyle(),
	}
}

func (s textStyles) state(st model.State) string {
	label := "[" + string(st) + "]"
	switch st {
	case model.StateDone:
		return s.done.Render(label)
	case model.StateWaiting:
		return s.waiting.Render(label)
	case model.StateTop, model.StateCur, model.StateNew:
		return s.active.Render(label)
	default:
		return s.muted.Render(label)
	}
}

func (s textStyles) line(it model.Item) string {
	var b strings.Builder
	b.WriteString(s.state(it.State))
	b.WriteByte(' ')
	txt := it.Text
	if strings.TrimSpace(txt) == "" {
		txt = "(empty)"
	}
	b.WriteString(s.text.Render(firstLine(txt)))
	if it.State == model.StateWaiting && it.SnoozeTil != nil {
		b.WriteString(s.waiting.Render(" until " + it.SnoozeTil.Local().Format("2006-01-02 15:04")))
	}
	b.WriteString("  ")
	b.WriteString(s.muted.Render(it.ID))
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

// WriteText renders the data payload of a CLI envelope for humans. With
// pretty set, outline rows also show their aggregate flags.
func WriteText(w io.Writer, v any, pretty bool) error {
	data := v
	if m, ok := v.(map[string]any); ok {
		if d, ok := m["data"]; ok {
			data = d
		}
	}
	st := newTextStyles(w)
	var lines []string
	switch d := data.(type) {
	case []outline.Row:
		lines = outlineLines(st, d, pretty)
	case []model.Item:
		for _, it := range d {
			lines = append(lines, st.line(it))
		}
	case model.Item:
		lines = itemLines(st, d)
	case []model.Project:
		for _, p := range d {
			lines = append(lines, fmt.Sprintf("%s  %s", p.Name, st.muted.Render(p.ID)))
		}
	case model.Project:
		lines = []string{fmt.Sprintf("%s  %s", d.Name, st.muted.Render(d.ID))}
	case []model.Event:
		for _, ev := range d {
			lines = append(lines, fmt.Sprintf("%6d  %s  %-12s %s",
				ev.Seq, ev.TS.Local().Format(time.DateTime), ev.Type, st.muted.Render(ev.EntityID)))
		}
	case string:
		lines = []string{d}
	default:
		return WriteYAML(w, v)
	}
	if len(lines) == 0 {
		lines = []string{st.muted.Render("(nothing to show)")}
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

func outlineLines(st textStyles, rows []outline.Row, pretty bool) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		marker := "-"
		if r.IsParent {
			marker = "▾"
			if r.Item.Collapsed {
				marker = "▸"
			}
		}
		if r.Pinned {
			marker = "*" + marker
		}
		line := strings.Repeat("  ", r.Depth) + marker + " " + st.line(r.Item)
		if pretty && r.Flags != nil {
			var tags []string
			if r.Flags.AllDone {
				tags = append(tags, "all done")
			}
			if r.Flags.KidsHidden {
				tags = append(tags, "children hidden")
			}
			if len(tags) > 0 {
				line += st.muted.Render("  (" + strings.Join(tags, ", ") + ")")
			}
		}
		out = append(out, line)
	}
	return out
}

func itemLines(st textStyles, it model.Item) []string {
	out := []string{st.line(it)}
	field := func(k, v string) {
		out = append(out, fmt.Sprintf("  %-10s %s", k+":", v))
	}
	if p := it.Parent(); p != "" {
		field("parent", p)
	}
	field("project", it.ProjectID)
	if it.UnsnoozedState != nil {
		field("wakes to", string(*it.UnsnoozedState))
	}
	if it.Pinned {
		field("pinned", "yes")
	}
	if it.Collapsed {
		field("collapsed", "yes")
	}
	field("created", it.CreatedAt.Local().Format(time.DateTime))
	field("updated", it.UpdatedAt.Local().Format(time.RFC3339Nano))
	if strings.Contains(it.Text, "\n") {
		out = append(out, "", it.Text)
	}
	return out
}
