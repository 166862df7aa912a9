package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"minder-cli/internal/model"
	"minder-cli/internal/mutate"
	"minder-cli/internal/notify"
	"minder-cli/internal/outline"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
)

type mode int

const (
	modeNormal mode = iota
	modeEdit
	modeAddAfter
	modeAddChild
)

// stateKeys maps the digit keys 1-7 to states.
var stateKeys = []model.State{
	model.StateNew, model.StateTop, model.StateCur, model.StateSoon,
	model.StateLater, model.StateWaiting, model.StateDone,
}

var filterCycle = []model.Filter{
	model.FilterFocus, model.FilterReview, model.FilterPile, model.FilterWaiting,
	model.FilterDone, model.FilterNotDone, model.FilterAll,
}

func nextFilter(f model.Filter) model.Filter {
	for i, x := range filterCycle {
		if x == f {
			return filterCycle[(i+1)%len(filterCycle)]
		}
	}
	return filterCycle[0]
}

// changeSet collects hub notifications between two redraws. Hub callbacks
// run synchronously inside engine calls, so no locking is needed.
type changeSet struct {
	n     int
	items map[string]bool
}

func (c *changeSet) note(namespace, key string) {
	c.n++
	if namespace == outline.NSItem {
		if c.items == nil {
			c.items = map[string]bool{}
		}
		c.items[key] = true
	}
}

func (c *changeSet) reset() { c.n, c.items = 0, nil }

type Options struct {
	ProjectName string
	// SnoozeFor is the duration used by the snooze key.
	SnoozeFor time.Duration
	// Changes signals that the store was changed by another process.
	Changes <-chan struct{}
}

type tickMsg time.Time

type externalChangeMsg struct{}

type appModel struct {
	ctx    context.Context
	e      *outline.Engine
	opts   Options
	keys   keyMap
	help   help.Model
	glyphs glyphSet
	input  textinput.Model

	changes  *changeSet
	unlisten []func()

	rows   []outline.Row
	cursor int
	width  int
	height int

	mode      mode
	editID    string
	status    string
	statusErr bool
}

func newAppModel(ctx context.Context, e *outline.Engine, opts Options) appModel {
	if opts.SnoozeFor <= 0 {
		opts.SnoozeFor = 24 * time.Hour
	}
	in := textinput.New()
	in.Prompt = "> "
	in.CharLimit = mutate.MaxTextLength

	m := appModel{
		ctx:     ctx,
		e:       e,
		opts:    opts,
		keys:    defaultKeys(),
		help:    help.New(),
		glyphs:  glyphsFromEnv(),
		input:   in,
		changes: &changeSet{},
		width:   80,
		height:  24,
	}
	for _, ns := range []string{outline.NSItem, outline.NSParent, outline.NSView, outline.NSSelection} {
		m.unlisten = append(m.unlisten, e.Listen(ns, []string{notify.Wildcard}, m.changes.note))
	}

	m.rows = e.Rows()
	if i := m.rowIndex(e.Selected()); i >= 0 {
		m.cursor = i
	} else if len(m.rows) > 0 {
		_ = e.Select(m.rows[0].Item.ID)
	}
	m.changes.reset()
	return m
}

func (m appModel) close() {
	for _, u := range m.unlisten {
		u()
	}
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Minute, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return externalChangeMsg{}
	}
}

func (m appModel) Init() tea.Cmd {
	return tea.Batch(tickEvery(), waitForChange(m.opts.Changes))
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(10, msg.Width-4)
	case tickMsg:
		// Snoozed items wake by time alone.
		m.e.Refresh()
		cmd = tickEvery()
	case externalChangeMsg:
		m.reload()
		cmd = waitForChange(m.opts.Changes)
	case tea.KeyMsg:
		if m.mode != modeNormal {
			cmd = m.updateInput(msg)
		} else {
			cmd = m.updateNormal(msg)
		}
	}
	m.sync()
	return m, cmd
}

func (m *appModel) updateNormal(msg tea.KeyMsg) tea.Cmd {
	m.status, m.statusErr = "", false
	id := m.currentID()
	it, _ := m.e.Item(id)

	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)
	case key.Matches(msg, m.keys.Filter):
		m.fail(m.e.SetFilter(nextFilter(m.e.Filter())))
	case key.Matches(msg, m.keys.Reload):
		m.reload()
	case key.Matches(msg, m.keys.AddAfter):
		return m.startInput(modeAddAfter, id, "")
	case id == "":
		// The remaining keys act on the selected item.
	case key.Matches(msg, m.keys.Edit):
		return m.startInput(modeEdit, id, it.Text)
	case key.Matches(msg, m.keys.AddChild):
		return m.startInput(modeAddChild, id, "")
	case key.Matches(msg, m.keys.Nest):
		m.fail(m.e.Nest(m.ctx, id))
	case key.Matches(msg, m.keys.Unnest):
		m.fail(m.e.Unnest(m.ctx, id))
	case key.Matches(msg, m.keys.Bump):
		m.fail(m.e.Bump(m.ctx, id))
	case key.Matches(msg, m.keys.MoveUp):
		m.fail(m.shift(id, -1))
	case key.Matches(msg, m.keys.MoveDown):
		m.fail(m.shift(id, 1))
	case key.Matches(msg, m.keys.Collapse):
		if m.e.IsParent(id) {
			_, err := m.e.SetCollapsed(m.ctx, id, !it.Collapsed)
			m.fail(err)
		}
	case key.Matches(msg, m.keys.Pin):
		_, err := m.e.SetPinned(m.ctx, id, !it.Pinned)
		m.fail(err)
	case key.Matches(msg, m.keys.Done):
		next := model.StateDone
		if it.State == model.StateDone {
			next = model.StateCur
		}
		_, err := m.e.SetState(m.ctx, id, next)
		m.fail(err)
	case key.Matches(msg, m.keys.State):
		_, err := m.e.SetState(m.ctx, id, stateKeys[msg.String()[0]-'1'])
		m.fail(err)
	case key.Matches(msg, m.keys.Snooze):
		snoozed, err := m.e.Snooze(m.ctx, id, m.opts.SnoozeFor)
		if !m.fail(err) && snoozed.SnoozeTil != nil {
			m.status = "snoozed until " + snoozed.SnoozeTil.Local().Format("Mon Jan 2 15:04")
		}
	case key.Matches(msg, m.keys.Delete):
		m.fail(m.e.Delete(m.ctx, id, outline.DeleteReject))
	case key.Matches(msg, m.keys.DeleteAll):
		m.fail(m.e.Delete(m.ctx, id, outline.DeleteCascade))
	case key.Matches(msg, m.keys.Retry):
		m.reconcile(id, true)
	case key.Matches(msg, m.keys.Discard):
		m.reconcile(id, false)
	}
	return nil
}

// reconcile reloads an item whose last write failed; with reapply the local
// edit is written again on top of the stored copy, otherwise it is dropped.
func (m *appModel) reconcile(id string, reapply bool) {
	if _, ok := m.e.Pending(id); !ok {
		m.status = "nothing unsaved"
		return
	}
	if _, err := m.e.Reconcile(m.ctx, id, reapply); m.fail(err) {
		return
	}
	if reapply {
		m.status = "saved"
	} else {
		m.status = "local edit discarded"
	}
}

func (m *appModel) startInput(md mode, id, value string) tea.Cmd {
	m.mode, m.editID = md, id
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m.input.Focus()
}

func (m *appModel) stopInput() {
	m.mode, m.editID = modeNormal, ""
	m.input.Blur()
	m.input.SetValue("")
}

func (m *appModel) updateInput(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		m.stopInput()
		return nil
	case tea.KeyEnter:
		md, id, text := m.mode, m.editID, strings.TrimSpace(m.input.Value())
		m.stopInput()
		m.fail(m.commit(md, id, text))
		return nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *appModel) commit(md mode, id, text string) error {
	var err error
	switch {
	case md == modeEdit:
		_, err = m.e.SetText(m.ctx, id, text)
	case md == modeAddChild:
		_, err = m.e.CreateChild(m.ctx, id, text)
	case id == "":
		_, err = m.e.CreateChild(m.ctx, "", text)
	default:
		_, err = m.e.CreateAfter(m.ctx, id, text)
	}
	return err
}

// shift swaps id with its nearest visible sibling in direction dir.
func (m *appModel) shift(id string, dir int) error {
	sibs := m.e.Children(m.e.Tree().ParentOf(id))
	i := 0
	for i < len(sibs) && sibs[i].ID != id {
		i++
	}
	for j := i + dir; j >= 0 && j < len(sibs); j += dir {
		if m.e.IsVisible(sibs[j].ID) {
			return m.e.Reorder(m.ctx, id, sibs[j].ID, dir > 0)
		}
	}
	return nil
}

func (m *appModel) moveCursor(d int) {
	if len(m.rows) == 0 {
		return
	}
	m.cursor = min(max(m.cursor+d, 0), len(m.rows)-1)
	_ = m.e.Select(m.rows[m.cursor].Item.ID)
}

func (m *appModel) reload() {
	sel := m.e.Selected()
	if m.fail(m.e.Load(m.ctx, m.e.ProjectID())) {
		return
	}
	if _, err := m.e.Item(sel); err == nil {
		_ = m.e.Select(sel)
	}
}

// fail shows err in the status line and reports whether there was one.
func (m *appModel) fail(err error) bool {
	if err == nil {
		return false
	}
	m.status, m.statusErr = err.Error(), true
	return true
}

// sync rebuilds the rows after engine notifications and keeps the cursor on
// the selected item, or on the row that took its place.
func (m *appModel) sync() {
	if m.changes.n == 0 {
		return
	}
	sel := m.e.Selected()
	m.rows = m.e.Rows()
	if !(m.cursor < len(m.rows) && m.rows[m.cursor].Item.ID == sel) {
		if i := m.rowIndex(sel); i >= 0 {
			m.cursor = i
		}
	}
	if len(m.rows) == 0 {
		m.cursor = 0
	} else {
		m.cursor = min(max(m.cursor, 0), len(m.rows)-1)
		if id := m.rows[m.cursor].Item.ID; id != sel {
			_ = m.e.Select(id)
		}
	}
	m.changes.reset()
}

func (m appModel) rowIndex(id string) int {
	if id == "" {
		return -1
	}
	for i, r := range m.rows {
		if r.Item.ID == id {
			return i
		}
	}
	return -1
}

func (m appModel) currentID() string {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return ""
	}
	return m.rows[m.cursor].Item.ID
}

func (m appModel) View() string {
	header := styleHeader.Render("Minder  "+m.opts.ProjectName) + "  " +
		styleMuted.Render(fmt.Sprintf("filter: %s  %d rows", m.e.Filter(), len(m.rows)))

	var footer string
	switch {
	case m.mode != modeNormal:
		label := map[mode]string{modeEdit: "edit", modeAddAfter: "add", modeAddChild: "add child"}[m.mode]
		footer = styleInput.Width(m.width).Render(label + " " + m.input.View())
	case m.statusErr:
		footer = styleError.Render(xansi.Truncate(m.status, m.width, m.glyphs.ellipsis))
	default:
		footer = styleMuted.Render(xansi.Truncate(m.status, m.width, m.glyphs.ellipsis))
	}
	helpView := m.help.View(m.keys)

	bodyH := max(1, m.height-2-lipgloss.Height(footer)-lipgloss.Height(helpView))
	var lines []string
	if len(m.rows) == 0 {
		lines = append(lines, styleMuted.Render("Nothing to show. Press a to add an item or f to change the filter."))
	}
	start := 0
	if m.cursor >= bodyH {
		start = m.cursor - bodyH + 1
	}
	now := m.e.Now()
	for i := start; i < len(m.rows) && i < start+bodyH; i++ {
		lines = append(lines, m.renderRow(m.rows[i], i == m.cursor, now))
	}
	for len(lines) < bodyH {
		lines = append(lines, "")
	}

	return strings.Join([]string{header, strings.Join(lines, "\n"), footer, helpView}, "\n")
}

func (m appModel) renderRow(r outline.Row, selected bool, now time.Time) string {
	it := r.Item
	g := m.glyphs

	marker := g.leaf
	if r.IsParent {
		marker = g.open
		if it.Collapsed {
			marker = g.closed
		}
	}
	if it.Pinned {
		marker = g.pin + marker
	}
	text := it.Text
	if text == "" {
		text = "(empty)"
	}

	parts := []string{
		strings.Repeat("  ", r.Depth) + marker,
		stateStyle(it.State).Render("[" + string(it.State) + "]"),
		text,
	}
	if it.State == model.StateWaiting && it.SnoozeTil != nil && now.Before(*it.SnoozeTil) {
		parts = append(parts, styleMuted.Render(g.snooze+" "+it.SnoozeTil.Local().Format("Jan 2 15:04")))
	}
	if r.Flags != nil && r.Flags.AllDone {
		parts = append(parts, styleMuted.Render("(all done)"))
	}
	if _, ok := m.e.Pending(it.ID); ok {
		parts = append(parts, styleError.Render("(unsaved)"))
	}

	line := xansi.Truncate(strings.Join(parts, " "), m.width, g.ellipsis)
	if selected {
		return styleSelected.Width(m.width).Render(xansi.Strip(line))
	}
	return line
}
