package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up, Down         key.Binding
	Edit             key.Binding
	AddAfter         key.Binding
	AddChild         key.Binding
	Nest, Unnest     key.Binding
	Bump             key.Binding
	MoveUp, MoveDown key.Binding
	Collapse         key.Binding
	Pin              key.Binding
	Done             key.Binding
	State            key.Binding
	Snooze           key.Binding
	Filter           key.Binding
	Delete           key.Binding
	DeleteAll        key.Binding
	Reload           key.Binding
	Retry            key.Binding
	Discard          key.Binding
	Help             key.Binding
	Quit             key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Edit:      key.NewBinding(key.WithKeys("enter", "e"), key.WithHelp("enter", "edit")),
		AddAfter:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add below")),
		AddChild:  key.NewBinding(key.WithKeys("A"), key.WithHelp("A", "add child")),
		Nest:      key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "nest")),
		Unnest:    key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "unnest")),
		Bump:      key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "bump")),
		MoveUp:    key.NewBinding(key.WithKeys("K"), key.WithHelp("K", "move up")),
		MoveDown:  key.NewBinding(key.WithKeys("J"), key.WithHelp("J", "move down")),
		Collapse:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "collapse")),
		Pin:       key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pin")),
		Done:      key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "done")),
		State:     key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7"), key.WithHelp("1-7", "state")),
		Snooze:    key.NewBinding(key.WithKeys("z"), key.WithHelp("z", "snooze")),
		Filter:    key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "filter")),
		Delete:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "delete")),
		DeleteAll: key.NewBinding(key.WithKeys("X"), key.WithHelp("X", "delete subtree")),
		Reload:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		Retry:     key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "retry unsaved")),
		Discard:   key.NewBinding(key.WithKeys("U"), key.WithHelp("U", "discard unsaved")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.AddAfter, k.Edit, k.Nest, k.Done, k.Filter, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.MoveUp, k.MoveDown, k.Bump},
		{k.AddAfter, k.AddChild, k.Edit, k.Nest, k.Unnest},
		{k.Done, k.State, k.Snooze, k.Pin, k.Collapse},
		{k.Filter, k.Delete, k.DeleteAll, k.Reload, k.Retry, k.Discard},
		{k.Help, k.Quit},
	}
}
