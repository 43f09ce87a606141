package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Start   key.Binding
	End     key.Binding
	Save    key.Binding
	Discard key.Binding
	Up      key.Binding
	Down    key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.End, k.Save, k.Discard, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Start, k.End, k.Save, k.Discard, k.Help, k.Quit},
	}
}

var defaultKeyMap = keyMap{
	Start: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "start conversation"),
	),
	End: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "end conversation"),
	),
	Save: key.NewBinding(
		key.WithKeys("y"),
		key.WithHelp("y", "save transcript"),
	),
	Discard: key.NewBinding(
		key.WithKeys("n"),
		key.WithHelp("n", "discard transcript"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "scroll down"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
