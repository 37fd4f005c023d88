package tui

import tea "github.com/charmbracelet/bubbletea"

// KeyMap binds the table screen's actions.
type KeyMap struct {
	NextPage   tea.Key
	PrevPage   tea.Key
	GotoPage   tea.Key
	PrevColumn tea.Key
	NextColumn tea.Key
	Filter     tea.Key
	Clear      tea.Key
	SwitchView tea.Key
	Reload     tea.Key
	Export     tea.Key
	Dismiss    tea.Key
	Quit       tea.Key
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		NextPage:   tea.Key{Type: tea.KeyRunes, Runes: []rune{'n'}},
		PrevPage:   tea.Key{Type: tea.KeyRunes, Runes: []rune{'p'}},
		GotoPage:   tea.Key{Type: tea.KeyRunes, Runes: []rune{'g'}},
		PrevColumn: tea.Key{Type: tea.KeyLeft},
		NextColumn: tea.Key{Type: tea.KeyRight},
		Filter:     tea.Key{Type: tea.KeyRunes, Runes: []rune{'f'}},
		Clear:      tea.Key{Type: tea.KeyRunes, Runes: []rune{'c'}},
		SwitchView: tea.Key{Type: tea.KeyTab},
		Reload:     tea.Key{Type: tea.KeyRunes, Runes: []rune{'r'}},
		Export:     tea.Key{Type: tea.KeyRunes, Runes: []rune{'x'}},
		Dismiss:    tea.Key{Type: tea.KeyRunes, Runes: []rune{'d'}},
		Quit:       tea.Key{Type: tea.KeyRunes, Runes: []rune{'q'}},
	}
}

func keyMatches(msg tea.KeyMsg, k tea.Key) bool {
	if k.Type != tea.KeyRunes {
		return msg.Type == k.Type
	}
	if len(k.Runes) > 0 {
		return msg.String() == string(k.Runes)
	}
	return false
}

// helpLine is the one-line key summary under the table.
func (k KeyMap) helpLine(filtered bool) string {
	s := "n/p page · g go to · ←/→ column · f filter · c clear · r reload · tab "
	if filtered {
		s += "all data · x export"
	} else {
		s += "filter all data"
	}
	return s + " · d dismiss · q quit"
}
