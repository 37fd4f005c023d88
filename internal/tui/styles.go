package tui

import "github.com/charmbracelet/lipgloss"

type Styles struct {
	Title       lipgloss.Style
	TabActive   lipgloss.Style
	TabInactive lipgloss.Style
	Status      lipgloss.Style
	Notice      lipgloss.Style
	Flash       lipgloss.Style
	Help        lipgloss.Style
	Input       lipgloss.Style
	Box         lipgloss.Style
	Selected    lipgloss.Style
}

func NewStyles(dark bool) Styles {
	s := Styles{}
	if dark {
		s.Title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
		s.TabActive = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
		s.TabInactive = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
		s.Status = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
		s.Help = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
		s.Box = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2)
	} else {
		s.Title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("27"))
		s.TabActive = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("27"))
		s.TabInactive = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
		s.Status = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
		s.Help = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
		s.Box = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("12")).Padding(1, 2)
	}
	s.Notice = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	s.Flash = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	s.Input = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	s.Selected = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("220"))
	return s
}
