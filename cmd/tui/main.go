package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"peptaxa/internal/assign"
	"peptaxa/internal/report"
	"peptaxa/internal/store"
	"peptaxa/internal/taxonomy"
)

// Colors for modern design
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	accentColor    = lipgloss.Color("#F59E0B") // Amber
	surfaceColor   = lipgloss.Color("#1F2937") // Dark gray
	textColor      = lipgloss.Color("#F3F4F6") // Light gray
	mutedColor     = lipgloss.Color("#9CA3AF") // Muted gray
	borderColor    = lipgloss.Color("#374151") // Border gray
)

// Styles
var (
	containerStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor)

	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(textColor).
			Background(surfaceColor).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(mutedColor)

	// rank styles: the LCA's own rank stands out, major ranks are colored
	lcaRankStyle   = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	majorRankStyle = lipgloss.NewStyle().Foreground(secondaryColor).Bold(true)
	minorRankStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

type listItem struct {
	a assign.Assignment
}

func (i listItem) FilterValue() string {
	return i.a.Peptide + " " + i.a.LCA.Name
}

func (i listItem) Title() string {
	return i.a.Peptide
}

func (i listItem) Description() string {
	// Metadata line shown below the title in the selector list
	return fmt.Sprintf("%s: %s    hits: %d", i.a.LCA.Rank, i.a.LCA.Name, len(i.a.BlastProteins))
}

type mode int

const (
	modeLineage mode = iota
	modeProteins
	modeSummary
)

func (m mode) String() string {
	switch m {
	case modeLineage:
		return "Lineage"
	case modeProteins:
		return "Proteins"
	case modeSummary:
		return "Rank summary"
	default:
		return "Unknown"
	}
}

type model struct {
	h             *taxonomy.Hierarchy
	list          list.Model
	assignments   []assign.Assignment
	summary       report.Summary
	source        string
	currentMode   mode
	showHelp      bool
	width         int
	height        int
	selectedIndex int
}

func newModel(h *taxonomy.Hierarchy, assignments []assign.Assignment, source string) model {
	items := make([]list.Item, len(assignments))
	for i, a := range assignments {
		items[i] = listItem{a: a}
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Peptide LCAs"
	l.SetShowStatusBar(false)
	l.SetShowPagination(true)
	l.SetFilteringEnabled(true)

	return model{
		h:           h,
		list:        l,
		assignments: assignments,
		summary:     report.Summarize(h, assignments),
		source:      source,
		currentMode: modeLineage,
	}
}

func (m model) cycleMode() model {
	m.currentMode = (m.currentMode + 1) % 3
	return m
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Calculate list dimensions (left panel takes 1/3 of width)
		m.list.SetWidth(msg.Width / 3)
		m.list.SetHeight(msg.Height - 4)
		return m, nil

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "h":
			m.showHelp = !m.showHelp
			return m, nil
		case "tab":
			return m.cycleMode(), nil
		case "1":
			m.currentMode = modeLineage
			return m, nil
		case "2":
			m.currentMode = modeProteins
			return m, nil
		case "3":
			m.currentMode = modeSummary
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	m.selectedIndex = m.list.Index()
	return m, cmd
}

func (m model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelpModal()
	}
	main := lipgloss.JoinHorizontal(lipgloss.Top, m.renderLeftPanel(), m.renderRightPanel())
	return lipgloss.JoinVertical(lipgloss.Left, main, m.renderStatusBar())
}

func (m model) renderLeftPanel() string {
	return containerStyle.
		Width(m.width/3 - 2).
		Height(m.height - 4).
		Render(m.list.View())
}

func (m model) renderRightPanel() string {
	panel := containerStyle.
		Width(m.width*2/3 - 2).
		Height(m.height - 4)

	if m.currentMode == modeSummary {
		return panel.Render(strings.Join(m.summaryLines(), "\n"))
	}
	if len(m.assignments) == 0 {
		return panel.Render("No assignments available")
	}
	item, ok := m.list.SelectedItem().(listItem)
	if !ok {
		return panel.Render("No peptide selected")
	}
	return panel.Render(strings.Join(m.buildRightLines(item.a), "\n"))
}

// buildRightLines renders the detail panel of one assignment in the
// current mode.
func (m model) buildRightLines(a assign.Assignment) []string {
	lines := []string{
		titleStyle.Render(a.Peptide),
		labelStyle.Render("LCA: ") + lcaRankStyle.Render(a.LCA.Rank) + " " + a.LCA.Name + labelStyle.Render(fmt.Sprintf(" (%d)", a.LCA.ID)),
		"",
	}
	switch m.currentMode {
	case modeProteins:
		lines = append(lines, titleStyle.Render("Candidate proteins"))
		lines = append(lines, wrapList(a.Proteins, m.width*2/3-6)...)
		lines = append(lines, "", titleStyle.Render("Accepted BLAST hits"))
		lines = append(lines, wrapList(a.BlastProteins, m.width*2/3-6)...)
	default:
		for _, r := range m.h.Ranks() {
			ref, ok := a.LCA.Ancestor(r)
			if !ok {
				continue
			}
			name := m.h.Name(r)
			style := minorRankStyle
			switch {
			case name == a.LCA.Rank:
				style = lcaRankStyle
			case m.h.IsMajor(name):
				style = majorRankStyle
			}
			lines = append(lines, fmt.Sprintf("%s %s %s", style.Render(fmt.Sprintf("%-18s", name)), ref.Name, labelStyle.Render(fmt.Sprintf("(%d)", ref.ID))))
		}
		if a.LCA.Depth() == 0 {
			lines = append(lines, labelStyle.Render("No rank shared by the hit taxa"))
		}
	}
	return lines
}

func (m model) summaryLines() []string {
	lines := []string{titleStyle.Render(fmt.Sprintf("%d assigned peptides", m.summary.Total)), ""}
	for _, rc := range m.summary.ByRank {
		lines = append(lines, fmt.Sprintf("%-18s %6d", rc.Rank, rc.Count))
	}
	lines = append(lines, "", titleStyle.Render("Major ranks"))
	for _, rc := range m.summary.ByMajorRank {
		lines = append(lines, fmt.Sprintf("%-18s %6d", rc.Rank, rc.Count))
	}
	return lines
}

// wrapList joins ids into lines no wider than width.
func wrapList(ids []string, width int) []string {
	if len(ids) == 0 {
		return []string{labelStyle.Render("none")}
	}
	if width < 10 {
		width = 10
	}
	var lines []string
	var cur strings.Builder
	for _, id := range ids {
		if cur.Len() > 0 && cur.Len()+1+len(id) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(id)
	}
	return append(lines, cur.String())
}

func (m model) renderStatusBar() string {
	leftInfo := fmt.Sprintf("%d/%d peptides", m.selectedIndex+1, len(m.assignments))
	centerInfo := fmt.Sprintf("Mode: %s", m.currentMode)
	rightInfo := "Press 'h' for help, 'q' to quit"

	spacing := m.width - len(leftInfo) - len(centerInfo) - len(rightInfo) - 6
	var statusContent string
	if spacing > 0 {
		leftSpacing := spacing / 2
		statusContent = leftInfo + strings.Repeat(" ", leftSpacing) + centerInfo + strings.Repeat(" ", spacing-leftSpacing) + rightInfo
	} else {
		// Fallback for narrow terminals
		statusContent = fmt.Sprintf("%s | %s", leftInfo, centerInfo)
	}
	return statusBarStyle.Width(m.width).Render(statusContent)
}

func (m model) renderHelpModal() string {
	helpContent := `Peptide LCA Browser - Help

Navigation:
  up/down, j/k  Navigate list
  /             Filter peptides or taxon names

View Modes:
  1             Lineage of the LCA
  2             Candidate proteins and BLAST hits
  3             Assignments per rank
  tab           Next mode

General:
  h             Toggle this help
  q, Ctrl+C     Quit application

Source: ` + m.source + `
Total peptides: ` + fmt.Sprintf("%d", len(m.assignments)) + `
`
	modal := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(primaryColor).
		Padding(1, 2).
		Background(surfaceColor).
		Foreground(textColor).
		Width(60).
		Render(helpContent)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal)
}

func load(h *taxonomy.Hierarchy, path, dbPath, runID string) ([]assign.Assignment, string, error) {
	if dbPath != "" {
		st, err := store.Open(dbPath, h)
		if err != nil {
			return nil, "", err
		}
		defer st.Close()
		ctx := context.Background()
		if runID == "" {
			runs, err := st.Runs(ctx)
			if err != nil {
				return nil, "", err
			}
			if len(runs) == 0 {
				return nil, "", fmt.Errorf("%s holds no runs", dbPath)
			}
			runID = runs[0].ID
		}
		as, err := st.Assignments(ctx, runID, "")
		return as, dbPath + " run " + runID, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	as, err := report.ReadAll(f, h)
	return as, path, err
}

func main() {
	inFlag := flag.String("in", "lca.tsv", "LCA table written by infer-taxa")
	dbFlag := flag.String("db", "", "results database (overrides -in)")
	runFlag := flag.String("run", "", "run id in the results database (default latest)")
	flag.Parse()

	h := taxonomy.NewHierarchy()
	assignments, source, err := load(h, *inFlag, *dbFlag, *runFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	p := tea.NewProgram(newModel(h, assignments, source), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v", err)
		os.Exit(1)
	}
}
