// Package tui implements the terminal user interface using Bubble Tea.
// It drives the snowfl client (search, paging, magnet resolution) and hands
// resolved magnets to qBittorrent.
package tui

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/litescript/snowfl-tui/internal/config"
	"github.com/litescript/snowfl-tui/internal/qbit"
	"github.com/litescript/snowfl-tui/internal/snowfl"
	"github.com/litescript/snowfl-tui/internal/theme"
	"github.com/litescript/snowfl-tui/internal/version"
)

// View modes
type viewMode int

const (
	viewSearch viewMode = iota
	viewResults
	viewDetails
)

// Local sort columns for the results table
const (
	colName = iota
	colSize
	colSeed
	colLeech
	colHealth
	numCols
)

var colNames = [numCols]string{"NAME", "SIZE", "SEED", "LEECH", "HEALTH"}

// Searcher is the part of the snowfl client the TUI uses.
type Searcher interface {
	Search(ctx context.Context, query string, filter snowfl.SortFilter, page int) ([]snowfl.Item, error)
	ResolveMagnet(ctx context.Context, item snowfl.Item) (string, error)
	Invalidate(ctx context.Context) error
}

// Downloader receives resolved magnets.
type Downloader interface {
	AddMagnet(ctx context.Context, magnet, savePath string) error
	IsConnected(ctx context.Context) bool
}

// Factory builds the searcher and downloader for a config. It runs once in
// NewModel and again each time the config file is reloaded.
type Factory func(cfg config.Config) (Searcher, Downloader, error)

// Model is the main application state
type Model struct {
	cfg config.Config
	log zerolog.Logger

	searchInput textinput.Model
	spinner     spinner.Model

	mode      viewMode
	results   []snowfl.Item
	cursor    int
	query     string
	page      int
	filter    snowfl.SortFilter
	searching bool
	resolving bool
	err       error
	statusMsg string

	qbitOnline bool
	update     version.UpdateInfo

	// Local re-sorting of the current page
	sortCol int
	sortAsc bool

	// Results sent to qBittorrent, by upstream locator
	downloaded map[string]bool

	width  int
	height int

	styles Styles

	build    Factory
	client   Searcher
	download Downloader
	checker  *version.Checker
}

// Messages
type searchResultMsg struct {
	query   string
	page    int
	filter  snowfl.SortFilter
	results []snowfl.Item
	err     error
}

type magnetResolvedMsg struct {
	url    string
	magnet string
	send   bool
	err    error
}

type torrentAddedMsg struct {
	name string
	url  string
	err  error
}

type qbitStatusMsg struct {
	online bool
}

type updateCheckMsg struct {
	info version.UpdateInfo
}

type tokenRefreshedMsg struct {
	err error
}

type configReloadedMsg struct {
	cfg config.Config
	err error
}

// ConfigReloaded wraps a reloaded config for delivery via tea.Program.Send.
func ConfigReloaded(cfg config.Config, err error) tea.Msg {
	return configReloadedMsg{cfg: cfg, err: err}
}

type clientsRebuiltMsg struct {
	cfg      config.Config
	client   Searcher
	download Downloader
	err      error
}

type themeChangedMsg struct {
	palette theme.Palette
}

// ThemeChanged wraps a newly detected palette for tea.Program.Send.
func ThemeChanged(p theme.Palette) tea.Msg {
	return themeChangedMsg{palette: p}
}

// NewModel creates the application model, building its collaborators with
// build. checker may be nil to skip the update check.
func NewModel(cfg config.Config, build Factory, checker *version.Checker, log zerolog.Logger) (Model, error) {
	client, download, err := build(cfg)
	if err != nil {
		return Model{}, err
	}

	ti := textinput.New()
	ti.Placeholder = "Search snowfl..."
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 50

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		cfg:         cfg,
		log:         log.With().Str("component", "tui").Logger(),
		searchInput: ti,
		spinner:     sp,
		mode:        viewSearch,
		filter:      cfg.SortFilter(),
		sortCol:     -1,
		downloaded:  make(map[string]bool),
		build:       build,
		client:      client,
		download:    download,
		checker:     checker,
	}
	return m.WithPalette(theme.DefaultPalette()), nil
}

// WithPalette returns m restyled with p.
func (m Model) WithPalette(p theme.Palette) Model {
	m.styles = NewStyles(p)
	m.spinner.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(p.Accent))
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.checkQbitStatus()}
	if m.checker != nil {
		cmds = append(cmds, m.checkForUpdate())
	}
	return tea.Batch(cmds...)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.searchInput.Width = msg.Width - 20
		return m, nil

	case spinner.TickMsg:
		if m.searching || m.resolving {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case searchResultMsg:
		m.searching = false
		if msg.err != nil {
			m.err = msg.err
			m.statusMsg = ""
			m.log.Warn().Err(msg.err).Str("query", msg.query).Msg("Search failed")
			return m, nil
		}
		m.err = nil
		m.query, m.page, m.filter = msg.query, msg.page, msg.filter
		m.results = msg.results
		if m.sortCol >= 0 {
			sortItems(m.results, m.sortCol, m.sortAsc)
		}
		m.cursor = 0
		m.mode = viewResults
		m.searchInput.Blur()
		m.statusMsg = fmt.Sprintf("%d results, page %d, sort %s", len(m.results), m.page+1, m.filter)
		return m, nil

	case magnetResolvedMsg:
		m.resolving = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		idx := m.indexOf(msg.url)
		if idx < 0 {
			return m, nil
		}
		m.results[idx].Magnet = msg.magnet
		if msg.send {
			return m, m.sendToQbit(m.results[idx])
		}
		m.mode = viewDetails
		m.statusMsg = "Magnet resolved"
		return m, nil

	case torrentAddedMsg:
		if errors.Is(msg.err, qbit.ErrNotMagnet) {
			m.err = fmt.Errorf("%s: no magnet link to send", TruncateString(msg.name, 40))
			return m, nil
		}
		if msg.err != nil {
			m.err = fmt.Errorf("qBittorrent: %w", msg.err)
			return m, nil
		}
		m.err = nil
		m.downloaded[msg.url] = true
		m.statusMsg = "Sent to qBittorrent: " + TruncateString(msg.name, 40)
		return m, nil

	case qbitStatusMsg:
		m.qbitOnline = msg.online
		return m, nil

	case updateCheckMsg:
		m.update = msg.info
		return m, nil

	case tokenRefreshedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.statusMsg = "Token cleared, it will be rediscovered on the next request"
		return m, nil

	case configReloadedMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("config reload: %w", msg.err)
			return m, nil
		}
		return m, m.rebuild(msg.cfg)

	case clientsRebuiltMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("config reload: %w", msg.err)
			m.log.Warn().Err(msg.err).Msg("Keeping previous clients after failed reload")
			return m, nil
		}
		m.cfg = msg.cfg
		m.client = msg.client
		m.download = msg.download
		m.filter = msg.cfg.SortFilter()
		m.err = nil
		m.statusMsg = "Config reloaded"
		m.log.Info().Str("sort", string(m.filter)).Msg("Config reloaded")
		return m, m.checkQbitStatus()

	case themeChangedMsg:
		return m.WithPalette(msg.palette), nil
	}

	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	if m.searchInput.Focused() {
		switch key {
		case "enter":
			query := strings.TrimSpace(m.searchInput.Value())
			if query == "" {
				return m, nil
			}
			return m.startSearch(query, m.filter, 0)
		case "esc":
			m.searchInput.Blur()
			return m, nil
		case "ctrl+u":
			m.searchInput.SetValue("")
			return m, nil
		}
		var cmd tea.Cmd
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}

	switch key {
	case "q":
		return m, tea.Quit
	case "/":
		m.mode = viewSearch
		m.searchInput.Focus()
		return m, textinput.Blink
	case "esc":
		if m.mode == viewDetails {
			m.mode = viewResults
		}
		return m, nil
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.results)-1 {
			m.cursor++
		}
	case "n":
		if m.query != "" && !m.searching && len(m.results) > 0 {
			return m.startSearch(m.query, m.filter, m.page+1)
		}
	case "p":
		if m.query != "" && !m.searching && m.page > 0 {
			return m.startSearch(m.query, m.filter, m.page-1)
		}
	case "s":
		// Upstream sort: re-query from the first page.
		if m.query != "" && !m.searching {
			return m.startSearch(m.query, m.filter.Next(), 0)
		}
		m.filter = m.filter.Next()
	case "left", "h":
		m.sortCol = (m.sortCol - 1 + numCols) % numCols
		sortItems(m.results, m.sortCol, m.sortAsc)
	case "right", "l":
		m.sortCol = (m.sortCol + 1) % numCols
		sortItems(m.results, m.sortCol, m.sortAsc)
	case "o":
		m.sortAsc = !m.sortAsc
		if m.sortCol >= 0 {
			sortItems(m.results, m.sortCol, m.sortAsc)
		}
	case "d":
		return m.resolveSelected(false)
	case "enter":
		return m.resolveSelected(true)
	case "r":
		return m, m.refreshToken()
	}
	return m, nil
}

func (m Model) startSearch(query string, filter snowfl.SortFilter, page int) (tea.Model, tea.Cmd) {
	m.searching = true
	m.err = nil
	m.statusMsg = fmt.Sprintf("Searching %q...", query)
	return m, tea.Batch(m.spinner.Tick, m.doSearch(query, filter, page))
}

func (m Model) doSearch(query string, filter snowfl.SortFilter, page int) tea.Cmd {
	client := m.client
	timeout := 2 * m.cfg.Timeout()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		results, err := client.Search(ctx, query, filter, page)
		return searchResultMsg{query: query, page: page, filter: filter, results: results, err: err}
	}
}

// resolveSelected resolves the magnet of the highlighted result, optionally
// sending it to qBittorrent once known.
func (m Model) resolveSelected(send bool) (tea.Model, tea.Cmd) {
	if m.cursor >= len(m.results) || m.resolving {
		return m, nil
	}
	item := m.results[m.cursor]

	if item.Magnet != "" {
		if send {
			return m, m.sendToQbit(item)
		}
		m.mode = viewDetails
		return m, nil
	}

	m.resolving = true
	m.err = nil
	m.statusMsg = "Resolving magnet..."
	client := m.client
	timeout := 2 * m.cfg.Timeout()
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		magnet, err := client.ResolveMagnet(ctx, item)
		return magnetResolvedMsg{url: item.URL, magnet: magnet, send: send, err: err}
	})
}

func (m Model) sendToQbit(item snowfl.Item) tea.Cmd {
	if m.download == nil {
		return nil
	}
	dl := m.download
	savePath := m.cfg.Downloads.Path
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := dl.AddMagnet(ctx, item.Magnet, savePath)
		return torrentAddedMsg{name: item.Name, url: item.URL, err: err}
	}
}

func (m Model) checkQbitStatus() tea.Cmd {
	dl := m.download
	return func() tea.Msg {
		if dl == nil {
			return qbitStatusMsg{}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return qbitStatusMsg{online: dl.IsConnected(ctx)}
	}
}

func (m Model) checkForUpdate() tea.Cmd {
	checker := m.checker
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return updateCheckMsg{info: checker.Check(ctx)}
	}
}

// rebuild constructs fresh collaborators for cfg off the update loop.
func (m Model) rebuild(cfg config.Config) tea.Cmd {
	build := m.build
	return func() tea.Msg {
		client, download, err := build(cfg)
		return clientsRebuiltMsg{cfg: cfg, client: client, download: download, err: err}
	}
}

func (m Model) refreshToken() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		return tokenRefreshedMsg{err: client.Invalidate(context.Background())}
	}
}

func (m Model) indexOf(url string) int {
	for i, it := range m.results {
		if it.URL == url {
			return i
		}
	}
	return -1
}

var sizeRegex = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(TB|GB|MB|KB|B)\b`)

// parseSize turns "1.4 GB" into bytes. Unparseable sizes sort as 0.
func parseSize(s string) float64 {
	m := sizeRegex.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, _ := strconv.ParseFloat(m[1], 64)
	switch strings.ToUpper(m[2]) {
	case "TB":
		n *= 1 << 40
	case "GB":
		n *= 1 << 30
	case "MB":
		n *= 1 << 20
	case "KB":
		n *= 1 << 10
	}
	return n
}

func sortItems(items []snowfl.Item, col int, asc bool) {
	less := func(a, b snowfl.Item) bool {
		switch col {
		case colSize:
			return parseSize(a.Size) < parseSize(b.Size)
		case colSeed:
			return a.Seeders < b.Seeders
		case colLeech:
			return a.Leechers < b.Leechers
		case colHealth:
			return a.Health() < b.Health()
		default:
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if asc {
			return less(items[i], items[j])
		}
		return less(items[j], items[i])
	})
}

// View renders the UI
func (m Model) View() string {
	var b strings.Builder

	title := m.styles.Title.Render("snowfl") + m.styles.Muted.Render(" v"+version.Version)
	if m.update.UpdateAvailable {
		title += m.styles.Badge.Render("  update " + m.update.LatestVersion + ": " + version.InstallCommand())
	}
	b.WriteString(title)
	b.WriteString("\n\n")

	b.WriteString(m.styles.SearchPrompt.Render("> ") + m.searchInput.View())
	b.WriteString("\n\n")

	contentHeight := m.height - 9
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch {
	case m.searching:
		b.WriteString(m.spinner.View() + " Searching...")
	case m.mode == viewSearch && len(m.results) == 0:
		b.WriteString(m.styles.Muted.Render("Type a query and press enter"))
	default:
		b.WriteString(m.renderResults(contentHeight))
	}
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(m.styles.Error.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.renderStatusBar())

	return b.String()
}

func (m Model) renderResults(height int) string {
	if len(m.results) == 0 {
		return m.styles.Muted.Render("No results")
	}

	var b strings.Builder

	width := m.width
	if width == 0 {
		width = 100
	}
	nameWidth := width - 2 - 10 - 6 - 6 - 8 - 4 - 2
	if nameWidth < 20 {
		nameWidth = 20
	}
	widths := [numCols]int{nameWidth, 10, 6, 6, 8}

	var header []string
	for i, name := range colNames {
		ind := " "
		if i == m.sortCol {
			if m.sortAsc {
				ind = "↑"
			} else {
				ind = "↓"
			}
		}
		var text string
		if i == colName {
			text = PadRight(name+ind, widths[i])
		} else {
			text = PadLeft(ind+name, widths[i])
		}
		if i == m.sortCol {
			header = append(header, m.styles.SortedHeader.Render(text))
		} else {
			header = append(header, m.styles.Muted.Render(text))
		}
	}
	b.WriteString("  " + strings.Join(header, " "))
	b.WriteString("\n")

	visibleRows := height - 2
	if m.mode == viewDetails {
		visibleRows -= 5
	}
	if visibleRows < 1 {
		visibleRows = 1
	}
	start := 0
	if m.cursor >= visibleRows {
		start = m.cursor - visibleRows + 1
	}
	end := start + visibleRows
	if end > len(m.results) {
		end = len(m.results)
	}

	for i := start; i < end; i++ {
		it := m.results[i]
		name := it.Name
		if it.Trusted {
			name = "✓ " + name
		}
		if it.NSFW {
			name = "[18+] " + name
		}

		row := fmt.Sprintf("%s %s %s %s %s",
			PadRight(TruncateString(name, nameWidth), nameWidth),
			PadLeft(it.Size, widths[colSize]),
			PadLeft(strconv.Itoa(it.Seeders), widths[colSeed]),
			PadLeft(strconv.Itoa(it.Leechers), widths[colLeech]),
			PadLeft(m.styles.HealthBar(it.Health(), 6), widths[colHealth]))

		prefix := "  "
		if m.downloaded[it.URL] {
			prefix = m.styles.Online.Render("✓ ")
		}
		if i == m.cursor {
			b.WriteString(prefix + m.styles.TableSelected.Render(row))
		} else {
			b.WriteString(prefix + m.styles.TableRow.Render(row))
		}
		b.WriteString("\n")
	}

	if m.mode == viewDetails && m.cursor < len(m.results) {
		it := m.results[m.cursor]
		b.WriteString("\n")
		b.WriteString(m.styles.PanelTitle.Render("DETAILS"))
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf("  %s · %s · %s old", it.Site, it.Type, it.Age)))
		b.WriteString("\n")
		magnet := it.Magnet
		if magnet == "" {
			magnet = "(not resolved, press d)"
		}
		b.WriteString("  " + TruncateString(magnet, width-4))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) renderStatusBar() string {
	var qbitStr string
	if m.qbitOnline {
		qbitStr = m.styles.Online.Render("● qBit")
	} else {
		qbitStr = m.styles.Offline.Render("○ qBit")
	}

	var left string
	if m.searchInput.Focused() {
		left = m.styles.Online.Render("INPUT")
	} else {
		left = m.styles.HealthMed.Render("CMD")
	}
	if m.resolving {
		left += " " + m.spinner.View()
	}
	if m.statusMsg != "" {
		left += "  " + m.statusMsg
	}

	var help string
	if m.searchInput.Focused() {
		help = "[esc]CMD [ctrl+u]Clear [enter]Search"
	} else {
		help = "[/]Search [n/p]Page [s]Sort:" + string(m.filter) + " [←→o]Order [d]Magnet [enter]qBit [r]Token [q]Quit"
	}

	pad := m.width - lipgloss.Width(left) - lipgloss.Width(qbitStr) - 2
	if pad < 1 {
		pad = 1
	}
	return left + strings.Repeat(" ", pad) + qbitStr + "\n" + m.styles.HelpKey.Render(help)
}
