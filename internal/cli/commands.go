// Package cli implements the server's operator console and the table output
// shared with the headless client.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/networkbrawler/brawler/internal/api"
	"github.com/networkbrawler/brawler/internal/config"
	"github.com/networkbrawler/brawler/internal/events"
	intnet "github.com/networkbrawler/brawler/internal/network"
	"github.com/networkbrawler/brawler/internal/server"
)

const commandTimeout = 5 * time.Second

// CLI is the interactive operator console.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	board    *server.StatusBoard
	control  api.Controller
	results  api.Results
	lag      *server.LagMonitor
	peers    api.Peers

	out io.Writer
}

// NewCLI creates a console writing to out. Results, Lag and Peers in deps
// may be nil.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, deps api.Dependencies, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		board:    deps.Board,
		control:  deps.Control,
		results:  deps.Results,
		lag:      deps.Lag,
		peers:    deps.Peers,
		out:      out,
	}
}

// Start reads commands from in until EOF, "quit", or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, in io.Reader) {
	fmt.Fprintln(c.out, "\nBrawler console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "brawler> ")
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

// execute runs one command and reports whether the console should exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "p":
		c.printPlayers()
	case "leaderboard", "lb":
		c.printLeaderboard()
	case "matches":
		return false, c.printMatches(args)
	case "stats":
		return false, c.printStats(args)
	case "top":
		return false, c.printTop(args)
	case "lag":
		c.printLag()
	case "kick":
		return false, c.cmdKick(ctx, args)
	case "reset":
		return false, c.cmdReset(ctx)
	case "set":
		return false, c.cmdSet(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down...")
		// Shutdown handlers have run by the time the console returns.
		if err := c.eventBus.EmitSync(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		}); err != nil {
			return true, fmt.Errorf("shutdown: %w", err)
		}
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status              Match phase, timers and loop counters
  players             Connected players
  leaderboard         Current standings
  matches [n]         Last n finished matches
  stats <name>        Lifetime stats for a player
  top [n]             Best players by wins
  lag                 Long frame summary
  kick <slot>         Disconnect a player
  reset               End the match and return to the lobby
  set <field> <value> Change a match setting, e.g. set kill_interval_ms 15000
  quit                Stop the server`)
}

func (c *CLI) printStatus() {
	snap := c.board.Snapshot()
	m := snap.Match

	fmt.Fprintf(c.out, "\n  Phase:            %s\n", m.Phase)
	fmt.Fprintf(c.out, "  Match:            #%d\n", m.MatchNumber)
	fmt.Fprintf(c.out, "  Match time:       %s\n", m.MatchTime.Round(time.Second))
	if m.CountdownActive {
		fmt.Fprintf(c.out, "  Countdown:        %s\n", m.CountdownLeft.Round(100*time.Millisecond))
	}
	if m.NextElimination > 0 {
		fmt.Fprintf(c.out, "  Next elimination: %s\n", m.NextElimination.Round(time.Second))
	}
	fmt.Fprintf(c.out, "  Players:          %d (%d alive)\n", len(m.Players), m.Alive)
	fmt.Fprintf(c.out, "  Objects:          %d\n", m.Objects)
	if m.GoldenHolder != "" {
		fmt.Fprintf(c.out, "  Golden holder:    %s\n", m.GoldenHolder)
	}
	if m.LastWinner != "" {
		fmt.Fprintf(c.out, "  Last winner:      %s\n", m.LastWinner)
	}
	fmt.Fprintf(c.out, "  Ticks:            %d\n", snap.Ticks)
	fmt.Fprintf(c.out, "  Snapshots sent:   %d\n", snap.Replication.Snapshots)
	fmt.Fprintf(c.out, "  Uptime:           %s\n\n", snap.Uptime().Round(time.Second))
}

func (c *CLI) printPlayers() {
	players := c.board.Snapshot().Match.Players
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players connected")
		return
	}

	tw := newTable(c.out, "Slot", "Name", "Peer", "Addr", "In", "Out", "Ready", "Score", "Brawler", "State")
	for _, p := range players {
		state := "lobby"
		switch {
		case p.Dead:
			state = "dead"
		case p.Playing:
			state = "playing"
		case !p.Named:
			state = "connecting"
		}
		brawler := "-"
		if p.HasBrawler {
			brawler = strconv.FormatUint(uint64(p.BrawlerID), 10)
		}
		addr, in, out := "-", "-", "-"
		if c.peers != nil {
			if conn, ok := c.peers.Get(intnet.PeerID(p.Peer)); ok {
				addr = conn.Addr
				in = formatBytes(conn.BytesIn)
				out = formatBytes(conn.BytesOut)
			}
		}
		tw.Append([]string{
			strconv.Itoa(p.Slot),
			p.Name,
			strconv.FormatUint(uint64(p.Peer), 10),
			addr,
			in,
			out,
			yesNo(p.Ready),
			strconv.FormatUint(uint64(p.Score), 10),
			brawler,
			state,
		})
	}
	tw.Render()
}

func (c *CLI) printLeaderboard() {
	entries := c.board.Snapshot().Match.Leaderboard
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "Leaderboard is empty")
		return
	}
	tw := newTable(c.out, "#", "Name", "Score", "Status")
	for i, e := range entries {
		status := "alive"
		if e.IsDead {
			status = "dead"
		}
		tw.Append([]string{strconv.Itoa(i + 1), e.Name, strconv.FormatUint(uint64(e.Score), 10), status})
	}
	tw.Render()
}

func (c *CLI) printMatches(args []string) error {
	if c.results == nil {
		return fmt.Errorf("match history is not enabled")
	}
	n, err := optionalCount(args, 10)
	if err != nil {
		return err
	}
	matches, err := c.results.RecentMatches(n)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintln(c.out, "No matches recorded")
		return nil
	}

	tw := newTable(c.out, "Match", "Ended", "Length", "Winner", "Players")
	for _, m := range matches {
		winner := m.Winner
		switch {
		case m.Aborted:
			winner = "(reset)"
		case !m.HasWinner:
			winner = "(none)"
		}
		tw.Append([]string{
			"#" + strconv.FormatUint(m.MatchNumber, 10),
			m.EndedAt.Local().Format("2006-01-02 15:04"),
			m.Duration().Round(time.Second).String(),
			winner,
			strconv.Itoa(len(m.Players)),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printStats(args []string) error {
	if c.results == nil {
		return fmt.Errorf("match history is not enabled")
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: stats <name>")
	}
	st, err := c.results.PlayerStats(strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\n  %s: %d matches, %d wins, best %d, total %d, avg place %.2f\n\n",
		st.Name, st.Matches, st.Wins, st.BestScore, st.TotalScore, st.AvgPlacement)
	return nil
}

func (c *CLI) printTop(args []string) error {
	if c.results == nil {
		return fmt.Errorf("match history is not enabled")
	}
	n, err := optionalCount(args, 10)
	if err != nil {
		return err
	}
	top, err := c.results.TopPlayers(n)
	if err != nil {
		return err
	}
	tw := newTable(c.out, "#", "Name", "Matches", "Wins", "Best", "Total")
	for i, st := range top {
		tw.Append([]string{
			strconv.Itoa(i + 1),
			st.Name,
			strconv.Itoa(st.Matches),
			strconv.Itoa(st.Wins),
			strconv.FormatUint(uint64(st.BestScore), 10),
			strconv.FormatInt(st.TotalScore, 10),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printLag() {
	if c.lag == nil {
		fmt.Fprintln(c.out, "Lag monitor is not running")
		return
	}
	d := c.lag.Data()
	fmt.Fprintf(c.out, "\n  Long frames:   %d total, %d this hour\n", d.TotalEvents, d.EventsThisHour)
	fmt.Fprintf(c.out, "  Skipped ticks: %d\n", d.TotalSkippedTicks)
	fmt.Fprintf(c.out, "  Behind:        max %dms, avg %.1fms\n", d.MaxBehindMs, d.AvgBehindMs)
	if alert, ok := c.lag.CheckThresholds(); ok {
		fmt.Fprintf(c.out, "  Alert:         %s (%s)\n", alert.Level, alert.Message)
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) cmdKick(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <slot>")
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil || slot < 0 {
		return fmt.Errorf("invalid slot: %s", args[0])
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := c.control.Kick(ctx, slot); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Kicked slot %d\n", slot)
	return nil
}

func (c *CLI) cmdReset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := c.control.ResetMatch(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Match reset to lobby")
	return nil
}

// cmdSet updates one match field, validates the section, and hands it to
// the loop for the next match.
func (c *CLI) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set <field> <value>")
	}
	key := args[0]
	value, err := parseValue(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	previous := c.cfg.GetMatch()
	if err := c.cfg.UpdateField("match", key, value); err != nil {
		return err
	}
	m := c.cfg.GetMatch()
	if result := config.ValidateMatch(m); !result.IsValid() {
		c.cfg.SetMatch(previous)
		return result.Errors[0]
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := c.control.ApplySettings(ctx, m.Settings()); err != nil {
		c.cfg.SetMatch(previous)
		return err
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	c.eventBus.Emit(ctx, events.Event{
		Type:    events.EventConfigChanged,
		Source:  "cli",
		Payload: events.ConfigChangedPayload{Section: "match", Key: key, Value: value},
	})
	fmt.Fprintf(c.out, "match.%s = %v (applies from the next match)\n", key, value)
	return nil
}

// parseValue reads numbers and booleans as such and anything else as text.
func parseValue(s string) (interface{}, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	if s == "" {
		return nil, fmt.Errorf("value required")
	}
	return s, nil
}

func optionalCount(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid count: %s", args[0])
	}
	return n, nil
}

func newTable(out io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatBytes(n uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)
	switch {
	case n >= MB:
		return fmt.Sprintf("%.1f MB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.1f KB", float64(n)/KB)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
