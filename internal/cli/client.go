package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/networkbrawler/brawler/internal/client"
	"github.com/networkbrawler/brawler/internal/protocol"
)

// ClientAction is what a headless client console line asks for.
type ClientAction int

const (
	ActionNone ClientAction = iota
	ActionReady
	ActionMove
	ActionSpectate
	ActionSteal
	ActionBoard
	ActionQuit
)

// ClientCommand is a parsed client console line.
type ClientCommand struct {
	Action ClientAction
	Inputs protocol.Inputs
	Delta  int
	Target uint32
}

// ParseClientCommand reads one client console line.
//
//	ready | move [up|down|left|right|stop]... | next | prev | steal <brawler> | board | quit
func ParseClientCommand(line string) (ClientCommand, error) {
	parts := strings.Fields(strings.ToLower(line))
	if len(parts) == 0 {
		return ClientCommand{}, nil
	}

	switch parts[0] {
	case "ready", "r":
		return ClientCommand{Action: ActionReady}, nil
	case "move", "m":
		var in protocol.Inputs
		for _, dir := range parts[1:] {
			switch dir {
			case "up", "w":
				in.Up = true
			case "down", "s":
				in.Down = true
			case "left", "a":
				in.Left = true
			case "right", "d":
				in.Right = true
			case "stop":
				in = protocol.Inputs{}
			default:
				return ClientCommand{}, fmt.Errorf("unknown direction %q", dir)
			}
		}
		return ClientCommand{Action: ActionMove, Inputs: in}, nil
	case "next", "n":
		return ClientCommand{Action: ActionSpectate, Delta: 1}, nil
	case "prev":
		return ClientCommand{Action: ActionSpectate, Delta: -1}, nil
	case "steal":
		if len(parts) < 2 {
			return ClientCommand{}, fmt.Errorf("usage: steal <brawler>")
		}
		id, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return ClientCommand{}, fmt.Errorf("invalid brawler id: %s", parts[1])
		}
		return ClientCommand{Action: ActionSteal, Target: uint32(id)}, nil
	case "board", "b", "lb":
		return ClientCommand{Action: ActionBoard}, nil
	case "quit", "exit", "q":
		return ClientCommand{Action: ActionQuit}, nil
	}
	return ClientCommand{}, fmt.Errorf("unknown command %q", parts[0])
}

// ApplyClientCommand carries out cmd against the consumer. It must run on
// the goroutine that owns c. It reports whether the client should exit.
func ApplyClientCommand(c *client.Consumer, cmd ClientCommand, out io.Writer) bool {
	switch cmd.Action {
	case ActionReady:
		if !c.ToggleReady() {
			fmt.Fprintln(out, "Ready only counts in the lobby or on the end screen")
			return false
		}
		fmt.Fprintf(out, "Ready: %s\n", yesNo(c.Ready()))
	case ActionMove:
		c.SetInputs(cmd.Inputs)
	case ActionSpectate:
		c.CycleSpectate(cmd.Delta)
		if p, ok := c.Spectated(); ok {
			fmt.Fprintf(out, "Spectating %s\n", p.Name)
		} else {
			fmt.Fprintln(out, "Nobody to spectate")
		}
	case ActionSteal:
		if !c.RequestSteal(cmd.Target) {
			fmt.Fprintln(out, "Steal is only possible while playing")
		}
	case ActionBoard:
		PrintLeaderboard(out, c.LeaderboardLines())
	case ActionQuit:
		return true
	}
	return false
}

// PrintLeaderboard renders client leaderboard lines.
func PrintLeaderboard(out io.Writer, lines []client.LeaderboardLine) {
	if len(lines) == 0 {
		fmt.Fprintln(out, "Leaderboard is empty")
		return
	}
	tw := newTable(out, "#", "Name", "Score", "Standing")
	for _, l := range lines {
		tw.Append([]string{
			strconv.Itoa(l.Rank),
			l.Entry.Name,
			strconv.FormatUint(uint64(l.Entry.Score), 10),
			l.Standing.String(),
		})
	}
	tw.Render()
}

// PrintPhase announces a phase change as seen by the client.
func PrintPhase(out io.Writer, v client.View) {
	switch v.Phase {
	case protocol.PhaseLobby:
		fmt.Fprintln(out, "== Lobby == type 'ready' when you want to play")
	case protocol.PhaseGameRunning:
		fmt.Fprintf(out, "== Match started == you are %s\n", v.Mode)
	case protocol.PhaseEndScreen:
		if v.Winner {
			fmt.Fprintln(out, "== Match over == you won!")
		} else {
			fmt.Fprintln(out, "== Match over ==")
		}
		PrintLeaderboard(out, v.Leaderboard)
		fmt.Fprintln(out, "Type 'ready' to return to the lobby")
	}
}
