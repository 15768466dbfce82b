package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/networkbrawler/brawler/internal/client"
	"github.com/networkbrawler/brawler/internal/protocol"
)

func TestParseClientCommand(t *testing.T) {
	tests := []struct {
		line string
		want ClientCommand
	}{
		{"", ClientCommand{}},
		{"ready", ClientCommand{Action: ActionReady}},
		{"move up left", ClientCommand{Action: ActionMove, Inputs: protocol.Inputs{Up: true, Left: true}}},
		{"m w d stop", ClientCommand{Action: ActionMove}},
		{"next", ClientCommand{Action: ActionSpectate, Delta: 1}},
		{"prev", ClientCommand{Action: ActionSpectate, Delta: -1}},
		{"steal 42", ClientCommand{Action: ActionSteal, Target: 42}},
		{"BOARD", ClientCommand{Action: ActionBoard}},
		{"q", ClientCommand{Action: ActionQuit}},
	}
	for _, tt := range tests {
		got, err := ParseClientCommand(tt.line)
		if err != nil {
			t.Fatalf("%q: %v", tt.line, err)
		}
		if got != tt.want {
			t.Fatalf("%q = %+v, want %+v", tt.line, got, tt.want)
		}
	}

	for _, bad := range []string{"dance", "move sideways", "steal", "steal x"} {
		if _, err := ParseClientCommand(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestApplyClientCommandInLobby(t *testing.T) {
	c := client.NewConsumer(client.Options{})
	var out bytes.Buffer

	if ApplyClientCommand(c, ClientCommand{Action: ActionReady}, &out) {
		t.Fatal("ready must not quit")
	}
	if !c.Ready() {
		t.Fatal("expected ready after toggle")
	}
	msgs := c.DrainOutgoing()
	if len(msgs) != 1 || !msgs[0].Reliable {
		t.Fatalf("outgoing = %+v", msgs)
	}

	ApplyClientCommand(c, ClientCommand{Action: ActionSteal, Target: 3}, &out)
	if len(c.DrainOutgoing()) != 0 {
		t.Fatal("steal queued outside a running match")
	}

	ApplyClientCommand(c, ClientCommand{Action: ActionSpectate, Delta: 1}, &out)
	ApplyClientCommand(c, ClientCommand{Action: ActionBoard}, &out)

	text := out.String()
	for _, want := range []string{"Ready: yes", "only possible while playing", "Nobody to spectate", "Leaderboard is empty"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}

	if !ApplyClientCommand(c, ClientCommand{Action: ActionQuit}, &out) {
		t.Fatal("quit must report exit")
	}
}

func TestPrintLeaderboardStandings(t *testing.T) {
	var out bytes.Buffer
	PrintLeaderboard(&out, []client.LeaderboardLine{
		{Rank: 1, Entry: protocol.LeaderboardEntry{Name: "Ann", Score: 30}, Standing: client.StandingSafe},
		{Rank: 2, Entry: protocol.LeaderboardEntry{Name: "Bob", Score: 20}, Standing: client.StandingDanger},
		{Rank: 3, Entry: protocol.LeaderboardEntry{Name: "Cat", Score: 5, IsDead: true}, Standing: client.StandingDead},
	})
	text := out.String()
	for _, want := range []string{"Ann", "safe", "danger", "dead", "30"} {
		if !strings.Contains(text, want) {
			t.Fatalf("table missing %q:\n%s", want, text)
		}
	}
}
