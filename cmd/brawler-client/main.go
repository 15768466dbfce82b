// Brawler client - headless console client for the arena brawler.
//
// The client connects over ENet, mirrors the replicated world, and takes
// ready, movement and spectate commands from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/cli"
	"github.com/networkbrawler/brawler/internal/client"
	"github.com/networkbrawler/brawler/internal/config"
	"github.com/networkbrawler/brawler/internal/network"
	"github.com/networkbrawler/brawler/internal/network/enet"
	"github.com/networkbrawler/brawler/internal/protocol"
	"github.com/networkbrawler/brawler/internal/util"
)

const (
	AppName    = "brawler-client"
	AppVersion = "1.0.0"

	discoveryTimeout = 2 * time.Second
)

func main() {
	fmt.Printf("Brawler client v%s (protocol %d)\n\n", AppVersion, protocol.Version)

	if err := util.InitLogger(util.LogConfig{App: AppName, Level: "info", Console: true}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.IsFirstRun() {
		log.Info().Msg("first run detected, launching client setup")
		if err := config.RunClientSetup(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("client setup failed")
		}
	} else if result := config.ValidateClient(cfg); !result.IsValid() {
		for _, e := range result.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Str("path", cfg.Path()).Msg("client configuration is invalid")
	}

	// The console owns stdout from here on; logs go to the file only.
	logging := cfg.GetLogging()
	if err := util.InitLogger(util.LogConfig{
		App:        AppName,
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    logging.Directory == "",
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cl := cfg.GetClient()
	if disc := cfg.GetDiscovery(); disc.Enabled {
		probe(ctx, net.JoinHostPort(cl.ServerHost, strconv.Itoa(disc.Port)))
	}

	fmt.Printf("Connecting to %s:%d as %s...\n", cl.ServerHost, cl.ServerPort, cl.PlayerName)
	conn, err := enet.Dial(ctx, cl.ServerHost, uint16(cl.ServerPort), enet.DialOptions{
		Attempts:    cl.ConnectAttempts,
		RetryPeriod: time.Duration(cl.ConnectRetryMs) * time.Millisecond,
		ConnectData: protocol.Version,
	})
	if err != nil {
		if errors.Is(err, network.ErrConnectFailed) {
			fmt.Fprintln(os.Stderr, "Could not reach the server.")
		}
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer conn.Close()

	consumer := client.NewConsumer(client.Options{SnapshotBuffer: cl.SnapshotBuffer})
	consumer.Join(cl.PlayerName)

	commands := make(chan cli.ClientCommand, 16)
	go readCommands(ctx, commands)

	session := client.NewSession(conn, consumer, 0)
	lastPhase := protocol.GamePhase(0xFF)
	session.OnFrame(func(v client.View) {
		if v.Phase != lastPhase {
			lastPhase = v.Phase
			cli.PrintPhase(os.Stdout, v)
		}
		for {
			select {
			case cmd := <-commands:
				if cli.ApplyClientCommand(consumer, cmd, os.Stdout) {
					cancel()
					return
				}
			default:
				return
			}
		}
	})

	if err := session.Run(ctx); err != nil {
		if errors.Is(err, client.ErrDisconnected) {
			fmt.Println("Disconnected from server.")
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("session failed")
	}
	fmt.Println("Bye.")
}

// probe prints the discovery advertisement, if the server answers one.
func probe(ctx context.Context, addr string) {
	info, err := network.Discover(ctx, addr, discoveryTimeout)
	if err != nil {
		log.Debug().Err(err).Str("addr", addr).Msg("no discovery reply")
		return
	}
	fmt.Printf("Found %q: %s, %d players\n", info.Name, info.Phase, info.Players)
	if info.ProtocolVersion != protocol.Version {
		fmt.Printf("Server speaks protocol %d, this client %d; the server will refuse the connection.\n",
			info.ProtocolVersion, protocol.Version)
	}
}

// readCommands parses stdin lines onto out. Bad lines are reported and
// skipped.
func readCommands(ctx context.Context, out chan<- cli.ClientCommand) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd, err := cli.ParseClientCommand(scanner.Text())
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		if cmd.Action == cli.ActionNone {
			continue
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
			return
		}
	}
}
