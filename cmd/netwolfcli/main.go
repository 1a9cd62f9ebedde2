// Command netwolfcli is a minimal interactive client over the library,
// demonstrating connect/registration, channel join, and message send.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v6"
	"github.com/inconshreveable/log15"
	"github.com/joho/godotenv"

	irc "github.com/skiznet/netwolf-go"
)

func main() {
	configPath := flag.String("config", "", "path to a .toml or .yaml config file")
	channel := flag.String("join", "", "channel to join once registered")
	flag.Parse()

	_ = godotenv.Load() // optional; NETWOLF_* env vars override either way

	log := log15.New("cmd", "netwolfcli")

	opts, err := loadOrDefaultOptions(*configPath)
	if err != nil {
		log.Crit("loading options", "err", err)
		os.Exit(1)
	}
	opts.Logger = log

	network, err := irc.NewNetwork("cli", *opts)
	if err != nil {
		log.Crit("constructing network", "err", err)
		os.Exit(1)
	}

	network.OnConnectionEvent(func(ev irc.ConnectionEvent) {
		switch ev.Kind {
		case irc.EventConnecting:
			log.Info("connecting")
		case irc.EventConnected:
			log.Info("connected")
		case irc.EventDisconnected:
			log.Warn("disconnected", "err", ev.Err)
		}
	})
	network.OnCommand(func(ev irc.CommandEvent) {
		if ev.Command.Verb == "PRIVMSG" {
			fmt.Printf("<%s> %s\n", ev.Command.Source, strings.Join(ev.Command.Args, " "))
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := network.Connect(ctx); err != nil {
		log.Crit("connect failed", "err", err)
		os.Exit(1)
	}
	defer network.Dispose()

	if *channel != "" {
		if _, err := network.SendRaw(ctx, "JOIN "+*channel); err != nil {
			log.Error("join failed", "channel", *channel, "err", err)
		}
	}

	go readStdinCommands(ctx, network, log)

	<-ctx.Done()
	network.Disconnect(context.Background(), "client exiting")
}

// loadOrDefaultOptions loads path if given, else falls back to
// DefaultOptions with values filled from NETWOLF_* env vars only.
func loadOrDefaultOptions(path string) (*irc.Options, error) {
	if path == "" {
		opts := irc.DefaultOptions()
		if err := env.Parse(&opts, env.Options{Prefix: "NETWOLF_"}); err != nil {
			return nil, err
		}
		return &opts, nil
	}
	return irc.LoadOptions(path)
}

// readStdinCommands reads "target: message" lines from stdin and sends
// each as a PRIVMSG, until ctx is cancelled or stdin closes.
func readStdinCommands(ctx context.Context, network *irc.Network, log log15.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		target, text, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		target = strings.TrimSpace(target)
		text = strings.TrimSpace(text)
		if target == "" || text == "" {
			continue
		}
		if _, err := network.SendMessage(ctx, irc.Message, target, text, nil); err != nil {
			log.Error("send failed", "target", target, "err", err)
		}
	}
}
