package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leonziegler/comfoairq/internal/bridge"
	"github.com/leonziegler/comfoairq/internal/config"
	"github.com/leonziegler/comfoairq/internal/logging"
)

const usage = "usage: comfoairq <discover|send|listen> [flags]"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "comfoairq: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	command := args[0]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "", "path to comfoairq.toml")
	ip := fs.String("ip", "", "gateway address (skips discovery together with -uuid)")
	remoteUUID := fs.String("uuid", "", "gateway identity token")
	port := fs.Int("port", 0, "gateway port")
	multicast := fs.String("multicast", "", "discovery probe destination")
	opHex := fs.String("op", "", "operation bytes as hex (send)")
	cmdHex := fs.String("cmd", "", "command bytes as hex (send)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	logging.ConfigureRuntime()

	cfg, err := loadSettings(*configPath, *ip, *remoteUUID, *port, *multicast)
	if err != nil {
		return err
	}

	br, err := bridge.New(cfg)
	if err != nil {
		return err
	}
	defer br.Close()

	switch command {
	case "discover":
		return runDiscover(br)
	case "send":
		return runSend(br, *opHex, *cmdHex)
	case "listen":
		return runListen(br)
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func loadSettings(path, ip, remoteUUID string, port int, multicast string) (config.Settings, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Settings{}, err
		}
		cfg = loaded
	}

	if ip != "" {
		addr, err := netip.ParseAddr(strings.TrimSpace(ip))
		if err != nil {
			return config.Settings{}, fmt.Errorf("parse -ip: %w", err)
		}
		cfg.RemoteAddr = addr
	}
	if remoteUUID != "" {
		id, err := uuid.Parse(strings.TrimSpace(remoteUUID))
		if err != nil {
			return config.Settings{}, fmt.Errorf("parse -uuid: %w", err)
		}
		cfg.RemoteID = id
	}
	if port != 0 {
		cfg.Port = port
	}
	if multicast != "" {
		addr, err := netip.ParseAddr(strings.TrimSpace(multicast))
		if err != nil {
			return config.Settings{}, fmt.Errorf("parse -multicast: %w", err)
		}
		cfg.Group = addr
	}

	if cfg.LocalID == (uuid.UUID{}) {
		cfg.LocalID = uuid.New()
		log.Info().Str("local_uuid", cfg.LocalID.String()).Msg("no local identity configured, generated one")
	}
	return cfg, nil
}

func runDiscover(br *bridge.Bridge) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := br.Discover(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("gateway %s at %s\n", cfg.RemoteID, cfg.RemoteAddr)
	return nil
}

func runSend(br *bridge.Bridge, opHex, cmdHex string) error {
	if opHex == "" {
		return errors.New("send requires -op")
	}
	op, err := hex.DecodeString(opHex)
	if err != nil {
		return fmt.Errorf("parse -op: %w", err)
	}
	var cmd []byte
	if cmdHex != "" {
		if cmd, err = hex.DecodeString(cmdHex); err != nil {
			return fmt.Errorf("parse -cmd: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ensureDiscovered(ctx, br); err != nil {
		return err
	}
	if err := br.Transmit(ctx, op, cmd); err != nil {
		return err
	}
	log.Info().Int("op_bytes", len(op)).Int("cmd_bytes", len(cmd)).Msg("sent")
	return nil
}

func runListen(br *bridge.Bridge) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := ensureDiscovered(ctx, br); err != nil {
		return err
	}
	if err := br.KeepAlive(ctx); err != nil {
		return err
	}

	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()
	for {
		select {
		case ev := <-br.Events():
			printEvent(ev)
		case <-tick.C:
			if err := br.KeepAlive(ctx); err != nil {
				log.Warn().Err(err).Msg("keep-alive failed")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func ensureDiscovered(ctx context.Context, br *bridge.Bridge) error {
	if br.Settings().Discovered() {
		return nil
	}
	_, err := br.Discover(ctx)
	return err
}

func printEvent(ev bridge.Event) {
	switch ev.Kind {
	case bridge.EventFrame:
		fmt.Printf("%s %s %d bytes\n", ev.Time.Format(time.StampMilli), ev.Frame.Kind, ev.Frame.Length)
	case bridge.EventError:
		fmt.Printf("%s error: %v\n", ev.Time.Format(time.StampMilli), ev.Err)
	default:
		fmt.Printf("%s %s\n", ev.Time.Format(time.StampMilli), ev.Kind)
	}
}
