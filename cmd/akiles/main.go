package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/akiles-app/akiles"
	"github.com/akiles-app/akiles/internal/config"
	"github.com/akiles-app/akiles/internal/logging"
	"github.com/akiles-app/akiles/runtime"
	"github.com/akiles-app/akiles/translate"
)

const usage = `usage: akiles [flags] <command> [args]

commands:
  version                          native SDK version
  info                             native client info
  sessions                         list session IDs
  add <token>                      add a session
  remove <session>                 remove a session
  remove-all                       remove every session
  refresh [session]                refresh one or all sessions
  gadgets <session>                list gadgets
  hardware <session>               list hardware
  support                          bluetooth / card emulation / secure NFC support
  emulate <language>               start card emulation
  action <session> <gadget> <act>  run a gadget action
  scan                             scan for nearby hardware
  sync <session> <hardware>        sync a hardware
  card                             wait for an NFC card

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "akiles:", err)
		os.Exit(1)
	}
}

type cli struct {
	client  *akiles.Client
	out     io.Writer
	log     zerolog.Logger
	timeout time.Duration

	noInternet  bool
	noBluetooth bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("akiles", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	var (
		configFile = fs.String("config", "", "Configuration file path")
		bridgeURL  = fs.String("url", "", "Bridge websocket base URL (overrides config)")
		codecName  = fs.String("codec", "", "Frame codec: json or wrp (overrides config)")
		auth       = fs.String("auth", "", "Authorization header value (overrides config)")
		timeout    = fs.Duration("timeout", 10*time.Second, "Timeout for single-reply commands")
		c          cli
	)
	fs.BoolVar(&c.noInternet, "no-internet", false, "action: do not use the internet")
	fs.BoolVar(&c.noBluetooth, "no-bluetooth", false, "action: do not use bluetooth")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if *bridgeURL != "" {
		cfg.Bridge.URL = *bridgeURL
	}
	if *codecName != "" {
		cfg.Bridge.Codec = *codecName
	}
	if *auth != "" {
		cfg.Bridge.Auth = *auth
	}
	c.log = logging.NewWriter(cfg.Log, stderr)
	c.out = stdout
	c.timeout = *timeout

	codec, err := translate.CodecByName(cfg.Bridge.Codec)
	if err != nil {
		return err
	}
	bridge := runtime.NewWSBridge(runtime.WSBridgeConfig{
		BaseURL:        cfg.Bridge.URL,
		Auth:           akiles.StaticAuth{Value: cfg.Bridge.Auth},
		Codec:          codec,
		Logger:         c.log,
		ReconnectDelay: cfg.Bridge.ReconnectDelay,
	})
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err = bridge.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	defer bridge.Close()

	opts := akiles.DefaultOptions()
	opts.Logger = c.log
	c.client, err = akiles.New(bridge, opts)
	if err != nil {
		return err
	}
	return c.dispatch(ctx, fs.Arg(0), fs.Args()[1:])
}
