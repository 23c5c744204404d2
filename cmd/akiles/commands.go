package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/akiles-app/akiles"
)

// cancelGrace bounds how long a canceled stream may take to report its terminal event.
const cancelGrace = 5 * time.Second

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "action":
		if len(args) != 3 {
			return fmt.Errorf("usage: action <session> <gadget> <action>")
		}
		return c.action(ctx, args[0], args[1], args[2])
	case "scan":
		return c.scan(ctx)
	case "sync":
		if len(args) != 2 {
			return fmt.Errorf("usage: sync <session> <hardware>")
		}
		return c.sync(ctx, args[0], args[1])
	case "card":
		return c.card(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	arg := func(i int, name string) (string, error) {
		if len(args) <= i {
			return "", fmt.Errorf("%s: missing <%s>", cmd, name)
		}
		return args[i], nil
	}

	switch cmd {
	case "version":
		v, err := c.client.GetVersion(ctx)
		return c.print(v, err)
	case "info":
		v, err := c.client.GetClientInfo(ctx)
		return c.print(v, err)
	case "sessions":
		v, err := c.client.GetSessionIDs(ctx)
		return c.print(v, err)
	case "add":
		token, err := arg(0, "token")
		if err != nil {
			return err
		}
		v, err := c.client.AddSession(ctx, token)
		return c.print(v, err)
	case "remove":
		id, err := arg(0, "session")
		if err != nil {
			return err
		}
		return c.client.RemoveSession(ctx, id)
	case "remove-all":
		return c.client.RemoveAllSessions(ctx)
	case "refresh":
		if len(args) == 0 {
			return c.client.RefreshAllSessions(ctx)
		}
		return c.client.RefreshSession(ctx, args[0])
	case "gadgets":
		id, err := arg(0, "session")
		if err != nil {
			return err
		}
		v, err := c.client.GetGadgets(ctx, id)
		return c.print(v, err)
	case "hardware":
		id, err := arg(0, "session")
		if err != nil {
			return err
		}
		v, err := c.client.GetHardwares(ctx, id)
		return c.print(v, err)
	case "support":
		return c.support(ctx)
	case "emulate":
		lang, err := arg(0, "language")
		if err != nil {
			return err
		}
		return c.client.StartCardEmulation(ctx, lang)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (c *cli) print(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) support(ctx context.Context) error {
	var out struct {
		Bluetooth     bool `json:"bluetooth"`
		CardEmulation bool `json:"cardEmulation"`
		SecureNFC     bool `json:"secureNfc"`
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Bluetooth, err = c.client.IsBluetoothSupported(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.CardEmulation, err = c.client.IsCardEmulationSupported(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.SecureNFC, err = c.client.IsSecureNFCSupported(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return c.print(out, nil)
}

// stream prints events of one streaming operation as JSON lines and reports its
// terminal error.
type stream struct {
	c    *cli
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
	err  error
}

func (c *cli) newStream() *stream {
	return &stream{c: c, done: make(chan struct{})}
}

func (s *stream) emit(ev akiles.Event) {
	line, err := akiles.EncodeEvent(ev)
	if err != nil {
		s.c.log.Error().Err(err).Msg("encode event")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.c.out, string(line))
}

func (s *stream) finish(err *akiles.Error) {
	s.once.Do(func() {
		if err != nil {
			s.err = err
		}
		close(s.done)
	})
}

// wait blocks until the stream finishes. When ctx ends first the operation is canceled
// and its terminal event awaited.
func (s *stream) wait(ctx context.Context, cancel akiles.CancelFunc) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
	}
	s.c.log.Info().Msg("canceling")
	cancel()
	select {
	case <-s.done:
		return s.err
	case <-time.After(cancelGrace):
		return fmt.Errorf("no terminal event %s after cancel", cancelGrace)
	}
}

func (c *cli) action(ctx context.Context, sessionID, gadgetID, actionID string) error {
	var opts *akiles.ActionOptions
	if c.noInternet || c.noBluetooth {
		opts = &akiles.ActionOptions{UseInternet: akiles.Bool(!c.noInternet), UseBluetooth: akiles.Bool(!c.noBluetooth)}
	}
	s := c.newStream()
	cancel := c.client.Action(sessionID, gadgetID, actionID, opts, akiles.ActionCallback{
		OnSuccess: func() {
			s.emit(akiles.ActionSucceeded{})
			s.finish(nil)
		},
		OnError: func(err *akiles.Error) {
			s.emit(akiles.ActionFailed{Err: err})
			s.finish(err)
		},
		OnInternetStatus:  func(st akiles.ActionInternetStatus) { s.emit(akiles.InternetStatusChanged{Status: st}) },
		OnInternetSuccess: func() { s.emit(akiles.InternetSucceeded{}) },
		OnInternetError:   func(err *akiles.Error) { s.emit(akiles.InternetFailed{Err: err}) },

		OnBluetoothStatus:         func(st akiles.ActionBluetoothStatus) { s.emit(akiles.BluetoothStatusChanged{Status: st}) },
		OnBluetoothStatusProgress: func(p float64) { s.emit(akiles.BluetoothProgress{Percent: p}) },
		OnBluetoothSuccess:        func() { s.emit(akiles.BluetoothSucceeded{}) },
		OnBluetoothError:          func(err *akiles.Error) { s.emit(akiles.BluetoothFailed{Err: err}) },
	})
	return s.wait(ctx, cancel)
}

func (c *cli) scan(ctx context.Context) error {
	s := c.newStream()
	cancel := c.client.Scan(akiles.ScanCallback{
		OnDiscover: func(hw akiles.Hardware) { s.emit(akiles.HardwareDiscovered{Hardware: hw}) },
		OnSuccess: func() {
			s.emit(akiles.ScanSucceeded{})
			s.finish(nil)
		},
		OnError: func(err *akiles.Error) {
			s.emit(akiles.ScanFailed{Err: err})
			s.finish(err)
		},
	})
	return s.wait(ctx, cancel)
}

func (c *cli) sync(ctx context.Context, sessionID, hardwareID string) error {
	s := c.newStream()
	cancel := c.client.Sync(sessionID, hardwareID, akiles.SyncCallback{
		OnStatus:         func(st akiles.SyncStatus) { s.emit(akiles.SyncStatusChanged{Status: st}) },
		OnStatusProgress: func(p float64) { s.emit(akiles.SyncProgress{Percent: p}) },
		OnSuccess: func() {
			s.emit(akiles.SyncSucceeded{})
			s.finish(nil)
		},
		OnError: func(err *akiles.Error) {
			s.emit(akiles.SyncFailed{Err: err})
			s.finish(err)
		},
	})
	return s.wait(ctx, cancel)
}

// card waits for one card, prints it, pushes an update and releases it.
func (c *cli) card(ctx context.Context) error {
	s := c.newStream()
	var card *akiles.Card
	cancel := c.client.ScanCard(akiles.ScanCardCallback{
		OnSuccess: func(got *akiles.Card) {
			card = got
			s.finish(nil)
		},
		OnError: func(err *akiles.Error) { s.finish(err) },
	})
	if err := s.wait(ctx, cancel); err != nil {
		return err
	}
	defer card.Close()
	if err := c.print(card, nil); err != nil {
		return err
	}
	uctx, ucancel := context.WithTimeout(ctx, c.timeout)
	defer ucancel()
	return card.Update(uctx)
}
