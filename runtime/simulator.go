package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/akiles-app/akiles"
	"github.com/oklog/ulid/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
)

// Fixture is the data a simulated session token grants access to.
type Fixture struct {
	Gadgets  []akiles.Gadget   `yaml:"gadgets" json:"gadgets"`
	Hardware []akiles.Hardware `yaml:"hardware" json:"hardware"`
}

// DefaultFixture is served to every token without a fixture of its own.
func DefaultFixture() Fixture {
	return Fixture{
		Gadgets: []akiles.Gadget{
			{ID: "gad_front_door", Name: "Front door", Actions: []akiles.GadgetAction{{ID: "open", Name: "Open"}}},
			{ID: "gad_garage", Name: "Garage", Actions: []akiles.GadgetAction{{ID: "open", Name: "Open"}, {ID: "close", Name: "Close"}}},
		},
		Hardware: []akiles.Hardware{
			{ID: "hw_front_door", Name: "Front door controller", ProductID: "akiles_pinpad", RevisionID: "r3"},
			{ID: "hw_garage", Name: "Garage controller", ProductID: "akiles_smart_lock", RevisionID: "r1"},
		},
	}
}

// SimulatorConfig configures a Simulator. Zero values give a device with every
// capability present and no delay between scripted events.
type SimulatorConfig struct {
	Service  string
	Store    SessionStore // defaults to a memory store
	Fixtures map[string]Fixture
	Default  *Fixture

	Version    string
	ClientInfo akiles.ClientInfo

	NoBluetooth     bool
	NoNFC           bool
	NoCardEmulation bool
	NoSecureNFC     bool

	Card      akiles.Card   // card returned by scan_card
	StepDelay time.Duration // pause between scripted events
	Logger    zerolog.Logger
}

// Simulator stands in for the native SDK. It keeps a session store, serves fixture
// gadgets and hardware, and plays scripted event sequences for action, scan, sync and
// scan_card, honoring cancellation by operation ID. It speaks the native payload shapes
// exactly, so a Client cannot tell it from a device.
type Simulator struct {
	cfg   SimulatorConfig
	store SessionStore
	log   zerolog.Logger

	ops *xsync.Map[string, *operation]

	cardMu sync.Mutex
	card   *akiles.Card
}

type operation struct {
	canceled chan struct{}
	once     sync.Once
}

func (o *operation) cancel() { o.once.Do(func() { close(o.canceled) }) }

var errNoCard = errors.New("no card")

// NewSimulator creates a Simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Service == "" {
		cfg.Service = akiles.ServiceName
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Default == nil {
		d := DefaultFixture()
		cfg.Default = &d
	}
	if cfg.Version == "" {
		cfg.Version = "2.0.0-sim"
	}
	if cfg.ClientInfo.Name == "" {
		cfg.ClientInfo = akiles.ClientInfo{Name: "akiles-simulator", Version: cfg.Version, Platform: "go"}
	}
	if cfg.Card.UID == "" {
		cfg.Card = akiles.Card{UID: "04A1B2C3D4E5F6", IsAkilesCard: true}
	}
	return &Simulator{
		cfg:   cfg,
		store: cfg.Store,
		log:   cfg.Logger.With().Str("component", "simulator").Logger(),
		ops:   xsync.NewMap[string, *operation](),
	}
}

// Exec implements akiles.Bridge.
func (s *Simulator) Exec(onSuccess, onFailure akiles.Callback, service, action string, args []any) {
	var onResult func(json.RawMessage, bool)
	if onSuccess != nil {
		onResult = func(p json.RawMessage, _ bool) { onSuccess(p) }
	}
	s.ExecStream(onResult, onFailure, service, action, args)
}

// ExecStream implements akiles.StreamBridge. Every call is answered from a new goroutine.
func (s *Simulator) ExecStream(onResult func(json.RawMessage, bool), onFailure akiles.Callback, service, action string, args []any) {
	r := &responder{onResult: onResult, onFailure: onFailure, log: s.log.With().Str("action", action).Logger()}
	if service != s.cfg.Service {
		go r.fail(akiles.NewError(akiles.CodeInvalidParam, fmt.Sprintf("unknown service %q", service)))
		return
	}
	// Operations register synchronously so a cancel issued right after the call finds them.
	var op *operation
	switch action {
	case akiles.ActionAction, akiles.ActionScan, akiles.ActionSync, akiles.ActionScanCard:
		id, err := argString(args, 0)
		if err != nil {
			go r.fail(akiles.NewError(akiles.CodeInvalidParam, err.Error()))
			return
		}
		op = &operation{canceled: make(chan struct{})}
		s.ops.Store(id, op)
		go func() {
			defer s.ops.Delete(id)
			s.runOperation(op, r, action, args)
		}()
		return
	}
	go s.run(r, action, args)
}

func (s *Simulator) run(r *responder, action string, args []any) {
	switch action {
	case akiles.ActionGetSessionIDs:
		sessions, err := s.store.List()
		if err != nil {
			r.fail(internal(err))
			return
		}
		ids := make([]string, 0, len(sessions))
		for _, sess := range sessions {
			ids = append(ids, sess.ID)
		}
		r.ok(ids)
	case akiles.ActionGetVersion:
		r.ok(s.cfg.Version)
	case akiles.ActionGetClientInfo:
		r.ok(s.cfg.ClientInfo)
	case akiles.ActionAddSession:
		token, err := argString(args, 0)
		if err != nil {
			r.fail(akiles.NewError(akiles.CodeInvalidParam, err.Error()))
			return
		}
		id, aerr := s.addSession(token)
		if aerr != nil {
			r.fail(aerr)
			return
		}
		r.ok(id)
	case akiles.ActionRemoveSession:
		id, _ := argString(args, 0)
		if err := s.store.Delete(id); err != nil {
			r.fail(internal(err))
			return
		}
		r.ok(nil)
	case akiles.ActionRemoveAllSessions:
		if err := s.store.DeleteAll(); err != nil {
			r.fail(internal(err))
			return
		}
		r.ok(nil)
	case akiles.ActionRefreshSession:
		id, _ := argString(args, 0)
		sess, serr := s.session(id)
		if serr != nil {
			r.fail(serr)
			return
		}
		if err := s.refresh(sess); err != nil {
			r.fail(internal(err))
			return
		}
		r.ok(nil)
	case akiles.ActionRefreshAllSessions:
		sessions, err := s.store.List()
		if err != nil {
			r.fail(internal(err))
			return
		}
		for _, sess := range sessions {
			if err := s.refresh(sess); err != nil {
				r.fail(internal(err))
				return
			}
		}
		r.ok(nil)
	case akiles.ActionGetGadgets:
		id, _ := argString(args, 0)
		sess, serr := s.session(id)
		if serr != nil {
			r.fail(serr)
			return
		}
		r.ok(s.fixture(sess.Token).Gadgets)
	case akiles.ActionGetHardwares:
		id, _ := argString(args, 0)
		sess, serr := s.session(id)
		if serr != nil {
			r.fail(serr)
			return
		}
		fx := s.fixture(sess.Token)
		out := make([]akiles.Hardware, 0, len(fx.Hardware))
		for _, hw := range fx.Hardware {
			hw.Sessions = []string{sess.ID}
			out = append(out, hw)
		}
		r.ok(out)
	case akiles.ActionIsBluetoothSupported:
		r.ok(flag(!s.cfg.NoBluetooth))
	case akiles.ActionIsCardEmulationSupported:
		r.ok(flag(!s.cfg.NoCardEmulation))
	case akiles.ActionIsSecureNFCSupported:
		r.ok(flag(!s.cfg.NoSecureNFC && !s.cfg.NoNFC))
	case akiles.ActionStartCardEmulation:
		if s.cfg.NoCardEmulation {
			r.fail(akiles.NewError(akiles.CodeNFCNotAvailable, "card emulation not supported"))
			return
		}
		lang, _ := argString(args, 0)
		s.log.Info().Str("language", lang).Msg("card emulation started")
		r.ok(nil)
	case akiles.ActionCancel:
		id, _ := argString(args, 0)
		if op, ok := s.ops.Load(id); ok {
			op.cancel()
		}
		r.ok(nil)
	case akiles.ActionUpdateCard:
		uid, _ := argString(args, 0)
		if _, err := s.heldCard(uid); err != nil {
			r.failRaw("Error updating card: " + err.Error())
			return
		}
		r.ok(nil)
	case akiles.ActionCloseCard:
		uid, _ := argString(args, 0)
		if _, err := s.heldCard(uid); err != nil {
			r.failRaw("Error closing card: " + err.Error())
			return
		}
		s.cardMu.Lock()
		s.card = nil
		s.cardMu.Unlock()
		r.ok(nil)
	default:
		r.fail(akiles.NewError(akiles.CodeInvalidParam, fmt.Sprintf("unknown action %q", action)))
	}
}

func (s *Simulator) addSession(token string) (string, *akiles.Error) {
	if !strings.HasPrefix(token, "tok_") {
		return "", akiles.NewError(akiles.CodeInvalidSession, "invalid session token")
	}
	existing, err := s.store.FindByToken(token)
	switch {
	case err == nil:
		return existing.ID, nil
	case !errors.Is(err, ErrSessionNotFound):
		return "", internal(err)
	}
	now := time.Now().UTC()
	sess := Session{ID: "mem_" + strings.ToLower(ulid.Make().String()), Token: token, AddedAt: now, RefreshedAt: now}
	if err := s.store.Put(sess); err != nil {
		return "", internal(err)
	}
	s.log.Debug().Str("session", sess.ID).Msg("session added")
	return sess.ID, nil
}

func (s *Simulator) session(id string) (Session, *akiles.Error) {
	sess, err := s.store.Get(id)
	if errors.Is(err, ErrSessionNotFound) {
		return Session{}, akiles.NewError(akiles.CodeInvalidSession, fmt.Sprintf("session %q not found", id))
	}
	if err != nil {
		return Session{}, internal(err)
	}
	return sess, nil
}

func (s *Simulator) refresh(sess Session) error {
	sess.RefreshedAt = time.Now().UTC()
	return s.store.Put(sess)
}

func (s *Simulator) fixture(token string) Fixture {
	if fx, ok := s.cfg.Fixtures[token]; ok {
		return fx
	}
	return *s.cfg.Default
}

func (s *Simulator) heldCard(uid string) (akiles.Card, error) {
	s.cardMu.Lock()
	defer s.cardMu.Unlock()
	if s.card == nil {
		return akiles.Card{}, errNoCard
	}
	if s.card.UID != uid {
		return akiles.Card{}, fmt.Errorf("card %s is not the scanned card", uid)
	}
	return *s.card, nil
}

func (s *Simulator) runOperation(op *operation, r *responder, action string, args []any) {
	switch action {
	case akiles.ActionAction:
		s.runAction(op, r, args)
	case akiles.ActionScan:
		s.runScan(op, r)
	case akiles.ActionSync:
		s.runSync(op, r, args)
	case akiles.ActionScanCard:
		s.runScanCard(op, r)
	}
}

func (s *Simulator) runAction(op *operation, r *responder, args []any) {
	sid, _ := argString(args, 1)
	gadgetID, _ := argString(args, 2)
	actionID, _ := argString(args, 3)
	var opts akiles.ActionOptions
	if len(args) > 4 && args[4] != nil {
		if err := remarshal(args[4], &opts); err != nil {
			r.final(akiles.ActionFailed{Err: akiles.NewError(akiles.CodeInvalidParam, "invalid options")})
			return
		}
	}

	sess, serr := s.session(sid)
	if serr != nil {
		r.final(akiles.ActionFailed{Err: serr})
		return
	}
	if !hasAction(s.fixture(sess.Token).Gadgets, gadgetID, actionID) {
		r.final(akiles.ActionFailed{Err: akiles.NewError(akiles.CodeInvalidParam, fmt.Sprintf("gadget %q has no action %q", gadgetID, actionID))})
		return
	}

	useInternet := opts.UseInternet == nil || *opts.UseInternet
	useBluetooth := opts.UseBluetooth == nil || *opts.UseBluetooth
	canceled := akiles.NewError(akiles.CodeCanceled, "canceled")

	var events []akiles.Event
	switch {
	case !useInternet && !useBluetooth:
		r.final(akiles.ActionFailed{Err: akiles.NewError(akiles.CodeAllCommMethodsFailed, "no communication method enabled")})
		return
	case !useInternet:
		events = append(events, akiles.InternetFailed{Err: canceled})
	}

	var bt []akiles.Event
	switch {
	case !useBluetooth:
		bt = []akiles.Event{akiles.BluetoothFailed{Err: canceled}}
	case s.cfg.NoBluetooth:
		bt = []akiles.Event{akiles.BluetoothFailed{Err: akiles.NewError(akiles.CodeBluetoothNotAvailable, "bluetooth not available")}}
	default:
		bt = []akiles.Event{
			akiles.BluetoothStatusChanged{Status: akiles.BluetoothScanning},
			akiles.BluetoothStatusChanged{Status: akiles.BluetoothConnecting},
			akiles.BluetoothProgress{Percent: 40},
			akiles.BluetoothStatusChanged{Status: akiles.BluetoothExecutingAction},
		}
	}

	if useInternet {
		events = append(events, akiles.InternetStatusChanged{Status: akiles.InternetExecutingAction})
	}
	events = append(events, bt...)
	switch {
	case useInternet:
		events = append(events, akiles.InternetSucceeded{}, akiles.ActionSucceeded{})
	case useBluetooth && !s.cfg.NoBluetooth:
		events = append(events, akiles.ActionSucceeded{})
	default:
		events = append(events, akiles.ActionFailed{Err: akiles.NewError(akiles.CodeAllCommMethodsFailed, "all communication methods failed")})
	}
	if useBluetooth && !s.cfg.NoBluetooth {
		// Low-priority post-sync outlives the reported result.
		events = append(events,
			akiles.BluetoothStatusChanged{Status: akiles.BluetoothSyncingServer},
			akiles.BluetoothProgress{Percent: 100},
			akiles.BluetoothSucceeded{},
		)
	}

	s.play(op, r, events, func(sent []akiles.Event) []akiles.Event {
		var global, internet, bluetooth bool
		for _, ev := range sent {
			switch ev.(type) {
			case akiles.ActionSucceeded, akiles.ActionFailed:
				global = true
			case akiles.InternetSucceeded, akiles.InternetFailed:
				internet = true
			case akiles.BluetoothSucceeded, akiles.BluetoothFailed:
				bluetooth = true
			}
		}
		var tail []akiles.Event
		if !global {
			tail = append(tail, akiles.ActionFailed{Err: canceled})
		}
		if useInternet && !internet {
			tail = append(tail, akiles.InternetFailed{Err: canceled})
		}
		if useBluetooth && !s.cfg.NoBluetooth && !bluetooth {
			tail = append(tail, akiles.BluetoothFailed{Err: canceled})
		}
		return tail
	})
}

func (s *Simulator) runScan(op *operation, r *responder) {
	if s.cfg.NoBluetooth {
		r.final(akiles.ScanFailed{Err: akiles.NewError(akiles.CodeBluetoothNotAvailable, "bluetooth not available")})
		return
	}
	var events []akiles.Event
	for _, hw := range s.nearby() {
		events = append(events, akiles.HardwareDiscovered{Hardware: hw})
	}
	events = append(events, akiles.ScanSucceeded{})
	s.play(op, r, events, func([]akiles.Event) []akiles.Event {
		return []akiles.Event{akiles.ScanFailed{Err: akiles.NewError(akiles.CodeCanceled, "canceled")}}
	})
}

// nearby lists the hardware of the default fixture, each tagged with the stored
// sessions that can reach it.
func (s *Simulator) nearby() []akiles.Hardware {
	sessions, _ := s.store.List()
	hws := s.cfg.Default.Hardware
	out := make([]akiles.Hardware, 0, len(hws))
	for _, hw := range hws {
		hw.Sessions = []string{}
		for _, sess := range sessions {
			if hasHardware(s.fixture(sess.Token).Hardware, hw.ID) {
				hw.Sessions = append(hw.Sessions, sess.ID)
			}
		}
		out = append(out, hw)
	}
	return out
}

func (s *Simulator) runSync(op *operation, r *responder, args []any) {
	sid, _ := argString(args, 1)
	hwID, _ := argString(args, 2)
	sess, serr := s.session(sid)
	if serr != nil {
		r.final(akiles.SyncFailed{Err: serr})
		return
	}
	if !hasHardware(s.fixture(sess.Token).Hardware, hwID) {
		r.final(akiles.SyncFailed{Err: akiles.NewError(akiles.CodeInvalidParam, fmt.Sprintf("hardware %q not in session", hwID))})
		return
	}
	if s.cfg.NoBluetooth {
		r.final(akiles.SyncFailed{Err: akiles.NewError(akiles.CodeBluetoothNotAvailable, "bluetooth not available")})
		return
	}
	events := []akiles.Event{
		akiles.SyncStatusChanged{Status: akiles.SyncScanning},
		akiles.SyncStatusChanged{Status: akiles.SyncConnecting},
		akiles.SyncStatusChanged{Status: akiles.SyncSyncingDevice},
		akiles.SyncProgress{Percent: 50},
		akiles.SyncStatusChanged{Status: akiles.SyncSyncingServer},
		akiles.SyncProgress{Percent: 100},
		akiles.SyncSucceeded{},
	}
	s.play(op, r, events, func([]akiles.Event) []akiles.Event {
		return []akiles.Event{akiles.SyncFailed{Err: akiles.NewError(akiles.CodeCanceled, "canceled")}}
	})
}

func (s *Simulator) runScanCard(op *operation, r *responder) {
	if s.cfg.NoNFC {
		r.fail(akiles.NewError(akiles.CodeNFCNotAvailable, "nfc not available"))
		return
	}
	if !s.step(op) {
		r.fail(akiles.NewError(akiles.CodeCanceled, "canceled"))
		return
	}
	card := s.cfg.Card
	s.cardMu.Lock()
	s.card = &card
	s.cardMu.Unlock()
	r.ok(card)
}

// step waits StepDelay and reports false if op was canceled meanwhile.
func (s *Simulator) step(op *operation) bool {
	if s.cfg.StepDelay <= 0 {
		select {
		case <-op.canceled:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(s.cfg.StepDelay)
	defer t.Stop()
	select {
	case <-op.canceled:
		return false
	case <-t.C:
		return true
	}
}

// play emits events in order, the last one as final. When op is canceled before an
// event, onCancel computes the terminal events that replace the rest of the script.
func (s *Simulator) play(op *operation, r *responder, events []akiles.Event, onCancel func(sent []akiles.Event) []akiles.Event) {
	for i, ev := range events {
		if !s.step(op) {
			if tail := onCancel(events[:i]); len(tail) > 0 {
				s.log.Debug().Int("sent", i).Msg("operation canceled")
				for j, t := range tail {
					r.emit(t, j < len(tail)-1)
				}
				return
			}
		}
		r.emit(ev, i < len(events)-1)
	}
}

// responder answers one bridge call.
type responder struct {
	onResult  func(json.RawMessage, bool)
	onFailure akiles.Callback
	log       zerolog.Logger
}

func (r *responder) ok(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		r.fail(internal(err))
		return
	}
	if r.onResult != nil {
		r.onResult(b, false)
	}
}

func (r *responder) emit(ev akiles.Event, keep bool) {
	b, err := akiles.EncodeEvent(ev)
	if err != nil {
		r.log.Error().Err(err).Msg("encode event")
		return
	}
	if r.onResult != nil {
		r.onResult(b, keep)
	}
}

func (r *responder) final(ev akiles.Event) { r.emit(ev, false) }

func (r *responder) fail(e *akiles.Error) {
	b, err := json.Marshal(e)
	if err != nil {
		b = akiles.TransportFailure(err)
	}
	r.log.Debug().Str("code", string(e.Code)).Msg(e.Message)
	if r.onFailure != nil {
		r.onFailure(b)
	}
}

// failRaw sends a bare string, as the plugins do for errors that are not SDK errors.
func (r *responder) failRaw(msg string) {
	b, _ := json.Marshal(msg)
	if r.onFailure != nil {
		r.onFailure(b)
	}
}

func internal(err error) *akiles.Error {
	return akiles.NewError(akiles.CodeInternal, err.Error())
}

// flag renders a capability like the Android plugin does.
func flag(v bool) int {
	if v {
		return 1
	}
	return 0
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: missing argument %d", akiles.ErrInvalidParameter, i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d is %T, want string", akiles.ErrInvalidParameter, i, args[i])
	}
	return s, nil
}

func remarshal(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func hasAction(gadgets []akiles.Gadget, gadgetID, actionID string) bool {
	for _, g := range gadgets {
		if g.ID != gadgetID {
			continue
		}
		for _, a := range g.Actions {
			if a.ID == actionID {
				return true
			}
		}
	}
	return false
}

func hasHardware(hws []akiles.Hardware, id string) bool {
	for _, hw := range hws {
		if hw.ID == id {
			return true
		}
	}
	return false
}
