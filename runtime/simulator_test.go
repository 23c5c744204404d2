package runtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/akiles-app/akiles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSimClient(t *testing.T, cfg SimulatorConfig) (*akiles.Client, *Simulator) {
	t.Helper()
	sim := NewSimulator(cfg)
	c, err := akiles.New(sim, akiles.DefaultOptions())
	require.NoError(t, err)
	return c, sim
}

// trace records callback names in arrival order.
type trace struct {
	mu     sync.Mutex
	events []string
}

func (tr *trace) add(s string) {
	tr.mu.Lock()
	tr.events = append(tr.events, s)
	tr.mu.Unlock()
}

func (tr *trace) snapshot() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.events...)
}

func (tr *trace) has(s string) bool {
	for _, e := range tr.snapshot() {
		if e == s {
			return true
		}
	}
	return false
}

func (tr *trace) count(prefix string) int {
	n := 0
	for _, e := range tr.snapshot() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func (tr *trace) actionCallback() akiles.ActionCallback {
	return akiles.ActionCallback{
		OnSuccess:                 func() { tr.add("success") },
		OnError:                   func(err *akiles.Error) { tr.add("error:" + string(err.Code)) },
		OnInternetStatus:          func(s akiles.ActionInternetStatus) { tr.add("internet_status:" + string(s)) },
		OnInternetSuccess:         func() { tr.add("internet_success") },
		OnInternetError:           func(err *akiles.Error) { tr.add("internet_error:" + string(err.Code)) },
		OnBluetoothStatus:         func(s akiles.ActionBluetoothStatus) { tr.add("bluetooth_status:" + string(s)) },
		OnBluetoothStatusProgress: func(float64) { tr.add("bluetooth_progress") },
		OnBluetoothSuccess:        func() { tr.add("bluetooth_success") },
		OnBluetoothError:          func(err *akiles.Error) { tr.add("bluetooth_error:" + string(err.Code)) },
	}
}

func TestSimulatorSessionScenario(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{})
	ctx := context.Background()

	id, err := c.AddSession(ctx, "tok_abc")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "mem_"), id)

	again, err := c.AddSession(ctx, "tok_abc")
	require.NoError(t, err)
	assert.Equal(t, id, again, "adding a known token is a no-op")

	ids, err := c.GetSessionIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)

	gadgets, err := c.GetGadgets(ctx, id)
	require.NoError(t, err)
	assert.Len(t, gadgets, 2)

	hws, err := c.GetHardwares(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, hws)
	assert.Equal(t, []string{id}, hws[0].Sessions)

	require.NoError(t, c.RefreshSession(ctx, id))
	require.NoError(t, c.RefreshAllSessions(ctx))

	require.NoError(t, c.RemoveSession(ctx, "mem_unknown"))
	require.NoError(t, c.RemoveSession(ctx, id))

	_, err = c.GetGadgets(ctx, id)
	assert.True(t, akiles.IsCode(err, akiles.CodeInvalidSession), "got %v", err)
	err = c.RefreshSession(ctx, id)
	assert.True(t, akiles.IsCode(err, akiles.CodeInvalidSession))

	ids, err = c.GetSessionIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSimulatorRejectsBadToken(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{})
	_, err := c.AddSession(context.Background(), "garbage")
	assert.True(t, akiles.IsCode(err, akiles.CodeInvalidSession))
}

func TestSimulatorRemoveAll(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{})
	ctx := context.Background()
	_, err := c.AddSession(ctx, "tok_a")
	require.NoError(t, err)
	_, err = c.AddSession(ctx, "tok_b")
	require.NoError(t, err)
	require.NoError(t, c.RemoveAllSessions(ctx))
	ids, err := c.GetSessionIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSimulatorFixtures(t *testing.T) {
	fx := Fixture{Gadgets: []akiles.Gadget{{ID: "g_only", Name: "Only", Actions: []akiles.GadgetAction{{ID: "ring", Name: "Ring"}}}}}
	c, _ := newSimClient(t, SimulatorConfig{Fixtures: map[string]Fixture{"tok_special": fx}})
	ctx := context.Background()
	id, err := c.AddSession(ctx, "tok_special")
	require.NoError(t, err)
	gadgets, err := c.GetGadgets(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, fx.Gadgets, gadgets)
	hws, err := c.GetHardwares(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, hws)
}

func TestSimulatorInfoAndCapabilities(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{NoSecureNFC: true})
	ctx := context.Background()

	v, err := c.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0-sim", v)

	info, err := c.GetClientInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "akiles-simulator", info.Name)

	ok, err := c.IsBluetoothSupported(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.IsCardEmulationSupported(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.IsSecureNFCSupported(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.StartCardEmulation(ctx, "en"))
}

func TestSimulatorStartCardEmulationUnsupported(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{NoCardEmulation: true})
	err := c.StartCardEmulation(context.Background(), "en")
	assert.True(t, akiles.IsCode(err, akiles.CodeNFCNotAvailable))
}

func TestSimulatorActionSequence(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{})
	id, err := c.AddSession(context.Background(), "tok_abc")
	require.NoError(t, err)

	tr := &trace{}
	c.Action(id, "gad_front_door", "open", nil, tr.actionCallback())
	require.Eventually(t, func() bool { return tr.has("bluetooth_success") }, 2*time.Second, 5*time.Millisecond)

	events := tr.snapshot()
	assert.Equal(t, 1, tr.count("success"))
	assert.Zero(t, tr.count("error"))
	assert.Equal(t, 1, tr.count("internet_success"))
	assert.Equal(t, 1, tr.count("bluetooth_success"))
	assert.Equal(t, "internet_status:EXECUTING_ACTION", events[0])

	// Bluetooth post-sync keeps reporting after the global result.
	idx := map[string]int{}
	for i, e := range events {
		idx[e] = i
	}
	assert.Less(t, idx["success"], idx["bluetooth_status:SYNCING_SERVER"])
}

func TestSimulatorActionOptions(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{})
	id, err := c.AddSession(context.Background(), "tok_abc")
	require.NoError(t, err)

	tr := &trace{}
	c.Action(id, "gad_garage", "close", &akiles.ActionOptions{UseBluetooth: akiles.Bool(false)}, tr.actionCallback())
	require.Eventually(t, func() bool { return tr.has("success") }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, tr.has("bluetooth_error:CANCELED"))
	assert.Zero(t, tr.count("bluetooth_status"))
	assert.Equal(t, 1, tr.count("internet_success"))

	tr = &trace{}
	c.Action(id, "gad_garage", "close", &akiles.ActionOptions{UseBluetooth: akiles.Bool(false), UseInternet: akiles.Bool(false)}, tr.actionCallback())
	require.Eventually(t, func() bool { return tr.count("error") > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"error:ALL_COMM_METHODS_FAILED"}, tr.snapshot())
}

func TestSimulatorActionErrors(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{})
	id, err := c.AddSession(context.Background(), "tok_abc")
	require.NoError(t, err)

	tr := &trace{}
	c.Action(id, "gad_front_door", "explode", nil, tr.actionCallback())
	require.Eventually(t, func() bool { return tr.count("error") > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"error:INVALID_PARAM"}, tr.snapshot())

	tr = &trace{}
	c.Action("mem_nope", "gad_front_door", "open", nil, tr.actionCallback())
	require.Eventually(t, func() bool { return tr.count("error") > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"error:INVALID_SESSION"}, tr.snapshot())
}

func TestSimulatorActionCancel(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{StepDelay: 20 * time.Millisecond})
	id, err := c.AddSession(context.Background(), "tok_abc")
	require.NoError(t, err)

	tr := &trace{}
	var cancel akiles.CancelFunc
	cb := tr.actionCallback()
	onStatus := cb.OnInternetStatus
	cb.OnInternetStatus = func(s akiles.ActionInternetStatus) {
		onStatus(s)
		cancel()
	}
	cancel = c.Action(id, "gad_front_door", "open", nil, cb)

	require.Eventually(t, func() bool {
		return tr.has("error:CANCELED") && tr.has("internet_error:CANCELED") && tr.has("bluetooth_error:CANCELED")
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, tr.has("success"))
	assert.Equal(t, 1, tr.count("error"))

	// Canceling a finished operation is harmless.
	before := len(tr.snapshot())
	cancel()
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, tr.snapshot(), before)
}

func TestSimulatorScan(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{})
	id, err := c.AddSession(context.Background(), "tok_abc")
	require.NoError(t, err)

	var mu sync.Mutex
	var found []akiles.Hardware
	done := make(chan struct{})
	c.Scan(akiles.ScanCallback{
		OnDiscover: func(hw akiles.Hardware) {
			mu.Lock()
			found = append(found, hw)
			mu.Unlock()
		},
		OnSuccess: func() { close(done) },
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not finish")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, found, 2)
	assert.Equal(t, []string{id}, found[0].Sessions)
}

func TestSimulatorScanCancel(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{StepDelay: 50 * time.Millisecond})
	errc := make(chan *akiles.Error, 1)
	cancel := c.Scan(akiles.ScanCallback{OnError: func(err *akiles.Error) { errc <- err }})
	cancel()
	select {
	case err := <-errc:
		assert.Equal(t, akiles.CodeCanceled, err.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("scan was not canceled")
	}
}

func TestSimulatorSync(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{})
	id, err := c.AddSession(context.Background(), "tok_abc")
	require.NoError(t, err)

	var mu sync.Mutex
	var progress []float64
	done := make(chan *akiles.Error, 1)
	c.Sync(id, "hw_front_door", akiles.SyncCallback{
		OnStatusProgress: func(p float64) {
			mu.Lock()
			progress = append(progress, p)
			mu.Unlock()
		},
		OnSuccess: func() { done <- nil },
		OnError:   func(err *akiles.Error) { done <- err },
	})
	select {
	case err := <-done:
		require.Nil(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not finish")
	}
	mu.Lock()
	assert.Equal(t, []float64{50, 100}, progress)
	mu.Unlock()

	c.Sync(id, "hw_missing", akiles.SyncCallback{OnError: func(err *akiles.Error) { done <- err }})
	select {
	case err := <-done:
		require.NotNil(t, err)
		assert.Equal(t, akiles.CodeInvalidParam, err.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not fail")
	}
}

func TestSimulatorScanCard(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{Card: akiles.Card{UID: "0455AA", IsAkilesCard: true}})
	ctx := context.Background()

	cards := make(chan *akiles.Card, 1)
	c.ScanCard(akiles.ScanCardCallback{OnSuccess: func(card *akiles.Card) { cards <- card }})
	var card *akiles.Card
	select {
	case card = <-cards:
	case <-time.After(2 * time.Second):
		t.Fatal("no card")
	}
	assert.Equal(t, "0455AA", card.UID)
	assert.True(t, card.IsAkilesCard)
	require.NoError(t, card.Update(ctx))

	card.Close()
	require.Eventually(t, func() bool {
		return card.Update(ctx) != nil
	}, time.Second, 5*time.Millisecond)
	err := card.Update(ctx)
	assert.True(t, akiles.IsCode(err, akiles.CodeInternal))
	assert.Contains(t, err.Error(), "no card")
}

func TestSimulatorScanCardWithoutNFC(t *testing.T) {
	c, _ := newSimClient(t, SimulatorConfig{NoNFC: true})
	errc := make(chan *akiles.Error, 1)
	c.ScanCard(akiles.ScanCardCallback{OnError: func(err *akiles.Error) { errc <- err }})
	select {
	case err := <-errc:
		assert.Equal(t, akiles.CodeNFCNotAvailable, err.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no error")
	}
}

func TestSimulatorUnknownActionAndService(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{})
	errc := make(chan string, 2)
	sim.Exec(nil, func(p json.RawMessage) { errc <- string(p) }, akiles.ServiceName, "teleport", nil)
	sim.Exec(nil, func(p json.RawMessage) { errc <- string(p) }, "OTHER", akiles.ActionGetVersion, nil)
	for i := 0; i < 2; i++ {
		select {
		case p := <-errc:
			assert.Equal(t, akiles.CodeInvalidParam, akiles.NormalizeError(json.RawMessage(p)).Code)
		case <-time.After(time.Second):
			t.Fatal("no failure")
		}
	}
}
