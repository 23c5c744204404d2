package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akiles-app/akiles"
	"github.com/akiles-app/akiles/internal/server"
	"github.com/akiles-app/akiles/runtime"
)

func startHost(t *testing.T, sim *runtime.Simulator) string {
	t.Helper()
	c, err := akiles.New(sim, akiles.DefaultOptions())
	require.NoError(t, err)
	h := server.NewRouter(context.Background(), server.HostConfig{
		Native: sim,
		Poller: runtime.NewSessionPoller(c, zerolog.Nop()),
		Logger: zerolog.Nop(),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/bridge"
}

func akilesCmd(t *testing.T, ctx context.Context, url string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	var out, errOut bytes.Buffer
	err := run(ctx, append([]string{"-url", url}, args...), &out, &errOut)
	return out.String(), err
}

func TestCLISessions(t *testing.T) {
	url := startHost(t, runtime.NewSimulator(runtime.SimulatorConfig{}))
	ctx := context.Background()

	out, err := akilesCmd(t, ctx, url, "add", "tok_abc")
	require.NoError(t, err)
	var id string
	require.NoError(t, json.Unmarshal([]byte(out), &id))

	out, err = akilesCmd(t, ctx, url, "sessions")
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.Unmarshal([]byte(out), &ids))
	assert.Equal(t, []string{id}, ids)

	out, err = akilesCmd(t, ctx, url, "gadgets", id)
	require.NoError(t, err)
	assert.Contains(t, out, "gad_front_door")

	_, err = akilesCmd(t, ctx, url, "remove", id)
	require.NoError(t, err)
	_, err = akilesCmd(t, ctx, url, "gadgets", id)
	assert.True(t, akiles.IsCode(err, akiles.CodeInvalidSession), "got %v", err)
}

func TestCLISupport(t *testing.T) {
	url := startHost(t, runtime.NewSimulator(runtime.SimulatorConfig{NoSecureNFC: true}))
	out, err := akilesCmd(t, context.Background(), url, "support")
	require.NoError(t, err)
	assert.JSONEq(t, `{"bluetooth":true,"cardEmulation":true,"secureNfc":false}`, out)
}

func TestCLIAction(t *testing.T) {
	url := startHost(t, runtime.NewSimulator(runtime.SimulatorConfig{StepDelay: time.Millisecond}))
	ctx := context.Background()
	out, err := akilesCmd(t, ctx, url, "add", "tok_abc")
	require.NoError(t, err)
	var id string
	require.NoError(t, json.Unmarshal([]byte(out), &id))

	out, err = akilesCmd(t, ctx, url, "-no-bluetooth", "action", id, "gad_front_door", "open")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	assert.JSONEq(t, `{"type":"success"}`, lines[len(lines)-1])
	assert.Contains(t, out, `"type":"internet_success"`)
	assert.Contains(t, out, `"code":"CANCELED"`, "bluetooth disabled")
}

func TestCLIScanCanceledByContext(t *testing.T) {
	url := startHost(t, runtime.NewSimulator(runtime.SimulatorConfig{StepDelay: 200 * time.Millisecond}))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := akilesCmd(t, ctx, url, "scan")
	assert.True(t, akiles.IsCode(err, akiles.CodeCanceled), "got %v", err)
}

func TestCLIUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), nil, &out, &errOut)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, errOut.String(), "usage: akiles")

	url := startHost(t, runtime.NewSimulator(runtime.SimulatorConfig{}))
	_, err = akilesCmd(t, context.Background(), url, "frobnicate")
	assert.ErrorContains(t, err, "unknown command")
	_, err = akilesCmd(t, context.Background(), url, "action", "only-one")
	assert.ErrorContains(t, err, "usage: action")
}
