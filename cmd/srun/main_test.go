package main

import (
	"bytes"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/gosrun/internal/netutil"
	"github.com/udisondev/gosrun/internal/srun"
	"github.com/udisondev/gosrun/internal/testutil"
)

const (
	goldenInfo = "{SRBX1}u4gcswGCfF7Yu3VT5fTDhyJG9Ku8lmYD9cvVN+l1654rT0JQfMVtJ1dzr9T4ddcK7INJViw3FCP2mpingeBqbZkIZ5I97vGs5YmU+ytM72kF/U4h"
	goldenHMD5 = "00a61787fa41ac8d958e1d5f86371a63"
)

func testTerminal(stdin string) (terminal, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return terminal{
		stdin:  strings.NewReader(stdin),
		stdout: &stdout,
		stderr: &stderr,
	}, &stdout, &stderr
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "srun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_LoginFromFlags(t *testing.T) {
	p := testutil.NewPortal(t)
	tm, stdout, _ := testTerminal("")
	ctx := testutil.ContextWithTimeout(t, 5*time.Second)

	err := run(ctx, []string{"login", "-s", p.URL(), "-u", "u1", "-p", "p1", "-i", "10.0.0.5"}, tm)
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "u1")
	assert.Contains(t, out, "authenticated")
	assert.Contains(t, out, "10.0.0.5")
	assert.Contains(t, out, "login_ok")

	assert.Equal(t, 1, p.Count(srun.PathPortal))
	q := p.Requests()[1].Query
	assert.Equal(t, "{MD5}"+goldenHMD5, q.Get("password"))
	assert.Equal(t, goldenInfo, q.Get("info"))
}

func TestRun_LoginConfigFileKeepsGoing(t *testing.T) {
	p := testutil.NewPortal(t)
	p.OnChallenge(func(q url.Values) any {
		if q.Get("username") == "bad" {
			return map[string]any{"error": "not_online_error"}
		}
		return testutil.ChallengeToken("abc123", "")(q)
	})
	path := writeConfig(t, `
server: `+p.URL()+`
users:
  - username: bad
    password: p0
    ip: 10.0.0.4
  - username: u1
    password: p1
    ip: 10.0.0.5
`)
	tm, stdout, _ := testTerminal("")
	ctx := testutil.ContextWithTimeout(t, 5*time.Second)

	err := run(ctx, []string{"login", "-c", path}, tm)
	require.ErrorIs(t, err, errUsersFailed)

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "bad")
	assert.Contains(t, lines[0], "error")
	assert.Contains(t, lines[1], "u1")
	assert.Contains(t, lines[1], "authenticated")
}

func TestRun_NotAuthenticatedExitsCleanly(t *testing.T) {
	p := testutil.NewPortal(t)
	p.OnPortal(testutil.DenyAccess("login_error", "E2901"))
	path := writeConfig(t, `
server: `+p.URL()+`
retry_times: 2
retry_delay: 1
users:
  - username: u1
    password: p1
    ip: 10.0.0.5
`)
	tm, stdout, _ := testTerminal("")

	err := run(testutil.ContextWithTimeout(t, 5*time.Second), []string{"login", "-c", path}, tm)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "not_authenticated")
	assert.Equal(t, 2, p.Count(srun.PathPortal))
}

func TestRun_Logout(t *testing.T) {
	p := testutil.NewPortal(t)
	tm, stdout, _ := testTerminal("")

	err := run(testutil.ContextWithTimeout(t, 5*time.Second),
		[]string{"logout", "-s", p.URL(), "-u", "u1", "-p", "p1", "-i", "10.0.0.5"}, tm)
	require.NoError(t, err)

	assert.Contains(t, stdout.String(), "logged_out")
	assert.Equal(t, 0, p.Count(srun.PathChallenge))
	assert.Equal(t, "logout", p.Requests()[0].Query.Get("action"))
}

func TestRun_TransportErrorFails(t *testing.T) {
	tm, stdout, _ := testTerminal("")

	err := run(testutil.ContextWithTimeout(t, 5*time.Second),
		[]string{"login", "-s", "http://" + testutil.ClosedTCPAddr(t), "-u", "u1", "-p", "p1", "-i", "10.0.0.5"}, tm)
	require.ErrorIs(t, err, errUsersFailed)
	assert.Contains(t, stdout.String(), "error")
}

func TestRun_PasswordRequiredWithoutTerminal(t *testing.T) {
	tm, _, _ := testTerminal("")

	err := run(testutil.ContextWithTimeout(t, 5*time.Second), []string{"login", "-u", "u1", "-i", "10.0.0.5"}, tm)
	assert.ErrorContains(t, err, "password is required")
}

func TestRun_PromptsPassword(t *testing.T) {
	p := testutil.NewPortal(t)
	tm, _, _ := testTerminal("")
	tm.interactive = true
	prompted := 0
	tm.password = func() (string, error) {
		prompted++
		return "p1", nil
	}

	err := run(testutil.ContextWithTimeout(t, 5*time.Second),
		[]string{"login", "-s", p.URL(), "-u", "u1", "-i", "10.0.0.5"}, tm)
	require.NoError(t, err)
	assert.Equal(t, 1, prompted)
	assert.Equal(t, "{MD5}"+goldenHMD5, p.Requests()[1].Query.Get("password"))
}

func TestRun_NoUsers(t *testing.T) {
	tm, _, _ := testTerminal("")
	err := run(testutil.ContextWithTimeout(t, 5*time.Second), []string{"login"}, tm)
	assert.ErrorContains(t, err, "no users")
}

func TestRun_BadActions(t *testing.T) {
	tm, _, stderr := testTerminal("")
	ctx := testutil.ContextWithTimeout(t, 5*time.Second)

	assert.ErrorContains(t, run(ctx, nil, tm), "missing action")
	assert.ErrorContains(t, run(ctx, []string{"-u", "x"}, tm), "missing action")
	assert.ErrorContains(t, run(ctx, []string{"reboot"}, tm), "unknown action")
	assert.Error(t, run(ctx, []string{"login", "-x"}, tm))
	assert.Contains(t, stderr.String(), "usage: srun ACTION")
}

func TestRun_Decode(t *testing.T) {
	tm, stdout, _ := testTerminal("")
	ctx := testutil.ContextWithTimeout(t, 5*time.Second)

	require.NoError(t, run(ctx, []string{"decode", "-t", "abc123", goldenInfo}, tm))
	out := stdout.String()
	assert.Contains(t, out, `"username": "u1"`)
	assert.Contains(t, out, `"ip": "10.0.0.5"`)
	assert.Contains(t, out, `"acid": 12`)
	assert.Contains(t, out, `"enc_ver": "srun_bx1"`)

	assert.Error(t, run(ctx, []string{"decode", goldenInfo}, tm))
	assert.Error(t, run(ctx, []string{"decode", "-t", "abc123", "{SRBX1}!!"}, tm))
}

func TestRun_WatchSkipsLoginWhileOnline(t *testing.T) {
	p := testutil.NewPortal(t)
	_, probeAddr := testutil.ListenTCP(t)
	path := writeConfig(t, `
server: `+p.URL()+`
probe:
  address: `+probeAddr+`
  timeout: 1s
watch:
  interval: 20ms
  metrics_addr: `+testutil.ClosedTCPAddr(t)+`
users:
  - username: u1
    password: p1
    ip: 10.0.0.5
`)
	tm, _, _ := testTerminal("")
	ctx := testutil.ContextWithTimeout(t, 300*time.Millisecond)

	require.NoError(t, run(ctx, []string{"watch", "-c", path}, tm))
	assert.Empty(t, p.Requests())
}

func TestSelectIP(t *testing.T) {
	addrs := []netutil.InterfaceAddr{
		{Name: "eth0", IP: net.ParseIP("10.0.0.5")},
		{Name: "wlan0", IP: net.ParseIP("192.168.1.9")},
	}
	var out bytes.Buffer

	ip, err := selectIP(strings.NewReader("9\nx\n2\n"), &out, addrs)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.9", ip)
	assert.Contains(t, out.String(), " 1. eth0 10.0.0.5")
	assert.Equal(t, 2, strings.Count(out.String(), "invalid choice"))

	_, err = selectIP(strings.NewReader("0\n3\n-1\n1\n"), &out, addrs)
	assert.Error(t, err)

	_, err = selectIP(strings.NewReader(""), &out, addrs)
	assert.Error(t, err)

	ip, err = selectIP(strings.NewReader(""), &out, addrs[:1])
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", ip)

	_, err = selectIP(strings.NewReader(""), &out, nil)
	assert.Error(t, err)
}
