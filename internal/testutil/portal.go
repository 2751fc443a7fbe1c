package testutil

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// Controller paths served by Portal.
const (
	ChallengePath = "/cgi-bin/get_challenge"
	PortalPath    = "/cgi-bin/srun_portal"
)

// RawBody is written to the client verbatim, without JSONP framing.
type RawBody string

// PortalRequest is one request seen by the fake controller.
type PortalRequest struct {
	Path     string
	Query    url.Values
	RemoteIP string
	At       time.Time
}

// Responder produces the answer for a request. Returning RawBody skips the JSONP wrapper,
// anything else is JSON-encoded and wrapped in "<callback>(...)".
type Responder func(q url.Values) any

// Portal is an in-process SRUN controller for tests.
// By default get_challenge returns token "abc123" and echoes the ip parameter as client_ip,
// and srun_portal grants access on the first login and accepts every logout.
type Portal struct {
	t      testing.TB
	server *httptest.Server

	mu        sync.Mutex
	requests  []PortalRequest
	challenge Responder
	portal    Responder
}

// NewPortal starts a fake controller. The server is closed with t.Cleanup().
func NewPortal(t testing.TB) *Portal {
	t.Helper()

	p := &Portal{
		t:         t,
		challenge: ChallengeToken("abc123", ""),
		portal:    GrantAccess("tok-1"),
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.server.Close)
	return p
}

// URL is the controller base URL.
func (p *Portal) URL() string {
	return p.server.URL
}

// OnChallenge replaces the get_challenge responder.
func (p *Portal) OnChallenge(r Responder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.challenge = r
}

// OnPortal replaces the srun_portal responder.
func (p *Portal) OnPortal(r Responder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.portal = r
}

// Requests returns a copy of every request received so far.
func (p *Portal) Requests() []PortalRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PortalRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Count returns how many requests hit path.
func (p *Portal) Count(path string) int {
	n := 0
	for _, r := range p.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

func (p *Portal) serve(w http.ResponseWriter, r *http.Request) {
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	q := r.URL.Query()

	p.mu.Lock()
	p.requests = append(p.requests, PortalRequest{
		Path:     r.URL.Path,
		Query:    q,
		RemoteIP: host,
		At:       time.Now(),
	})
	var responder Responder
	switch r.URL.Path {
	case ChallengePath:
		responder = p.challenge
	case PortalPath:
		responder = p.portal
	}
	p.mu.Unlock()

	if responder == nil {
		http.NotFound(w, r)
		return
	}

	switch body := responder(q).(type) {
	case RawBody:
		_, _ = w.Write([]byte(body))
	default:
		data, err := json.Marshal(body)
		if err != nil {
			p.t.Errorf("fake portal: marshal response: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(q.Get("callback") + "(" + string(data) + ")"))
	}
}

// ChallengeToken answers get_challenge with token. clientIP is reported as client_ip;
// when empty the request's ip parameter is echoed.
func ChallengeToken(token, clientIP string) Responder {
	return func(q url.Values) any {
		ip := clientIP
		if ip == "" {
			ip = q.Get("ip")
		}
		return map[string]any{
			"challenge": token,
			"client_ip": ip,
			"ecode":     0,
			"error":     "ok",
			"error_msg": "",
			"expire":    "60",
			"online_ip": ip,
			"res":       "ok",
			"srun_ver":  "SRunCGIAuthIntfSvr V1.18 B20180306",
			"st":        1700000000,
		}
	}
}

// GrantAccess answers logins with accessToken and logouts with "ok".
func GrantAccess(accessToken string) Responder {
	return func(q url.Values) any {
		if q.Get("action") == "logout" {
			return map[string]any{"error": "ok", "res": "ok", "online_ip": q.Get("ip")}
		}
		return map[string]any{
			"access_token":   accessToken,
			"error":          "ok",
			"res":            "ok",
			"suc_msg":        "login_ok",
			"client_ip":      q.Get("ip"),
			"online_ip":      q.Get("ip"),
			"wallet_balance": 12.5,
			"remain_flux":    0,
		}
	}
}

// DenyAccess answers every portal request without an access token.
func DenyAccess(errCode, msg string) Responder {
	return func(url.Values) any {
		return map[string]any{
			"access_token": "",
			"error":        errCode,
			"error_msg":    msg,
			"res":          errCode,
		}
	}
}
