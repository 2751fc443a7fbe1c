// Package netutil holds the network plumbing the portal client depends on:
// source-bound HTTP clients, the TCP reachability probe and interface address lookup.
package netutil

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultHTTPTimeout    = 10 * time.Second
)

// HTTPOptions configures NewHTTPClient.
type HTTPOptions struct {
	// BindIP, when set, is the local address every outbound connection originates from.
	BindIP         string
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// LocalTCPAddr parses ip into a TCP address with an ephemeral port.
// Empty ip returns nil, meaning "let the kernel choose".
func LocalTCPAddr(ip string) (*net.TCPAddr, error) {
	if ip == "" {
		return nil, nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid bind address %q", ip)
	}
	return &net.TCPAddr{IP: parsed}, nil
}

// NewDialer returns a dialer bound to bindIP (if any) with the given connect timeout.
func NewDialer(bindIP string, connectTimeout time.Duration) (*net.Dialer, error) {
	local, err := LocalTCPAddr(bindIP)
	if err != nil {
		return nil, err
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	d := &net.Dialer{Timeout: connectTimeout}
	if local != nil {
		d.LocalAddr = local
	}
	return d, nil
}

// NewHTTPClient builds an HTTP client for talking to the controller.
// Proxy settings from the environment are ignored: the controller is only reachable directly.
func NewHTTPClient(opts HTTPOptions) (*http.Client, error) {
	dialer, err := NewDialer(opts.BindIP, opts.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("creating dialer: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
