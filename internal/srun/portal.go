package srun

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/udisondev/gosrun/internal/crypto"
)

// Login authenticates s against the controller.
//
// A response without access token is retried up to s.RetryTimes times, s.RetryDelay apart.
// Running out of attempts is not an error: the Result carries OutcomeNotAuthenticated and the
// last response. Transport and decoding errors abort the call immediately.
func (c *Client) Login(ctx context.Context, s Session) (res Result, err error) {
	res.Action = ActionLogin
	defer func() { c.observeResult(ActionLogin, res.Outcome, err) }()

	if err := s.Validate(); err != nil {
		return res, err
	}
	at := newAttempt(s, c.now())
	log := c.logger.With("user", s.Username)

	if c.prober != nil && c.prober.Reachable(ctx, bindIP(s, at)) {
		log.Info("network already reachable, skipping login")
		res.Outcome = OutcomeAlreadyOnline
		res.IP = at.IP
		return res, nil
	}

	if _, err := c.fetchChallenge(ctx, s, at); err != nil {
		return res, err
	}
	if at.IP == "" {
		return res, fmt.Errorf("no address to authenticate for %s: %w", s.Username, ErrIPUndefined)
	}
	res.IP = at.IP

	params, err := loginParams(s, at)
	if err != nil {
		return res, err
	}

	for attempt := 1; attempt <= s.RetryTimes; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, s.RetryDelay); err != nil {
				return res, fmt.Errorf("waiting before attempt %d: %w", attempt, err)
			}
		}

		var pr PortalResult
		if err := c.get(ctx, s, at, PathPortal, params, &pr); err != nil {
			return res, fmt.Errorf("login attempt %d: %w", attempt, err)
		}
		res.Attempts = attempt
		res.Response = pr

		if pr.OK() {
			log.Info("login succeeded", "attempt", attempt, "ip", at.IP, "msg", pr.Message())
			res.Outcome = OutcomeAuthenticated
			return res, nil
		}
		log.Warn("login attempt got no access token",
			"attempt", attempt, "of", s.RetryTimes, "error", pr.Str("error"), "msg", pr.Message())
	}

	log.Warn("login gave up", "attempts", s.RetryTimes)
	res.Outcome = OutcomeNotAuthenticated
	return res, nil
}

// loginParams derives hmd5, info and chksum from the attempt token.
func loginParams(s Session, at *Attempt) (url.Values, error) {
	hmd5 := crypto.PasswordHMAC(at.Token, s.Password)
	info, err := crypto.EncodeInfo(crypto.Info{
		Username: s.Username,
		Password: s.Password,
		IP:       at.IP,
		ACID:     s.ACID,
	}, at.Token)
	if err != nil {
		return nil, fmt.Errorf("encoding info: %w", err)
	}
	chksum := crypto.Checksum(at.Token, crypto.ChecksumFields{
		Username: s.Username,
		HMD5:     hmd5,
		ACID:     s.ACID,
		IP:       at.IP,
		N:        s.N,
		Type:     s.Type,
		Info:     info,
	})

	params := url.Values{}
	params.Set("action", string(ActionLogin))
	params.Set("username", s.Username)
	params.Set("password", "{MD5}"+hmd5)
	params.Set("ip", at.IP)
	params.Set("ac_id", strconv.Itoa(s.ACID))
	params.Set("n", strconv.Itoa(s.N))
	params.Set("type", strconv.Itoa(s.Type))
	params.Set("os", s.OS)
	params.Set("name", s.Name)
	params.Set("double_stack", s.doubleStack())
	params.Set("info", info)
	params.Set("chksum", chksum)
	params.Set("_", strconv.FormatInt(at.Time, 10))
	return params, nil
}

// Logout drops the session of s.IP. The challenge is fetched only to detect the address.
// A single request is made, without retries.
func (c *Client) Logout(ctx context.Context, s Session) (res Result, err error) {
	res.Action = ActionLogout
	defer func() { c.observeResult(ActionLogout, res.Outcome, err) }()

	if s.Username == "" {
		return res, fmt.Errorf("username is empty: %w", ErrInvalidSession)
	}
	at := newAttempt(s, c.now())

	if s.DetectIP {
		if _, err := c.fetchChallenge(ctx, s, at); err != nil {
			return res, err
		}
	}
	if at.IP == "" {
		return res, fmt.Errorf("no address to log out for %s: %w", s.Username, ErrIPUndefined)
	}
	res.IP = at.IP

	params := url.Values{}
	params.Set("action", string(ActionLogout))
	params.Set("username", s.Username)
	params.Set("ip", at.IP)
	params.Set("ac_id", strconv.Itoa(s.ACID))
	params.Set("_", strconv.FormatInt(at.Time, 10))

	var pr PortalResult
	if err := c.get(ctx, s, at, PathPortal, params, &pr); err != nil {
		return res, fmt.Errorf("logout: %w", err)
	}
	res.Attempts = 1
	res.Response = pr

	if pr.Str("error") == "ok" || pr.Str("res") == "ok" {
		c.logger.Info("logout succeeded", "user", s.Username, "ip", at.IP)
		res.Outcome = OutcomeLoggedOut
		return res, nil
	}
	c.logger.Warn("logout rejected", "user", s.Username, "error", pr.Str("error"), "msg", pr.Message())
	res.Outcome = OutcomeLogoutRejected
	return res, nil
}
