package srun

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Challenge fetches a fresh challenge for s without logging in.
func (c *Client) Challenge(ctx context.Context, s Session) (Challenge, error) {
	at := newAttempt(s, c.now())
	return c.fetchChallenge(ctx, s, at)
}

// fetchChallenge requests a token, stores it on at and applies IP detection.
func (c *Client) fetchChallenge(ctx context.Context, s Session, at *Attempt) (Challenge, error) {
	if !s.DetectIP && at.IP == "" {
		return Challenge{}, fmt.Errorf("fetching challenge for %s: %w", s.Username, ErrIPUndefined)
	}

	params := url.Values{}
	params.Set("username", s.Username)
	params.Set("ip", at.IP)
	params.Set("_", strconv.FormatInt(at.Time, 10))

	var ch Challenge
	if err := c.get(ctx, s, at, PathChallenge, params, &ch); err != nil {
		return Challenge{}, fmt.Errorf("fetching challenge: %w", err)
	}
	if ch.Token == "" {
		return ch, fmt.Errorf("server said %q (%s): %w", ch.Error, ch.ErrorMsg, ErrChallengeFailed)
	}

	if observed := ch.ObservedIP(); s.DetectIP && observed != "" {
		if observed != at.IP {
			c.logger.Info("using controller-detected ip", "user", s.Username, "configured", at.IP, "detected", observed)
		}
		at.IP = observed
	}
	at.Token = ch.Token

	c.logger.Debug("challenge received", "user", s.Username, "ip", at.IP)
	return ch, nil
}
