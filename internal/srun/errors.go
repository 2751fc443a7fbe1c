package srun

import "errors"

var (
	// ErrIPUndefined means there is no address to authenticate and detection is off
	// (or the controller did not report one).
	ErrIPUndefined = errors.New("ip undefined")
	// ErrChallengeFailed means the controller answered get_challenge without a token.
	ErrChallengeFailed = errors.New("challenge failed")
	// ErrMalformedResponse covers broken JSONP framing and undecodable JSON bodies.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrUnexpectedStatus is returned for non-200 HTTP answers.
	ErrUnexpectedStatus = errors.New("unexpected http status")
	// ErrInvalidSession is returned by Session.Validate.
	ErrInvalidSession = errors.New("invalid session")
)
