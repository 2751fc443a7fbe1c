package srun

import (
	"encoding/json"
	"strconv"
)

// Action is the portal action a call performs.
type Action string

const (
	ActionLogin  Action = "login"
	ActionLogout Action = "logout"
)

// Outcome classifies how a Login or Logout call ended without error.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	// OutcomeAlreadyOnline: the pre-flight probe succeeded, the controller was not contacted.
	OutcomeAlreadyOnline
	// OutcomeAuthenticated: the controller returned an access token.
	OutcomeAuthenticated
	// OutcomeNotAuthenticated: every attempt came back without an access token.
	OutcomeNotAuthenticated
	OutcomeLoggedOut
	OutcomeLogoutRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAlreadyOnline:
		return "already_online"
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeNotAuthenticated:
		return "not_authenticated"
	case OutcomeLoggedOut:
		return "logged_out"
	case OutcomeLogoutRejected:
		return "logout_rejected"
	default:
		return "unknown"
	}
}

// Online reports whether the outcome leaves the client with network access.
func (o Outcome) Online() bool {
	return o == OutcomeAlreadyOnline || o == OutcomeAuthenticated
}

// Challenge is the decoded get_challenge answer.
type Challenge struct {
	Token    string `json:"challenge"`
	ClientIP string `json:"client_ip"`
	OnlineIP string `json:"online_ip"`
	Error    string `json:"error"`
	ErrorMsg string `json:"error_msg"`
	Res      string `json:"res"`
}

// ObservedIP is the client address as seen by the controller.
func (c Challenge) ObservedIP() string {
	if c.ClientIP != "" {
		return c.ClientIP
	}
	return c.OnlineIP
}

// PortalResult is the decoded srun_portal answer.
// Only AccessToken drives control flow; Fields carries everything else untouched.
type PortalResult struct {
	AccessToken string
	Fields      map[string]any
}

// UnmarshalJSON keeps the whole object in Fields and lifts access_token out of it.
func (r *PortalResult) UnmarshalJSON(b []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	r.Fields = fields
	r.AccessToken, _ = fields["access_token"].(string)
	return nil
}

// OK reports whether the controller granted access.
func (r PortalResult) OK() bool {
	return r.AccessToken != ""
}

// Str renders a field as text. Missing fields give "".
func (r PortalResult) Str(key string) string {
	switch v := r.Fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Message picks the most descriptive human-readable field the controller sent.
func (r PortalResult) Message() string {
	for _, key := range []string{"suc_msg", "error_msg", "ploy_msg", "error"} {
		if s := r.Str(key); s != "" {
			return s
		}
	}
	return ""
}

// Result is the outcome of a Login or Logout call.
type Result struct {
	Action   Action
	Outcome  Outcome
	Attempts int
	// IP is the address that was authenticated, after detection.
	IP       string
	Response PortalResult
}
