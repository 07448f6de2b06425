package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a user has no conversation state yet.
var ErrNotFound = errors.New("conversation state not found")

// Awaiting tags what free-text input means next.
const (
	AwaitingNone               = ""
	AwaitingPIN                = "PIN"
	AwaitingOTP                = "OTP"
	AwaitingAmount             = "AMOUNT"
	AwaitingPhone              = "PHONE"
	AwaitingAccount            = "ACCOUNT"
	AwaitingText               = "TEXT"
	AwaitingConfirmation       = "CONFIRMATION"
	AwaitingRegistrationChoice = "REGISTRATION_CHOICE"
)

// FlowData is flow-scoped scratch storage. Values are kept as JSON so that
// memory and Postgres backends round-trip identically.
type FlowData map[string]json.RawMessage

// Put stores v under key.
func (d FlowData) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("flow data %s: %w", key, err)
	}
	d[key] = raw
	return nil
}

// Get decodes key into dst and reports whether it was present.
func (d FlowData) Get(key string, dst any) (bool, error) {
	raw, ok := d[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("flow data %s: %w", key, err)
	}
	return true, nil
}

// String returns a string value or "" when absent or not a string.
func (d FlowData) String(key string) string {
	var s string
	if ok, err := d.Get(key, &s); !ok || err != nil {
		return ""
	}
	return s
}

// Int64 returns an integer value or 0 when absent.
func (d FlowData) Int64(key string) int64 {
	var n int64
	if ok, err := d.Get(key, &n); !ok || err != nil {
		return 0
	}
	return n
}

func (d FlowData) clone() FlowData {
	if d == nil {
		return FlowData{}
	}
	out := make(FlowData, len(d))
	for k, v := range d {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// State is the per-user working memory of the engine. A step is only
// meaningful inside a flow and Data is empty whenever Flow is empty.
type State struct {
	ID               string
	UserID           string
	Flow             string
	Step             string
	Data             FlowData
	PendingAction    string
	AwaitingInput    string
	ErrorCount       int
	LastMessageID    string
	RecentMessageIDs []string
	UpdatedAt        time.Time
}

// recentMessageWindow bounds RecentMessageIDs, kept oldest first.
const recentMessageWindow = 16

// Seen reports whether the message id was already processed.
func (s *State) Seen(id string) bool {
	if id == "" {
		return false
	}
	if id == s.LastMessageID {
		return true
	}
	for _, r := range s.RecentMessageIDs {
		if r == id {
			return true
		}
	}
	return false
}

// Remember records id as processed, evicting the oldest beyond the window.
func (s *State) Remember(id string) {
	s.LastMessageID = id
	if id == "" {
		return
	}
	for _, r := range s.RecentMessageIDs {
		if r == id {
			return
		}
	}
	s.RecentMessageIDs = append(s.RecentMessageIDs, id)
	if n := len(s.RecentMessageIDs); n > recentMessageWindow {
		s.RecentMessageIDs = append([]string(nil), s.RecentMessageIDs[n-recentMessageWindow:]...)
	}
}

// Active reports whether a flow is in progress.
func (s *State) Active() bool {
	return s.Flow != ""
}

// Begin enters flow with empty scratch data and no step.
func (s *State) Begin(flow string) {
	s.Flow = flow
	s.Step = ""
	s.Data = FlowData{}
	s.AwaitingInput = AwaitingNone
	s.ErrorCount = 0
}

// Reset returns to the idle state.
func (s *State) Reset() {
	s.Flow = ""
	s.Step = ""
	s.Data = FlowData{}
	s.PendingAction = ""
	s.AwaitingInput = AwaitingNone
	s.ErrorCount = 0
}

// Check returns an error when the flow/step/data invariant is broken.
func (s *State) Check() error {
	if s.Flow == "" && s.Step != "" {
		return fmt.Errorf("step %q set without a flow", s.Step)
	}
	if s.Flow == "" && len(s.Data) > 0 {
		return fmt.Errorf("flow data present without a flow")
	}
	return nil
}

// Clone returns a deep copy.
func (s State) Clone() State {
	s.Data = s.Data.clone()
	s.RecentMessageIDs = append([]string(nil), s.RecentMessageIDs...)
	return s
}
