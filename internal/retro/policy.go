package retro

import (
	"fmt"
	"strings"
	"time"
)

type Policy struct {
	// AllowDiscussionEdits lets authors edit, move and delete their cards
	// during discussion in addition to creation.
	AllowDiscussionEdits bool
	// RemoveOnDisconnect drops a member from the room when its connection
	// goes away. When false the member stays and can be restored later.
	RemoveOnDisconnect bool
	Retention          Retention
}

// Retention decides what happens to a room once its last member is gone.
type Retention struct {
	DeleteEmpty bool
	After       time.Duration
}

func (r Retention) String() string {
	if !r.DeleteEmpty {
		return "retain"
	}
	return fmt.Sprintf("delete-after(%s)", r.After)
}

func DefaultPolicy() Policy {
	return Policy{RemoveOnDisconnect: true}
}

// ParseRetention accepts "retain" or "delete-after(<duration>)".
func ParseRetention(s string) (Retention, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "retain" {
		return Retention{}, nil
	}

	inner, ok := strings.CutPrefix(s, "delete-after(")
	if !ok || !strings.HasSuffix(inner, ")") {
		return Retention{}, fmt.Errorf("invalid retention policy %q", s)
	}
	d, err := time.ParseDuration(strings.TrimSuffix(inner, ")"))
	if err != nil {
		return Retention{}, fmt.Errorf("invalid retention duration in %q: %w", s, err)
	}
	if d < 0 {
		return Retention{}, fmt.Errorf("negative retention duration in %q", s)
	}
	return Retention{DeleteEmpty: true, After: d}, nil
}

// ParseCardEditPolicy accepts "creation-only" or "creation-and-discussion"
// and reports whether discussion-phase edits are allowed.
func ParseCardEditPolicy(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "", "creation-only":
		return false, nil
	case "creation-and-discussion":
		return true, nil
	}
	return false, fmt.Errorf("invalid card edit policy %q", s)
}

// ParseDisconnectPolicy accepts "remove" or "retain" and reports whether
// members are removed on disconnect.
func ParseDisconnectPolicy(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "", "remove":
		return true, nil
	case "retain":
		return false, nil
	}
	return false, fmt.Errorf("invalid disconnect policy %q", s)
}
