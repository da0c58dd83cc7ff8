package claim

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Role identifies who spoke a transcript line
type Role string

const (
	RoleAgent       Role = "agent"
	RoleCounterpart Role = "counterpart"
	RoleSystem      Role = "system"
)

// ParseRole converts a stored role name. The call source writes "rep" for the insurer side.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agent":
		return RoleAgent, nil
	case "counterpart", "rep":
		return RoleCounterpart, nil
	case "system":
		return RoleSystem, nil
	default:
		return "", fmt.Errorf("unknown transcript role: %q", s)
	}
}

// TranscriptEntry is one line of a call transcript. Entries are append-only.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	ClaimID   *string   `json:"claim_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ClaimKey returns the claim the entry belongs to, or "" when unattached
func (e TranscriptEntry) ClaimKey() string {
	if e.ClaimID == nil {
		return ""
	}
	return *e.ClaimID
}

// SortTranscript orders entries by CreatedAt, then ID
func SortTranscript(entries []TranscriptEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
