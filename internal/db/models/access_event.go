// Package models contains the persistence structs for the event store:
// normalized access events and the durable ingestion cursor.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Flag values attached to an event at parse time.
const (
	FlagUpstreamError  = "upstream_error"
	FlagClientError    = "client_error"
	FlagNoAPIKey       = "no_api_key"
	FlagSuspiciousPath = "suspicious_path"
	FlagVerySlow       = "very_slow"
)

// Network scope labels. Classification checks them in this order and the
// first match wins, so the overlay VPN range is never reported as public.
const (
	ScopeLoopback = "loopback"
	ScopePrivate  = "private"
	ScopeVPN      = "vpn"
	ScopePublic   = "public"
)

// APIKeyNone is the sentinel stored when a request carried no api key.
const APIKeyNone = "(none)"

// AccessEvent is one normalized access-log record as held in the store and
// returned by the dashboard API.
type AccessEvent struct {
	Sequence      int64     `json:"sequence"`
	LineRef       string    `json:"-"` // idempotence key, never exposed
	Timestamp     time.Time `json:"timestamp"`
	ClientIP      string    `json:"client_ip"`
	NetworkScope  string    `json:"network_scope"`
	APIKey        string    `json:"api_key"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Status        int       `json:"status"`
	StatusFamily  string    `json:"status_family"`
	RequestTimeMs *int64    `json:"request_time_ms,omitempty"` // Nullable: legacy lines carry no timing
	UserAgent     *string   `json:"user_agent,omitempty"`      // Nullable: "-" in the log
	Flags         []string  `json:"flags"`
	IsFlagged     bool      `json:"is_flagged"`
}

// HasFlag reports whether the event carries the given flag.
func (e *AccessEvent) HasFlag(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// StatusFamily folds an HTTP status code into its "Nxx" bucket.
func StatusFamily(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}

// JoinFlags serializes a flag set for storage. Order is preserved.
func JoinFlags(flags []string) string {
	return strings.Join(flags, ",")
}

// SplitFlags parses the stored representation back into a flag set. An empty
// column yields nil, not a single empty flag.
func SplitFlags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// IngestCursor records how far ingestion has durably progressed through the
// access log. It is committed in the same transaction as the events it
// covers, so a crash can only replay work, never skip it. LastSequence is
// global and survives rotation; sequences stay unique for the life of the
// store.
type IngestCursor struct {
	FileIdentity string    `json:"file_identity"`
	ByteOffset   int64     `json:"byte_offset"`
	LastSequence int64     `json:"last_sequence"`
	UpdatedAt    time.Time `json:"updated_at"`
}
