package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Selector defines the row population of an export. It is frozen into the
// job descriptor when the job is created.
type Selector struct {
	FormID  int64      `json:"form_id"`
	From    *time.Time `json:"from,omitempty"`
	To      *time.Time `json:"to,omitempty"`
	Status  string     `json:"status,omitempty"`
	Exclude []string   `json:"exclude_fields,omitempty"`
}

func (s Selector) Validate() error {
	if s.FormID <= 0 {
		return errors.New("form_id is required")
	}
	if s.From != nil && s.To != nil && s.From.After(*s.To) {
		return errors.New("from must not be after to")
	}
	return nil
}

// Normalize trims, dedupes and sorts the exclusion list.
func (s Selector) Normalize() Selector {
	seen := make(map[string]struct{}, len(s.Exclude))
	cleaned := make([]string, 0, len(s.Exclude))
	for _, field := range s.Exclude {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		cleaned = append(cleaned, field)
	}
	sort.Strings(cleaned)
	s.Exclude = cleaned
	s.Status = strings.TrimSpace(s.Status)
	return s
}

// Fingerprint identifies the logical export, used to guard concurrent initiation.
func (s Selector) Fingerprint() string {
	n := s.Normalize()
	var b strings.Builder
	fmt.Fprintf(&b, "form=%d", n.FormID)
	if n.From != nil {
		fmt.Fprintf(&b, ";from=%s", n.From.UTC().Format(time.RFC3339))
	}
	if n.To != nil {
		fmt.Fprintf(&b, ";to=%s", n.To.UTC().Format(time.RFC3339))
	}
	if n.Status != "" {
		fmt.Fprintf(&b, ";status=%s", n.Status)
	}
	if len(n.Exclude) > 0 {
		fmt.Fprintf(&b, ";exclude=%s", strings.Join(n.Exclude, ","))
	}
	return b.String()
}

func (s Selector) Excludes(column string) bool {
	for _, field := range s.Exclude {
		if field == column {
			return true
		}
	}
	return false
}
