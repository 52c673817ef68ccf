package pager

import (
	"fmt"
	"strings"
)

// Policy selects the eviction victim among unpinned frames.
type Policy int

const (
	// LRU evicts the least recently fetched unpinned frame.
	LRU Policy = iota
	// MRU evicts the most recently fetched unpinned frame.
	MRU
)

func (p Policy) String() string {
	switch p {
	case LRU:
		return "LRU"
	case MRU:
		return "MRU"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "LRU" or "MRU", ignoring case.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LRU":
		return LRU, nil
	case "MRU":
		return MRU, nil
	}
	return LRU, fmt.Errorf("unknown replacement policy %q", s)
}

func (p Policy) MarshalText() ([]byte, error) {
	if p != LRU && p != MRU {
		return nil, fmt.Errorf("unknown replacement policy %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
