package reconcile

import "strings"

// Kind classifies a provider status into the transitions the order model
// understands.
type Kind int

const (
	// KindUnknown covers any status string outside the documented set. It
	// never mutates the order; the acknowledgement simply echoes it.
	KindUnknown Kind = iota
	KindSuccessful
	KindExpired
	KindCancelled
	KindFailed
)

// Status is a provider status tagged with its classification. Raw preserves
// the exact string for comparison with the notification body and for the
// acknowledgement echo.
type Status struct {
	Kind Kind
	Raw  string
}

// ParseStatus classifies a raw provider status string. Matching is exact:
// the provider's contract is uppercase literals and anything else is
// unknown.
func ParseStatus(raw string) Status {
	switch raw {
	case "SUCCESSFUL":
		return Status{Kind: KindSuccessful, Raw: raw}
	case "EXPIRED":
		return Status{Kind: KindExpired, Raw: raw}
	case "CANCELLED":
		return Status{Kind: KindCancelled, Raw: raw}
	case "FAILED":
		return Status{Kind: KindFailed, Raw: raw}
	default:
		return Status{Kind: KindUnknown, Raw: raw}
	}
}

// Terminal reports whether the status ends the payment attempt, successfully
// or not.
func (s Status) Terminal() bool {
	return s.Kind != KindUnknown
}

func (s Status) String() string {
	return s.Raw
}

// label returns a bounded metric label for the status.
func (s Status) label() string {
	if s.Kind == KindUnknown {
		return "unknown"
	}
	return strings.ToLower(s.Raw)
}
