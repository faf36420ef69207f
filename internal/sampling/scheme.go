package sampling

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedScheme is returned for sampling scheme identifiers that do not
// name a known strategy.
var ErrUnsupportedScheme = errors.New("unsupported sampling scheme")

// Kind is the selection strategy.
type Kind int

const (
	// BaldEasiness ranks examples by 1 - BALD, most certain first.
	BaldEasiness Kind = iota + 1
)

func (k Kind) String() string {
	switch k {
	case BaldEasiness:
		return "bald_easiness"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Scheme is a parsed sampling scheme identifier.
type Scheme struct {
	ID            string
	Kind          Kind
	ClassBalanced bool // equal per-class quotas
	Confidence    bool // confidence-derived sample weights
	Soft          bool // labels from the MC-dropout mean instead of a deterministic pass
}

func (s Scheme) String() string {
	return s.ID
}

// validID reports whether id only holds letters, digits, '_' and '-'. The
// identifier ends up in checkpoint file names.
func validID(id string) bool {
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// ParseScheme parses identifiers such as "easy_bald_class_conf". The
// identifier is matched by substring: "bald" together with "eas" selects BALD
// easiness; "clas", "conf" and "soft" toggle class balancing, confidence
// weighting and soft labels. Uniform sampling ("uni") is not supported.
func ParseScheme(id string) (Scheme, error) {
	if !validID(id) {
		return Scheme{}, fmt.Errorf("%w: %q: only letters, digits, '_' and '-' are allowed", ErrUnsupportedScheme, id)
	}
	s := Scheme{
		ID:            id,
		ClassBalanced: strings.Contains(id, "clas"),
		Confidence:    strings.Contains(id, "conf"),
		Soft:          strings.Contains(id, "soft"),
	}
	bald := strings.Contains(id, "bald")
	easy := strings.Contains(id, "eas")

	switch {
	case strings.Contains(id, "uni"):
		return Scheme{}, fmt.Errorf("%w: %q: uniform sampling is not available", ErrUnsupportedScheme, id)
	case bald && !easy:
		return Scheme{}, fmt.Errorf("%w: %q: bald requires eas", ErrUnsupportedScheme, id)
	case bald:
		s.Kind = BaldEasiness
	default:
		return Scheme{}, fmt.Errorf("%w: %q: bald must be specified", ErrUnsupportedScheme, id)
	}
	return s, nil
}
