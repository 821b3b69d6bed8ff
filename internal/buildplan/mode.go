package buildplan

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMode indicates the environment value is neither PRODUCTION nor DEVELOPMENT
	ErrUnknownMode = errors.New("unknown build mode")
	// ErrUnknownVariant indicates the variant name does not match a known output variant
	ErrUnknownVariant = errors.New("unknown build variant")
)

// Mode selects between the development and production rule and plugin sets.
// The zero value is Production, which is also what an unset environment means.
type Mode int

const (
	Production Mode = iota
	Development
)

const (
	productionValue  = "PRODUCTION"
	developmentValue = "DEVELOPMENT"
)

func (m Mode) String() string {
	switch m {
	case Development:
		return "development"
	default:
		return "production"
	}
}

// MarshalText renders the mode in lower case for JSON and YAML output.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode maps an environment value to a Mode. Empty and "PRODUCTION" give
// Production, "DEVELOPMENT" gives Development. Matching is case sensitive and
// anything else is rejected with ErrUnknownMode.
func ParseMode(value string) (Mode, error) {
	switch value {
	case "", productionValue:
		return Production, nil
	case developmentValue:
		return Development, nil
	default:
		return Production, fmt.Errorf("%w: %q (expected %s or %s)", ErrUnknownMode, value, productionValue, developmentValue)
	}
}

// ParseModeLenient treats every value other than "" and "PRODUCTION" as Development.
func ParseModeLenient(value string) Mode {
	if value == "" || value == productionValue {
		return Production
	}
	return Development
}

// Variant names one of the output layouts the project ships.
type Variant string

const (
	// VariantDefault writes dist/bundle.js with a relative public path.
	VariantDefault Variant = "default"
	// VariantMinified writes dist/bundle.min.js served from the site root.
	VariantMinified Variant = "minified"
	// VariantStylesheets writes build/bundle.js under /assets/ and compiles Stylesheets.elm with elm-css.
	VariantStylesheets Variant = "stylesheets"
)

// Variants lists every known variant in a stable order.
func Variants() []Variant {
	return []Variant{VariantDefault, VariantMinified, VariantStylesheets}
}

func ParseVariant(value string) (Variant, error) {
	for _, v := range Variants() {
		if string(v) == value {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, value)
}
