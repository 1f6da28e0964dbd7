package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStyle is returned for a style name that is neither European nor Asian.
var ErrUnknownStyle = errors.New("unknown option style")

// OptionType is the call/put flavour of an option.
type OptionType int

const (
	Call OptionType = iota + 1
	Put
)

// Sign returns the payoff sign: +1 for calls, -1 for puts, 0 otherwise.
func (o OptionType) Sign() float64 {
	switch o {
	case Call:
		return 1
	case Put:
		return -1
	default:
		return 0
	}
}

// Valid reports whether o is a call or a put.
func (o OptionType) Valid() bool {
	return o == Call || o == Put
}

func (o OptionType) String() string {
	switch o {
	case Call:
		return "CALL"
	case Put:
		return "PUT"
	default:
		return fmt.Sprintf("OptionType(%d)", int(o))
	}
}

// ParseOptionType accepts "call"/"put" and their one-letter forms, any case.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "C":
		return Call, nil
	case "PUT", "P":
		return Put, nil
	default:
		return 0, fmt.Errorf("unknown option type %q", s)
	}
}

// UnmarshalYAML lets book files spell option types as plain strings.
func (o *OptionType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseOptionType(s)
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Style distinguishes plain European options from average-price options.
type Style string

const (
	StyleEuropean Style = "EUROPEAN"
	StyleAsian    Style = "ASIAN"
)

// ParseStyle normalises a style name; empty means European.
func ParseStyle(s string) (Style, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "EUROPEAN", "VANILLA":
		return StyleEuropean, nil
	case "ASIAN", "APO", "AVERAGE":
		return StyleAsian, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownStyle, s)
	}
}
