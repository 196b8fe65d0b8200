package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// Instrument identifies a tradable asset: either an equity ticker (AAPL) or
// an OCC option symbol (AAPL240315C00172500). Option symbols carry their
// decomposed fields after parsing.
type Instrument struct {
	Symbol string

	// Option fields; zero-valued for equities.
	Underlying string
	Expiration time.Time
	Strike     Money
	OptType    OptionType
}

func (i Instrument) IsOption() bool { return i.Underlying != "" }

// Equity builds an equity instrument from a plain ticker.
func Equity(symbol string) Instrument {
	return Instrument{Symbol: strings.ToUpper(symbol)}
}

// ParseInstrument accepts either a plain ticker or an OCC symbol. An OCC
// symbol is root (1-6 chars) + YYMMDD + C|P + strike×1000 zero-padded to 8.
func ParseInstrument(symbol string) (Instrument, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Instrument{}, fmt.Errorf("empty symbol")
	}
	if len(symbol) >= 16 {
		if inst, err := parseOCC(symbol); err == nil {
			return inst, nil
		}
	}
	for _, r := range symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '.' && r != '-' {
			return Instrument{}, fmt.Errorf("invalid symbol %q", symbol)
		}
	}
	return Instrument{Symbol: symbol}, nil
}

func parseOCC(symbol string) (Instrument, error) {
	// The last 15 characters are fixed-width: YYMMDD + C|P + 8-digit strike.
	tail := symbol[len(symbol)-15:]
	root := symbol[:len(symbol)-15]
	if root == "" || len(root) > 6 {
		return Instrument{}, fmt.Errorf("occ root length %d out of range", len(root))
	}

	exp, err := time.Parse("060102", tail[:6])
	if err != nil {
		return Instrument{}, fmt.Errorf("occ expiration %q: %w", tail[:6], err)
	}

	var typ OptionType
	switch tail[6] {
	case 'C':
		typ = Call
	case 'P':
		typ = Put
	default:
		return Instrument{}, fmt.Errorf("occ type byte %q", tail[6])
	}

	strikeRaw := tail[7:]
	for _, r := range strikeRaw {
		if r < '0' || r > '9' {
			return Instrument{}, fmt.Errorf("occ strike %q not numeric", strikeRaw)
		}
	}
	milli, err := decimal.NewFromString(strikeRaw)
	if err != nil {
		return Instrument{}, err
	}

	return Instrument{
		Symbol:     symbol,
		Underlying: root,
		Expiration: exp.UTC(),
		Strike:     Money{d: milli.Div(decimal.NewFromInt(1000))},
		OptType:    typ,
	}, nil
}

// ContractMultiplier is 100 for options, 1 for equities.
func (i Instrument) ContractMultiplier() int64 {
	if i.IsOption() {
		return 100
	}
	return 1
}
