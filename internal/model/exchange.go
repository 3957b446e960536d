package model

import (
	"fmt"
	"strings"
)

// ExchangeID identifies one of the supported venues.
type ExchangeID int

const (
	Aster ExchangeID = iota + 1
	EdgeX
	Lighter
	Hyperliquid
	Binance
	Backpack
)

// AllExchanges lists every venue in display order.
var AllExchanges = []ExchangeID{Aster, EdgeX, Lighter, Hyperliquid, Binance, Backpack}

var exchangeNames = map[ExchangeID]string{
	Aster:       "Aster",
	EdgeX:       "EdgeX",
	Lighter:     "Lighter",
	Hyperliquid: "HL",
	Binance:     "Binance",
	Backpack:    "BP",
}

var exchangeAliases = map[string]ExchangeID{
	"aster":       Aster,
	"edgex":       EdgeX,
	"lighter":     Lighter,
	"hl":          Hyperliquid,
	"hyperliquid": Hyperliquid,
	"binance":     Binance,
	"bp":          Backpack,
	"backpack":    Backpack,
}

// String returns the short display name ("HL", "BP", ...).
func (e ExchangeID) String() string {
	if name, ok := exchangeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ExchangeID(%d)", int(e))
}

// Valid reports whether e is one of the known venues.
func (e ExchangeID) Valid() bool {
	_, ok := exchangeNames[e]
	return ok
}

// MarshalText renders the display name so maps keyed by ExchangeID encode
// as {"Aster": ...} in JSON. The zero value, an unset venue, encodes as "".
func (e ExchangeID) MarshalText() ([]byte, error) {
	if e == 0 {
		return []byte{}, nil
	}
	if !e.Valid() {
		return nil, fmt.Errorf("unknown exchange id %d", int(e))
	}
	return []byte(e.String()), nil
}

func (e *ExchangeID) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*e = 0
		return nil
	}
	id, err := ParseExchange(string(text))
	if err != nil {
		return err
	}
	*e = id
	return nil
}

// ParseExchange accepts display names and full venue names, case-insensitively.
func ParseExchange(name string) (ExchangeID, error) {
	if id, ok := exchangeAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("unknown exchange %q", name)
}

// ParseExchanges parses a list of names, rejecting unknown entries.
func ParseExchanges(names []string) ([]ExchangeID, error) {
	out := make([]ExchangeID, 0, len(names))
	for _, n := range names {
		id, err := ParseExchange(n)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
