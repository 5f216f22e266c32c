package model

import (
	"fmt"
	"strings"
)

// VenueProtocol is the closed set of crypto execution protocols.
type VenueProtocol string

const (
	VenueProtocolRFQ VenueProtocol = "RFQ"
	VenueProtocolDEX VenueProtocol = "DEX"
)

// CryptoVenue is the structured replacement for the legacy
// "RFQ:VENUE" / "DEX:VENUE" string convention. The string form is parsed
// only at the edge; engines dispatch on Protocol.
type CryptoVenue struct {
	Protocol VenueProtocol `json:"protocol"`
	Ref      string        `json:"ref"`
}

// ParseCryptoVenue converts a legacy prefixed venue string. An
// unrecognized prefix is a classification error, never a silent default.
func ParseCryptoVenue(raw string) (CryptoVenue, error) {
	prefix, ref, ok := strings.Cut(raw, ":")
	if !ok || ref == "" {
		return CryptoVenue{}, fmt.Errorf("crypto venue %q missing protocol prefix", raw)
	}
	switch VenueProtocol(strings.ToUpper(prefix)) {
	case VenueProtocolRFQ:
		return CryptoVenue{Protocol: VenueProtocolRFQ, Ref: ref}, nil
	case VenueProtocolDEX:
		return CryptoVenue{Protocol: VenueProtocolDEX, Ref: ref}, nil
	}
	return CryptoVenue{}, fmt.Errorf("unrecognized crypto venue protocol %q", prefix)
}

// String renders the legacy wire form.
func (v CryptoVenue) String() string {
	return string(v.Protocol) + ":" + v.Ref
}
