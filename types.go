package mux

import "strconv"

// Wire type codes. T-messages are positive, their R replies the negation.
const (
	TypeTreq int8 = 1
	TypeRreq int8 = -1

	TypeTdispatch int8 = 2
	TypeRdispatch int8 = -2

	TypeTdrain     int8 = 64
	TypeRdrain     int8 = -64
	TypeTping      int8 = 65
	TypeRping      int8 = -65
	TypeTdiscarded int8 = 66
	TypeRdiscarded int8 = -66
	TypeTlease     int8 = 67
	TypeTinit      int8 = 68
	TypeRinit      int8 = -68

	TypeRerr int8 = -128

	// Codes emitted by older peers. Encoding uses them so those peers keep
	// understanding us; decoding accepts both spellings.
	TypeBadTdiscarded int8 = -62
	TypeBadRerr       int8 = 127
)

// Status bytes leading Rreq and Rdispatch bodies.
const (
	statusOk    byte = 0
	statusError byte = 1
	statusNack  byte = 2
)

// LatestVersion is the protocol version advertised in Tinit/Rinit.
const LatestVersion uint16 = 1

// LeaseMillisecond is the only Tlease unit defined by the protocol.
const LeaseMillisecond byte = 0

var typeNames = map[int8]string{
	TypeTreq:          "Treq",
	TypeRreq:          "Rreq",
	TypeTdispatch:     "Tdispatch",
	TypeRdispatch:     "Rdispatch",
	TypeTdrain:        "Tdrain",
	TypeRdrain:        "Rdrain",
	TypeTping:         "Tping",
	TypeRping:         "Rping",
	TypeTdiscarded:    "Tdiscarded",
	TypeRdiscarded:    "Rdiscarded",
	TypeTlease:        "Tlease",
	TypeTinit:         "Tinit",
	TypeRinit:         "Rinit",
	TypeRerr:          "Rerr",
	TypeBadTdiscarded: "Tdiscarded",
	TypeBadRerr:       "Rerr",
}

// TypeName returns a readable name for a wire type code.
func TypeName(typ int8) string {
	if name, ok := typeNames[typ]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(typ)) + ")"
}

func knownType(typ int8) bool {
	_, ok := typeNames[typ]
	return ok
}
