package scan

import (
	"fmt"
	"strconv"
	"strings"
)

// System is the satellite delivery system generation of a tuning entry.
type System int

const (
	DVBS System = iota
	DVBS2
)

func (s System) String() string {
	if s == DVBS2 {
		return "dvbs2"
	}
	return "dvbs"
}

// MarshalText lets System appear as "dvbs"/"dvbs2" in JSON output.
func (s System) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSystem accepts "dvbs"/"s"/"s1" and "dvbs2"/"s2" in any case.
func ParseSystem(v string) (System, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "dvbs", "dvb-s", "s", "s1":
		return DVBS, nil
	case "dvbs2", "dvb-s2", "s2":
		return DVBS2, nil
	}
	return DVBS, fmt.Errorf("scan: unknown delivery system %q", v)
}

// Defaults for the second generation query.
const (
	DefaultPilots  = "on"
	DefaultRollOff = "0.35"
	DefaultSource  = 1
)

// TuningParameters is one entry of the tuning list.
type TuningParameters struct {
	Source       int     `json:"source"`
	Frequency    float64 `json:"frequency"` // MHz
	Polarization string  `json:"polarization"`
	SymbolRate   int     `json:"symbolRate"` // kSym/s
	FEC          string  `json:"fec"`
	System       System  `json:"system"`
	Modulation   string  `json:"modulation"`
	Pilots       string  `json:"pilots,omitempty"`
	RollOff      string  `json:"rollOff,omitempty"`
}

// Query renders the tuning request understood by the server. Both shapes
// request PID 0 so the program table is streamed right away.
//
//	dvbs:  src=1&freq=11727&pol=h&sr=27500&fec=34&msys=dvbs&mtype=qpsk&pids=0
//	dvbs2: src=1&freq=11727&pol=h&sr=27500&fec=34&msys=dvbs2&mtype=8psk&plts=on&ro=0.35&pids=0
func (p TuningParameters) Query() string {
	src := p.Source
	if src <= 0 {
		src = DefaultSource
	}
	var b strings.Builder
	fmt.Fprintf(&b, "src=%d&freq=%s&pol=%s&sr=%d&fec=%s&msys=%s&mtype=%s",
		src,
		strconv.FormatFloat(p.Frequency, 'f', -1, 64),
		strings.ToLower(p.Polarization),
		p.SymbolRate,
		p.FEC,
		p.System,
		strings.ToLower(p.Modulation))
	if p.System == DVBS2 {
		pilots, rollOff := p.Pilots, p.RollOff
		if pilots == "" {
			pilots = DefaultPilots
		}
		if rollOff == "" {
			rollOff = DefaultRollOff
		}
		fmt.Fprintf(&b, "&plts=%s&ro=%s", strings.ToLower(pilots), rollOff)
	}
	b.WriteString("&pids=0")
	return b.String()
}

func (p TuningParameters) String() string {
	return fmt.Sprintf("%s %s %d %s", strconv.FormatFloat(p.Frequency, 'f', -1, 64),
		strings.ToUpper(p.Polarization), p.SymbolRate, p.System)
}
