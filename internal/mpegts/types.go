// Package mpegts assembles the broadcast metadata tables a channel scan
// needs (PAT, PMT, SDT and NIT) from transport stream packets delivered
// in RTP datagrams. Each assembler owns one PID, reassembles sections
// across packets, verifies their CRC and reports readiness once every
// section of the current table version has been seen.
package mpegts

// Well-known PIDs.
const (
	PIDPAT uint16 = 0x0000
	PIDNIT uint16 = 0x0010
	PIDSDT uint16 = 0x0011
)

// Packet is a parsed 188-byte MPEG-TS transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
}

// Descriptor is a raw tag/length/value descriptor.
type Descriptor struct {
	Tag  uint8
	Data []byte
}

// PATTable is the Program Association Table.
type PATTable struct {
	TransportStreamID uint16
	// NetworkPID is the PID announced by program 0, or zero if absent.
	NetworkPID uint16
	// Programs maps program number to PMT PID. Program 0 is never present.
	Programs map[uint16]uint16
}

// ElementaryStream is one entry of a PMT stream loop.
type ElementaryStream struct {
	Type        uint8
	PID         uint16
	Descriptors []Descriptor
}

// PMTTable is the Program Map Table of a single program, with the
// component PIDs a receiver needs already classified.
type PMTTable struct {
	ProgramNumber uint16
	PCRPID        uint16
	Video         uint16
	Audio         []uint16
	Teletext      uint16
	Subtitle      uint16
	Streams       []ElementaryStream
}

// RunningStatus is the SDT running_status field.
type RunningStatus uint8

const (
	RunningUndefined RunningStatus = iota
	RunningNotRunning
	RunningStartsSoon
	RunningPausing
	RunningRunning
	RunningOffAir
)

func (s RunningStatus) String() string {
	switch s {
	case RunningNotRunning:
		return "not running"
	case RunningStartsSoon:
		return "starts in a few seconds"
	case RunningPausing:
		return "pausing"
	case RunningRunning:
		return "running"
	case RunningOffAir:
		return "service off-air"
	default:
		return "undefined"
	}
}

// Service is one SDT entry.
type Service struct {
	ID               uint16
	Type             uint8
	Name             string
	Provider         string
	RunningStatus    RunningStatus
	Scrambled        bool
	Schedule         bool
	PresentFollowing bool
}

// SDTTable is the Service Description Table of the actual transport stream.
type SDTTable struct {
	TransportStreamID uint16
	OriginalNetworkID uint16
	Services          map[uint16]*Service
}

// DeliveryKind identifies which delivery system descriptor was found.
type DeliveryKind string

const (
	DeliverySatellite   DeliveryKind = "satellite"
	DeliveryCable       DeliveryKind = "cable"
	DeliveryTerrestrial DeliveryKind = "terrestrial"
)

// Delivery holds the tuning data of a transport stream as announced in the
// NIT. Fields that do not apply to Kind are zero.
type Delivery struct {
	Kind            DeliveryKind
	FrequencyKHz    uint32
	SymbolRateKSym  uint32
	BandwidthMHz    uint8
	Polarization    string
	OrbitalPosition string
	Modulation      string
	FEC             string
	RollOff         string
	S2              bool
}

// TransportStream is one entry of the NIT transport stream loop.
type TransportStream struct {
	ID                uint16
	OriginalNetworkID uint16
	Delivery          *Delivery
	// LCN maps service id to logical channel number.
	LCN map[uint16]uint16
}

// NITTable is the Network Information Table of the actual network.
type NITTable struct {
	NetworkID   uint16
	NetworkName string
	Transports  map[uint16]*TransportStream
}

// Transport returns the entry for tsid, or nil.
func (t *NITTable) Transport(tsid uint16) *TransportStream {
	if t == nil {
		return nil
	}
	return t.Transports[tsid]
}
