package mpegts

import (
	"fmt"

	"github.com/zsiec/satscan/internal/wire"
)

// SI descriptor tags (EN 300 468).
const (
	descNetworkName           = 0x40
	descSatelliteDelivery     = 0x43
	descCableDelivery         = 0x44
	descService               = 0x48
	descTerrestrialDelivery   = 0x5A
	descLogicalChannelNumbers = 0x83
)

// parseSDTSection adds the services of one SDT section to t.
//
//	[8-9]  original_network_id
//	[10]   reserved
//	[11..] service loop up to the CRC
func parseSDTSection(h sectionHeader, data []byte, t *SDTTable) error {
	if h.end < 11 {
		return fmt.Errorf("mpegts: SDT section too short")
	}
	t.TransportStreamID = h.extension
	t.OriginalNetworkID = wire.Uint16(data, 8)

	offset := 11
	for offset+5 <= h.end {
		svc := &Service{
			ID:               wire.Uint16(data, offset),
			Schedule:         data[offset+2]&0x02 != 0,
			PresentFollowing: data[offset+2]&0x01 != 0,
			RunningStatus:    RunningStatus(data[offset+3] >> 5),
			Scrambled:        data[offset+3]&0x10 != 0,
		}
		loopLength := int(data[offset+3]&0x0F)<<8 | int(data[offset+4])
		if offset+5+loopLength > h.end {
			return fmt.Errorf("mpegts: SDT descriptor loop %d overruns section", loopLength)
		}
		for _, d := range parseDescriptors(data[offset+5 : offset+5+loopLength]) {
			if d.Tag == descService {
				parseServiceDescriptor(d.Data, svc)
			}
		}
		t.Services[svc.ID] = svc
		offset += 5 + loopLength
	}
	return nil
}

func parseServiceDescriptor(b []byte, svc *Service) {
	if len(b) < 2 {
		return
	}
	svc.Type = b[0]
	providerLen := int(b[1])
	if 2+providerLen >= len(b) {
		return
	}
	svc.Provider = decodeText(b[2 : 2+providerLen])
	rest := b[2+providerLen:]
	nameLen := int(rest[0])
	if 1+nameLen > len(rest) {
		return
	}
	svc.Name = decodeText(rest[1 : 1+nameLen])
}

// parseNITSection adds the network name and transport streams of one NIT
// section to t.
//
//	[8-9]  reserved(4) + network_descriptors_length(12)
//	[...]  network descriptors
//	[..+2] reserved(4) + transport_stream_loop_length(12)
//	[...]  transport stream loop up to the CRC
func parseNITSection(h sectionHeader, data []byte, t *NITTable) error {
	if h.end < 10 {
		return fmt.Errorf("mpegts: NIT section too short")
	}
	t.NetworkID = h.extension

	netLen := int(data[8]&0x0F)<<8 | int(data[9])
	offset := 10
	if offset+netLen+2 > h.end {
		return fmt.Errorf("mpegts: NIT network descriptors %d overrun section", netLen)
	}
	for _, d := range parseDescriptors(data[offset : offset+netLen]) {
		if d.Tag == descNetworkName {
			t.NetworkName = decodeText(d.Data)
		}
	}
	offset += netLen

	loopLen := int(data[offset]&0x0F)<<8 | int(data[offset+1])
	offset += 2
	end := offset + loopLen
	if end > h.end {
		return fmt.Errorf("mpegts: NIT transport loop %d overruns section", loopLen)
	}

	for offset+6 <= end {
		ts := &TransportStream{
			ID:                wire.Uint16(data, offset),
			OriginalNetworkID: wire.Uint16(data, offset+2),
		}
		descLen := int(data[offset+4]&0x0F)<<8 | int(data[offset+5])
		if offset+6+descLen > end {
			return fmt.Errorf("mpegts: NIT transport descriptors %d overrun loop", descLen)
		}
		for _, d := range parseDescriptors(data[offset+6 : offset+6+descLen]) {
			switch d.Tag {
			case descSatelliteDelivery:
				ts.Delivery = parseSatelliteDelivery(d.Data)
			case descCableDelivery:
				ts.Delivery = parseCableDelivery(d.Data)
			case descTerrestrialDelivery:
				ts.Delivery = parseTerrestrialDelivery(d.Data)
			case descLogicalChannelNumbers:
				parseLCN(d.Data, ts)
			}
		}
		t.Transports[ts.ID] = ts
		offset += 6 + descLen
	}
	return nil
}

var (
	satPolarizations = [4]string{"h", "v", "l", "r"}
	satRollOffs      = [4]string{"0.35", "0.25", "0.20", ""}
	satModulations   = [4]string{"auto", "qpsk", "8psk", "16qam"}
	cableModulations = [6]string{"", "16qam", "32qam", "64qam", "128qam", "256qam"}
	terrModulations  = [4]string{"qpsk", "16qam", "64qam", ""}
	terrBandwidths   = [4]uint8{8, 7, 6, 5}
	terrCodeRates    = [8]string{"1/2", "2/3", "3/4", "5/6", "7/8", "", "", ""}
)

func innerFEC(v uint32) string {
	switch v {
	case 1:
		return "1/2"
	case 2:
		return "2/3"
	case 3:
		return "3/4"
	case 4:
		return "5/6"
	case 5:
		return "7/8"
	case 6:
		return "8/9"
	case 7:
		return "3/5"
	case 8:
		return "4/5"
	case 9:
		return "9/10"
	case 15:
		return "none"
	default:
		return ""
	}
}

// parseSatelliteDelivery decodes descriptor 0x43. Frequency is 8 BCD
// digits in 10 kHz, symbol rate 7 BCD digits in 100 symbols/s.
func parseSatelliteDelivery(b []byte) *Delivery {
	if len(b) < 11 {
		return nil
	}
	r := wire.NewBitReader(b)
	freq := wire.BCD(r.ReadUint32(32), 8)
	orbital := wire.BCD(r.ReadUint32(16), 4)
	east := r.ReadBit()
	pol := r.ReadUint32(2)
	rollOff := r.ReadUint32(2)
	s2 := r.ReadBit()
	mod := r.ReadUint32(2)
	sr := wire.BCD(r.ReadUint32(28), 7)
	fec := r.ReadUint32(4)

	dir := "W"
	if east {
		dir = "E"
	}
	d := &Delivery{
		Kind:            DeliverySatellite,
		FrequencyKHz:    freq * 10,
		SymbolRateKSym:  sr / 10,
		Polarization:    satPolarizations[pol],
		OrbitalPosition: fmt.Sprintf("%d.%d%s", orbital/10, orbital%10, dir),
		Modulation:      satModulations[mod],
		FEC:             innerFEC(fec),
		S2:              s2,
	}
	if s2 {
		d.RollOff = satRollOffs[rollOff]
	}
	return d
}

// parseCableDelivery decodes descriptor 0x44. Frequency is 8 BCD digits
// in 100 Hz.
func parseCableDelivery(b []byte) *Delivery {
	if len(b) < 11 {
		return nil
	}
	r := wire.NewBitReader(b)
	freq := wire.BCD(r.ReadUint32(32), 8)
	r.Skip(12)
	r.Skip(4) // FEC_outer
	mod := r.ReadUint32(8)
	sr := wire.BCD(r.ReadUint32(28), 7)
	fec := r.ReadUint32(4)

	d := &Delivery{
		Kind:           DeliveryCable,
		FrequencyKHz:   freq / 10,
		SymbolRateKSym: sr / 10,
		FEC:            innerFEC(fec),
	}
	if int(mod) < len(cableModulations) {
		d.Modulation = cableModulations[mod]
	}
	return d
}

// parseTerrestrialDelivery decodes descriptor 0x5A. The centre frequency
// is a plain binary count of 10 Hz.
func parseTerrestrialDelivery(b []byte) *Delivery {
	if len(b) < 11 {
		return nil
	}
	r := wire.NewBitReader(b)
	freq := r.ReadUint32(32)
	bw := r.ReadUint32(3)
	r.Skip(5)
	constellation := r.ReadUint32(2)
	r.Skip(3) // hierarchy_information
	codeRate := r.ReadUint32(3)

	d := &Delivery{
		Kind:         DeliveryTerrestrial,
		FrequencyKHz: freq / 100,
		Modulation:   terrModulations[constellation],
		FEC:          terrCodeRates[codeRate],
	}
	if bw < uint32(len(terrBandwidths)) {
		d.BandwidthMHz = terrBandwidths[bw]
	}
	return d
}

// parseLCN decodes the EICTA logical channel descriptor 0x83: 4-byte
// entries of service_id(16) visible(1) reserved(5) lcn(10).
func parseLCN(b []byte, ts *TransportStream) {
	for len(b) >= 4 {
		if ts.LCN == nil {
			ts.LCN = make(map[uint16]uint16)
		}
		ts.LCN[wire.Uint16(b, 0)] = wire.Uint16(b, 2) & 0x03FF
		b = b[4:]
	}
}
