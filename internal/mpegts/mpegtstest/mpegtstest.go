// Package mpegtstest builds PSI/SI sections and transport stream packets
// for tests of packages that consume internal/mpegts.
package mpegtstest

import (
	"encoding/binary"

	"github.com/zsiec/satscan/internal/mpegts"
)

const (
	PacketSize   = 188
	rtpHeaderLen = 12
)

// Section wraps body (everything after last_section_number) in a
// long-form section header and appends the CRC32.
func Section(tableID uint8, ext uint16, version, number, last uint8, body []byte) []byte {
	sectionLength := 5 + len(body) + 4
	data := make([]byte, 3+sectionLength)
	data[0] = tableID
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	binary.BigEndian.PutUint16(data[3:], ext)
	data[5] = 0xC1 | (version&0x1F)<<1
	data[6] = number
	data[7] = last
	copy(data[8:], body)
	end := 8 + len(body)
	binary.BigEndian.PutUint32(data[end:], mpegts.CRC32(data[:end]))
	return data
}

func Descriptor(tag uint8, data ...byte) []byte {
	return append([]byte{tag, byte(len(data))}, data...)
}

type Program struct {
	Number, PID uint16
}

func PAT(tsid uint16, programs ...Program) []byte {
	var body []byte
	for _, p := range programs {
		body = append(body, byte(p.Number>>8), byte(p.Number), 0xE0|byte(p.PID>>8)&0x1F, byte(p.PID))
	}
	return Section(0x00, tsid, 0, 0, 0, body)
}

type Stream struct {
	Type        uint8
	PID         uint16
	Descriptors []byte
}

func PMT(program, pcrPID uint16, streams ...Stream) []byte {
	body := []byte{0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID), 0xF0, 0x00}
	for _, s := range streams {
		n := len(s.Descriptors)
		body = append(body, s.Type, 0xE0|byte(s.PID>>8)&0x1F, byte(s.PID), 0xF0|byte(n>>8)&0x0F, byte(n))
		body = append(body, s.Descriptors...)
	}
	return Section(0x02, program, 0, 0, 0, body)
}

type Service struct {
	ID        uint16
	Type      uint8
	Name      string
	Provider  string
	Scrambled bool
}

// SDT builds a single-section SDT for the actual transport stream. Every
// service is running with both EIT flags set.
func SDT(tsid, onid uint16, services ...Service) []byte {
	body := []byte{byte(onid >> 8), byte(onid), 0xFF}
	for _, s := range services {
		d := []byte{s.Type, byte(len(s.Provider))}
		d = append(d, s.Provider...)
		d = append(d, byte(len(s.Name)))
		d = append(d, s.Name...)
		desc := Descriptor(0x48, d...)

		flags := byte(mpegts.RunningRunning) << 5
		if s.Scrambled {
			flags |= 0x10
		}
		n := len(desc)
		body = append(body, byte(s.ID>>8), byte(s.ID), 0xFF, flags|byte(n>>8)&0x0F, byte(n))
		body = append(body, desc...)
	}
	return Section(0x42, tsid, 0, 0, 0, body)
}

type Transport struct {
	TSID, ONID  uint16
	Descriptors []byte
}

func NIT(networkID uint16, name string, transports ...Transport) []byte {
	netDesc := Descriptor(0x40, []byte(name)...)
	body := []byte{0xF0 | byte(len(netDesc)>>8)&0x0F, byte(len(netDesc))}
	body = append(body, netDesc...)

	var loop []byte
	for _, ts := range transports {
		n := len(ts.Descriptors)
		loop = append(loop, byte(ts.TSID>>8), byte(ts.TSID), byte(ts.ONID>>8), byte(ts.ONID), 0xF0|byte(n>>8)&0x0F, byte(n))
		loop = append(loop, ts.Descriptors...)
	}
	body = append(body, 0xF0|byte(len(loop)>>8)&0x0F, byte(len(loop)))
	body = append(body, loop...)
	return Section(0x40, networkID, 0, 0, 0, body)
}

// SatelliteDelivery encodes descriptor 0x43 at 19.2E with FEC 2/3 and,
// for S2, 8PSK and roll-off 0.35.
func SatelliteDelivery(frequencyKHz, symbolRateKSym uint32, vertical, s2 bool) []byte {
	b := make([]byte, 11)
	binary.BigEndian.PutUint32(b[0:], bcd(frequencyKHz/10, 8))
	b[4], b[5] = 0x01, 0x92
	flags := byte(0x80) // east
	if vertical {
		flags |= 0x20
	}
	if s2 {
		flags |= 0x04 | 0x02 // S2, 8PSK
	} else {
		flags |= 0x01 // QPSK
	}
	b[6] = flags
	binary.BigEndian.PutUint32(b[7:], bcd(symbolRateKSym*10, 7)<<4|0x02)
	return Descriptor(0x43, b...)
}

// LogicalChannels encodes descriptor 0x83 from service id, channel number
// pairs.
func LogicalChannels(pairs ...uint16) []byte {
	var b []byte
	for i := 0; i+1 < len(pairs); i += 2 {
		b = append(b, byte(pairs[i]>>8), byte(pairs[i]), 0xFC|byte(pairs[i+1]>>8)&0x03, byte(pairs[i+1]))
	}
	return Descriptor(0x83, b...)
}

func bcd(v uint32, digits int) uint32 {
	var out uint32
	for i := 0; i < digits; i++ {
		out |= (v % 10) << (4 * i)
		v /= 10
	}
	return out
}

// Packetizer splits sections into packets, keeping a continuity counter
// per PID across calls.
type Packetizer struct {
	cc map[uint16]uint8
}

func NewPacketizer() *Packetizer {
	return &Packetizer{cc: make(map[uint16]uint8)}
}

// Packets starts a payload unit for each section with pointer field 0 and
// pads the last packet of each section with 0xFF.
func (p *Packetizer) Packets(pid uint16, sections ...[]byte) [][]byte {
	var out [][]byte
	for _, s := range sections {
		rest := append([]byte{0x00}, s...)
		first := true
		for len(rest) > 0 {
			pkt := make([]byte, PacketSize)
			for i := range pkt {
				pkt[i] = 0xFF
			}
			pkt[0] = 0x47
			pkt[1] = byte(pid>>8) & 0x1F
			if first {
				pkt[1] |= 0x40
			}
			pkt[2] = byte(pid)
			pkt[3] = 0x10 | p.cc[pid]&0x0F
			n := copy(pkt[4:], rest)
			rest = rest[n:]
			out = append(out, pkt)
			p.cc[pid] = (p.cc[pid] + 1) & 0x0F
			first = false
		}
	}
	return out
}

// NullPacket returns a stuffing packet on PID 0x1FFF.
func NullPacket() []byte {
	pkt := make([]byte, PacketSize)
	pkt[0], pkt[1], pkt[2], pkt[3] = 0x47, 0x1F, 0xFF, 0x10
	return pkt
}

// Datagram prefixes units with a 12-byte RTP header carrying payload
// type 33.
func Datagram(seq uint16, units ...[]byte) []byte {
	out := make([]byte, rtpHeaderLen, rtpHeaderLen+len(units)*PacketSize)
	out[0] = 0x80
	out[1] = 33
	binary.BigEndian.PutUint16(out[2:], seq)
	for _, u := range units {
		out = append(out, u...)
	}
	return out
}
