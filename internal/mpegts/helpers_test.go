package mpegts

import (
	"encoding/binary"
)

func makePacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, packetSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | (cc & 0x0F) // payload only
	if pusi {
		buf[1] |= 0x40
	}
	copy(buf[4:], payload)
	return buf
}

func makePacketWithAF(pid uint16, cc uint8, afLen int, payload []byte) []byte {
	buf := make([]byte, packetSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	if len(payload) > 0 {
		buf[3] = 0x30 | (cc & 0x0F) // adaptation + payload
	} else {
		buf[3] = 0x20 | (cc & 0x0F) // adaptation only
	}
	buf[4] = byte(afLen)
	offset := 5 + afLen
	if offset < packetSize {
		copy(buf[offset:], payload)
	}
	return buf
}

// buildSection wraps body (everything after last_section_number) in a
// long-form section header and appends the CRC32.
func buildSection(tableID uint8, ext uint16, version, number, last uint8, body []byte) []byte {
	sectionLength := 5 + len(body) + 4
	data := make([]byte, 3+sectionLength)
	data[0] = tableID
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	data[3] = byte(ext >> 8)
	data[4] = byte(ext)
	data[5] = 0xC1 | (version&0x1F)<<1 // reserved + version + current_next
	data[6] = number
	data[7] = last
	copy(data[8:], body)
	end := 8 + len(body)
	binary.BigEndian.PutUint32(data[end:], CRC32(data[:end]))
	return data
}

type testProgram struct{ num, pid uint16 }

func buildPAT(tsID uint16, programs []testProgram) []byte {
	body := make([]byte, 0, len(programs)*4)
	for _, p := range programs {
		body = append(body, byte(p.num>>8), byte(p.num), 0xE0|byte(p.pid>>8)&0x1F, byte(p.pid))
	}
	return buildSection(tableIDPAT, tsID, 0, 0, 0, body)
}

type testStream struct {
	streamType  uint8
	pid         uint16
	descriptors []byte
}

func buildPMT(programNum, pcrPID uint16, streams []testStream) []byte {
	body := []byte{0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID), 0xF0, 0x00}
	for _, s := range streams {
		n := len(s.descriptors)
		body = append(body, s.streamType, 0xE0|byte(s.pid>>8)&0x1F, byte(s.pid), 0xF0|byte(n>>8)&0x0F, byte(n))
		body = append(body, s.descriptors...)
	}
	return buildSection(tableIDPMT, programNum, 0, 0, 0, body)
}

func descriptor(tag uint8, data ...byte) []byte {
	return append([]byte{tag, byte(len(data))}, data...)
}

type testService struct {
	id        uint16
	typ       uint8
	name      string
	provider  string
	scrambled bool
}

func serviceEntries(services []testService) []byte {
	var body []byte
	for _, s := range services {
		d := []byte{s.typ, byte(len(s.provider))}
		d = append(d, s.provider...)
		d = append(d, byte(len(s.name)))
		d = append(d, s.name...)
		desc := descriptor(descService, d...)

		flags := byte(byte(RunningRunning) << 5)
		if s.scrambled {
			flags |= 0x10
		}
		n := len(desc)
		body = append(body, byte(s.id>>8), byte(s.id), 0xFD, flags|byte(n>>8)&0x0F, byte(n))
		body = append(body, desc...)
	}
	return body
}

func buildSDTSection(tsID, onID uint16, number, last uint8, services []testService) []byte {
	body := []byte{byte(onID >> 8), byte(onID), 0xFF}
	body = append(body, serviceEntries(services)...)
	return buildSection(tableIDSDT, tsID, 0, number, last, body)
}

func buildSDT(tsID, onID uint16, services []testService) []byte {
	return buildSDTSection(tsID, onID, 0, 0, services)
}

type testTransport struct {
	tsid, onid  uint16
	descriptors []byte
}

func buildNIT(networkID uint16, name string, transports []testTransport) []byte {
	netDesc := descriptor(descNetworkName, []byte(name)...)
	body := []byte{0xF0 | byte(len(netDesc)>>8)&0x0F, byte(len(netDesc))}
	body = append(body, netDesc...)

	var loop []byte
	for _, ts := range transports {
		n := len(ts.descriptors)
		loop = append(loop, byte(ts.tsid>>8), byte(ts.tsid), byte(ts.onid>>8), byte(ts.onid), 0xF0|byte(n>>8)&0x0F, byte(n))
		loop = append(loop, ts.descriptors...)
	}
	body = append(body, 0xF0|byte(len(loop)>>8)&0x0F, byte(len(loop)))
	body = append(body, loop...)
	return buildSection(tableIDNIT, networkID, 0, 0, 0, body)
}

// satelliteDelivery is 11727 MHz, 19.2E, horizontal, DVB-S2 8PSK,
// 27500 kSym/s, FEC 2/3, roll-off 0.35.
var satelliteDelivery = descriptor(descSatelliteDelivery,
	0x01, 0x17, 0x27, 0x00, // frequency
	0x01, 0x92, // orbital position
	0x86,                   // east, H, 0.35, S2, 8PSK
	0x02, 0x75, 0x00, 0x02, // symbol rate + FEC
)

// packetize splits each section into 188-byte packets on pid. Every
// section starts a new payload unit with pointer field 0; the last packet
// of each section is padded with 0xFF. cc is advanced per packet.
func packetize(pid uint16, cc *uint8, sections ...[]byte) [][]byte {
	var out [][]byte
	for _, s := range sections {
		rest := append([]byte{0x00}, s...)
		first := true
		for len(rest) > 0 {
			chunk := make([]byte, packetSize-4)
			for i := range chunk {
				chunk[i] = 0xFF
			}
			n := copy(chunk, rest)
			rest = rest[n:]
			out = append(out, makePacket(pid, *cc, first, chunk))
			*cc = (*cc + 1) & 0x0F
			first = false
		}
	}
	return out
}

func feedAll(a Assembler, packets [][]byte) {
	for _, p := range packets {
		a.Feed(p)
	}
}
