package mpegts

import (
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
	tableIDNIT = 0x40
	tableIDSDT = 0x42
)

// Stream types and descriptor tags used to classify PMT components.
const (
	descAC3       = 0x6A
	descEAC3      = 0x7A
	descTeletext  = 0x56
	descSubtitle  = 0x59
	streamPrivate = 0x06
)

// sectionHeader holds the long-form section header common to PSI and SI.
//
//	[0]    table_id
//	[1-2]  section_syntax_indicator(1) + private(1) + reserved(2) + section_length(12)
//	[3-4]  table_id_extension
//	[5]    reserved(2) + version(5) + current_next(1)
//	[6]    section_number
//	[7]    last_section_number
type sectionHeader struct {
	tableID   uint8
	extension uint16
	version   uint8
	current   bool
	number    uint8
	last      uint8
	// end is the offset of the CRC32 field.
	end int
}

func parseSectionHeader(data []byte) (sectionHeader, error) {
	if len(data) < 12 { // 8 header + 4 CRC
		return sectionHeader{}, errors.New("mpegts: section too short")
	}
	if data[1]&0x80 == 0 {
		return sectionHeader{}, errors.New("mpegts: section syntax indicator not set")
	}
	length := int(data[1]&0x0F)<<8 | int(data[2])
	if 3+length != len(data) {
		return sectionHeader{}, fmt.Errorf("mpegts: section length %d does not match %d bytes", length, len(data))
	}
	return sectionHeader{
		tableID:   data[0],
		extension: uint16(data[3])<<8 | uint16(data[4]),
		version:   (data[5] >> 1) & 0x1F,
		current:   data[5]&0x01 != 0,
		number:    data[6],
		last:      data[7],
		end:       len(data) - 4,
	}, nil
}

// parseDescriptors splits a descriptor loop. A truncated trailing
// descriptor is dropped.
func parseDescriptors(b []byte) []Descriptor {
	var out []Descriptor
	for len(b) >= 2 {
		n := int(b[1])
		if 2+n > len(b) {
			break
		}
		out = append(out, Descriptor{Tag: b[0], Data: b[2 : 2+n]})
		b = b[2+n:]
	}
	return out
}

func hasDescriptor(ds []Descriptor, tags ...uint8) bool {
	for _, d := range ds {
		for _, t := range tags {
			if d.Tag == t {
				return true
			}
		}
	}
	return false
}

// parsePATSection adds the program entries of one PAT section to t.
func parsePATSection(h sectionHeader, data []byte, t *PATTable) error {
	if (h.end-8)%4 != 0 {
		return fmt.Errorf("mpegts: PAT program loop of %d bytes", h.end-8)
	}
	t.TransportStreamID = h.extension
	for i := 8; i+4 <= h.end; i += 4 {
		programNumber := uint16(data[i])<<8 | uint16(data[i+1])
		pid := uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3])
		if programNumber == 0 {
			t.NetworkPID = pid
			continue
		}
		t.Programs[programNumber] = pid
	}
	return nil
}

// parsePMTSection fills t from one PMT section.
//
//	[8-9]   reserved(3) + PCR_PID(13)
//	[10-11] reserved(4) + program_info_length(12)
//	[...]   program descriptors, then stream entries up to the CRC
func parsePMTSection(h sectionHeader, data []byte, t *PMTTable) error {
	if h.end < 12 {
		return errors.New("mpegts: PMT too short")
	}
	t.ProgramNumber = h.extension
	t.PCRPID = uint16(data[8]&0x1F)<<8 | uint16(data[9])

	programInfoLength := int(data[10]&0x0F)<<8 | int(data[11])
	offset := 12 + programInfoLength
	if offset > h.end {
		return fmt.Errorf("mpegts: PMT program_info_length %d overruns section", programInfoLength)
	}

	for offset+5 <= h.end {
		es := ElementaryStream{
			Type: data[offset],
			PID:  uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2]),
		}
		esInfoLength := int(data[offset+3]&0x0F)<<8 | int(data[offset+4])
		if offset+5+esInfoLength > h.end {
			return fmt.Errorf("mpegts: PMT ES_info_length %d overruns section", esInfoLength)
		}
		es.Descriptors = parseDescriptors(data[offset+5 : offset+5+esInfoLength])
		t.Streams = append(t.Streams, es)
		classifyStream(t, es)
		offset += 5 + esInfoLength
	}
	return nil
}

// classifyStream records es as the program's video, audio, teletext or
// subtitle component. The first video, teletext and subtitle stream wins.
func classifyStream(t *PMTTable, es ElementaryStream) {
	switch es.Type {
	case 0x01, 0x02, 0x10, 0x1B, 0x24:
		if t.Video == 0 {
			t.Video = es.PID
		}
	case 0x03, 0x04, 0x0F, 0x11, 0x81:
		t.Audio = append(t.Audio, es.PID)
	case streamPrivate:
		switch {
		case hasDescriptor(es.Descriptors, descAC3, descEAC3):
			t.Audio = append(t.Audio, es.PID)
		case hasDescriptor(es.Descriptors, descTeletext):
			if t.Teletext == 0 {
				t.Teletext = es.PID
			}
		case hasDescriptor(es.Descriptors, descSubtitle):
			if t.Subtitle == 0 {
				t.Subtitle = es.PID
			}
		}
	}
}
