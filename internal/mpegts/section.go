package mpegts

// maxSectionSize bounds a private section (EN 300 468 allows 4096 bytes).
const maxSectionSize = 4096

// sectionBuffer reassembles PSI/SI sections for a single PID. Packets with
// a transport error or a continuity gap discard the partial section; the
// buffer then waits for the next payload unit start to re-sync.
type sectionBuffer struct {
	pid    uint16
	buf    []byte
	active bool
	lastCC uint8
	haveCC bool
}

func newSectionBuffer(pid uint16) *sectionBuffer {
	return &sectionBuffer{pid: pid}
}

func (sb *sectionBuffer) reset() {
	sb.buf = nil
	sb.active = false
}

// push adds one packet and returns the sections it completed, in order.
func (sb *sectionBuffer) push(p *Packet) [][]byte {
	if p.Header.PID != sb.pid {
		return nil
	}
	if p.Header.TransportErrorIndicator {
		sb.reset()
		sb.haveCC = false
		return nil
	}
	if !p.Header.HasPayload || len(p.Payload) == 0 {
		return nil
	}

	cc := p.Header.ContinuityCounter
	if sb.haveCC && !p.Header.DiscontinuityIndicator {
		if cc == sb.lastCC {
			return nil // duplicate
		}
		if cc != (sb.lastCC+1)&0x0F {
			sb.reset()
		}
	}
	sb.lastCC = cc
	sb.haveCC = true

	payload := p.Payload
	var out [][]byte

	if !p.Header.PayloadUnitStartIndicator {
		if !sb.active {
			return nil
		}
		sb.buf = append(sb.buf, payload...)
		return sb.drain(out)
	}

	pointer := int(payload[0])
	if 1+pointer > len(payload) {
		sb.reset()
		return nil
	}
	if sb.active {
		sb.buf = append(sb.buf, payload[1:1+pointer]...)
		out = sb.drain(out)
	}
	// Whatever is left of the previous section cannot complete any more.
	sb.buf = append([]byte(nil), payload[1+pointer:]...)
	sb.active = true
	return sb.drain(out)
}

// drain cuts complete sections off the front of the buffer.
func (sb *sectionBuffer) drain(out [][]byte) [][]byte {
	for sb.active {
		if len(sb.buf) == 0 {
			// Ended exactly on a packet boundary: the next section
			// starts with a new payload unit.
			sb.reset()
			break
		}
		if sb.buf[0] == 0xFF {
			sb.reset()
			break
		}
		if len(sb.buf) < 3 {
			break
		}
		if sb.buf[1]&0x80 == 0 {
			// Zero padding: every table assembled here uses the long
			// section syntax.
			sb.reset()
			break
		}
		n := 3 + (int(sb.buf[1]&0x0F)<<8 | int(sb.buf[2]))
		if n > maxSectionSize {
			sb.reset()
			break
		}
		if len(sb.buf) < n {
			break
		}
		section := make([]byte, n)
		copy(section, sb.buf[:n])
		out = append(out, section)
		sb.buf = sb.buf[n:]
	}
	return out
}
