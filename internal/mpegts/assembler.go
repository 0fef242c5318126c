package mpegts

// Assembler collects one table from a stream of 188-byte units. Units for
// other PIDs are ignored. Once Ready reports true it stays true and
// further units are discarded.
type Assembler interface {
	PID() uint16
	Feed(unit []byte)
	Ready() bool
}

// tableAssembler tracks section readiness for one table on one PID. parse
// is called once per distinct section number of the current version;
// restart is called when a new version replaces a partially collected one.
type tableAssembler struct {
	pid      uint16
	tableID  uint8
	sections *sectionBuffer
	accept   func(h sectionHeader) bool
	parse    func(h sectionHeader, data []byte) error
	restart  func()

	version int
	seen    [256]bool
	last    uint8
	ready   bool
}

func newTableAssembler(pid uint16, tableID uint8) tableAssembler {
	return tableAssembler{
		pid:      pid,
		tableID:  tableID,
		sections: newSectionBuffer(pid),
		version:  -1,
	}
}

func (a *tableAssembler) PID() uint16 { return a.pid }

func (a *tableAssembler) Ready() bool { return a.ready }

func (a *tableAssembler) Feed(unit []byte) {
	if a.ready {
		return
	}
	p, err := parsePacket(unit)
	if err != nil || p.Header.PID != a.pid {
		return
	}
	for _, section := range a.sections.push(p) {
		a.section(section)
		if a.ready {
			return
		}
	}
}

func (a *tableAssembler) section(data []byte) {
	if data[0] != a.tableID {
		return
	}
	h, err := parseSectionHeader(data)
	if err != nil || !h.current {
		return
	}
	if verifyCRC32(data) != nil {
		return
	}
	if a.accept != nil && !a.accept(h) {
		return
	}

	if int(h.version) != a.version {
		if a.version >= 0 && a.restart != nil {
			a.restart()
		}
		a.version = int(h.version)
		a.seen = [256]bool{}
	}
	if a.seen[h.number] {
		return
	}
	if err := a.parse(h, data); err != nil {
		return
	}
	a.seen[h.number] = true
	a.last = h.last

	for i := 0; i <= int(a.last); i++ {
		if !a.seen[i] {
			return
		}
	}
	a.ready = true
}

// PATAssembler collects the Program Association Table from PID 0.
type PATAssembler struct {
	tableAssembler
	table *PATTable
}

func NewPATAssembler() *PATAssembler {
	a := &PATAssembler{tableAssembler: newTableAssembler(PIDPAT, tableIDPAT)}
	a.restart = func() { a.table = newPATTable() }
	a.parse = func(h sectionHeader, data []byte) error {
		return parsePATSection(h, data, a.table)
	}
	a.table = newPATTable()
	return a
}

func newPATTable() *PATTable {
	return &PATTable{Programs: make(map[uint16]uint16)}
}

// Table returns the assembled table, or nil before the assembler is ready.
func (a *PATAssembler) Table() *PATTable {
	if !a.ready {
		return nil
	}
	return a.table
}

// PMTAssembler collects the Program Map Table of one program.
type PMTAssembler struct {
	tableAssembler
	table *PMTTable
}

// NewPMTAssembler returns an assembler for the PMT carried on pid. When
// several programs share the PID only sections for program are used;
// program 0 accepts the first program seen.
func NewPMTAssembler(pid, program uint16) *PMTAssembler {
	a := &PMTAssembler{tableAssembler: newTableAssembler(pid, tableIDPMT)}
	a.accept = func(h sectionHeader) bool {
		if program == 0 {
			program = h.extension
		}
		return h.extension == program
	}
	a.restart = func() { a.table = &PMTTable{} }
	a.parse = func(h sectionHeader, data []byte) error {
		t := &PMTTable{}
		if err := parsePMTSection(h, data, t); err != nil {
			return err
		}
		a.table = t
		return nil
	}
	a.table = &PMTTable{}
	return a
}

func (a *PMTAssembler) Table() *PMTTable {
	if !a.ready {
		return nil
	}
	return a.table
}

// SDTAssembler collects the Service Description Table of the actual
// transport stream from PID 0x11.
type SDTAssembler struct {
	tableAssembler
	table *SDTTable
}

func NewSDTAssembler() *SDTAssembler {
	a := &SDTAssembler{tableAssembler: newTableAssembler(PIDSDT, tableIDSDT)}
	a.restart = func() { a.table = newSDTTable() }
	a.parse = func(h sectionHeader, data []byte) error {
		return parseSDTSection(h, data, a.table)
	}
	a.table = newSDTTable()
	return a
}

func newSDTTable() *SDTTable {
	return &SDTTable{Services: make(map[uint16]*Service)}
}

func (a *SDTAssembler) Table() *SDTTable {
	if !a.ready {
		return nil
	}
	return a.table
}

// NITAssembler collects the Network Information Table of the actual
// network from PID 0x10.
type NITAssembler struct {
	tableAssembler
	tsid  uint16
	table *NITTable
}

// NewNITAssembler returns a NIT assembler for the network carrying the
// transport stream tsid, as announced by the SDT.
func NewNITAssembler(tsid uint16) *NITAssembler {
	a := &NITAssembler{tableAssembler: newTableAssembler(PIDNIT, tableIDNIT), tsid: tsid}
	a.restart = func() { a.table = newNITTable() }
	a.parse = func(h sectionHeader, data []byte) error {
		return parseNITSection(h, data, a.table)
	}
	a.table = newNITTable()
	return a
}

func newNITTable() *NITTable {
	return &NITTable{Transports: make(map[uint16]*TransportStream)}
}

func (a *NITAssembler) Table() *NITTable {
	if !a.ready {
		return nil
	}
	return a.table
}

// TransportStream returns the NIT entry for the transport stream the
// assembler was created for, or nil if not ready or not listed.
func (a *NITAssembler) TransportStream() *TransportStream {
	return a.Table().Transport(a.tsid)
}
