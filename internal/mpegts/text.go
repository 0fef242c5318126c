package mpegts

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// iso8859 maps the part number of ISO/IEC 8859 to its decoder. Part 11
// (Thai) is served by the Windows-874 superset.
var iso8859 = map[uint16]encoding.Encoding{
	1:  charmap.ISO8859_1,
	2:  charmap.ISO8859_2,
	3:  charmap.ISO8859_3,
	4:  charmap.ISO8859_4,
	5:  charmap.ISO8859_5,
	6:  charmap.ISO8859_6,
	7:  charmap.ISO8859_7,
	8:  charmap.ISO8859_8,
	9:  charmap.ISO8859_9,
	10: charmap.ISO8859_10,
	11: charmap.Windows874,
	13: charmap.ISO8859_13,
	14: charmap.ISO8859_14,
	15: charmap.ISO8859_15,
	16: charmap.ISO8859_16,
}

// decodeText decodes a DVB SI string (EN 300 468 annex A). The first byte
// may select a character table; without one the default table is used,
// approximated here by ISO-8859-1. Control codes are dropped.
func decodeText(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	enc := encoding.Encoding(charmap.ISO8859_1)
	switch sel := b[0]; {
	case sel >= 0x20:
	case sel >= 0x01 && sel <= 0x0B:
		enc = iso8859[uint16(sel)+4]
		b = b[1:]
	case sel == 0x10:
		if len(b) < 3 {
			return ""
		}
		if e, ok := iso8859[uint16(b[1])<<8|uint16(b[2])]; ok {
			enc = e
		}
		b = b[3:]
	case sel == 0x11:
		enc = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
		b = b[1:]
	case sel == 0x12:
		enc = korean.EUCKR
		b = b[1:]
	case sel == 0x13:
		enc = simplifiedchinese.GBK
		b = b[1:]
	case sel == 0x14:
		enc = traditionalchinese.Big5
		b = b[1:]
	case sel == 0x15:
		return stripControl(string(b[1:]))
	default:
		b = b[1:]
	}
	if enc == nil {
		enc = charmap.ISO8859_1
	}

	s, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return stripControl(string(b))
	}
	return stripControl(string(s))
}

// stripControl removes C0 and C1 control characters, including the DVB
// emphasis and line break codes 0x86, 0x87 and 0x8A.
func stripControl(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 0x20 || (r >= 0x7F && r <= 0x9F) || r == 0xFFFD {
			return -1
		}
		return r
	}, s))
}
