package fat

import (
	"encoding/binary"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/elliotwutingfeng/asciiset"
	"github.com/soypat/fatfs/internal/utf16x"
	"golang.org/x/text/encoding/charmap"
)

var (
	// Characters never allowed in a name.
	nameIllegal, _ = asciiset.MakeASCIISet("\"*:<>?|\x7f")
	// Characters allowed in a long name but replaced by '_' in the short name.
	sfnIllegal, _ = asciiset.MakeASCIISet("+,;=[]")
)

// cp returns the OEM code page used for short names.
func (fsys *FS) cp() *charmap.Charmap {
	if fsys.codepage == nil {
		return charmap.CodePage437
	}
	return fsys.codepage
}

// uni2oem converts an upper-cased UTF-16 unit to the OEM code page. Returns
// 0 when the character has no representation.
func (fsys *FS) uni2oem(wc uint16) byte {
	if isSurrogate(wc) {
		return 0
	}
	b, ok := fsys.cp().EncodeRune(unicode.ToUpper(rune(wc)))
	if !ok {
		return 0
	}
	return b
}

// wtoupper upper-cases a UTF-16 unit for case insensitive comparisons.
func wtoupper(wc uint16) uint16 {
	if wc < 0x80 {
		if 'a' <= wc && wc <= 'z' {
			wc -= 0x20
		}
		return wc
	}
	if isSurrogate(wc) {
		return wc
	}
	r := unicode.ToUpper(rune(wc))
	if r > 0xffff {
		return wc
	}
	return uint16(r)
}

func (fsys *FS) lfnAt(i int) uint16 {
	if i >= lfnBufSize+1 {
		return 0
	}
	return binary.LittleEndian.Uint16(fsys.lfnbuf[2*i:])
}

func (fsys *FS) setLfn(i int, wc uint16) {
	binary.LittleEndian.PutUint16(fsys.lfnbuf[2*i:], wc)
}

// lfnLen returns the number of UTF-16 units of the name in lfnbuf.
func (fsys *FS) lfnLen() int {
	n := 0
	for n < lfnBufSize && fsys.lfnAt(n) != 0 {
		n++
	}
	return n
}

// lfnString decodes the name in lfnbuf. Names with unpaired surrogates are
// reported as invalid.
func (fsys *FS) lfnString() (string, bool) {
	n := fsys.lfnLen()
	if n == 0 {
		return "", false
	}
	var buf [lfnBufSize * 3]byte
	w, err := utf16x.Decode(buf[:], fsys.lfnbuf[:2*n])
	if err != nil {
		return "", false
	}
	return string(buf[:w]), true
}

// sfnString formats the 8.3 name of a directory entry. With useCase set the
// lower case flags of the entry are applied.
func (fsys *FS) sfnString(ent []byte, useCase bool) string {
	var buf [sfnBufSize * 3]byte
	n := 0
	ntres := ent[dirNTresOff]
	put := func(c byte, lower bool) {
		if c < 0x80 {
			if lower && isUpper(c) {
				c += 0x20
			}
			buf[n] = c
			n++
			return
		}
		n += utf8.EncodeRune(buf[n:], fsys.cp().DecodeByte(c))
	}
	for i := 0; i < 8; i++ {
		c := ent[dirNameOff+i]
		if c == ' ' {
			continue
		}
		if i == 0 && c == rddem {
			c = ddem
		}
		put(c, useCase && ntres&nsBODY != 0)
	}
	if ent[dirNameOff+8] != ' ' {
		buf[n] = '.'
		n++
		for i := 8; i < 11; i++ {
			c := ent[dirNameOff+i]
			if c == ' ' {
				continue
			}
			put(c, useCase && ntres&nsEXT != 0)
		}
	}
	return string(buf[:n])
}

// pick_lfn stores the part of the long name held by an LFN entry in lfnbuf.
func (fsys *FS) pick_lfn(ent []byte) bool {
	lfn := lfnEntry(ent)
	if lfn.linked() {
		return false
	}
	i := (lfn.ord() - 1) * 13
	if i < 0 {
		return false
	}
	wc := uint16(1)
	for s := 0; s < 13; s++ {
		uc := lfn.unit(s)
		if wc != 0 {
			if i >= lfnBufSize+1 {
				return false
			}
			fsys.setLfn(i, uc)
			wc = uc
			i++
		} else if uc != 0xffff {
			return false // Check filler.
		}
	}
	if lfn.last() && wc != 0 {
		if i >= lfnBufSize+1 {
			return false
		}
		fsys.setLfn(i, 0) // Put terminator if last LFN part without one.
	}
	return true
}

// cmp_lfn compares the part of the long name held by an LFN entry against
// lfnbuf, case insensitively.
func (fsys *FS) cmp_lfn(ent []byte) bool {
	lfn := lfnEntry(ent)
	if lfn.linked() {
		return false
	}
	i := (lfn.ord() - 1) * 13
	if i < 0 {
		return false
	}
	wc := uint16(1)
	for s := 0; s < 13; s++ {
		uc := lfn.unit(s)
		if wc != 0 {
			if i >= lfnBufSize+1 || wtoupper(uc) != wtoupper(fsys.lfnAt(i)) {
				return false
			}
			wc = uc
			i++
		} else if uc != 0xffff {
			return false
		}
	}
	if lfn.last() && wc != 0 && fsys.lfnAt(i) != 0 {
		return false // Last segment matched but different length.
	}
	return true
}

// put_lfn fills an LFN entry with the ord'th 13 unit part of lfnbuf.
func (fsys *FS) put_lfn(ent []byte, ord uint8, sum byte) {
	ent[ldirChksumOff] = sum
	ent[ldirAttrOff] = byte(attrLFN)
	ent[ldirTypeOff] = 0
	binary.LittleEndian.PutUint16(ent[ldirFstClusLO_Off:], 0)
	lfn := lfnEntry(ent)
	i := (int(ord) - 1) * 13
	var wc uint16
	for s := 0; s < 13; s++ {
		if wc != 0xffff {
			wc = fsys.lfnAt(i)
			i++
		}
		lfn.setUnit(s, wc)
		if wc == 0 {
			wc = 0xffff // Padding after the terminator.
		}
	}
	if wc == 0xffff || fsys.lfnAt(i) == 0 {
		ord |= llef
	}
	ent[ldirOrdOff] = ord
}

// gen_numname derives a numbered short name like "NAME~1  EXT" from src.
// Sequence numbers above 5 are mixed with a hash of the long name.
func (fsys *FS) gen_numname(dst, src []byte, seq uint32) {
	copy(dst[:11], src[:11])
	if seq > 5 {
		sreg := seq
		for i := 0; ; i++ {
			wc := fsys.lfnAt(i)
			if wc == 0 {
				break
			}
			for b := 0; b < 16; b++ {
				sreg = (sreg << 1) + uint32(wc&1)
				wc >>= 1
				if sreg&0x10000 != 0 {
					sreg ^= 0x11021
				}
			}
		}
		seq = sreg
	}
	// Make suffix (~ + hexadecimal).
	var ns [8]byte
	i := 7
	for {
		c := byte(seq%16) + '0'
		seq /= 16
		if c > '9' {
			c += 7
		}
		ns[i] = c
		i--
		if i == 0 || seq == 0 {
			break
		}
	}
	ns[i] = '~'
	// Append the suffix to the body.
	j := 0
	for j < i && dst[j] != ' ' {
		j++
	}
	for {
		if i < 8 {
			dst[j] = ns[i]
			i++
		} else {
			dst[j] = ' '
		}
		j++
		if j >= 8 {
			break
		}
	}
}

// sum_sfn calculates the checksum of a short name linking it to its LFN entries.
func sum_sfn(sfn []byte) byte {
	var sum byte
	for i := 0; i < 11; i++ {
		sum = (sum >> 1) + (sum << 7) + sfn[i]
	}
	return sum
}

// create_name parses the first segment of path into lfnbuf and the short
// name in dp.fn. It returns the rest of the path.
func (dp *dir) create_name(path string) (string, fileResult) {
	fsys := dp.obj.fs
	end := 0
	for end < len(path) && !isSep(path[end]) {
		c := path[end]
		if c < ' ' || (c < 0x80 && nameIllegal.Contains(c)) {
			return "", frInvalidName
		}
		end++
	}
	seg := path[:end]
	rest := trimSeparatorPrefix(path[end:])
	var cf byte
	if rest == "" {
		cf = nsLAST
	}
	// Trailing spaces and dots are dropped. "." and ".." end up empty.
	seg = strings.TrimRight(seg, " .")
	if seg == "" || !utf8.ValidString(seg) {
		return "", frInvalidName
	}
	n, err := utf16x.Encode(fsys.lfnbuf[:2*lfnBufSize], seg)
	if err != nil {
		return "", frInvalidName // Too long or undecodable.
	}
	lfnlen := n / 2
	fsys.setLfn(lfnlen, 0)

	// Create the short name.
	for i := 0; i < 11; i++ {
		dp.fn[i] = ' '
	}
	si := 0
	for fsys.lfnAt(si) == ' ' {
		si++ // Strip leading spaces.
	}
	if si > 0 || fsys.lfnAt(si) == '.' {
		cf |= nsLOSS | nsLFN
	}
	di := lfnlen
	for di > 0 && fsys.lfnAt(di-1) != '.' {
		di-- // di is past the last dot, or 0.
	}
	var b byte
	i, ni := 0, 8
	for {
		wc := fsys.lfnAt(si)
		si++
		if wc == 0 {
			break
		}
		if wc == ' ' || (wc == '.' && si != di) {
			cf |= nsLOSS | nsLFN // Remove embedded spaces and dots.
			continue
		}
		if i >= ni || si == di {
			if ni == 11 {
				cf |= nsLOSS | nsLFN // Extension overflow.
				break
			}
			if si != di {
				cf |= nsLOSS | nsLFN // Body overflow.
			}
			if si > di {
				break // No extension.
			}
			si = di
			i, ni = 8, 11
			b <<= 2
			continue
		}
		var c byte
		if wc >= 0x80 {
			cf |= nsLFN
			c = fsys.uni2oem(wc)
		} else {
			c = byte(wc)
		}
		switch {
		case c == 0 || (c < 0x80 && sfnIllegal.Contains(c)):
			c = '_'
			cf |= nsLOSS | nsLFN
		case isUpper(c):
			b |= 2
		case isLower(c):
			b |= 1
			c -= 0x20
		}
		dp.fn[i] = c
		i++
	}
	if dp.fn[0] == ddem {
		dp.fn[0] = rddem
	}
	if ni == 8 {
		b <<= 2
	}
	if b&0x0c == 0x0c || b&0x03 == 0x03 {
		cf |= nsLFN // Mixed case in body or extension.
	}
	if cf&nsLFN == 0 {
		if b&0x01 != 0 {
			cf |= nsEXT
		}
		if b&0x04 != 0 {
			cf |= nsBODY
		}
	}
	dp.fn[nsFLAG] = cf
	return rest, frOK
}

// encodeLabel converts a volume label to its space padded on-disk form.
func encodeLabel(cp *charmap.Charmap, label string) ([11]byte, fileResult) {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	label = strings.TrimRight(label, " ")
	i := 0
	for _, r := range label {
		if i >= len(out) {
			return out, frInvalidName
		}
		r = unicode.ToUpper(r)
		c, ok := cp.EncodeRune(r)
		if !ok || c < ' ' || (c < 0x80 && (nameIllegal.Contains(c) || sfnIllegal.Contains(c) || c == '.' || isSep(c))) {
			return out, frInvalidName
		}
		out[i] = c
		i++
	}
	return out, frOK
}
