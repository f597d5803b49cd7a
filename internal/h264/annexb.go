package h264

// startCode is the 4-byte Annex B start code.
var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// NALUnit represents a parsed H.264 NAL unit.
type NALUnit struct {
	Type byte   // 5-bit nal_unit_type
	Data []byte // raw NAL data including the header byte, without start code
}

// ParseAnnexB scans an Annex B byte stream for start codes and extracts
// NAL units. Both 3-byte (0x000001) and 4-byte (0x00000001) start codes
// are recognized.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		nalData := data[pos.dataStart:end]
		units = append(units, NALUnit{Type: nalData[0] & 0x1F, Data: nalData})
	}
	return units
}

// HasStartCode reports whether b begins with a 3- or 4-byte start code.
func HasStartCode(b []byte) bool {
	if len(b) >= 4 && b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 1 {
		return true
	}
	return len(b) >= 3 && b[0] == 0 && b[1] == 0 && b[2] == 1
}

// Split returns the NAL units in b, which is either an Annex B blob or a
// single bare NAL unit.
func Split(b []byte) []NALUnit {
	if len(b) == 0 {
		return nil
	}
	if HasStartCode(b) {
		return ParseAnnexB(b)
	}
	return []NALUnit{{Type: b[0] & 0x1F, Data: b}}
}

// AppendAnnexB appends b to buf in Annex B form, adding a start code when
// b is a bare NAL unit.
func AppendAnnexB(buf, b []byte) []byte {
	if !HasStartCode(b) {
		buf = append(buf, startCode...)
	}
	return append(buf, b...)
}

// IsKeyframe reports whether an Annex B access unit contains an IDR slice.
func IsKeyframe(au []byte) bool {
	for _, nal := range Split(au) {
		if nal.Type == NALTypeIDR {
			return true
		}
	}
	return false
}
