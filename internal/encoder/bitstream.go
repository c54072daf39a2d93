package encoder

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// splitCompleteNALUs extracts complete NAL units from an Annex B buffer. A
// NALU is complete once the next start code is seen, so the trailing bytes
// after the last start code are returned as the remainder.
func splitCompleteNALUs(data []byte) ([][]byte, []byte) {
	starts := startCodePositions(data)
	if len(starts) == 0 {
		return nil, data
	}

	var nalus [][]byte
	for i := 0; i < len(starts)-1; i++ {
		nalu := data[starts[i].end:starts[i+1].pos]
		if len(nalu) > 0 {
			nalus = append(nalus, nalu)
		}
	}

	rest := data[starts[len(starts)-1].pos:]
	return nalus, rest
}

type startCode struct {
	pos int
	end int
}

// startCodePositions finds Annex B start codes (3 or 4 byte form).
func startCodePositions(data []byte) []startCode {
	var codes []startCode
	for i := 0; i+3 <= len(data); i++ {
		if data[i] != 0x00 || data[i+1] != 0x00 {
			continue
		}
		if data[i+2] == 0x01 {
			codes = append(codes, startCode{pos: i, end: i + 3})
			i += 2
		} else if data[i+2] == 0x00 && i+4 <= len(data) && data[i+3] == 0x01 {
			codes = append(codes, startCode{pos: i, end: i + 4})
			i += 3
		}
	}
	return codes
}

// trimStartCode strips a leading Annex B start code from a buffer.
func trimStartCode(data []byte) []byte {
	if bytes.HasPrefix(data, annexBStartCode) {
		return data[4:]
	}
	if bytes.HasPrefix(data, annexBStartCode[1:]) {
		return data[3:]
	}
	return data
}

// marshalAnnexB serializes an access unit back to Annex B form.
func marshalAnnexB(au [][]byte) []byte {
	if out, err := h264.AnnexB(au).Marshal(); err == nil {
		return out
	}
	var buf bytes.Buffer
	for _, nalu := range au {
		buf.Write(annexBStartCode)
		buf.Write(nalu)
	}
	return buf.Bytes()
}

// containsIDR reports whether the access unit carries an IDR slice.
func containsIDR(au [][]byte) bool {
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// splitADTSFrames extracts raw AAC frames from an ADTS stream, returning
// undecodable trailing bytes as the remainder.
func splitADTSFrames(data []byte) ([][]byte, []byte) {
	var frames [][]byte
	offset := 0

	for offset+7 <= len(data) {
		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			offset++
			continue
		}

		protectionAbsent := (data[offset+1] & 0x01) != 0
		headerSize := 7
		if !protectionAbsent {
			headerSize = 9
		}

		// Frame length is 13 bits spanning bytes 3-5.
		frameLen := int(data[offset+3]&0x03)<<11 |
			int(data[offset+4])<<3 |
			int(data[offset+5]>>5)

		if frameLen < headerSize {
			offset++
			continue
		}
		if offset+frameLen > len(data) {
			break
		}

		raw := data[offset+headerSize : offset+frameLen]
		if len(raw) > 0 {
			frame := make([]byte, len(raw))
			copy(frame, raw)
			frames = append(frames, frame)
		}
		offset += frameLen
	}

	rest := make([]byte, len(data)-offset)
	copy(rest, data[offset:])
	return frames, rest
}
