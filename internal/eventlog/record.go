package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
)

// Record encoding: varint headerLen | header | payload | crc32c(header|payload)
//
// The header is an 8-byte big-endian publish timestamp (unix milliseconds)
// followed by a small JSON object carrying the event type. The payload is the
// event's type-specific JSON body and is never interpreted by this package.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord frames a header and payload with a trailing checksum.
func EncodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, 10+len(header)+len(payload)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(header)))
	out = append(out, tmp[:n]...)
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out
}

// Decoded holds the framed parts of a record after checksum verification.
type Decoded struct {
	Header  []byte
	Payload []byte
}

// DecodeRecord unpacks a framed record. Returns false on truncation or
// checksum mismatch; callers treat that as a malformed record and skip it.
func DecodeRecord(b []byte) (Decoded, bool) {
	if len(b) < 1+4 {
		return Decoded{}, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 {
		return Decoded{}, false
	}
	if int(n)+int(hlen)+4 > len(b) {
		return Decoded{}, false
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return Decoded{}, false
	}
	return Decoded{Header: append([]byte(nil), header...), Payload: append([]byte(nil), payload...)}, true
}

type headerMeta struct {
	Type string `json:"type"`
}

// EncodeHeader builds an event header from a publish timestamp and type name.
func EncodeHeader(tsMs int64, eventType string) []byte {
	meta, _ := json.Marshal(headerMeta{Type: eventType})
	h := make([]byte, 0, 8+len(meta))
	h = appendBE8(h, uint64(tsMs))
	return append(h, meta...)
}

// DecodeHeader extracts the publish timestamp and event type from a header.
func DecodeHeader(header []byte) (tsMs int64, eventType string, ok bool) {
	if len(header) < 8 {
		return 0, "", false
	}
	tsMs = int64(binary.BigEndian.Uint64(header[:8]))
	var meta headerMeta
	if err := json.Unmarshal(header[8:], &meta); err != nil {
		return 0, "", false
	}
	return tsMs, meta.Type, true
}

// HeaderTimestamp reads just the publish timestamp from a header.
func HeaderTimestamp(header []byte) (int64, bool) {
	if len(header) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(header[:8])), true
}
