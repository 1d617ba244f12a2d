package pebblebroker

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"

	"github.com/socratat-b/orderbean/internal/event"
)

// Record encoding: json(flattened fields) | crc32c(json)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(ev event.OrderEvent) []byte {
	body, _ := json.Marshal(event.Flatten(ev))
	out := make([]byte, 0, len(body)+4)
	out = append(out, body...)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc32.Checksum(body, castagnoli))
	return append(out, crcb[:]...)
}

// decodeRecord rejects truncated or corrupted values.
func decodeRecord(b []byte) (event.OrderEvent, bool) {
	if len(b) < 4 {
		return event.OrderEvent{}, false
	}
	body := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Checksum(body, castagnoli) != expect {
		return event.OrderEvent{}, false
	}
	var fields map[string]string
	if err := json.Unmarshal(body, &fields); err != nil {
		return event.OrderEvent{}, false
	}
	return event.Unflatten(fields), true
}
