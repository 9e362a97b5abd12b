package logstore

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/rzbill/tailer/internal/tailer"
)

// Record encoding: varint(headerLen) | header | payload | crc32c(header|payload).
// header is: varint(len(namespace)) namespace varint(len(name)) name.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeHeader(topic tailer.TopicUUID) []byte {
	var tmp [10]byte
	h := make([]byte, 0, len(topic.Namespace)+len(topic.Name)+20)
	n := binary.PutUvarint(tmp[:], uint64(len(topic.Namespace)))
	h = append(h, tmp[:n]...)
	h = append(h, topic.Namespace...)
	n = binary.PutUvarint(tmp[:], uint64(len(topic.Name)))
	h = append(h, tmp[:n]...)
	h = append(h, topic.Name...)
	return h
}

func decodeHeader(b []byte) (tailer.TopicUUID, bool) {
	nsLen, n := binary.Uvarint(b)
	if n <= 0 || n+int(nsLen) > len(b) {
		return tailer.TopicUUID{}, false
	}
	ns := string(b[n : n+int(nsLen)])
	b = b[n+int(nsLen):]
	nameLen, n := binary.Uvarint(b)
	if n <= 0 || n+int(nameLen) > len(b) {
		return tailer.TopicUUID{}, false
	}
	name := string(b[n : n+int(nameLen)])
	return tailer.TopicUUID{Namespace: ns, Name: name}, true
}

func encodeRecord(topic tailer.TopicUUID, payload []byte) []byte {
	header := encodeHeader(topic)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(header)))

	out := make([]byte, 0, n+len(header)+len(payload)+4)
	out = append(out, tmp[:n]...)
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...)
}

type decoded struct {
	Topic   tailer.TopicUUID
	Payload []byte
}

func decodeRecord(b []byte) (decoded, bool) {
	if len(b) < 1+4 {
		return decoded{}, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || n+int(hlen)+4 > len(b) {
		return decoded{}, false
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return decoded{}, false
	}
	topic, ok := decodeHeader(header)
	if !ok {
		return decoded{}, false
	}
	return decoded{Topic: topic, Payload: append([]byte(nil), payload...)}, true
}
