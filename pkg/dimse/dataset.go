package dimse

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Data sets and command sets travel as Implicit VR Little Endian, the default
// transfer syntax every SCP must accept.

type element struct {
	tag   Tag
	value []byte
}

// encodeElements serializes elements in ascending tag order.
func encodeElements(elems []element) []byte {
	sort.Slice(elems, func(i, j int) bool { return elems[i].tag < elems[j].tag })

	var out []byte
	for _, e := range elems {
		v := e.value
		if len(v)%2 != 0 {
			// String values are space padded to even length; UIDs null padded.
			pad := byte(' ')
			if e.tag == TagAffectedSOPClassUID || isUIDTag(e.tag) {
				pad = 0x00
			}
			v = append(append([]byte{}, v...), pad)
		}

		out = binary.LittleEndian.AppendUint16(out, e.tag.Group())
		out = binary.LittleEndian.AppendUint16(out, e.tag.Element())
		out = binary.LittleEndian.AppendUint32(out, uint32(len(v)))
		out = append(out, v...)
	}
	return out
}

func isUIDTag(tag Tag) bool {
	switch tag {
	case TagSOPInstanceUID, TagStudyInstanceUID, TagSeriesInstanceUID:
		return true
	}
	return false
}

func stringElement(tag Tag, value string) element {
	return element{tag: tag, value: []byte(value)}
}

func uint16Element(tag Tag, value uint16) element {
	return element{tag: tag, value: binary.LittleEndian.AppendUint16(nil, value)}
}

// encodeIdentifier builds a C-FIND identifier: the query level, the matching
// keys with their values, and the return keys with zero-length values.
func encodeIdentifier(level string, match map[Tag]string, returnKeys []Tag) []byte {
	elems := []element{stringElement(TagQueryRetrieveLevel, level)}
	for tag, value := range match {
		elems = append(elems, stringElement(tag, value))
	}
	for _, tag := range returnKeys {
		if _, ok := match[tag]; ok {
			continue
		}
		elems = append(elems, element{tag: tag})
	}
	return encodeElements(elems)
}

// parseDataSet decodes an implicit VR little endian data set into a flat
// attribute map. Sequence and binary payloads are skipped, which is all a
// C-FIND identifier ever needs.
func parseDataSet(data []byte) (Attributes, error) {
	attrs := make(Attributes)
	pos := 0

	for pos+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[pos:])
		elem := binary.LittleEndian.Uint16(data[pos+2:])
		length := binary.LittleEndian.Uint32(data[pos+4:])
		pos += 8

		tag := Tag(uint32(group)<<16 | uint32(elem))

		// Undefined length marks a sequence; this parser has no use for them.
		if length == 0xFFFFFFFF {
			return attrs, fmt.Errorf("unsupported undefined-length element %s", tag)
		}

		if pos+int(length) > len(data) {
			return attrs, fmt.Errorf("truncated element %s: need %d bytes, have %d", tag, length, len(data)-pos)
		}

		attrs[tag] = string(data[pos : pos+int(length)])
		pos += int(length)
	}

	return attrs, nil
}

// parseUint16 reads a little endian US value out of a raw attribute.
func parseUint16(raw string) (uint16, bool) {
	if len(raw) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16([]byte(raw)), true
}
