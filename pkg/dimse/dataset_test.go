package dimse

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeIdentifierRoundTrip(t *testing.T) {
	data := encodeIdentifier("STUDY",
		map[Tag]string{TagPatientID: "P1"},
		[]Tag{TagStudyInstanceUID, TagPatientName},
	)

	attrs, err := parseDataSet(data)
	require.NoError(t, err)

	assert.Equal(t, "STUDY", attrs.GetString(TagQueryRetrieveLevel))
	assert.Equal(t, "P1", attrs.GetString(TagPatientID))

	// Return keys come back as present, zero-length attributes.
	_, ok := attrs[TagStudyInstanceUID]
	assert.True(t, ok)
	_, ok = attrs[TagPatientName]
	assert.True(t, ok)
}

func TestEncodeIdentifierSkipsMatchedReturnKeys(t *testing.T) {
	data := encodeIdentifier("SERIES",
		map[Tag]string{TagStudyInstanceUID: "1.2.3"},
		[]Tag{TagStudyInstanceUID, TagSeriesInstanceUID},
	)

	attrs, err := parseDataSet(data)
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", attrs.GetString(TagStudyInstanceUID))
}

func TestEncodeElementsEvenPadding(t *testing.T) {
	data := encodeElements([]element{stringElement(TagPatientID, "P12")})

	// 8 byte header plus the value padded to even length.
	require.Len(t, data, 12)
	assert.Equal(t, byte(' '), data[11])

	data = encodeElements([]element{stringElement(TagStudyInstanceUID, "1.2.3")})
	require.Len(t, data, 14)
	assert.Equal(t, byte(0x00), data[13])
}

func TestEncodeElementsSortsByTag(t *testing.T) {
	data := encodeElements([]element{
		stringElement(TagStudyInstanceUID, "1.2.3.40"),
		stringElement(TagPatientID, "P1"),
	})

	group := binary.LittleEndian.Uint16(data[0:])
	elem := binary.LittleEndian.Uint16(data[2:])
	first := Tag(uint32(group)<<16 | uint32(elem))

	assert.Equal(t, TagPatientID, first)
}

func TestParseDataSetTruncated(t *testing.T) {
	data := encodeElements([]element{stringElement(TagPatientID, "P1")})

	_, err := parseDataSet(data[:len(data)-1])
	assert.Error(t, err)
}

func TestParseDataSetUndefinedLength(t *testing.T) {
	var data []byte
	data = binary.LittleEndian.AppendUint16(data, TagPatientID.Group())
	data = binary.LittleEndian.AppendUint16(data, TagPatientID.Element())
	data = binary.LittleEndian.AppendUint32(data, 0xFFFFFFFF)

	_, err := parseDataSet(data)
	assert.Error(t, err)
}

func TestGetStringTrimsPadding(t *testing.T) {
	attrs := Attributes{TagPatientName: "DOE^JOHN ", TagStudyInstanceUID: "1.2.3\x00"}

	assert.Equal(t, "DOE^JOHN", attrs.GetString(TagPatientName))
	assert.Equal(t, "1.2.3", attrs.GetString(TagStudyInstanceUID))
}

func TestGetInt(t *testing.T) {
	attrs := Attributes{TagSeriesNumber: "3 ", TagInstanceNumber: "x"}

	n, ok := attrs.GetInt(TagSeriesNumber)
	require.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = attrs.GetInt(TagInstanceNumber)
	assert.False(t, ok)
}

func TestParseUint16(t *testing.T) {
	raw := string(binary.LittleEndian.AppendUint16(nil, 0xFF00))

	v, ok := parseUint16(raw)
	require.True(t, ok)
	assert.Equal(t, uint16(0xFF00), v)

	_, ok = parseUint16("")
	assert.False(t, ok)
}
