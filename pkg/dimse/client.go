package dimse

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SOP class UIDs negotiated by the association.
const (
	StudyRootFindSOPClassUID = "1.2.840.10008.5.1.4.1.2.2.1"
	VerificationSOPClassUID  = "1.2.840.10008.1.1"

	implicitVRLittleEndian = "1.2.840.10008.1.2"
	applicationContextUID  = "1.2.840.10008.3.1.1.1"

	implementationClassUID = "1.2.826.0.1.3680043.9.7433.2.1"
	implementationVersion  = "MANIFEST_CONN_1"
	defaultMaxPDULength    = 16384
	defaultTimeout         = 30 * time.Second
)

// Presentation context ids proposed in the A-ASSOCIATE-RQ. Odd by protocol.
const (
	pcFind byte = 1
	pcEcho byte = 3
)

// Association represents one DICOM association to a remote application
// entity. It is not safe for concurrent DIMSE operations; the pool hands an
// association to one caller at a time.
type Association struct {
	conn         net.Conn
	callingAET   string
	calledAET    string
	host         string
	port         int
	maxPDULength uint32
	timeout      time.Duration

	mu                 sync.Mutex
	isConnected        bool
	lastUsed           time.Time
	acceptedContexts   map[byte]bool
	relationalAccepted bool
	nextMessageID      uint16
}

// AssociationConfig holds configuration for DICOM associations
type AssociationConfig struct {
	Host         string
	Port         int
	CallingAET   string
	CalledAET    string
	Timeout      time.Duration
	MaxPDULength uint32
}

// NewAssociation creates a new DICOM association
func NewAssociation(config AssociationConfig) *Association {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxPDULength == 0 {
		config.MaxPDULength = defaultMaxPDULength
	}

	return &Association{
		callingAET:   config.CallingAET,
		calledAET:    config.CalledAET,
		host:         config.Host,
		port:         config.Port,
		maxPDULength: config.MaxPDULength,
		timeout:      config.Timeout,
	}
}

// Connect establishes the association: TCP dial, A-ASSOCIATE-RQ, and
// negotiation of the presentation contexts.
func (a *Association) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isConnected {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", a.host, a.port)
	dialer := &net.Dialer{Timeout: a.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	a.conn = conn
	a.isConnected = true
	a.lastUsed = time.Now()
	a.nextMessageID = 1

	if err := a.writePDU(0x01, a.buildAssociateRequest()); err != nil {
		a.closeLocked()
		return fmt.Errorf("failed to send associate request: %w", err)
	}

	if err := a.receiveAssociateResponse(); err != nil {
		a.closeLocked()
		return fmt.Errorf("association with %s failed: %w", a.calledAET, err)
	}

	log.Debug().
		Str("remote", addr).
		Str("called_ae", a.calledAET).
		Bool("relational", a.relationalAccepted).
		Msg("DICOM association established")

	return nil
}

// Close releases and closes the association.
func (a *Association) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *Association) closeLocked() error {
	if !a.isConnected {
		return nil
	}

	// A-RELEASE-RQ; best effort, the socket closes either way.
	if err := a.writePDU(0x05, []byte{0x00, 0x00, 0x00, 0x00}); err != nil {
		log.Debug().Err(err).Msg("Failed to send release request")
	}

	a.isConnected = false
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

// IsConnected checks if the association is still active
func (a *Association) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isConnected
}

// RelationalAccepted reports whether the SCP confirmed relational query
// support during extended negotiation.
func (a *Association) RelationalAccepted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.relationalAccepted
}

// LastUsed returns when the association last carried a DIMSE message.
func (a *Association) LastUsed() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUsed
}

func (a *Association) touch() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastUsed = time.Now()
	id := a.nextMessageID
	a.nextMessageID++
	return id
}

// writePDU frames and sends one PDU.
func (a *Association) writePDU(pduType byte, data []byte) error {
	if err := a.conn.SetWriteDeadline(time.Now().Add(a.timeout)); err != nil {
		return err
	}

	header := make([]byte, 6)
	header[0] = pduType
	binary.BigEndian.PutUint32(header[2:], uint32(len(data)))

	if _, err := a.conn.Write(append(header, data...)); err != nil {
		return err
	}
	return nil
}

// readPDU reads one PDU, returning its type and payload.
func (a *Association) readPDU() (byte, []byte, error) {
	if err := a.conn.SetReadDeadline(time.Now().Add(a.timeout)); err != nil {
		return 0, nil, err
	}

	header := make([]byte, 6)
	if _, err := io.ReadFull(a.conn, header); err != nil {
		return 0, nil, fmt.Errorf("failed to read PDU header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[2:])
	data := make([]byte, length)
	if _, err := io.ReadFull(a.conn, data); err != nil {
		return 0, nil, fmt.Errorf("failed to read PDU data: %w", err)
	}

	return header[0], data, nil
}

// receiveAssociateResponse reads the A-ASSOCIATE-AC and records which
// presentation contexts were accepted.
func (a *Association) receiveAssociateResponse() error {
	pduType, data, err := a.readPDU()
	if err != nil {
		return err
	}

	switch pduType {
	case 0x02: // A-ASSOCIATE-AC
	case 0x03:
		return fmt.Errorf("A-ASSOCIATE-RJ received")
	case 0x07:
		return fmt.Errorf("A-ABORT received")
	default:
		return fmt.Errorf("unexpected PDU type: 0x%02x", pduType)
	}

	// Fixed part: version(2) + reserved(2) + called(16) + calling(16) + reserved(32).
	if len(data) < 68 {
		return fmt.Errorf("short A-ASSOCIATE-AC: %d bytes", len(data))
	}

	a.acceptedContexts = make(map[byte]bool)

	pos := 68
	for pos+4 <= len(data) {
		itemType := data[pos]
		itemLen := int(binary.BigEndian.Uint16(data[pos+2:]))
		if pos+4+itemLen > len(data) {
			return fmt.Errorf("truncated item 0x%02x in A-ASSOCIATE-AC", itemType)
		}
		item := data[pos+4 : pos+4+itemLen]
		pos += 4 + itemLen

		switch itemType {
		case 0x21: // presentation context result
			if len(item) < 4 {
				continue
			}
			pcID, result := item[0], item[2]
			if result == 0x00 {
				a.acceptedContexts[pcID] = true
			}
		case 0x50: // user information
			a.parseUserInformation(item)
		}
	}

	if len(a.acceptedContexts) == 0 {
		return fmt.Errorf("no presentation context accepted")
	}
	return nil
}

func (a *Association) parseUserInformation(data []byte) {
	pos := 0
	for pos+4 <= len(data) {
		itemType := data[pos]
		itemLen := int(binary.BigEndian.Uint16(data[pos+2:]))
		if pos+4+itemLen > len(data) {
			return
		}
		item := data[pos+4 : pos+4+itemLen]
		pos += 4 + itemLen

		// SOP class extended negotiation response: relational support flag.
		if itemType == 0x56 && len(item) >= 2 {
			uidLen := int(binary.BigEndian.Uint16(item[:2]))
			if len(item) > 2+uidLen && string(item[2:2+uidLen]) == StudyRootFindSOPClassUID {
				a.relationalAccepted = item[2+uidLen] == 0x01
			}
		}
	}
}

// checkContext verifies that the SCP accepted the presentation context.
func (a *Association) checkContext(pcID byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.acceptedContexts[pcID] {
		return fmt.Errorf("presentation context %d not accepted by %s", pcID, a.calledAET)
	}
	return nil
}

// sendMessage writes a DIMSE message (command set plus optional data set) as
// P-DATA-TF PDVs on the given presentation context.
func (a *Association) sendMessage(pcID byte, command, dataset []byte) error {
	pdu := appendPDV(nil, pcID, 0x03, command)
	if dataset != nil {
		pdu = appendPDV(pdu, pcID, 0x02, dataset)
	}
	return a.writePDU(0x04, pdu)
}

func appendPDV(buf []byte, pcID, controlHeader byte, fragment []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(fragment)+2))
	buf = append(buf, pcID, controlHeader)
	return append(buf, fragment...)
}

// receiveMessage assembles one DIMSE message from P-DATA-TF PDVs: the parsed
// command set and the raw data set bytes, if any.
func (a *Association) receiveMessage() (Attributes, []byte, error) {
	var command, dataset []byte
	commandDone := false

	for {
		pduType, data, err := a.readPDU()
		if err != nil {
			return nil, nil, err
		}
		if pduType == 0x07 {
			return nil, nil, fmt.Errorf("A-ABORT received")
		}
		if pduType != 0x04 {
			return nil, nil, fmt.Errorf("unexpected PDU type: 0x%02x", pduType)
		}

		pos := 0
		for pos+6 <= len(data) {
			pdvLen := int(binary.BigEndian.Uint32(data[pos:]))
			if pdvLen < 2 || pos+4+pdvLen > len(data) {
				return nil, nil, fmt.Errorf("malformed PDV at offset %d", pos)
			}
			control := data[pos+5]
			fragment := data[pos+6 : pos+4+pdvLen]
			pos += 4 + pdvLen

			if control&0x01 != 0 {
				command = append(command, fragment...)
				if control&0x02 != 0 {
					commandDone = true
				}
			} else {
				dataset = append(dataset, fragment...)
				if control&0x02 != 0 && commandDone {
					cmd, err := parseDataSet(command)
					return cmd, dataset, err
				}
			}
		}

		if commandDone && len(dataset) == 0 {
			cmd, err := parseDataSet(command)
			if err != nil {
				return nil, nil, err
			}
			// Null data set type means the message carries no identifier;
			// otherwise the identifier travels in a following PDU.
			if dsType, ok := parseUint16(string(cmd[TagCommandDataSetType])); ok && dsType == 0x0101 {
				return cmd, nil, nil
			}
		}
	}
}

// buildAssociateRequest builds the A-ASSOCIATE-RQ payload.
func (a *Association) buildAssociateRequest() []byte {
	var pdu []byte

	// Protocol version + reserved.
	pdu = append(pdu, 0x00, 0x01, 0x00, 0x00)
	pdu = append(pdu, padAET(a.calledAET)...)
	pdu = append(pdu, padAET(a.callingAET)...)
	pdu = append(pdu, make([]byte, 32)...)

	pdu = append(pdu, buildItem(0x10, []byte(applicationContextUID))...)
	pdu = append(pdu, a.buildPresentationContext(pcFind, StudyRootFindSOPClassUID)...)
	pdu = append(pdu, a.buildPresentationContext(pcEcho, VerificationSOPClassUID)...)
	pdu = append(pdu, a.buildUserInformation()...)

	return pdu
}

// buildPresentationContext proposes one presentation context offering only
// implicit VR little endian.
func (a *Association) buildPresentationContext(id byte, sopClass string) []byte {
	var body []byte
	body = append(body, id, 0x00, 0x00, 0x00)
	body = append(body, buildItem(0x30, []byte(sopClass))...)
	body = append(body, buildItem(0x40, []byte(implicitVRLittleEndian))...)
	return buildItem(0x20, body)
}

// buildUserInformation builds the user information item: max PDU length,
// implementation identification, and relational-query extended negotiation
// for the find SOP class.
func (a *Association) buildUserInformation() []byte {
	var body []byte

	maxLen := binary.BigEndian.AppendUint32(nil, a.maxPDULength)
	body = append(body, buildItem(0x51, maxLen)...)
	body = append(body, buildItem(0x52, []byte(implementationClassUID))...)
	body = append(body, buildItem(0x55, []byte(implementationVersion))...)

	var extNeg []byte
	extNeg = binary.BigEndian.AppendUint16(extNeg, uint16(len(StudyRootFindSOPClassUID)))
	extNeg = append(extNeg, []byte(StudyRootFindSOPClassUID)...)
	extNeg = append(extNeg, 0x01) // relational queries supported
	body = append(body, buildItem(0x56, extNeg)...)

	return buildItem(0x50, body)
}

func buildItem(itemType byte, body []byte) []byte {
	item := []byte{itemType, 0x00}
	item = binary.BigEndian.AppendUint16(item, uint16(len(body)))
	return append(item, body...)
}

// padAET pads AE Title to 16 bytes with spaces
func padAET(aet string) []byte {
	result := make([]byte, 16)
	for i := range result {
		result[i] = ' '
	}
	copy(result, aet)
	return result
}
