package dimse

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// DIMSE command field values and statuses.
const (
	cmdCFindRQ  = 0x0020
	cmdCFindRSP = 0x8020
	cmdCEchoRQ  = 0x0030
	cmdCEchoRSP = 0x8030

	statusSuccess        = 0x0000
	statusPending        = 0xFF00
	statusPendingWarning = 0xFF01
)

// FindRequest describes one C-FIND query: the query/retrieve level, whether
// relational semantics are required, the matching keys with their values, and
// the return keys requested with empty values.
type FindRequest struct {
	Level      string // STUDY, SERIES or IMAGE
	Relational bool
	Match      map[Tag]string
	Return     []Tag
}

// CFind performs a C-FIND against the Study Root query/retrieve model and
// returns one flat attribute set per matching entity.
func (a *Association) CFind(ctx context.Context, req FindRequest) ([]Attributes, error) {
	if !a.IsConnected() {
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
	}
	if err := a.checkContext(pcFind); err != nil {
		return nil, err
	}

	if req.Relational && !a.RelationalAccepted() {
		// Many SCPs honor relational queries without confirming the extended
		// negotiation, so this is not treated as fatal.
		log.Warn().
			Str("called_ae", a.calledAET).
			Str("level", req.Level).
			Msg("Relational query requested but not confirmed by SCP")
	}

	messageID := a.touch()
	command := encodeCommand([]element{
		stringElement(TagAffectedSOPClassUID, StudyRootFindSOPClassUID),
		uint16Element(TagCommandField, cmdCFindRQ),
		uint16Element(TagMessageID, messageID),
		uint16Element(TagPriority, 0x0000),
		uint16Element(TagCommandDataSetType, 0x0000),
	})
	identifier := encodeIdentifier(req.Level, req.Match, req.Return)

	if err := a.sendMessage(pcFind, command, identifier); err != nil {
		return nil, fmt.Errorf("failed to send C-FIND request: %w", err)
	}

	var results []Attributes
	for {
		if err := ctx.Err(); err != nil {
			a.Close()
			return nil, err
		}

		cmd, dataset, err := a.receiveMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to receive C-FIND response: %w", err)
		}

		if field, ok := parseUint16(string(cmd[TagCommandField])); !ok || field != cmdCFindRSP {
			return nil, fmt.Errorf("unexpected DIMSE command: 0x%04X", field)
		}

		status, ok := parseUint16(string(cmd[TagStatus]))
		if !ok {
			return nil, fmt.Errorf("C-FIND response without status")
		}

		switch status {
		case statusPending, statusPendingWarning:
			if len(dataset) == 0 {
				continue
			}
			attrs, err := parseDataSet(dataset)
			if err != nil {
				log.Warn().Err(err).
					Str("called_ae", a.calledAET).
					Msg("Failed to parse C-FIND result dataset")
				continue
			}
			results = append(results, attrs)
		case statusSuccess:
			return results, nil
		default:
			return nil, fmt.Errorf("C-FIND failed with status: 0x%04X", status)
		}
	}
}

// encodeCommand serializes a command set, prefixing the mandatory group
// length element.
func encodeCommand(elems []element) []byte {
	body := encodeElements(elems)

	var lenValue [4]byte
	lenValue[0] = byte(len(body))
	lenValue[1] = byte(len(body) >> 8)
	lenValue[2] = byte(len(body) >> 16)
	lenValue[3] = byte(len(body) >> 24)

	prefix := encodeElements([]element{{tag: TagCommandGroupLength, value: lenValue[:]}})
	return append(prefix, body...)
}
