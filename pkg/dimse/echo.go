package dimse

import (
	"context"
	"fmt"
)

// CEcho performs a C-ECHO operation (DICOM ping)
func (a *Association) CEcho(ctx context.Context) error {
	if !a.IsConnected() {
		if err := a.Connect(ctx); err != nil {
			return err
		}
	}
	if err := a.checkContext(pcEcho); err != nil {
		return err
	}

	messageID := a.touch()
	command := encodeCommand([]element{
		stringElement(TagAffectedSOPClassUID, VerificationSOPClassUID),
		uint16Element(TagCommandField, cmdCEchoRQ),
		uint16Element(TagMessageID, messageID),
		uint16Element(TagCommandDataSetType, 0x0101),
	})

	if err := a.sendMessage(pcEcho, command, nil); err != nil {
		return fmt.Errorf("failed to send C-ECHO request: %w", err)
	}

	cmd, _, err := a.receiveMessage()
	if err != nil {
		return fmt.Errorf("failed to receive C-ECHO response: %w", err)
	}

	if field, ok := parseUint16(string(cmd[TagCommandField])); !ok || field != cmdCEchoRSP {
		return fmt.Errorf("unexpected DIMSE command: 0x%04X", field)
	}

	status, ok := parseUint16(string(cmd[TagStatus]))
	if !ok || status != statusSuccess {
		return fmt.Errorf("C-ECHO failed with status: 0x%04X", status)
	}

	return nil
}
