package flora

import (
	"fmt"

	"github.com/srg/miflora/internal/protocol"
)

// ModeSwitchError reports that the mode characteristic did not read back
// the command just written. It is a protocol failure and is never retried.
type ModeSwitchError struct {
	Command  protocol.ModeCommand
	Written  []byte
	Readback []byte
}

func (e *ModeSwitchError) Error() string {
	return fmt.Sprintf("mode switch %s failed: wrote %x, read back %x", e.Command, e.Written, e.Readback)
}
