package channel

import (
	"fmt"

	"storyindex/internal/core/errors"
)

func errMissingArg(event string, i int) error {
	return errors.NewChannelProtocolWarning(fmt.Sprintf("%s: missing argument %d", event, i))
}

// ErrClosed is returned when sending on a closed transport.
var ErrClosed = errors.New(errors.CodeChannelProtocol, "transport closed")
