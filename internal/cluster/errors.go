package cluster

import (
	"errors"
	"fmt"

	"github.com/topiclens/topiclens/internal/kafka"
	"github.com/topiclens/topiclens/internal/zookeeper"
)

var (
	// ErrNotConnected reports an operation on a connection with no live
	// bundle. Handle() fails fast with this instead of dialing implicitly.
	ErrNotConnected = errors.New("cluster: not connected")

	// ErrAlreadyConnecting reports a second connect while one is in flight.
	ErrAlreadyConnecting = errors.New("cluster: connect already in progress")

	// ErrAuthenticationFailed covers bad or undecryptable credentials.
	ErrAuthenticationFailed = errors.New("cluster: authentication failed")

	// ErrTransportUnreachable covers dial failures before authentication.
	ErrTransportUnreachable = errors.New("cluster: transport unreachable")

	// ErrBusy reports that the connection is being edited or removed while
	// a live bundle or in-flight connect exists.
	ErrBusy = errors.New("cluster: connection busy")
)

// NotFoundError reports an unknown connection ID.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cluster: connection %d not found", e.ID)
}

// IsNotFound reports whether err is a connection NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// classifyDialError maps adapter dial failures onto the registry's error
// taxonomy, keeping the underlying detail in the message.
func classifyDialError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kafka.ErrUnreachable), errors.Is(err, zookeeper.ErrUnreachable):
		return fmt.Errorf("%w: %v", ErrTransportUnreachable, err)
	case errors.Is(err, ErrAuthenticationFailed):
		return err
	default:
		return err
	}
}
