// Package print – raw-socket byte delivery.
//
// One short-lived TCP connection per job or kick, closed after the write
// completes or times out. No pooling: print targets sit on a local,
// low-latency network and concurrency across printers is independent.
package print

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNoPrinter is returned when a job's target cannot be resolved to any
// configured device.
var ErrNoPrinter = errors.New("no printer resolved for job")

// Deliverer writes one payload to one printer address. Narrowed to a
// function type so the agent and queue worker can be tested without
// sockets.
type Deliverer func(addr string, payload []byte, timeout time.Duration) error

// DeliverTCP dials addr, writes the payload, and closes. The timeout
// bounds connect and write together; a printer that accepts the
// connection but stalls mid-write still fails the job instead of
// wedging the agent.
func DeliverTCP(addr string, payload []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("printer connect %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("printer deadline %s: %w", addr, err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("printer write %s: %w", addr, err)
	}
	return nil
}
