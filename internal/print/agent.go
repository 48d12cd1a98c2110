package print

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/griffd12/cloud-pos-sub004/internal/config"
	"github.com/griffd12/cloud-pos-sub004/internal/store"
)

// ConnState tracks the control-channel lifecycle.
type ConnState int32

// Control-channel states, in connection order.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
)

// String returns the lowercase state name for logs and the health endpoint.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

const defaultPrinterPort = 9100

// controlConn is the slice of *websocket.Conn the agent uses. Frames are
// read raw so one malformed frame can be dropped without tearing down the
// connection.
type controlConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens the control channel. The default wraps gorilla's dialer;
// tests substitute an in-memory pipe.
type Dialer func(ctx context.Context, url string) (controlConn, error)

func dialWebsocket(ctx context.Context, url string) (controlConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Agent maintains the websocket control channel to the cloud print
// service: it authenticates, receives print jobs and drawer kicks,
// delivers them to printers over raw TCP, and reports back per job.
//
// Reconnects back off exponentially, min(1000 * 2^n, 30000) ms. The
// attempt counter resets only on successful authentication; a socket
// that connects but fails auth keeps climbing the curve.
type Agent struct {
	cfg     config.PrintConfig
	store   store.Store
	deliver Deliverer
	dial    Dialer
	log     zerolog.Logger

	state atomic.Int32

	// gorilla permits one concurrent writer; the read loop's replies and
	// the heartbeat goroutine share the socket.
	writeMu sync.Mutex
}

// NewAgent builds an Agent with real websocket dialing and TCP delivery.
func NewAgent(cfg config.PrintConfig, st store.Store, log zerolog.Logger) *Agent {
	return &Agent{
		cfg:     cfg,
		store:   st,
		deliver: DeliverTCP,
		dial:    dialWebsocket,
		log:     log.With().Str("component", "print-agent").Logger(),
	}
}

// State returns the current control-channel state.
func (a *Agent) State() ConnState {
	return ConnState(a.state.Load())
}

func (a *Agent) setState(s ConnState) {
	a.state.Store(int32(s))
	stateGauge.Set(float64(s))
}

// Run drives the connect/authenticate/read loop until ctx is cancelled.
// It never returns an error: connectivity failures are the expected case
// and are absorbed by the backoff.
func (a *Agent) Run(ctx context.Context) {
	if a.cfg.ControlURL == "" {
		a.log.Info().Msg("control channel disabled: no PRINT_CONTROL_URL")
		return
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			a.setState(StateDisconnected)
			return
		}

		a.setState(StateConnecting)
		conn, err := a.dial(ctx, a.cfg.ControlURL)
		if err != nil {
			a.setState(StateDisconnected)
			reconnectsTotal.Inc()
			delay := ReconnectDelay(attempt)
			a.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).
				Msg("control channel dial failed")
			attempt++
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		a.setState(StateConnected)
		authed, err := a.session(ctx, conn)
		conn.Close()
		a.setState(StateDisconnected)

		if authed {
			attempt = 0
		} else {
			attempt++
		}
		if ctx.Err() != nil {
			return
		}

		reconnectsTotal.Inc()
		delay := ReconnectDelay(attempt)
		a.log.Warn().Err(err).Bool("authenticated", authed).Dur("retry_in", delay).
			Msg("control channel closed")
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// session authenticates and then serves frames until the connection dies.
// The returned bool reports whether authentication succeeded.
func (a *Agent) session(ctx context.Context, conn controlConn) (bool, error) {
	a.setState(StateAuthenticating)
	hello := Message{
		Type:    MsgHello,
		Token:   a.cfg.AgentToken,
		AgentID: a.cfg.AgentID,
	}
	if err := a.send(conn, hello); err != nil {
		return false, fmt.Errorf("send hello: %w", err)
	}

	reply, err := a.readFrame(conn)
	if err != nil {
		return false, fmt.Errorf("read auth reply: %w", err)
	}
	switch reply.Type {
	case MsgAuthOK:
		a.setState(StateAuthenticated)
		a.log.Info().Str("agent_name", reply.AgentName).Str("property_id", reply.PropertyID).
			Msg("control channel authenticated")
	case MsgAuthFail:
		return false, fmt.Errorf("authentication rejected: %s", reply.Message)
	default:
		return false, fmt.Errorf("unexpected auth reply type %q", reply.Type)
	}

	// Heartbeat runs for the life of this session only.
	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.heartbeatLoop(hbCtx, conn)

	for {
		msg, err := a.readFrame(conn)
		if err != nil {
			var bad errMalformed
			if errors.As(err, &bad) {
				// Drop the frame, keep the connection.
				a.log.Warn().Err(err).Msg("dropping malformed control frame")
				continue
			}
			return true, err
		}
		switch msg.Type {
		case MsgJob:
			go a.handleJob(ctx, conn, msg)
		case MsgDrawerKick:
			go a.handleKick(ctx, conn, msg)
		case MsgHeartbeatAck:
			// Liveness confirmation, nothing to do.
		default:
			a.log.Warn().Str("type", msg.Type).Msg("dropping unknown control frame")
		}
	}
}

// errMalformed marks a frame that failed to decode, as opposed to a
// transport error that ends the session.
type errMalformed struct{ err error }

func (e errMalformed) Error() string { return "malformed frame: " + e.err.Error() }
func (e errMalformed) Unwrap() error { return e.err }

func (a *Agent) readFrame(conn controlConn) (Message, error) {
	var msg Message
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, errMalformed{err}
	}
	return msg, nil
}

func (a *Agent) send(conn controlConn, msg Message) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// handleJob acknowledges, resolves the target printer, decodes the
// payload, and delivers. Exactly one of DONE or ERROR is sent back.
func (a *Agent) handleJob(ctx context.Context, conn controlConn, msg Message) {
	log := a.log.With().Str("job_id", msg.JobID).Logger()
	if err := a.send(conn, Message{Type: MsgAck, JobID: msg.JobID}); err != nil {
		log.Warn().Err(err).Msg("job ack failed")
		return
	}

	err := a.printJob(msg)
	if err != nil {
		jobsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("print job failed")
		if serr := a.send(conn, Message{Type: MsgError, JobID: msg.JobID, Error: err.Error()}); serr != nil {
			log.Warn().Err(serr).Msg("job error report failed")
		}
		return
	}
	jobsTotal.WithLabelValues("done").Inc()
	log.Info().Msg("print job delivered")
	if serr := a.send(conn, Message{Type: MsgDone, JobID: msg.JobID}); serr != nil {
		log.Warn().Err(serr).Msg("job done report failed")
	}
}

func (a *Agent) printJob(msg Message) error {
	addr, err := a.resolveTarget(msg.PrinterIP, msg.PrinterID, msg.PrinterPort, false)
	if err != nil {
		return err
	}
	payload, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("empty job payload")
	}
	return a.deliver(addr, payload, a.cfg.DeliveryTimeout)
}

// handleKick builds the drawer-kick command and delivers it to the
// workstation's own device. Kicks are never broadcast.
func (a *Agent) handleKick(ctx context.Context, conn controlConn, msg Message) {
	log := a.log.With().Str("kick_id", msg.KickID).Str("pin", msg.Pin).Logger()

	err := a.kickDrawer(msg)
	if err != nil {
		kicksTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("drawer kick failed")
		if serr := a.send(conn, Message{Type: MsgKickError, KickID: msg.KickID, Error: err.Error()}); serr != nil {
			log.Warn().Err(serr).Msg("kick error report failed")
		}
		return
	}
	kicksTotal.WithLabelValues("done").Inc()
	log.Info().Msg("drawer kicked")
	if serr := a.send(conn, Message{Type: MsgKickDone, KickID: msg.KickID}); serr != nil {
		log.Warn().Err(serr).Msg("kick done report failed")
	}
}

func (a *Agent) kickDrawer(msg Message) error {
	cmd, err := KickCommand(msg.Pin, msg.PulseDuration)
	if err != nil {
		return err
	}
	addr, err := a.resolveTarget(msg.PrinterIP, msg.PrinterID, 0, true)
	if err != nil {
		return err
	}
	return a.deliver(addr, cmd, a.cfg.DeliveryTimeout)
}

// resolveTarget picks the delivery address: an explicit IP wins, then a
// configured printer by name. Jobs without either fall through to the
// first configured printer; kicks fall through to the workstation's
// default device instead, because a cash drawer hangs off one specific
// printer.
func (a *Agent) resolveTarget(ip, name string, port int, kick bool) (string, error) {
	if ip != "" {
		if port <= 0 {
			port = defaultPrinterPort
		}
		return net.JoinHostPort(ip, strconv.Itoa(port)), nil
	}
	if name != "" {
		if addr, ok := a.printerByName(name); ok {
			return addr, nil
		}
		return "", fmt.Errorf("%w: printer %q not configured", ErrNoPrinter, name)
	}
	if kick {
		if a.cfg.DefaultPrinter == "" {
			return "", fmt.Errorf("%w: no workstation printer for drawer kick", ErrNoPrinter)
		}
		if addr, ok := a.printerByName(a.cfg.DefaultPrinter); ok {
			return addr, nil
		}
		return "", fmt.Errorf("%w: default printer %q not configured", ErrNoPrinter, a.cfg.DefaultPrinter)
	}
	if len(a.cfg.Printers) > 0 {
		return a.cfg.Printers[0].Address, nil
	}
	return "", ErrNoPrinter
}

func (a *Agent) printerByName(name string) (string, bool) {
	for _, p := range a.cfg.Printers {
		if p.Name == name {
			return p.Address, true
		}
	}
	return "", false
}

// heartbeatLoop periodically reports the printer inventory and the local
// queue depth while the session lasts.
func (a *Agent) heartbeatLoop(ctx context.Context, conn controlConn) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.send(conn, a.heartbeat(ctx)); err != nil {
				a.log.Warn().Err(err).Msg("heartbeat send failed")
				return
			}
		}
	}
}

func (a *Agent) heartbeat(ctx context.Context) Message {
	printers := make([]PrinterStatus, 0, len(a.cfg.Printers))
	for _, p := range a.cfg.Printers {
		printers = append(printers, PrinterStatus{Name: p.Name, Address: p.Address})
	}
	pending := 0
	if a.store != nil {
		if jobs, err := a.store.ListPendingPrintJobs(ctx, 0); err == nil {
			pending = len(jobs)
		}
	}
	return Message{
		Type:             MsgHeartbeat,
		AgentID:          a.cfg.AgentID,
		Timestamp:        time.Now().UnixMilli(),
		Printers:         printers,
		PendingLocalJobs: pending,
	}
}

// sleepCtx waits for d or until ctx is done; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
