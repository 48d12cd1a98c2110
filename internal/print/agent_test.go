package print

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/griffd12/cloud-pos-sub004/internal/config"
)

// scriptConn is an in-memory control channel: the test pushes inbound
// frames and observes what the agent writes back.
type scriptConn struct {
	in  chan []byte
	out chan Message

	closeOnce sync.Once
	closed    chan struct{}
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		in:     make(chan []byte, 16),
		out:    make(chan Message, 16),
		closed: make(chan struct{}),
	}
}

func (c *scriptConn) ReadMessage() (int, []byte, error) {
	select {
	case raw := <-c.in:
		return 1, raw, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *scriptConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.out <- v.(Message)
	return nil
}

func (c *scriptConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptConn) push(t *testing.T, msg Message) {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	c.in <- raw
}

func (c *scriptConn) expect(t *testing.T, msgType string) Message {
	t.Helper()
	select {
	case msg := <-c.out:
		if msg.Type != msgType {
			t.Fatalf("expected %s frame, got %s (%+v)", msgType, msg.Type, msg)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s frame", msgType)
		return Message{}
	}
}

type capturedDelivery struct {
	addr    string
	payload []byte
}

func newTestAgent(deliveries chan capturedDelivery, deliverErr error) *Agent {
	cfg := config.PrintConfig{
		ControlURL:        "ws://cloud/print",
		AgentToken:        "tok",
		AgentID:           "agent-1",
		HeartbeatInterval: time.Hour, // out of the way for these tests
		DeliveryTimeout:   time.Second,
		Printers: []config.PrinterConfig{
			{Name: "front", Address: "192.168.1.21:9100"},
			{Name: "bar", Address: "192.168.1.22:9100"},
		},
		DefaultPrinter: "front",
	}
	a := NewAgent(cfg, nil, zerolog.Nop())
	a.deliver = func(addr string, payload []byte, _ time.Duration) error {
		if deliverErr != nil {
			return deliverErr
		}
		deliveries <- capturedDelivery{addr: addr, payload: payload}
		return nil
	}
	return a
}

func runSession(t *testing.T, a *Agent, conn *scriptConn) (done chan struct{}, authed *bool) {
	t.Helper()
	done = make(chan struct{})
	authed = new(bool)
	go func() {
		ok, _ := a.session(context.Background(), conn)
		*authed = ok
		close(done)
	}()
	return done, authed
}

func TestSession_HelloThenAuthOK(t *testing.T) {
	conn := newScriptConn()
	a := newTestAgent(make(chan capturedDelivery, 1), nil)
	done, authed := runSession(t, a, conn)

	hello := conn.expect(t, MsgHello)
	if hello.Token != "tok" || hello.AgentID != "agent-1" {
		t.Fatalf("hello credentials wrong: %+v", hello)
	}
	conn.push(t, Message{Type: MsgAuthOK, AgentName: "WS-1", PropertyID: "p1"})

	// Give the state machine a beat, then verify.
	deadline := time.Now().Add(time.Second)
	for a.State() != StateAuthenticated {
		if time.Now().After(deadline) {
			t.Fatalf("state never reached authenticated, got %s", a.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	<-done
	if !*authed {
		t.Fatalf("session must report successful auth")
	}
}

func TestSession_AuthFail(t *testing.T) {
	conn := newScriptConn()
	a := newTestAgent(make(chan capturedDelivery, 1), nil)
	done, authed := runSession(t, a, conn)

	conn.expect(t, MsgHello)
	conn.push(t, Message{Type: MsgAuthFail, Message: "bad token"})

	<-done
	if *authed {
		t.Fatalf("rejected auth must not count as authenticated")
	}
}

func TestSession_JobDelivered(t *testing.T) {
	conn := newScriptConn()
	deliveries := make(chan capturedDelivery, 1)
	a := newTestAgent(deliveries, nil)
	done, _ := runSession(t, a, conn)

	conn.expect(t, MsgHello)
	conn.push(t, Message{Type: MsgAuthOK})

	payload := []byte{0x1B, 0x40, 'h', 'i'}
	conn.push(t, Message{
		Type:      MsgJob,
		JobID:     "j1",
		PrinterIP: "10.0.0.5",
		Data:      base64.StdEncoding.EncodeToString(payload),
	})

	ack := conn.expect(t, MsgAck)
	if ack.JobID != "j1" {
		t.Fatalf("ack for wrong job: %+v", ack)
	}
	doneMsg := conn.expect(t, MsgDone)
	if doneMsg.JobID != "j1" {
		t.Fatalf("done for wrong job: %+v", doneMsg)
	}

	d := <-deliveries
	if d.addr != "10.0.0.5:9100" {
		t.Fatalf("explicit IP must default to port 9100, got %s", d.addr)
	}
	if !bytes.Equal(d.payload, payload) {
		t.Fatalf("payload mangled: %v", d.payload)
	}

	conn.Close()
	<-done
}

func TestSession_JobByPrinterName(t *testing.T) {
	conn := newScriptConn()
	deliveries := make(chan capturedDelivery, 1)
	a := newTestAgent(deliveries, nil)
	done, _ := runSession(t, a, conn)

	conn.expect(t, MsgHello)
	conn.push(t, Message{Type: MsgAuthOK})
	conn.push(t, Message{
		Type:      MsgJob,
		JobID:     "j2",
		PrinterID: "bar",
		Data:      base64.StdEncoding.EncodeToString([]byte{0x1B}),
	})

	conn.expect(t, MsgAck)
	conn.expect(t, MsgDone)
	if d := <-deliveries; d.addr != "192.168.1.22:9100" {
		t.Fatalf("named printer resolution wrong: %s", d.addr)
	}

	conn.Close()
	<-done
}

func TestSession_JobDeliveryFailureReportsError(t *testing.T) {
	conn := newScriptConn()
	a := newTestAgent(make(chan capturedDelivery, 1), errors.New("connection refused"))
	done, _ := runSession(t, a, conn)

	conn.expect(t, MsgHello)
	conn.push(t, Message{Type: MsgAuthOK})
	conn.push(t, Message{
		Type:  MsgJob,
		JobID: "j3",
		Data:  base64.StdEncoding.EncodeToString([]byte{0x1B}),
	})

	conn.expect(t, MsgAck)
	errMsg := conn.expect(t, MsgError)
	if errMsg.JobID != "j3" || errMsg.Error == "" {
		t.Fatalf("error report wrong: %+v", errMsg)
	}

	conn.Close()
	<-done
}

func TestSession_DrawerKickUsesWorkstationPrinter(t *testing.T) {
	conn := newScriptConn()
	deliveries := make(chan capturedDelivery, 1)
	a := newTestAgent(deliveries, nil)
	done, _ := runSession(t, a, conn)

	conn.expect(t, MsgHello)
	conn.push(t, Message{Type: MsgAuthOK})
	conn.push(t, Message{Type: MsgDrawerKick, KickID: "k1", Pin: PinDrawer1, PulseDuration: 200})

	kickDone := conn.expect(t, MsgKickDone)
	if kickDone.KickID != "k1" {
		t.Fatalf("kick ack wrong: %+v", kickDone)
	}
	d := <-deliveries
	if d.addr != "192.168.1.21:9100" {
		t.Fatalf("kick must target the workstation's own printer, got %s", d.addr)
	}
	if !bytes.Equal(d.payload, []byte{0x1B, 0x70, 0x00, 100, 100}) {
		t.Fatalf("kick bytes wrong: %v", d.payload)
	}

	conn.Close()
	<-done
}

func TestSession_UnknownPinReportsKickError(t *testing.T) {
	conn := newScriptConn()
	a := newTestAgent(make(chan capturedDelivery, 1), nil)
	done, _ := runSession(t, a, conn)

	conn.expect(t, MsgHello)
	conn.push(t, Message{Type: MsgAuthOK})
	conn.push(t, Message{Type: MsgDrawerKick, KickID: "k2", Pin: "pin9", PulseDuration: 200})

	kickErr := conn.expect(t, MsgKickError)
	if kickErr.KickID != "k2" || kickErr.Error == "" {
		t.Fatalf("kick error report wrong: %+v", kickErr)
	}

	conn.Close()
	<-done
}

func TestSession_MalformedFrameIsDroppedNotFatal(t *testing.T) {
	conn := newScriptConn()
	deliveries := make(chan capturedDelivery, 1)
	a := newTestAgent(deliveries, nil)
	done, _ := runSession(t, a, conn)

	conn.expect(t, MsgHello)
	conn.push(t, Message{Type: MsgAuthOK})

	conn.in <- []byte(`{not json`)

	// The connection must survive the bad frame and keep serving jobs.
	conn.push(t, Message{
		Type:  MsgJob,
		JobID: "j4",
		Data:  base64.StdEncoding.EncodeToString([]byte{0x1B}),
	})
	conn.expect(t, MsgAck)
	conn.expect(t, MsgDone)

	conn.Close()
	<-done
}

func TestResolveTarget(t *testing.T) {
	a := newTestAgent(make(chan capturedDelivery, 1), nil)

	if addr, err := a.resolveTarget("10.0.0.9", "", 9101, false); err != nil || addr != "10.0.0.9:9101" {
		t.Fatalf("explicit ip+port: %s err=%v", addr, err)
	}
	if addr, err := a.resolveTarget("", "bar", 0, false); err != nil || addr != "192.168.1.22:9100" {
		t.Fatalf("named: %s err=%v", addr, err)
	}
	if _, err := a.resolveTarget("", "kitchen", 0, false); !errors.Is(err, ErrNoPrinter) {
		t.Fatalf("unknown name must fail: %v", err)
	}
	// A job with no target falls back to the first configured printer,
	// a kick to the workstation's default device.
	if addr, _ := a.resolveTarget("", "", 0, false); addr != "192.168.1.21:9100" {
		t.Fatalf("job fallback wrong: %s", addr)
	}
	if addr, _ := a.resolveTarget("", "", 0, true); addr != "192.168.1.21:9100" {
		t.Fatalf("kick fallback wrong: %s", addr)
	}

	a.cfg.DefaultPrinter = ""
	if _, err := a.resolveTarget("", "", 0, true); !errors.Is(err, ErrNoPrinter) {
		t.Fatalf("kick without workstation printer must fail: %v", err)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	a := newTestAgent(make(chan capturedDelivery, 1), nil)
	a.dial = func(ctx context.Context, url string) (controlConn, error) {
		return nil, errors.New("dial refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
	if a.State() != StateDisconnected {
		t.Fatalf("expected disconnected after stop, got %s", a.State())
	}
}
