package stomp

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/user/quill"
)

// fakeBroker accepts one connection, replies CONNECTED with the given
// heart-beat header, then replies RECEIPT to every SEND frame it sees,
// echoing back the observed receipt id. It stops once the connection
// closes.
func fakeBroker(t *testing.T, ln net.Listener, heartbeat string, sendCount *int) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)

		if _, err := readFrame(r); err != nil { // CONNECT
			return
		}
		fmt.Fprintf(conn, "CONNECTED\nversion:1.1\nheart-beat:%s\n\n\x00", heartbeat)

		for {
			frame, err := readFrame(r)
			if err != nil {
				return
			}
			lines := strings.Split(frame, "\n")
			if lines[0] != "SEND" {
				continue
			}
			var receiptID string
			for _, l := range lines[1:] {
				if strings.HasPrefix(l, "receipt:") {
					receiptID = strings.TrimPrefix(l, "receipt:")
				}
			}
			*sendCount++
			fmt.Fprintf(conn, "RECEIPT\nreceipt-id:%s\n\n\x00", receiptID)
		}
	}()
}

// readFrame reads bytes up to the next NUL terminator, skipping leading
// heartbeat newlines, mirroring the production reader's framing.
func readFrame(r *bufio.Reader) (string, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			continue
		}
		if err := r.UnreadByte(); err != nil {
			return "", err
		}
		break
	}
	s, err := r.ReadString(0)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}

func listen(t *testing.T) (net.Listener, string, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return ln, host, uint16(port)
}

func TestHappyPathPublishesAndConfirms(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()
	var sendCount int
	fakeBroker(t, ln, "0,0", &sendCount)

	sink, err := New("quill-test", fmt.Sprintf("stomp://%s:%d/LOG", host, port))
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	for i := 0; i < 5; i++ {
		deadline := time.Now().Add(3 * time.Second)
		var ok bool
		for time.Now().Before(deadline) {
			ok = sink.Write(quill.Event{Level: quill.Info, Message: "hello", Time: time.Now()})
			if ok {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		if !ok {
			t.Fatalf("event %d: Write never succeeded", i)
		}
	}

	if sendCount != 5 {
		t.Errorf("expected 5 SEND frames observed, got %d", sendCount)
	}
}

func TestWriteBelowMinLevelNeverConnects(t *testing.T) {
	sink, err := New("quill-test", "stomp://127.0.0.1:1/LOG")
	if err != nil {
		t.Fatal(err)
	}
	sink.SetMinLevel(quill.Warning)

	ok := sink.Write(quill.Event{Level: quill.Info, Message: "should be filtered", Time: time.Now()})
	if !ok {
		t.Fatal("Write of a below-threshold event should report success")
	}
	if sink.connectedForTest() {
		t.Error("expected connect to never run for a filtered event")
	}
}

func TestHeartbeatLossTriggersReconnect(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		if _, err := readFrame(r); err != nil {
			return
		}
		fmt.Fprintf(conn, "CONNECTED\nversion:1.1\nheart-beat:50,0\n\n\x00")
		// then go silent forever: no more frames, no heartbeats.
		time.Sleep(5 * time.Second)
	}()

	sink, err := New("quill-test", fmt.Sprintf("stomp://%s:%d/LOG", host, port))
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.connectedForTest() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !sink.connectedForTest() {
		t.Fatal("sink never reached connected state")
	}

	// heartbeat interval is 50ms, so the reader's 1.5x timeout (75ms)
	// should fire well within this window.
	time.Sleep(300 * time.Millisecond)
	if sink.connectedForTest() {
		t.Fatal("expected sink to have disconnected after heartbeat loss")
	}

	if sink.Write(quill.Event{Level: quill.Info, Message: "after loss", Time: time.Now()}) {
		t.Fatal("expected Write to return false immediately after heartbeat loss (reconnecting)")
	}
}
