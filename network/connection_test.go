package network

import (
	"bytes"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newTestPair upgrades an in-process websocket and returns the server side
// wrapped in a WSConnection plus the raw client side.
func newTestPair(t *testing.T) (*WSConnection, *websocket.Conn) {
	upgrader := websocket.Upgrader{}
	serverConns := make(chan *WSConnection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		serverConns <- NewWSConnection(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	server := <-serverConns
	t.Cleanup(func() { server.Close() })
	return server, client
}

func frame(msgID uint16, data []byte) []byte {
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(buf[0:2], msgID)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(data)))
	copy(buf[4:], data)
	return buf
}

func TestWSConnection_RoundTrip(t *testing.T) {
	server, client := newTestPair(t)

	if err := client.WriteMessage(websocket.BinaryMessage, frame(MsgTypePuzzleAction, []byte(`{"step":"stove"}`))); err != nil {
		t.Fatalf("Client write failed: %v", err)
	}

	packet, err := server.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if packet.MsgID != MsgTypePuzzleAction {
		t.Errorf("Expected msg id %d, got %d", MsgTypePuzzleAction, packet.MsgID)
	}
	if string(packet.Data) != `{"step":"stove"}` {
		t.Errorf("Unexpected payload %q", packet.Data)
	}

	if err := server.Send(MsgTypeCompletionChanged, []byte(`{}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	_, message, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("Client read failed: %v", err)
	}
	if !bytes.Equal(message, frame(MsgTypeCompletionChanged, []byte(`{}`))) {
		t.Errorf("Unexpected frame %v", message)
	}
}

func TestWSConnection_HeartbeatTimesOutSilentClient(t *testing.T) {
	server, _ := newTestPair(t)
	server.SetHeartbeat(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := server.ReadPacket()
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Expected a read error for a silent client")
		}
	case <-time.After(time.Second):
		t.Fatal("Silent client was never timed out")
	}
}

func TestWSConnection_HeartbeatRearms(t *testing.T) {
	server, client := newTestPair(t)
	server.SetHeartbeat(40 * time.Millisecond)

	// Traffic inside the deadline keeps the connection alive well past the
	// original deadline as long as the caller re-arms it.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		if err := client.WriteMessage(websocket.BinaryMessage, frame(MsgTypeHeartbeat, nil)); err != nil {
			t.Fatalf("Client write failed: %v", err)
		}
		if _, err := server.ReadPacket(); err != nil {
			t.Fatalf("ReadPacket failed on round %d: %v", i, err)
		}
		server.SetHeartbeat(40 * time.Millisecond)
	}
}
