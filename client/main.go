package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	MsgTypeJoinSession     = 101
	MsgTypePuzzleAction    = 201
	MsgTypeLockRequest     = 202
	MsgTypeLockRelease     = 203
	MsgTypeCompletionQuery = 301
	MsgTypeReconcile       = 302
)

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, data []byte) error {
	packet := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint16(packet[2:4], uint16(len(data)))
	copy(packet[4:], data)

	return c.WriteMessage(websocket.BinaryMessage, packet)
}

func sendJSON(c *websocket.Conn, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return send(c, msgID, data)
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	sessionID := flag.Int64("session", 1, "session id to join")
	room := flag.String("room", "kitchen", "room to join")
	name := flag.String("name", "tester", "player name")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			if len(message) < 4 {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			msgID := binary.BigEndian.Uint16(message[0:2])
			data := message[4:]
			log.Printf("<- RECV (ID: %d): %s", msgID, string(data))
		}
	}()

	// Join first; every other message is rejected until this succeeds.
	log.Printf("Joining session %d as %q in room %q...", *sessionID, *name, *room)
	join := map[string]interface{}{
		"session_id":  *sessionID,
		"room":        *room,
		"player_name": *name,
	}
	if err := sendJSON(c, MsgTypeJoinSession, join); err != nil {
		log.Println("Write error:", err)
		return
	}

	log.Println("Commands: step <name> | lock <resource> | release <resource> | state | reconcile")

	// Write loop
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		default:
			text, _ := reader.ReadString('\n')
			fields := strings.Fields(text)
			if len(fields) == 0 {
				continue
			}

			var err error
			switch fields[0] {
			case "step":
				if len(fields) < 2 {
					log.Println("usage: step <name>")
					continue
				}
				err = sendJSON(c, MsgTypePuzzleAction, map[string]string{"step": fields[1]})
			case "lock":
				if len(fields) < 2 {
					log.Println("usage: lock <resource>")
					continue
				}
				err = sendJSON(c, MsgTypeLockRequest, map[string]string{"resource_id": fields[1]})
			case "release":
				if len(fields) < 2 {
					log.Println("usage: release <resource>")
					continue
				}
				err = sendJSON(c, MsgTypeLockRelease, map[string]string{"resource_id": fields[1]})
			case "state":
				err = send(c, MsgTypeCompletionQuery, []byte{})
			case "reconcile":
				err = send(c, MsgTypeReconcile, []byte{})
			default:
				log.Printf("unknown command %q", fields[0])
				continue
			}
			if err != nil {
				log.Println("Write error:", err)
				return
			}
			log.Printf("-> SENT: %s", fields[0])
		}
	}
}
