package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/rpc"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/escapehub/bridge"
	"github.com/wfunc/escapehub/completion"
	"github.com/wfunc/escapehub/hub"
	"github.com/wfunc/escapehub/logger"
	"github.com/wfunc/escapehub/models"
	"github.com/wfunc/escapehub/monitor"
	"github.com/wfunc/escapehub/network"
	"github.com/wfunc/escapehub/persistence"
	escapehub_rpc "github.com/wfunc/escapehub/rpc"
	"github.com/wfunc/escapehub/services"
)

var (
	errNotJoined   = errors.New("first packet was not a join")
	errUnknownRoom = errors.New("unknown room")
)

// heartbeatInterval paces client liveness; the connection's read deadline
// is twice this, so a client silent for two intervals is dropped.
const heartbeatInterval = 30 * time.Second

type GameServer struct {
	addr         string
	upgrader     websocket.Upgrader
	game         *services.GameService
	aggregator   *completion.Aggregator
	hub          *hub.Hub
	bridge       *bridge.Bridge
	mon          *monitor.Monitor
	rpcServer    *escapehub_rpc.Server
	shutdownChan chan struct{}
}

func NewGameServer(
	addr, rpcAddr string,
	game *services.GameService,
	aggregator *completion.Aggregator,
	h *hub.Hub,
	b *bridge.Bridge,
	mon *monitor.Monitor,
	db persistence.Database,
) *GameServer {
	s := &GameServer{
		addr:         addr,
		game:         game,
		aggregator:   aggregator,
		hub:          h,
		bridge:       b,
		mon:          mon,
		shutdownChan: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}

	// 初始化RPC服务器
	rpcServer, err := escapehub_rpc.NewServer(rpcAddr)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	s.rpcServer = rpcServer

	// 注册RPC服务
	adminService := escapehub_rpc.NewAdminService(game, db)
	rpc.Register(adminService)

	return s
}

func (s *GameServer) Start() error {
	go s.rpcServer.Start()

	http.HandleFunc("/ws", s.handleWebSocket)
	http.HandleFunc("/api/completion/status", s.handleCompletionStatus)
	http.HandleFunc("/api/door-leds", s.handleDoorLeds)
	logger.Log.Infof("Game server listening on %s", s.addr)
	return http.ListenAndServe(s.addr, nil)
}

func (s *GameServer) Shutdown() {
	close(s.shutdownChan)
	s.rpcServer.Stop()
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

type joinRequest struct {
	SessionID  int64  `json:"session_id"`
	Room       string `json:"room"`
	PlayerName string `json:"player_name"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleConnection runs the per-client loop. The first packet must be a
// join naming the session and room; everything else is rejected until the
// join succeeds.
func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	defer wsConn.Close()

	logger.Log.Infof("New connection from %s", wsConn.RemoteAddr())

	// A connection that never joins is dropped on the same deadline.
	wsConn.SetHeartbeat(heartbeatInterval)
	sub, err := s.awaitJoin(wsConn)
	if err != nil {
		logger.Log.Infof("Join failed from %s: %v", wsConn.RemoteAddr(), err)
		return
	}

	if s.mon != nil {
		s.mon.IncConnectedClients()
	}
	defer func() {
		logger.Log.Infof("Connection closed from %s, subscriber %s", wsConn.RemoteAddr(), sub.ID)
		s.hub.Leave(sub.ID)
		if s.mon != nil {
			s.mon.DecConnectedClients()
		}
	}()

	wsConn.SetHeartbeat(heartbeatInterval)
	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			// Any inbound traffic re-arms the read deadline.
			wsConn.SetHeartbeat(heartbeatInterval)
			s.handlePacket(sub, packet)
		}
	}
}

// awaitJoin reads the first packet and registers the client with the hub.
// A bad join gets an error message and a closed connection.
func (s *GameServer) awaitJoin(wsConn network.Connection) (*hub.Subscriber, error) {
	packet, err := wsConn.ReadPacket()
	if err != nil {
		return nil, err
	}
	if packet.MsgID != network.MsgTypeJoinSession {
		s.sendError(wsConn, "join required before any other message")
		return nil, errNotJoined
	}

	var req joinRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(wsConn, "malformed join request")
		return nil, err
	}

	if !s.knownRoom(req.Room) {
		s.sendError(wsConn, "unknown room: "+req.Room)
		return nil, errUnknownRoom
	}
	if _, err := s.aggregator.GetOrCreate(req.SessionID); err != nil {
		s.sendError(wsConn, "session unavailable: "+err.Error())
		return nil, err
	}

	sub := s.hub.Join(req.SessionID, req.Room, req.PlayerName, wsConn)

	// The joining client gets the current snapshot immediately so it never
	// renders from a blank state.
	if snapshot, err := s.game.Snapshot(req.SessionID); err == nil {
		if data, err := json.Marshal(snapshot); err == nil {
			sub.Send(network.MsgTypeCompletionChanged, data)
		}
	}
	return sub, nil
}

func (s *GameServer) knownRoom(room string) bool {
	for _, r := range s.aggregator.Rooms() {
		if r == room {
			return true
		}
	}
	return false
}

func (s *GameServer) handlePacket(sub *hub.Subscriber, packet *network.Packet) {
	start := time.Now()
	if s.mon != nil {
		s.mon.IncMessagesReceived()
		defer func() { s.mon.ObserveMessageLatency(time.Since(start)) }()
	}

	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		// liveness only; the read loop already re-armed the deadline
	case network.MsgTypeLeaveSession:
		s.hub.Leave(sub.ID)
	case network.MsgTypePuzzleAction:
		s.handlePuzzleAction(sub, packet)
	case network.MsgTypeLockRequest:
		s.handleLockRequest(sub, packet)
	case network.MsgTypeLockRelease:
		s.handleLockRelease(sub, packet)
	case network.MsgTypeCompletionQuery:
		s.handleCompletionQuery(sub)
	case network.MsgTypeReconcile:
		s.handleReconcile(sub)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
}

type puzzleActionRequest struct {
	Step string `json:"step"`
}

func (s *GameServer) handlePuzzleAction(sub *hub.Subscriber, packet *network.Packet) {
	var req puzzleActionRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendSubError(sub, "malformed puzzle action")
		return
	}

	if err := s.game.CompleteStep(sub.SessionID, sub.Room, req.Step); err != nil {
		s.sendSubError(sub, err.Error())
	}
}

type lockRequest struct {
	ResourceID string `json:"resource_id"`
}

func (s *GameServer) handleLockRequest(sub *hub.Subscriber, packet *network.Packet) {
	var req lockRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendSubError(sub, "malformed lock request")
		return
	}

	result := s.game.AcquireLock(sub.SessionID, sub.Room, req.ResourceID, sub.DisplayName, sub.ID)
	event := models.LockEvent{ResourceID: req.ResourceID, Holder: result.Holder}
	data, _ := json.Marshal(event)
	if result.Granted {
		sub.Send(network.MsgTypeLockGranted, data)
	} else {
		sub.Send(network.MsgTypeLockDenied, data)
	}
}

func (s *GameServer) handleLockRelease(sub *hub.Subscriber, packet *network.Packet) {
	var req lockRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendSubError(sub, "malformed lock release")
		return
	}
	s.game.ReleaseLock(sub.SessionID, sub.Room, req.ResourceID, sub.DisplayName)
}

func (s *GameServer) handleCompletionQuery(sub *hub.Subscriber) {
	snapshot, err := s.game.Snapshot(sub.SessionID)
	if err != nil {
		s.sendSubError(sub, err.Error())
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	sub.Send(network.MsgTypeCompletionChanged, data)
}

func (s *GameServer) handleReconcile(sub *hub.Subscriber) {
	if _, err := s.game.Reconcile(sub.SessionID); err != nil {
		s.sendSubError(sub, err.Error())
	}
}

func (s *GameServer) sendSubError(sub *hub.Subscriber, msg string) {
	data, _ := json.Marshal(errorResponse{Error: msg})
	sub.Send(network.MsgTypeError, data)
}

func (s *GameServer) sendError(conn network.Connection, msg string) {
	data, _ := json.Marshal(errorResponse{Error: msg})
	conn.Send(network.MsgTypeError, data)
}

// handleCompletionStatus serves the polling endpoint for devices that
// cannot hold a WebSocket connection. Plain JSON booleans, one per room
// plus the overall flag.
func (s *GameServer) handleCompletionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	flags, err := s.bridge.StatusFlags(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, flags)
}

// handleDoorLeds serves the LED color per room door. Controllers treat
// all-red as the safe rendering, so any failure answers red for every
// room instead of an error status.
func (s *GameServer) handleDoorLeds(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	leds, err := s.aggregator.GetDoorLedStates(sessionID)
	if err != nil {
		logger.Log.Warnf("door led query failed (session %d): %v", sessionID, err)
		leds = make(map[string]models.LedColor, len(s.aggregator.Rooms()))
		for _, room := range s.aggregator.Rooms() {
			leds[room] = models.LedRed
		}
	}
	writeJSON(w, leds)
}

func parseSessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	sessionID, err := strconv.ParseInt(r.URL.Query().Get("session_id"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid session_id", http.StatusBadRequest)
		return 0, false
	}
	return sessionID, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
