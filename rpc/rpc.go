package rpc

import (
	"net"
	"net/rpc"

	"github.com/wfunc/escapehub/logger"
	"github.com/wfunc/escapehub/models"
	"github.com/wfunc/escapehub/persistence"
	"github.com/wfunc/escapehub/services"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
}

// NewServer creates a new RPC server. Services are registered by the
// caller via rpc.Register before Start.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  addr,
	}, nil
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if the error is due to the listener being closed.
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// AdminService exposes operator actions over net/rpc: inspect a session,
// force a reconcile, reset one session or the whole installation. Game
// masters use these between groups without touching the database.
type AdminService struct {
	game *services.GameService
	db   persistence.Database
}

// NewAdminService creates a new AdminService.
func NewAdminService(game *services.GameService, db persistence.Database) *AdminService {
	return &AdminService{game: game, db: db}
}

type SessionArgs struct {
	SessionID int64
}

type SnapshotReply struct {
	Snapshot models.CompletionSnapshot
}

type StateReply struct {
	State models.GameCompletionState
}

type CreateSessionArgs struct {
	SessionID int64
	PIN       string
}

type GlobalResetArgs struct {
	Reason string
}

type AckReply struct {
	OK bool
}

// Snapshot returns the current completion snapshot for a session.
func (as *AdminService) Snapshot(args *SessionArgs, reply *SnapshotReply) error {
	snapshot, err := as.game.Snapshot(args.SessionID)
	if err != nil {
		return err
	}
	reply.Snapshot = snapshot
	return nil
}

// Reconcile re-derives a session's completion state from the puzzle
// chains and broadcasts the result.
func (as *AdminService) Reconcile(args *SessionArgs, reply *StateReply) error {
	state, err := as.game.Reconcile(args.SessionID)
	if err != nil {
		return err
	}
	reply.State = state
	return nil
}

// ResetSession returns one session to its initial state.
func (as *AdminService) ResetSession(args *SessionArgs, reply *StateReply) error {
	state, err := as.game.ResetSession(args.SessionID)
	if err != nil {
		return err
	}
	reply.State = state
	return nil
}

// CreateSession registers a new game session so clients can join it.
func (as *AdminService) CreateSession(args *CreateSessionArgs, reply *AckReply) error {
	if err := as.db.CreateSession(args.SessionID, args.PIN); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

// EndSession closes a session; joins against it are rejected afterwards.
func (as *AdminService) EndSession(args *SessionArgs, reply *AckReply) error {
	if err := as.db.EndSession(args.SessionID); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

// GlobalReset tells every connected client, in every session, to return
// to its start screen.
func (as *AdminService) GlobalReset(args *GlobalResetArgs, reply *AckReply) error {
	as.game.GlobalReset(args.Reason)
	reply.OK = true
	return nil
}
