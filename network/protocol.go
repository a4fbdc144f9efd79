package network

const (
	MsgTypeHeartbeat = 1

	// client -> server
	MsgTypeJoinSession     = 101
	MsgTypeLeaveSession    = 102
	MsgTypePuzzleAction    = 201
	MsgTypeLockRequest     = 202
	MsgTypeLockRelease     = 203
	MsgTypeCompletionQuery = 301
	MsgTypeReconcile       = 302

	// server -> client
	MsgTypePlayerJoined       = 401
	MsgTypePlayerLeft         = 402
	MsgTypePuzzleStateChanged = 403
	MsgTypeCompletionChanged  = 404
	MsgTypeLockGranted        = 405
	MsgTypeLockDenied         = 406
	MsgTypeLocked             = 407
	MsgTypeUnlocked           = 408
	MsgTypeGameReset          = 409
	MsgTypeError              = 410
)
