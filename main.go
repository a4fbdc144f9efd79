package main

import (
	"errors"

	"github.com/wfunc/escapehub/bridge"
	"github.com/wfunc/escapehub/completion"
	"github.com/wfunc/escapehub/config"
	"github.com/wfunc/escapehub/hub"
	"github.com/wfunc/escapehub/lock"
	"github.com/wfunc/escapehub/logger"
	"github.com/wfunc/escapehub/models"
	"github.com/wfunc/escapehub/monitor"
	"github.com/wfunc/escapehub/persistence"
	"github.com/wfunc/escapehub/puzzle"
	"github.com/wfunc/escapehub/server"
	"github.com/wfunc/escapehub/services"
	"github.com/wfunc/escapehub/timer"
)

// sessionStore adapts the database to the aggregator's session check.
type sessionStore struct {
	db persistence.Database
}

func (s sessionStore) Exists(sessionID int64) (bool, error) {
	return s.db.SessionExists(sessionID)
}

// stateLoader adapts the database to the aggregator's restart-recovery
// loader: a missing row means a fresh session, not an error.
type stateLoader struct {
	db persistence.Database
}

func (l stateLoader) LoadCompletionState(sessionID int64) (models.GameCompletionState, bool, error) {
	state, err := l.db.LoadCompletionState(sessionID)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return models.GameCompletionState{}, false, nil
	}
	if err != nil {
		return models.GameCompletionState{}, false, err
	}
	return state, true, nil
}

func main() {
	// Initialize logger
	logger.Init()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database
	var db persistence.Database
	switch cfg.Database.Driver {
	case "raw":
		db, err = persistence.NewPostgreSQL(
			cfg.Database.Postgres.Host,
			cfg.Database.Postgres.Port,
			cfg.Database.Postgres.User,
			cfg.Database.Postgres.Password,
			cfg.Database.Postgres.DBName,
		)
	default:
		db, err = persistence.NewGormPostgreSQL(
			cfg.Database.Postgres.Host,
			cfg.Database.Postgres.Port,
			cfg.Database.Postgres.User,
			cfg.Database.Postgres.Password,
			cfg.Database.Postgres.DBName,
		)
	}
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Log.Info("Database connection successful.")

	// Puzzle chains, restricted to the configured rooms.
	definitions := make([]puzzle.Definition, 0, len(cfg.Game.Rooms))
	for _, def := range puzzle.DefaultDefinitions() {
		for _, room := range cfg.Game.Rooms {
			if def.Room == room {
				definitions = append(definitions, def)
			}
		}
	}
	chains := puzzle.NewManager(definitions)

	// Completion aggregator with one ground-truth provider per room.
	aggregator := completion.NewAggregator(cfg.Game.Rooms, sessionStore{db: db})
	aggregator.SetLoader(stateLoader{db: db})
	for _, room := range cfg.Game.Rooms {
		aggregator.RegisterProvider(room, chains.Provider(room))
	}

	// Interaction locks share one timer wheel for their TTLs.
	timers := timer.NewManager()
	defer timers.Stop()
	locks := lock.NewManager(cfg.Game.LockTTL(), timers)

	// Broadcast hub and hardware bridge.
	h := hub.NewHub()
	publisher := bridge.NewMQTTPublisher(
		cfg.MQTT.BrokerHost,
		cfg.MQTT.BrokerPort,
		cfg.MQTT.ClientID,
		cfg.MQTT.Timeout(),
	)
	defer publisher.Close()
	b := bridge.NewBridge(publisher, aggregator, cfg.MQTT.TopicPrefix, cfg.Game.Rooms)

	// Metrics endpoint.
	mon := monitor.NewMonitor("escapehub")
	mon.StartServer(cfg.Server.MonitorAddress)

	game := services.NewGameService(aggregator, chains, locks, h, b, db, mon)

	// Start Server
	gameServer := server.NewGameServer(cfg.Server.HTTPAddress, cfg.Server.RPCAddress, game, aggregator, h, b, mon, db)
	logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}
