package service

import (
	"time"

	"pump-control/internal/general/config"
	"pump-control/internal/general/logger"
	"pump-control/internal/ports"

	"github.com/google/uuid"
)

// Options carries the queue names and timings of the relay.
type Options struct {
	BackendRequestQueue  string
	ManagerRequestQueue  string
	ManagerResponseQueue string
	BackendResponseQueue string

	ReplyTimeout   time.Duration
	ReadinessDelay time.Duration
	Workers        int
	ReplyOnTimeout bool

	// RestartBackoff is the first delay before the listener re-subscribes after a broker failure.
	RestartBackoff time.Duration
}

// OptionsFromConfig maps the loaded configuration onto relay options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BackendRequestQueue:  cfg.Queues.BackendRequest,
		ManagerRequestQueue:  cfg.Queues.ManagerRequest,
		ManagerResponseQueue: cfg.Queues.ManagerResponse,
		BackendResponseQueue: cfg.Queues.BackendResponse,
		ReplyTimeout:         cfg.Relay.ReplyTimeout,
		ReadinessDelay:       cfg.Relay.ReadinessDelay,
		Workers:              cfg.Relay.Workers,
		ReplyOnTimeout:       cfg.Relay.ReplyOnTimeout,
		RestartBackoff:       time.Second,
	}
}

// pumpService holds all dependencies required by the relay.
type pumpService struct {
	logger    *logger.Logger
	broker    ports.Broker
	uow       ports.UnitOfWork         // nil when the journal is disabled
	exchanges ports.ExchangeRepository // nil when the journal is disabled
	observer  ports.ExchangeObserver   // nil when the monitor is disabled
	opts      Options

	now   func() time.Time
	newID func() string
}

// NewPumpService constructs the relay. uow and exchanges may both be nil to disable journaling,
// observer may be nil to disable the live feed.
func NewPumpService(
	logger *logger.Logger,
	broker ports.Broker,
	uow ports.UnitOfWork,
	exchanges ports.ExchangeRepository,
	observer ports.ExchangeObserver,
	opts Options,
) ports.PumpService {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.RestartBackoff <= 0 {
		opts.RestartBackoff = time.Second
	}

	return &pumpService{
		logger:    logger,
		broker:    broker,
		uow:       uow,
		exchanges: exchanges,
		observer:  observer,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}
