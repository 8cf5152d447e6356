package server

import (
	"context"
	"sync"

	"github.com/pingcap-incubator/txqueue/kv/config"
	"github.com/pingcap-incubator/txqueue/kv/queue"
	"github.com/pingcap-incubator/txqueue/kv/security"
	"github.com/pingcap-incubator/txqueue/kv/storage"
	"github.com/pingcap-incubator/txqueue/kv/storage/standalone_storage"
	"github.com/pingcap-incubator/txqueue/kv/transaction"
	"github.com/pingcap-incubator/txqueue/kv/transaction/latches"
	"github.com/pingcap-incubator/txqueue/kv/transaction/manager"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Server ties the transaction manager and the queue store to one storage. Producers and consumers handed out by the
// server share its latches, so queue counters and FIFO claims are serialized process wide.
type Server struct {
	conf     *config.Config
	storage  storage.Storage
	manager  *manager.Manager
	store    *queue.Store
	latches  *latches.Latches
	enforcer *security.Enforcer
	janitor  *Janitor

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewStorage returns the storage engine selected by conf. It is not started.
func NewStorage(conf *config.Config) storage.Storage {
	if conf.Engine == config.EngineMem {
		return storage.NewMemStorage()
	}
	return standalone_storage.NewStandAloneStorage(conf)
}

// NewServer recovers the transaction manager from st, which must be started. Write path authorization is enabled
// when pm is set or conf names a remote privileges service.
func NewServer(ctx context.Context, conf *config.Config, st storage.Storage, pm security.PrivilegesManager) (*Server, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	m, err := manager.NewManager(ctx, manager.OptionsFromConfig(conf), manager.NewStorageStateStore(st))
	if err != nil {
		return nil, err
	}
	if pm == nil && conf.Auth.PrivilegesAddr != "" {
		pm = security.NewRemotePrivilegesManager(conf.Auth.PrivilegesAddr, conf.Auth.RequestTimeout.Duration)
	}
	s := &Server{
		conf:    conf,
		storage: st,
		manager: m,
		store:   queue.NewStore(st, conf.GCRateLimit),
		latches: latches.NewLatches(),
	}
	if pm != nil {
		cacheSize := conf.Auth.CacheSize
		if cacheSize <= 0 {
			cacheSize = config.NewDefaultConfig().Auth.CacheSize
		}
		if s.enforcer, err = security.NewEnforcer(pm, cacheSize, conf.Auth.CacheTTL.Duration); err != nil {
			return nil, err
		}
	}
	s.janitor = NewJanitor(m, s.store, conf.Txn.JanitorInterval.Duration)
	return s, nil
}

// Start runs the janitor in the background.
func (s *Server) Start() {
	s.janitor.Start(&s.wg)
	log.Info("server started", zap.String("engine", s.conf.Engine), zap.Bool("authorization", s.enforcer != nil))
}

// Stop stops the janitor, waits for it and stops the storage.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.janitor.Stop()
		s.wg.Wait()
		err = s.storage.Stop()
		log.Info("server stopped")
	})
	return err
}

func (s *Server) Manager() *manager.Manager {
	return s.manager
}

func (s *Server) Store() *queue.Store {
	return s.store
}

func (s *Server) Janitor() *Janitor {
	return s.janitor
}

func (s *Server) Enforcer() *security.Enforcer {
	return s.enforcer
}

// NewTxContext returns a transaction context over the server's manager.
func (s *Server) NewTxContext(participants ...transaction.TxAware) *transaction.TxContext {
	return transaction.NewTxContext(s.manager, participants...)
}

// NewProducer returns a producer for q after checking that principal may write to it.
func (s *Server) NewProducer(ctx context.Context, principal security.Principal, q queue.QueueName) (*queue.Producer, error) {
	if err := s.authorize(ctx, principal, q, security.ActionWrite); err != nil {
		return nil, err
	}
	return queue.NewProducer(s.store, s.latches, q), nil
}

// NewConsumer returns a consumer for q after checking that principal may read from it.
func (s *Server) NewConsumer(ctx context.Context, principal security.Principal, q queue.QueueName, cfg *queue.ConsumerConfig) (*queue.Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, principal, q, security.ActionRead); err != nil {
		return nil, err
	}
	return queue.NewConsumer(s.store, s.latches, q, cfg, s.conf.DequeueBatch), nil
}

func (s *Server) authorize(ctx context.Context, principal security.Principal, q queue.QueueName, action security.Action) error {
	if s.enforcer == nil {
		return nil
	}
	return s.enforcer.Enforce(ctx, principal, q.String(), action)
}
