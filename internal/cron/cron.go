package cron

import (
	"context"
	"os"
	"sync"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/customeros/exchangestack/interfaces"
	cron_config "github.com/customeros/exchangestack/internal/cron/config"
	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/tracing"
)

// GroupExchange serializes jobs touching exchange accounts
const GroupExchange = "exchange"

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupExchange: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg      *cron_config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	stopCh   chan struct{}
	jobIDs   map[string]cronv3.EntryID
	exchange interfaces.ExchangeService
}

func NewCronManager(cfg *cron_config.Config, log logger.Logger, exchange interfaces.ExchangeService) *CronManager {
	if cfg == nil {
		cfg = &cron_config.Config{}
	}
	return &CronManager{
		cfg:      cfg,
		log:      log,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
		exchange: exchange,
	}
}

// Start initializes and starts the cron scheduler. Accounts are connected
// per process, so every process runs its own jobs.
func (cm *CronManager) Start() {
	cm.log.Info("Starting cron manager")
	// Create a new cron with seconds field enabled and panic recovery
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	if err := cm.registerJobs(c); err != nil {
		cm.log.Fatalf("Could not register cron jobs: %v", err)
	}
	c.Start()
	cm.cron = c
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) error {
	if cm.cfg.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		if err := cm.addJob(c, "heartbeat", cm.cfg.CronScheduleHeartbeat, func() {
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		}); err != nil {
			return err
		}
	}

	if cm.cfg.CronScheduleResyncAccounts != "" {
		if err := cm.addJob(c, "resync_accounts", cm.cfg.CronScheduleResyncAccounts, func() {
			jobLocks.locks[GroupExchange].Lock()
			defer jobLocks.locks[GroupExchange].Unlock()
			cm.resyncAccounts()
		}); err != nil {
			return err
		}
	}

	if cm.cfg.CronScheduleAccountStatus != "" {
		if err := cm.addJob(c, "account_status", cm.cfg.CronScheduleAccountStatus, cm.reportAccountStatus); err != nil {
			return err
		}
	}
	return nil
}

func (cm *CronManager) addJob(c *cronv3.Cron, name, schedule string, job func()) error {
	id, err := c.AddFunc(schedule, func() {
		defer tracing.RecoverAndLogToJaeger(cm.log)
		job()
	})
	if err != nil {
		return err
	}
	cm.jobIDs[name] = id
	cm.log.Infof("Registered %s job with schedule: %s", name, schedule)
	return nil
}

func (cm *CronManager) resyncAccounts() {
	if cm.exchange == nil {
		return
	}
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.resyncAccounts")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	if err := cm.exchange.ResyncAll(ctx); err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to resync exchange accounts: %v", err)
		return
	}
	cm.log.Debug("Completed exchange account resync")
}

// reportAccountStatus logs accounts that need attention.
func (cm *CronManager) reportAccountStatus() {
	if cm.exchange == nil {
		return
	}
	counts := make(map[enum.ConnectionStatus]int)
	for id, status := range cm.exchange.Status() {
		counts[status.Status]++
		switch status.Status {
		case enum.ConnectionLoginRequired:
			cm.log.Warnf("[%s] account is waiting for an interactive login", id)
		case enum.ConnectionFailed:
			cm.log.Warnf("[%s] account connection failed: %s", id, status.LastError)
		}
	}
	cm.log.Infof("Exchange accounts: %d active, %d login required, %d failed, %d pending",
		counts[enum.ConnectionActive], counts[enum.ConnectionLoginRequired],
		counts[enum.ConnectionFailed], counts[enum.ConnectionPending])
}
