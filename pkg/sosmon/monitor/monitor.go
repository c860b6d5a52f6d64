// Package monitor runs one complete disk check: it takes the run lock,
// resolves the site, checks the web front end, refreshes the disk
// inventory, measures every disk, remediates low ones, writes the usage
// report and mails whatever warnings the run produced.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/afero"

	"github.com/jamesainslie/sosmon/pkg/sosmon/config"
	"github.com/jamesainslie/sosmon/pkg/sosmon/disks"
	"github.com/jamesainslie/sosmon/pkg/sosmon/history"
	"github.com/jamesainslie/sosmon/pkg/sosmon/inventory"
	"github.com/jamesainslie/sosmon/pkg/sosmon/journal"
	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
	"github.com/jamesainslie/sosmon/pkg/sosmon/notify"
	"github.com/jamesainslie/sosmon/pkg/sosmon/remediate"
	"github.com/jamesainslie/sosmon/pkg/sosmon/report"
	"github.com/jamesainslie/sosmon/pkg/sosmon/runlock"
	"github.com/jamesainslie/sosmon/pkg/sosmon/services"
	"github.com/jamesainslie/sosmon/pkg/sosmon/shell"
	"github.com/jamesainslie/sosmon/pkg/sosmon/site"
	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
	"github.com/jamesainslie/sosmon/pkg/sosmon/usage"
	"github.com/jamesainslie/sosmon/pkg/sosmon/webstatus"
)

// Exit codes returned by Run.
const (
	ExitOK    = 0
	ExitAlert = 1
)

// Stages a run can fail in.
const (
	StageLock      = "lock"
	StageSite      = "site"
	StageWeb       = "web"
	StageInventory = "inventory"
	StageUsage     = "usage"
	StageReport    = "report"
)

// WebChecker verifies that a site URL answers.
type WebChecker interface {
	Check(ctx context.Context, url string) error
}

// Notifier delivers the alert email.
type Notifier interface {
	Send(ctx context.Context, subject string, lines []string) error
}

// Options are the per-run switches from the command line.
type Options struct {
	// RefreshInventory rebuilds the disk inventory even when it is fresh.
	RefreshInventory bool

	// RefreshSite re-derives the site snapshot.
	RefreshSite bool

	// Resize allows low disks to be grown by the configured amount.
	Resize bool

	// TestMode runs against the test site instead of the host's site.
	TestMode bool

	NoEmail    bool
	NoWebCheck bool
}

// Result summarizes a run.
type Result struct {
	ExitCode    int
	Site        string
	FailedStage string
	Err         error

	Records  []types.DiskRecord
	Low      []types.DiskRecord
	Outcomes []remediate.Outcome
	Alerts   []logging.Alert

	InventoryRebuilt bool
	EmailSent        bool
}

// Monitor holds the configuration and collaborators of a run.
type Monitor struct {
	cfg *config.Config

	fs       afero.Fs
	exec     shell.Executor
	clock    clock.Clock
	statter  usage.Statter
	web      WebChecker
	notifier Notifier
	history  *history.Store
	journal  *journal.Journal

	openHistory func() (*history.Store, error)
	openJournal func() (*journal.Journal, error)

	hostSite     func() (string, error)
	evalSymlinks func(string) (string, error)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithFS sets the filesystem holding the data directory.
func WithFS(fs afero.Fs) Option {
	return func(m *Monitor) { m.fs = fs }
}

// WithExecutor sets how the SOS tools are run.
func WithExecutor(e shell.Executor) Option {
	return func(m *Monitor) { m.exec = e }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithStatter sets how disks are measured.
func WithStatter(s usage.Statter) Option {
	return func(m *Monitor) { m.statter = s }
}

// WithWebChecker replaces the HTTP status check.
func WithWebChecker(w WebChecker) Option {
	return func(m *Monitor) { m.web = w }
}

// WithNotifier replaces the SMTP mailer.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithHistory records every run's measurements in s.
func WithHistory(s *history.Store) Option {
	return func(m *Monitor) { m.history = s }
}

// WithJournal writes an entry for every run to j.
func WithJournal(j *journal.Journal) Option {
	return func(m *Monitor) { m.journal = j }
}

// WithHistoryOpener opens the history store once the run holds the lock
// and closes it before Run returns. A store set with WithHistory wins.
func WithHistoryOpener(open func() (*history.Store, error)) Option {
	return func(m *Monitor) { m.openHistory = open }
}

// WithJournalOpener opens the run journal once the run holds the lock.
// A journal set with WithJournal wins.
func WithJournalOpener(open func() (*journal.Journal, error)) Option {
	return func(m *Monitor) { m.openJournal = open }
}

// WithHostSite sets how the site code of this host is determined.
func WithHostSite(f func() (string, error)) Option {
	return func(m *Monitor) { m.hostSite = f }
}

// WithEvalSymlinks sets how the servers link is resolved.
func WithEvalSymlinks(f func(string) (string, error)) Option {
	return func(m *Monitor) { m.evalSymlinks = f }
}

// New returns a Monitor for cfg. Without options it works against the
// real filesystem, tools, clock and mail relay.
func New(cfg *config.Config, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:   cfg,
		fs:    afero.NewOsFs(),
		exec:  shell.NewRunner(),
		clock: clock.WallClock,
		web: &webstatus.Checker{
			Client:  &http.Client{},
			Timeout: cfg.Timeouts.Web,
		},
		hostSite: hostSiteCode,
	}
	if cfg.Email.Enabled {
		m.notifier = &notify.Mailer{
			Addr:     cfg.Email.SMTPAddr,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			StartTLS: cfg.Email.StartTLS,
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	if mailer, ok := m.notifier.(*notify.Mailer); ok && mailer.Clock == nil {
		mailer.Clock = m.clock
	}
	return m
}

func hostSiteCode() (string, error) {
	fqdn, err := site.HostFQDN()
	if err != nil {
		return "", err
	}
	return site.SiteCode(fqdn)
}

// SiteCode returns the site this run works on.
func (m *Monitor) SiteCode(testMode bool) (string, error) {
	if testMode {
		return site.TestSiteCode, nil
	}
	return m.hostSite()
}

// Site loads the saved site snapshot for code, deriving it when missing
// or when refresh is set.
func (m *Monitor) Site(ctx context.Context, code string, refresh bool) (site.Context, error) {
	d := &site.Deriver{
		Exec:              m.exec,
		Sosmgr:            m.cfg.Commands.Sosmgr,
		Timeout:           m.cfg.Timeouts.Command,
		CliosoftDir:       m.cfg.Cliosoft.Dir,
		ServersLink:       m.cfg.Cliosoft.ServersLink,
		DefaultServersDir: m.cfg.Cliosoft.DefaultServersDir,
		EvalSymlinks:      m.evalSymlinks,
	}
	return site.LoadOrDerive(ctx, m.fs, m.cfg.SnapshotPath(code), d, code, refresh)
}

// Inventory returns the inventory cache of sc, wired to enumerate
// services and resolve their disks when it has to be rebuilt.
func (m *Monitor) Inventory(sc site.Context) (*inventory.Cache, error) {
	normalizer, err := disks.NewNormalizer(m.cfg.Inventory.NormalizePattern, m.cfg.Inventory.NormalizeReplacement)
	if err != nil {
		return nil, err
	}

	env := sc.Env()
	enum := &services.Enumerator{
		Exec:           m.exec,
		Sosadmin:       m.cfg.Commands.Sosadmin,
		Timeout:        m.cfg.Timeouts.Command,
		Env:            env,
		FS:             m.fs,
		ExclusionsFile: m.cfg.ExcludedServicesPath(),
	}

	resolverOpts := []disks.Option{
		disks.WithDepth(m.cfg.Inventory.Depth),
		disks.WithMarker(m.cfg.Inventory.Marker),
		disks.WithNormalizer(normalizer),
	}
	if m.cfg.Inventory.CheckExists {
		resolverOpts = append(resolverOpts, disks.WithExistenceCheck(m.fs))
	}
	resolver := disks.NewResolver(m.exec, m.cfg.Commands.Sosmgr, sc.ServerRole, resolverOpts...)
	resolver.Timeout = m.cfg.Timeouts.Command
	resolver.Env = env

	generate := func(ctx context.Context) ([]string, error) {
		svcs, err := enum.List(ctx)
		if err != nil {
			return nil, err
		}
		return resolver.Resolve(ctx, svcs)
	}

	return inventory.New(m.fs, m.cfg.InventoryPath(sc.Code()), generate,
		inventory.WithClock(m.clock),
		inventory.WithMaxAge(m.cfg.Inventory.MaxAge),
	), nil
}

// Evaluate measures disks against the configured threshold.
func (m *Monitor) Evaluate(ctx context.Context, paths []string) (all, low []types.DiskRecord, err error) {
	return usage.NewEvaluator(m.statter).Evaluate(ctx, paths, m.cfg.ThresholdGB)
}

// Controller returns the resize controller for sc that files requests
// against the stod cell.
func (m *Monitor) Controller(sc site.Context, cell string) *remediate.Controller {
	return &remediate.Controller{
		Exec:         m.exec,
		Stod:         m.cfg.Commands.Stod,
		Stodstatus:   m.cfg.Commands.Stodstatus,
		Cell:         cell,
		LookbackDays: m.cfg.ResizeLookbackDays,
		Timeout:      m.cfg.Timeouts.Resize,
		Env:          sc.Env(),
	}
}

// resizeCell returns the stod cell for resizes on site code. Test runs
// look at the test site's disks but stod only knows the host's cell.
func (m *Monitor) resizeCell(code string, testMode bool) string {
	if !testMode {
		return code
	}
	host, err := m.hostSite()
	if err != nil {
		logging.Get("monitor").Debug("host site unknown, resizing in the test cell", "cell", code, "error", err)
		return code
	}
	return host
}

// Run performs one check. The run lock is held for its whole duration
// and released on every path out.
func (m *Monitor) Run(ctx context.Context, opts Options) *Result {
	log := logging.Get("monitor")
	res := &Result{}

	lock, err := runlock.Acquire(m.cfg.LockFile)
	if err != nil {
		if errors.Is(err, runlock.ErrAlreadyRunning) {
			log.Warn("another instance is already running", "lock", m.cfg.LockFile, "error", err)
		} else {
			log.Error("cannot take run lock", "lock", m.cfg.LockFile, "error", err)
		}
		res.ExitCode = ExitAlert
		res.FailedStage = StageLock
		res.Err = err
		return res
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("failed to clean up lock file", "error", err)
		}
	}()

	logging.ResetAlerts()
	started := m.clock.Now()
	log.Info("starting disk monitoring")

	m.check(ctx, opts, res)

	res.Alerts = logging.Alerts()
	if len(res.Alerts) > 0 || res.Err != nil {
		res.ExitCode = ExitAlert
	}

	if len(res.Alerts) > 0 {
		m.sendAlerts(ctx, opts, res)
	} else {
		log.Info("disk monitoring completed successfully", "site", res.Site)
	}

	m.record(started, res)
	return res
}

// check runs the stages up to the usage report; it stops at the first
// fatal failure and records it in res.
func (m *Monitor) check(ctx context.Context, opts Options, res *Result) {
	log := logging.Get("monitor")

	fail := func(stage string, err error) {
		res.FailedStage = stage
		res.Err = err
	}

	code, err := m.SiteCode(opts.TestMode)
	if err != nil {
		log.Error("failed to determine site", "error", err)
		fail(StageSite, err)
		return
	}
	res.Site = code

	sc, err := m.Site(ctx, code, opts.RefreshSite)
	if err != nil {
		log.Error("failed to initialize site", "site", code, "error", err)
		fail(StageSite, err)
		return
	}
	log.Info("site initialized", "site", sc.SiteName, "code", code, "role", sc.ServerRole)

	if !opts.NoWebCheck {
		if err := m.web.Check(ctx, sc.SiteURL); err != nil {
			log.Error(sc.SiteURL+" is inaccessible", "error", err)
			fail(StageWeb, err)
			return
		}
		log.Debug("web service is responsive", "url", sc.SiteURL)
	}

	cache, err := m.Inventory(sc)
	if err != nil {
		log.Error("invalid inventory settings", "error", err)
		fail(StageInventory, err)
		return
	}
	rebuilt, err := cache.EnsureFresh(ctx, opts.RefreshInventory)
	if err != nil {
		log.Error("failed to prepare disk inventory", "path", cache.Path(), "error", err)
		fail(StageInventory, err)
		return
	}
	res.InventoryRebuilt = rebuilt

	paths, err := cache.Read()
	if err != nil {
		log.Error("failed to read disk inventory", "path", cache.Path(), "error", err)
		fail(StageInventory, err)
		return
	}

	all, low, err := m.Evaluate(ctx, paths)
	res.Records, res.Low = all, low
	if err != nil && len(all) == 0 {
		fail(StageUsage, err)
		return
	}

	if len(low) > 0 {
		var addGB int64
		if opts.Resize {
			addGB = m.cfg.AddSizeGB
		}
		log.Warn("low disk space detected", "volumes", len(low))
		res.Outcomes = m.Controller(sc, m.resizeCell(code, opts.TestMode)).Remediate(ctx, low, addGB)
	} else {
		log.Info("all disks have sufficient space", "disks", len(all))
	}

	csvPath := m.cfg.UsageCSVPath(code)
	if err := report.WriteCSV(m.fs, csvPath, all); err != nil {
		log.Error("failed to write usage report", "path", csvPath, "error", err)
		fail(StageReport, err)
		return
	}
	log.Debug("usage report saved", "path", csvPath)
}

func (m *Monitor) sendAlerts(ctx context.Context, opts Options, res *Result) {
	log := logging.Get("monitor")

	if opts.NoEmail || m.notifier == nil {
		log.Debug("alert email disabled", "alerts", len(res.Alerts))
		return
	}

	code := res.Site
	if code == "" {
		code = "unknown"
	}
	if err := m.notifier.Send(ctx, notify.Subject(code), logging.Lines(res.Alerts)); err != nil {
		// Logged after the alerts were collected; it only reaches the log file.
		log.Error("failed to send notification", "error", err)
		return
	}
	res.EmailSent = true
	log.Info("sent notification for detected issues", "alerts", len(res.Alerts))
}

// stores returns the history store and journal for this run, opening
// them when only an opener was configured. An unavailable store is
// logged and left nil. The returned func closes what was opened here.
func (m *Monitor) stores() (*history.Store, *journal.Journal, func()) {
	log := logging.Get("monitor")
	hist, j := m.history, m.journal
	closeAll := func() {}

	if hist == nil && m.openHistory != nil {
		s, err := m.openHistory()
		if err != nil {
			log.Warn("usage history unavailable", "error", err)
		} else {
			hist = s
			closeAll = func() {
				if err := s.Close(); err != nil {
					log.Warn("failed to close usage history", "error", err)
				}
			}
		}
	}
	if j == nil && m.openJournal != nil {
		opened, err := m.openJournal()
		if err != nil {
			log.Warn("run journal unavailable", "error", err)
		} else {
			j = opened
		}
	}
	return hist, j, closeAll
}

// record stores the run in the history and journal when configured.
// It runs under the run lock. Failures here never change the exit code.
func (m *Monitor) record(started time.Time, res *Result) {
	log := logging.Get("monitor")

	hist, j, closeStores := m.stores()
	defer closeStores()

	var entry *journal.Entry
	if j != nil {
		entry = j.NewEntry(res.Site)
		entry.StartedAt = started.UTC()
	}

	if hist != nil && len(res.Records) > 0 {
		runID := ""
		if entry != nil {
			runID = entry.ID
		}
		if err := hist.Record(started, runID, res.Records); err != nil {
			log.Error("failed to record usage history", "error", err)
		}
		if days := m.cfg.History.RetentionDays; days > 0 {
			if n, err := hist.Prune(started.AddDate(0, 0, -days)); err != nil {
				log.Warn("failed to prune usage history", "error", err)
			} else if n > 0 {
				log.Debug("pruned usage history", "samples", n)
			}
		}
	}

	if entry == nil {
		return
	}
	entry.FinishedAt = m.clock.Now().UTC()
	entry.ExitCode = res.ExitCode
	entry.FailedStage = res.FailedStage
	entry.Disks = res.Records
	entry.Low = res.Low
	entry.Outcomes = res.Outcomes
	entry.Alerts = logging.Lines(res.Alerts)
	entry.EmailSent = res.EmailSent
	if err := j.Write(entry); err != nil {
		log.Error("failed to write run journal", "error", err)
	}
	if days := m.cfg.Journal.RetentionDays; days > 0 {
		if _, err := j.Cleanup(days); err != nil {
			log.Warn("failed to clean run journal", "error", err)
		}
	}
}
