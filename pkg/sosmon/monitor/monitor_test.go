package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sosmon/pkg/sosmon/config"
	"github.com/jamesainslie/sosmon/pkg/sosmon/history"
	"github.com/jamesainslie/sosmon/pkg/sosmon/journal"
	"github.com/jamesainslie/sosmon/pkg/sosmon/notify"
	"github.com/jamesainslie/sosmon/pkg/sosmon/remediate"
	"github.com/jamesainslie/sosmon/pkg/sosmon/runlock"
	"github.com/jamesainslie/sosmon/pkg/sosmon/shell/shelltest"
	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
	"github.com/jamesainslie/sosmon/pkg/sosmon/usage"
)

var epoch = time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)

const serviceRows = "site,service,cache_path,primary_loc,primary_path\n" +
	"sc,svc_a,/nfs/sc/disks/sos_cache/svc_a/x,local,/nfs/sc/disks/sos_low/svc_a/y\n" +
	"sc,svc_b,/nfs/sc/disks/sos_cache/svc_b/x,local,/nfs/sc/disks/sos_roomy/svc_b/y\n"

type fakeWeb struct {
	err  error
	urls []string
}

func (f *fakeWeb) Check(_ context.Context, url string) error {
	f.urls = append(f.urls, url)
	return f.err
}

type sentMail struct {
	subject string
	lines   []string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, subject string, lines []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{subject: subject, lines: lines})
	return nil
}

type fixture struct {
	cfg     *config.Config
	fs      afero.Fs
	clock   *testclock.Clock
	exec    *shelltest.Executor
	web     *fakeWeb
	mailer  *fakeMailer
	history *history.Store
	journal *journal.Journal
	avail   map[string]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	_, err := config.WriteDefault(cfgPath)
	require.NoError(t, err)
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	cfg.DataDir = "/data"
	cfg.LockFile = filepath.Join(t.TempDir(), "sos_check_disks.lock")
	cfg.Commands = config.CommandsConfig{Sosadmin: "sosadmin", Sosmgr: "sosmgr", Stod: "stod", Stodstatus: "stodstatus"}
	cfg.Cliosoft.ServersLink = "/opt/cliosoft/SERVERS"

	hist, err := history.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	fs := afero.NewMemMapFs()
	clk := testclock.NewClock(epoch)
	j, err := journal.New(fs, cfg.JournalDir(), clk)
	require.NoError(t, err)

	return &fixture{
		cfg:   cfg,
		fs:    fs,
		clock: clk,
		exec: shelltest.New().
			On("sosmgr site get", "site,url\nsc_repo:,https://sos-sc.example.com\n").
			On("sosadmin list", "svc_a\nsvc_b\n").
			On("sosmgr service get", serviceRows).
			On("stodstatus requests", "Type,SubmitTime\n").
			On("stod resize", "Request 17 completed successfully\n"),
		web:     &fakeWeb{},
		mailer:  &fakeMailer{},
		history: hist,
		journal: j,
		avail: map[string]int64{
			"/nfs/site/disks/sos_low":   100,
			"/nfs/site/disks/sos_roomy": 900,
			"/nfs/site/disks/sos_cache": 600,
		},
	}
}

func (f *fixture) monitor() *Monitor {
	statter := usage.StatterFunc(func(path string) (usage.Usage, error) {
		avail, ok := f.avail[path]
		if !ok {
			return usage.Usage{}, errors.New("no such file or directory")
		}
		gib := uint64(types.GiB)
		return usage.Usage{Total: 1024 * gib, Used: uint64(1024-avail) * gib, Available: uint64(avail) * gib}, nil
	})

	return New(f.cfg,
		WithFS(f.fs),
		WithExecutor(f.exec),
		WithClock(f.clock),
		WithStatter(statter),
		WithWebChecker(f.web),
		WithNotifier(f.mailer),
		WithHistory(f.history),
		WithJournal(f.journal),
		WithHostSite(func() (string, error) { return "sc", nil }),
		WithEvalSymlinks(func(string) (string, error) { return "/opt/cliosoft/servers/sc", nil }),
	)
}

func exists(t *testing.T, fs afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, path)
	require.NoError(t, err)
	return ok
}

func alertMessages(res *Result) []string {
	msgs := make([]string, len(res.Alerts))
	for i, a := range res.Alerts {
		msgs[i] = a.Message
	}
	return msgs
}

func TestRun_LowDiskIsResizedAndMailed(t *testing.T) {
	f := newFixture(t)

	res := f.monitor().Run(context.Background(), Options{Resize: true})

	require.NoError(t, res.Err)
	assert.Equal(t, ExitAlert, res.ExitCode, "a low disk is an alert")
	assert.Equal(t, "sc", res.Site)
	assert.True(t, res.InventoryRebuilt)
	assert.Equal(t, []string{"https://sos-sc.example.com"}, f.web.urls)

	require.Len(t, res.Records, 3)
	assert.Equal(t, "/nfs/site/disks/sos_cache", res.Records[0].Path, "records are in name order")
	require.Len(t, res.Low, 1)
	assert.Equal(t, "/nfs/site/disks/sos_low", res.Low[0].Path)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, remediate.Resized, res.Outcomes[0].Kind)
	assert.Equal(t, int64(1500), res.Outcomes[0].NewSizeGB)
	assert.True(t, f.exec.Ran("stod resize --cell sc --path /nfs/site/disks/sos_low --size 1500GB"))

	assert.Contains(t, alertMessages(res), "/nfs/site/disks/sos_low Size: 1024GB; Avail: 100GB *** Low disk space")

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "Cliosoft Alert: SC disk monitoring detected issues", f.mailer.sent[0].subject)
	assert.True(t, res.EmailSent)

	inv, err := afero.ReadFile(f.fs, "/data/SC_cliosoft_disks.txt")
	require.NoError(t, err)
	assert.Equal(t, "/nfs/site/disks/sos_low\n/nfs/site/disks/sos_cache\n/nfs/site/disks/sos_roomy\n", string(inv))
	assert.True(t, exists(t, f.fs, "/data/SC_sos_env.json"))

	csv, err := afero.ReadFile(f.fs, "/data/SC_disk_usages.csv")
	require.NoError(t, err)
	assert.Equal(t, "Disk,Total,Used,Available\n"+
		"/nfs/site/disks/sos_cache,1024,424,600\n"+
		"/nfs/site/disks/sos_low,1024,924,100\n"+
		"/nfs/site/disks/sos_roomy,1024,124,900\n", string(csv))

	latest, err := f.history.Latest("/nfs/site/disks/sos_low")
	require.NoError(t, err)
	assert.Equal(t, int64(100), latest.AvailableGB)

	entries, err := f.journal.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ExitAlert, entries[0].ExitCode)
	assert.True(t, entries[0].EmailSent)
	assert.Equal(t, entries[0].ID, latest.RunID)

	assert.False(t, exists(t, afero.NewOsFs(), f.cfg.LockFile), "lock is released")
}

func TestRun_HealthyDisks(t *testing.T) {
	f := newFixture(t)
	f.avail["/nfs/site/disks/sos_low"] = 251

	res := f.monitor().Run(context.Background(), Options{Resize: true})

	assert.Equal(t, ExitOK, res.ExitCode)
	assert.Empty(t, res.Low)
	assert.Empty(t, res.Alerts)
	assert.Empty(t, f.mailer.sent)
	assert.False(t, f.exec.Ran("stodstatus"))
}

func TestRun_ResizingDisabled(t *testing.T) {
	f := newFixture(t)

	res := f.monitor().Run(context.Background(), Options{})

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, remediate.WarnOnly, res.Outcomes[0].Kind)
	assert.False(t, f.exec.Ran("stod resize"))
}

func TestRun_LockHeld(t *testing.T) {
	f := newFixture(t)

	held, err := runlock.Acquire(f.cfg.LockFile)
	require.NoError(t, err)
	defer held.Release()

	res := f.monitor().Run(context.Background(), Options{})

	assert.Equal(t, ExitAlert, res.ExitCode)
	assert.Equal(t, StageLock, res.FailedStage)
	assert.ErrorIs(t, res.Err, runlock.ErrAlreadyRunning)
	assert.False(t, exists(t, f.fs, "/data/SC_cliosoft_disks.txt"), "no inventory may be written")
	assert.Empty(t, f.exec.Calls())
	assert.Empty(t, f.mailer.sent)
}

func TestRun_WebDownSkipsDisks(t *testing.T) {
	f := newFixture(t)
	f.web.err = errors.New("connection refused")

	res := f.monitor().Run(context.Background(), Options{Resize: true})

	assert.Equal(t, ExitAlert, res.ExitCode)
	assert.Equal(t, StageWeb, res.FailedStage)
	assert.False(t, f.exec.Ran("sosadmin"))
	assert.Empty(t, res.Records)

	require.Len(t, f.mailer.sent, 1, "the alert still goes out")
	body := strings.Join(f.mailer.sent[0].lines, "\n")
	assert.Contains(t, body, "https://sos-sc.example.com is inaccessible")
}

func TestRun_NoWebCheck(t *testing.T) {
	f := newFixture(t)
	f.web.err = errors.New("connection refused")

	res := f.monitor().Run(context.Background(), Options{NoWebCheck: true})

	assert.Empty(t, f.web.urls)
	assert.NotEmpty(t, res.Records)
}

func TestRun_NoEmail(t *testing.T) {
	f := newFixture(t)

	res := f.monitor().Run(context.Background(), Options{NoEmail: true})

	assert.Equal(t, ExitAlert, res.ExitCode)
	assert.False(t, res.EmailSent)
	assert.Empty(t, f.mailer.sent)
}

func TestRun_MailFailureKeepsExitCode(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("relay down")

	res := f.monitor().Run(context.Background(), Options{})

	assert.Equal(t, ExitAlert, res.ExitCode)
	assert.False(t, res.EmailSent)
}

func TestRun_SiteFailure(t *testing.T) {
	f := newFixture(t)
	m := f.monitor()
	m.hostSite = func() (string, error) { return "", errors.New("no fqdn") }

	res := m.Run(context.Background(), Options{})

	assert.Equal(t, StageSite, res.FailedStage)
	assert.Equal(t, ExitAlert, res.ExitCode)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "Cliosoft Alert: UNKNOWN disk monitoring detected issues", f.mailer.sent[0].subject)
}

func TestRun_TestModeUsesTestSite(t *testing.T) {
	f := newFixture(t)

	res := f.monitor().Run(context.Background(), Options{TestMode: true})

	assert.Equal(t, "ddm", res.Site)
	assert.True(t, exists(t, f.fs, "/data/DDM_cliosoft_disks.txt"))
	assert.True(t, exists(t, f.fs, "/data/DDM_disk_usages.csv"))
}

func TestRun_TestModeResizesInHostCell(t *testing.T) {
	f := newFixture(t)

	res := f.monitor().Run(context.Background(), Options{TestMode: true, Resize: true})

	assert.Equal(t, "ddm", res.Site)
	assert.True(t, f.exec.Ran("stod resize --cell sc --path /nfs/site/disks/sos_low"))
	assert.False(t, f.exec.Ran("stod resize --cell ddm"))
}

func TestRun_TestModeWithoutHostSiteResizesInTestCell(t *testing.T) {
	f := newFixture(t)
	m := f.monitor()
	m.hostSite = func() (string, error) { return "", errors.New("no fqdn") }

	res := m.Run(context.Background(), Options{TestMode: true, Resize: true})

	assert.Equal(t, "ddm", res.Site)
	assert.True(t, f.exec.Ran("stod resize --cell ddm --path /nfs/site/disks/sos_low"))
}

func TestRun_StoresOpenUnderLock(t *testing.T) {
	f := newFixture(t)
	dbDir := t.TempDir()

	m := f.monitor()
	m.history, m.journal = nil, nil
	var opened []string
	m.openHistory = func() (*history.Store, error) {
		opened = append(opened, "history")
		assert.Equal(t, os.Getpid(), runlock.HolderPID(f.cfg.LockFile), "lock is held while opening")
		return history.Open(dbDir)
	}
	m.openJournal = func() (*journal.Journal, error) {
		opened = append(opened, "journal")
		assert.Equal(t, os.Getpid(), runlock.HolderPID(f.cfg.LockFile), "lock is held while opening")
		return f.journal, nil
	}

	res := m.Run(context.Background(), Options{})
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"history", "journal"}, opened)

	// Run closed the store, so it can be opened again.
	store, err := history.Open(dbDir)
	require.NoError(t, err)
	defer store.Close()
	latest, err := store.Latest("/nfs/site/disks/sos_low")
	require.NoError(t, err)
	assert.Equal(t, int64(100), latest.AvailableGB)

	entries, err := f.journal.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entries[0].ID, latest.RunID)
}

func TestRun_LockHeldOpensNoStores(t *testing.T) {
	f := newFixture(t)
	held, err := runlock.Acquire(f.cfg.LockFile)
	require.NoError(t, err)
	defer held.Release()

	m := f.monitor()
	m.history, m.journal = nil, nil
	calls := 0
	m.openHistory = func() (*history.Store, error) { calls++; return nil, errors.New("unexpected") }
	m.openJournal = func() (*journal.Journal, error) { calls++; return nil, errors.New("unexpected") }

	res := m.Run(context.Background(), Options{})

	assert.Equal(t, StageLock, res.FailedStage)
	assert.Zero(t, calls)
}

func TestRun_UnavailableStoresKeepExitCode(t *testing.T) {
	f := newFixture(t)
	f.avail["/nfs/site/disks/sos_low"] = 251

	m := f.monitor()
	m.history, m.journal = nil, nil
	m.openHistory = func() (*history.Store, error) { return nil, errors.New("database is locked") }
	m.openJournal = func() (*journal.Journal, error) { return nil, errors.New("read-only file system") }

	res := m.Run(context.Background(), Options{})

	assert.Equal(t, ExitOK, res.ExitCode)
	assert.Empty(t, res.Alerts)
	assert.Empty(t, f.mailer.sent)
}

func TestNew_MailerSettings(t *testing.T) {
	cfg := &config.Config{Email: config.EmailConfig{
		Enabled:  true,
		SMTPAddr: "mail.example.com:587",
		From:     "sosmon@example.com",
		To:       []string{"ops@example.com"},
		StartTLS: true,
	}}

	mailer, ok := New(cfg).notifier.(*notify.Mailer)
	require.True(t, ok)
	assert.Equal(t, "mail.example.com:587", mailer.Addr)
	assert.True(t, mailer.StartTLS)
	assert.NotNil(t, mailer.Clock)

	assert.Nil(t, New(&config.Config{}).notifier, "mail is off unless enabled")
}

func TestRun_FreshInventoryIsReused(t *testing.T) {
	f := newFixture(t)
	m := f.monitor()

	first := m.Run(context.Background(), Options{})
	require.True(t, first.InventoryRebuilt)

	f.clock.Advance(time.Hour)
	second := m.Run(context.Background(), Options{})
	assert.False(t, second.InventoryRebuilt)

	f.clock.Advance(time.Hour)
	third := m.Run(context.Background(), Options{RefreshInventory: true})
	assert.True(t, third.InventoryRebuilt)
}
