//go:build integration

package integration

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/daemon"
	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
	"github.com/eliteGoblin/focusd/loc_remind/internal/infra"
	"github.com/eliteGoblin/focusd/loc_remind/internal/observability"
)

var _ = Describe("Daemon", func() {
	var (
		w        *world
		pm       *infra.ProcessManagerImpl
		registry *infra.FileRegistry
		cancel   context.CancelFunc
		done     chan error
		client   *daemon.ControlClient
	)

	BeforeEach(func() {
		w = newWorld(exampleApp)
		_, err := w.settings.Set(infra.SettingCheckDelay, "0s")
		Expect(err).NotTo(HaveOccurred())

		pm = infra.NewProcessManager()
		registry = infra.NewFileRegistry(w.dir, pm)

		config := daemon.DefaultDaemonConfig()
		config.SocketPath = w.paths.Socket
		config.GrantDebounce = 20 * time.Millisecond

		agent := daemon.NewAgent(config, daemon.AgentDeps{
			Engine:   w.checker,
			Settings: w.settings,
			Grants:   w.manifest,
			Registry: registry,
			Metrics:  observability.NewMetrics(),
			Logger:   zap.NewNop(),
		}, domain.Daemon{
			PID:        pm.GetCurrentPID(),
			StartedAt:  time.Now(),
			AppVersion: "test",
			SocketPath: w.paths.Socket,
		})

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() { done <- agent.Run(ctx) }()

		client = daemon.NewControlClient(w.paths.Socket)
		Eventually(func() error {
			_, err := client.Status(context.Background())
			return err
		}, 5*time.Second, 20*time.Millisecond).Should(Succeed())
	})

	AfterEach(func() {
		cancel()
		Eventually(done, 5*time.Second).Should(Receive(MatchError(context.Canceled)))
		entry, err := registry.GetAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(entry).To(BeNil())
		w.close()
	})

	It("registers itself and the periodic check", func() {
		alive, err := registry.IsAlive()
		Expect(err).NotTo(HaveOccurred())
		Expect(alive).To(BeTrue())

		report, err := client.Status(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(report.PID).To(Equal(os.Getpid()))
		Expect(report.Jobs).To(HaveLen(1))
		Expect(report.Jobs[0].ID).To(Equal(domain.PeriodicLocationAccessCheckJobID))
		Expect(report.Jobs[0].Interval).To(Equal("24h0m0s"))
	})

	It("runs a check on request", func() {
		w.recordAccess(exampleApp)
		Expect(client.Check(context.Background())).To(Succeed())

		Eventually(w.visible, 5*time.Second, 20*time.Millisecond).Should(HaveLen(1))
		Eventually(func() string {
			report, err := client.Status(context.Background())
			if err != nil || report.LastRun == nil {
				return ""
			}
			return report.LastRun.Outcome
		}, 5*time.Second, 20*time.Millisecond).Should(Equal(observability.OutcomePosted))
	})

	It("checks soon after a new background grant", func() {
		w.recordAccess(otherApp)
		// Give the watcher time to prime before the grant appears.
		time.Sleep(100 * time.Millisecond)
		w.writeManifest(exampleApp, otherApp)

		Eventually(func() []domain.Notification {
			active, err := w.tray.Active(10)
			Expect(err).NotTo(HaveOccurred())
			return active
		}, 5*time.Second, 20*time.Millisecond).Should(HaveLen(1))
	})

	It("refuses a second daemon for the same data directory", func() {
		other := daemon.NewAgent(daemon.DefaultDaemonConfig(), daemon.AgentDeps{
			Engine:   w.checker,
			Settings: w.settings,
			Registry: infra.NewFileRegistry(w.dir, fakeOtherPID{}),
			Logger:   zap.NewNop(),
		}, domain.Daemon{PID: os.Getpid() + 1})

		err := other.Run(context.Background())
		Expect(err).To(MatchError(domain.ErrAlreadyRunning))
	})
})

// fakeOtherPID reports every pid as running.
type fakeOtherPID struct{}

func (fakeOtherPID) IsRunning(pid int) bool { return true }
func (fakeOtherPID) GetCurrentPID() int     { return os.Getpid() + 1 }
