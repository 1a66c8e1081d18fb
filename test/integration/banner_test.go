//go:build integration

package integration

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
	"github.com/eliteGoblin/focusd/loc_remind/internal/infra"
	"github.com/eliteGoblin/focusd/loc_remind/internal/observability"
)

// scriptedDesktop answers every interactive banner with answer.
type scriptedDesktop struct {
	mu     sync.Mutex
	answer string
	shown  int
}

func (d *scriptedDesktop) Run(name string, args ...string) error { return nil }

func (d *scriptedDesktop) Output(name string, args ...string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown++
	return []byte(d.answer), nil
}

func (d *scriptedDesktop) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shown
}

var _ = Describe("Reminder banner", func() {
	var (
		w       *world
		desktop *scriptedDesktop
	)

	BeforeEach(func() {
		desktop = &scriptedDesktop{}
		banner := infra.NewBannerRendererWithDeps(desktop, "linux", zap.NewNop())
		w = newWorldWithRenderer(banner, exampleApp, otherApp)
		banner.SetActions(w.checker)
	})

	AfterEach(func() {
		w.close()
	})

	It("lets the next reminder through once the banner is dismissed", func() {
		w.recordAccess(exampleApp)
		res, err := w.checker.AddLocationNotificationIfNeeded(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(observability.OutcomePosted))

		Eventually(w.visible, 2*time.Second, 10*time.Millisecond).Should(BeEmpty())
		Expect(w.history.Load().Contains(identity(exampleApp))).To(BeTrue())

		w.advance(24 * time.Hour)
		w.recordAccess(otherApp)
		res, err = w.checker.AddLocationNotificationIfNeeded(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(observability.OutcomePosted))
		Eventually(desktop.count, 2*time.Second, 10*time.Millisecond).Should(Equal(2))
	})

	It("opens the permission settings when the banner is opened", func() {
		desktop.answer = "open\n"
		w.recordAccess(exampleApp)
		_, err := w.checker.AddLocationNotificationIfNeeded(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() []domain.UserPackage {
			w.ui.mu.Lock()
			defer w.ui.mu.Unlock()
			return append([]domain.UserPackage(nil), w.ui.opened...)
		}, 2*time.Second, 10*time.Millisecond).Should(Equal([]domain.UserPackage{identity(exampleApp)}))
		Expect(w.visible()).To(BeEmpty())
	})
})
