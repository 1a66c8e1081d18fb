//go:build integration

package integration

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
	"github.com/eliteGoblin/focusd/loc_remind/internal/infra"
	"github.com/eliteGoblin/focusd/loc_remind/internal/observability"
)

var (
	exampleApp = manifestPackage{name: "com.example.app", user: 0, appID: 10100, background: true}
	otherApp   = manifestPackage{name: "com.example.other", user: 10, appID: 10200, background: true}
	fusedApp   = manifestPackage{name: "com.platform.fused", user: 0, appID: 10300, background: true}
)

var _ = Describe("Location access reminder", func() {
	var w *world

	AfterEach(func() {
		w.close()
	})

	run := func() (string, *domain.UserPackage) {
		res, err := w.checker.AddLocationNotificationIfNeeded(context.Background())
		Expect(err).NotTo(HaveOccurred())
		return res.Outcome, res.Posted
	}

	Describe("Scenario A: first reminder", func() {
		BeforeEach(func() {
			w = newWorld(exampleApp)
			w.recordAccess(exampleApp)
		})

		It("posts exactly one reminder and records the package", func() {
			outcome, posted := run()
			Expect(outcome).To(Equal(observability.OutcomePosted))
			Expect(posted).To(Equal(&domain.UserPackage{Package: "com.example.app", User: 0}))

			visible := w.visible()
			Expect(visible).To(HaveLen(1))
			Expect(visible[0].Tag).To(Equal("com.example.app"))
			Expect(visible[0].ID).To(Equal(domain.LocationAccessCheckNotificationID))
			Expect(visible[0].Target).To(Equal(identity(exampleApp)))
			Expect(w.renderer.count()).To(Equal(1))

			Expect(w.history.Load().Sorted()).To(Equal([]domain.UserPackage{identity(exampleApp)}))
			Expect(w.lastShown().Equal(w.clock())).To(BeTrue())
		})

		It("keeps the history across restarts", func() {
			run()
			reopened := infra.NewFileHistoryStore(w.dir, infra.NewManifest(w.paths.Manifest, zap.NewNop()), zap.NewNop())
			Expect(reopened.Load().Contains(identity(exampleApp))).To(BeTrue())
		})
	})

	Describe("Scenario B: already reminded", func() {
		BeforeEach(func() {
			w = newWorld(exampleApp)
			Expect(w.history.Save(domain.NewPackageSet(identity(exampleApp)))).To(Succeed())
			w.recordAccess(exampleApp)
		})

		It("posts nothing", func() {
			outcome, posted := run()
			Expect(outcome).To(Equal(observability.OutcomeNoCandidate))
			Expect(posted).To(BeNil())
			Expect(w.visible()).To(BeEmpty())
			Expect(w.lastShown().IsZero()).To(BeTrue())
		})
	})

	Describe("Scenario C: revoked after the access", func() {
		revoked := manifestPackage{name: "com.example.revoked", user: 0, appID: 10400, background: false}

		BeforeEach(func() {
			w = newWorld(exampleApp, revoked)
			w.recordAccess(revoked)
			w.recordAccess(exampleApp)
		})

		It("never selects the revoked package", func() {
			_, posted := run()
			Expect(posted).NotTo(BeNil())
			Expect(*posted).To(Equal(identity(exampleApp)))
			Expect(w.history.Load().Contains(identity(revoked))).To(BeFalse())
		})
	})

	Describe("Scenario D: posting twice within the spacing", func() {
		BeforeEach(func() {
			w = newWorld(exampleApp, otherApp)
		})

		It("ignores the second post", func() {
			info, err := w.manifest.PackageInfo(identity(exampleApp))
			Expect(err).NotTo(HaveOccurred())
			Expect(w.checker.PostIfAllowed(identity(exampleApp), info)).To(BeTrue())
			first := w.lastShown()

			// Clear the surface so only the rate limit stands in the way.
			Expect(w.tray.Cancel(0, exampleApp.name, domain.LocationAccessCheckNotificationID)).To(Succeed())
			w.advance(time.Hour)

			other, err := w.manifest.PackageInfo(identity(otherApp))
			Expect(err).NotTo(HaveOccurred())
			Expect(w.checker.PostIfAllowed(identity(otherApp), other)).To(BeFalse())
			Expect(w.lastShown().Equal(first)).To(BeTrue())
			Expect(w.visible()).To(BeEmpty())
		})

		It("posts again once the spacing has passed", func() {
			w.recordAccess(exampleApp)
			_, posted := run()
			Expect(posted).NotTo(BeNil())
			w.checker.OnNotificationDeleted(*posted)

			w.advance(24*time.Hour - 302*time.Minute)
			w.recordAccess(otherApp)
			outcome, _ := run()
			Expect(outcome).To(Equal(observability.OutcomePosted))
			Expect(w.history.Load()).To(HaveLen(2))
		})
	})

	Describe("Scenario E: package reset", func() {
		BeforeEach(func() {
			w = newWorld(exampleApp)
			w.recordAccess(exampleApp)
		})

		It("cancels the reminder and allows a new one", func() {
			_, posted := run()
			Expect(posted).NotTo(BeNil())

			w.checker.ForgetAboutPackage(identity(exampleApp))
			Expect(w.visible()).To(BeEmpty())
			Expect(w.history.Load()).To(BeEmpty())

			w.advance(24 * time.Hour)
			w.recordAccess(exampleApp)
			outcome, posted := run()
			Expect(outcome).To(Equal(observability.OutcomePosted))
			Expect(*posted).To(Equal(identity(exampleApp)))
		})

		It("leaves a reminder for another package alone", func() {
			run()
			w.checker.ForgetAboutPackage(domain.UserPackage{Package: exampleApp.name, User: 10})
			Expect(w.visible()).To(HaveLen(1))
		})
	})

	Describe("Profile group", func() {
		BeforeEach(func() {
			w = newWorld(otherApp, fusedApp)
			w.recordAccess(fusedApp)
			w.recordAccess(otherApp)
		})

		It("reminds about managed profile packages and skips location providers", func() {
			_, posted := run()
			Expect(posted).NotTo(BeNil())
			Expect(*posted).To(Equal(identity(otherApp)))

			visible, err := w.tray.Active(10)
			Expect(err).NotTo(HaveOccurred())
			Expect(visible).To(HaveLen(1))
		})
	})

	Describe("Self-healing history", func() {
		BeforeEach(func() {
			w = newWorld(exampleApp)
			Expect(w.history.Save(domain.NewPackageSet(identity(exampleApp)))).To(Succeed())
		})

		It("forgets a package that lost background location", func() {
			w.writeManifest(manifestPackage{name: exampleApp.name, appID: exampleApp.appID, background: false})
			outcome, _ := run()
			Expect(outcome).To(Equal(observability.OutcomeNoCandidate))
			Expect(w.history.Load()).To(BeEmpty())
		})
	})

	Describe("Reminder actions", func() {
		BeforeEach(func() {
			w = newWorld(exampleApp)
			w.recordAccess(exampleApp)
		})

		It("opens the permission settings on click", func() {
			_, posted := run()
			Expect(w.checker.OnNotificationClicked(*posted)).To(Succeed())
			Expect(w.ui.opened).To(Equal([]domain.UserPackage{identity(exampleApp)}))
			Expect(w.visible()).To(BeEmpty())
			Expect(w.history.Load().Contains(identity(exampleApp))).To(BeTrue())
		})

		It("marks a dismissed package as notified", func() {
			w.checker.OnNotificationDeleted(identity(exampleApp))
			w.checker.OnNotificationDeleted(identity(exampleApp))
			Expect(w.history.Load().Sorted()).To(Equal([]domain.UserPackage{identity(exampleApp)}))
		})
	})

	Describe("Settings", func() {
		BeforeEach(func() {
			w = newWorld(exampleApp)
		})

		It("applies a changed interval to the next evaluation", func() {
			_, err := w.settings.Set(infra.SettingCheckInterval, "1h")
			Expect(err).NotTo(HaveOccurred())
			Expect(w.settings.CheckInterval()).To(Equal(time.Hour))

			w.recordAccess(exampleApp)
			_, posted := run()
			Expect(posted).NotTo(BeNil())
			w.checker.OnNotificationDeleted(*posted)

			// 1h - 2.1 * 6m = 47m24s
			w.advance(47*time.Minute + 24*time.Second)
			w.writeManifest(exampleApp, otherApp)
			w.recordAccess(otherApp)
			outcome, _ := run()
			Expect(outcome).To(Equal(observability.OutcomePosted))
		})
	})
})
