//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/mon_sup/internal/daemon"
	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
	"github.com/eliteGoblin/focusd/mon_sup/internal/infra"
	"github.com/eliteGoblin/focusd/mon_sup/internal/ipc"
	"github.com/eliteGoblin/focusd/mon_sup/internal/topology"
	"github.com/eliteGoblin/focusd/mon_sup/internal/usecase"
	"github.com/eliteGoblin/focusd/mon_sup/internal/watcher"
	"github.com/eliteGoblin/focusd/mon_sup/test/fixtures"
)

const (
	pollInterval = 10 * time.Millisecond
	eventually   = 3 * time.Second
)

// stack is the production wiring with the memory backend and a fake process table.
type stack struct {
	stateDir   string
	display    *infra.MemoryDisplay
	procs      *fixtures.FakeProcessTable
	store      *infra.EncryptedBaselineStore
	controller *topology.Controller
	suppressor *usecase.Suppressor
	runner     *daemon.Runner
	cancel     context.CancelFunc
	done       chan error
}

func newStack(stateDir string) *stack {
	logger := zap.NewNop()
	s := &stack{
		stateDir: stateDir,
		display:  infra.NewDefaultMemoryDisplay(),
		procs:    fixtures.NewFakeProcessTable(),
	}

	var err error
	s.store, err = infra.OpenBaselineStore(stateDir)
	Expect(err).NotTo(HaveOccurred())

	s.controller = topology.NewController(s.display, time.Second, logger)
	publisher := daemon.WithPID(ipc.NewStatusFile(stateDir), os.Getpid())
	s.suppressor = usecase.NewSuppressor(s.controller, s.store, publisher, "game.exe", logger)

	w := watcher.New(domain.ProcessTarget{
		Executable:     "game.exe",
		PollInterval:   pollInterval,
		DebounceWindow: 2,
	}, s.procs, logger)
	guard := daemon.NewGuard(daemon.GuardConfig{RestoreAttempts: 2, RetryDelay: 5 * time.Millisecond},
		s.suppressor, s.controller, s.store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	commands := ipc.NewCommandWatcher(stateDir, logger)
	go commands.Run(ctx)

	s.runner = daemon.NewRunner(w, s.suppressor, guard, commands.Commands(), nil, logger)
	s.cancel = cancel
	return s
}

func (s *stack) startWith(ctx context.Context) {
	s.done = make(chan error, 1)
	go func() {
		defer GinkgoRecover()
		s.done <- s.runner.Run(ctx)
	}()
}

func (s *stack) state() domain.SuppressionState {
	return s.suppressor.State()
}

func (s *stack) secondaryEnabled() bool {
	return s.display.Enabled()["MEM-2"]
}

var _ = Describe("Monitor suppression", func() {
	var (
		s   *stack
		ctx context.Context
		run context.CancelFunc
	)

	BeforeEach(func() {
		s = newStack(GinkgoT().TempDir())
		ctx, run = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		run()
		s.cancel()
		if s.done != nil {
			Eventually(s.done, eventually).Should(Receive())
		}
		s.store.Close()
	})

	Describe("target lifecycle", func() {
		Context("when game.exe starts with two monitors enabled", func() {
			It("should disable the secondary and keep the primary", func() {
				s.startWith(ctx)

				pid := s.procs.Launch(`C:\Games\game.exe`)
				Eventually(s.state, eventually).Should(Equal(domain.StateSuppressed))
				Expect(s.display.Enabled()).To(Equal(map[string]bool{"MEM-1": true, "MEM-2": false}))

				report, err := ipc.ReadStatus(s.stateDir)
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Icon).To(Equal(domain.IconActive))
				Expect(report.Disabled).To(ConsistOf("MEM-2"))
				Expect(report.PID).To(Equal(os.Getpid()))

				By("game.exe exiting")
				s.procs.Exit(pid)
				Eventually(s.state, eventually).Should(Equal(domain.StateIdle))
				Expect(s.display.Enabled()).To(Equal(map[string]bool{"MEM-1": true, "MEM-2": true}))
			})

			It("should cache the baseline only while suppressed", func() {
				s.startWith(ctx)

				pid := s.procs.Launch("game.exe")
				Eventually(s.state, eventually).Should(Equal(domain.StateSuppressed))
				cached, err := s.store.Load(domain.SlotActive)
				Expect(err).NotTo(HaveOccurred())
				Expect(cached).NotTo(BeNil())
				Expect(cached.Monitors).To(HaveLen(2))

				s.procs.Exit(pid)
				Eventually(s.state, eventually).Should(Equal(domain.StateIdle))
				cached, err = s.store.Load(domain.SlotActive)
				Expect(err).NotTo(HaveOccurred())
				Expect(cached).To(BeNil())
			})
		})

		Context("when the target flickers for a single poll", func() {
			It("should not suppress", func() {
				s.startWith(ctx)

				pid := s.procs.Launch("game.exe")
				time.Sleep(pollInterval / 2)
				s.procs.Exit(pid)

				Consistently(s.secondaryEnabled, 10*pollInterval, pollInterval).Should(BeTrue())
				Expect(s.state()).To(Equal(domain.StateIdle))
			})
		})

		Context("when process listing fails while the target runs", func() {
			It("should keep monitors suppressed", func() {
				s.startWith(ctx)
				s.procs.Launch("game.exe")
				Eventually(s.state, eventually).Should(Equal(domain.StateSuppressed))

				s.procs.FailListing(errors.New("permission denied"))
				Consistently(s.state, 10*pollInterval, pollInterval).Should(Equal(domain.StateSuppressed))
				Expect(s.secondaryEnabled()).To(BeFalse())
			})
		})
	})

	Describe("apply failure", func() {
		Context("when the host rejects disabling the secondary", func() {
			It("should stay idle with every monitor enabled", func() {
				s.display.FailConfigure("MEM-2", errors.New("driver busy"))
				s.startWith(ctx)

				s.procs.Launch("game.exe")
				Consistently(s.state, 10*pollInterval, pollInterval).Should(Equal(domain.StateIdle))
				Expect(s.secondaryEnabled()).To(BeTrue())

				report, err := ipc.ReadStatus(s.stateDir)
				Expect(err).NotTo(HaveOccurred())
				Expect(report.LastError).To(ContainSubstring("driver busy"))
			})
		})

		Context("when restore fails after the target exits", func() {
			It("should show busy and retry until it succeeds", func() {
				s.startWith(ctx)
				pid := s.procs.Launch("game.exe")
				Eventually(s.state, eventually).Should(Equal(domain.StateSuppressed))

				s.display.FailConfigure("MEM-2", errors.New("link training failed"))
				s.procs.Exit(pid)
				Eventually(func() domain.TrayIcon { return s.suppressor.Status().Icon }, eventually).
					Should(Equal(domain.IconBusy))
				Expect(s.secondaryEnabled()).To(BeFalse())

				s.display.FailConfigure("MEM-2", nil)
				Eventually(s.state, eventually).Should(Equal(domain.StateIdle))
				Expect(s.secondaryEnabled()).To(BeTrue())
			})
		})
	})

	Describe("tray commands", func() {
		It("should restore on a restore command while the target keeps running", func() {
			s.startWith(ctx)
			s.procs.Launch("game.exe")
			Eventually(s.state, eventually).Should(Equal(domain.StateSuppressed))

			Expect(ipc.WriteCommand(s.stateDir, domain.CmdRestore)).To(Succeed())
			Eventually(s.secondaryEnabled, eventually).Should(BeTrue())
			Expect(s.state()).To(Equal(domain.StateIdle))
		})

		It("should restore and exit on a quit command", func() {
			s.startWith(ctx)
			s.procs.Launch("game.exe")
			Eventually(s.state, eventually).Should(Equal(domain.StateSuppressed))

			Expect(ipc.WriteCommand(s.stateDir, domain.CmdQuit)).To(Succeed())
			var err error
			Eventually(s.done, eventually).Should(Receive(&err))
			Expect(err).NotTo(HaveOccurred())
			Expect(s.secondaryEnabled()).To(BeTrue())
			s.done = nil
		})
	})

	Describe("shutdown", func() {
		Context("when stopped while suppressed", func() {
			It("should restore before returning", func() {
				s.startWith(ctx)
				s.procs.Launch("game.exe")
				Eventually(s.state, eventually).Should(Equal(domain.StateSuppressed))

				run()
				var err error
				Eventually(s.done, eventually).Should(Receive(&err))
				Expect(err).NotTo(HaveOccurred())
				Expect(s.secondaryEnabled()).To(BeTrue())
				s.done = nil
			})
		})

		Context("when restore keeps failing", func() {
			It("should still return, reporting the failure", func() {
				s.startWith(ctx)
				s.procs.Launch("game.exe")
				Eventually(s.state, eventually).Should(Equal(domain.StateSuppressed))

				s.display.FailConfigure("MEM-2", errors.New("gone"))
				run()
				var err error
				Eventually(s.done, eventually).Should(Receive(&err))
				Expect(err).To(MatchError(ContainSubstring("after 2 attempts")))
				Expect(s.secondaryEnabled()).To(BeFalse())
				s.done = nil
			})
		})
	})

	Describe("crash recovery", func() {
		It("should never restore a cached baseline on startup", func() {
			baseline, err := s.controller.Capture(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(s.store.Save(domain.SlotActive, baseline)).To(Succeed())
			s.display.SetEnabled("MEM-2", false)

			s.startWith(ctx)
			Consistently(s.secondaryEnabled, 10*pollInterval, pollInterval).Should(BeFalse())

			recovered, err := s.store.Load(domain.SlotRecovered)
			Expect(err).NotTo(HaveOccurred())
			Expect(recovered).NotTo(BeNil())

			By("an explicit restore from cache")
			run()
			Eventually(s.done, eventually).Should(Receive())
			s.done = nil
			_, report, err := usecase.RestoreCached(context.Background(), s.controller, s.store,
				domain.SlotRecovered, domain.SlotActive)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Changed).To(ConsistOf("MEM-2"))
			Expect(s.secondaryEnabled()).To(BeTrue())
		})
	})
})
