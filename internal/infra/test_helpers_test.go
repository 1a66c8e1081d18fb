package infra

import (
	"os"
	"sort"
	"sync"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

// mockProcessManager is a test double for domain.ProcessManager.
type mockProcessManager struct {
	runningPIDs map[int]bool
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{runningPIDs: make(map[int]bool)}
}

func (m *mockProcessManager) IsRunning(pid int) bool { return m.runningPIDs[pid] }
func (m *mockProcessManager) GetCurrentPID() int     { return os.Getpid() }

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.runningPIDs[pid] = running
}

// fakeProfiles is a test double for domain.ProfileManager backed by a serial table.
type fakeProfiles struct {
	current domain.UserID
	serials map[domain.UserID]int64
	parents map[domain.UserID]domain.UserID
}

func newFakeProfiles(serials map[domain.UserID]int64) *fakeProfiles {
	return &fakeProfiles{serials: serials, parents: map[domain.UserID]domain.UserID{}}
}

func (f *fakeProfiles) CurrentUser() domain.UserID { return f.current }

func (f *fakeProfiles) ProfileParent(user domain.UserID) (domain.UserID, bool) {
	p, ok := f.parents[user]
	return p, ok
}

func (f *fakeProfiles) Profiles(user domain.UserID) []domain.UserID {
	out := make([]domain.UserID, 0, len(f.serials))
	for u := range f.serials {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *fakeProfiles) UserForSerial(serial int64) (domain.UserID, bool) {
	for u, s := range f.serials {
		if s == serial {
			return u, true
		}
	}
	return 0, false
}

func (f *fakeProfiles) SerialForUser(user domain.UserID) (int64, error) {
	s, ok := f.serials[user]
	if !ok {
		return 0, domain.ErrProfileNotFound
	}
	return s, nil
}

// recordingRunner is a CommandRunner that records invocations.
type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
	out   []byte
}

func (r *recordingRunner) Run(name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.err
}

func (r *recordingRunner) Output(name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.out, r.err
}

func (r *recordingRunner) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}
