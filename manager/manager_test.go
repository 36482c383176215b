package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/magenthq/magent-core/config"
	"github.com/magenthq/magent-core/errs"
	pexec "github.com/magenthq/magent-core/exec"
	"github.com/magenthq/magent-core/git"
	"github.com/magenthq/magent-core/logger"
	"github.com/magenthq/magent-core/paths"
	"github.com/magenthq/magent-core/tmux"
)

func newTestManager(t *testing.T) (*ThreadManager, *pexec.MockExecutor) {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	paths.Reset()
	logger.Reset()
	t.Cleanup(func() {
		logger.Reset()
		paths.Reset()
	})

	settings, err := config.LoadFrom(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	mock := pexec.NewMockExecutor(nil)
	m := New(Options{
		Settings:      settings,
		Git:           git.NewServiceWithExecutor(mock),
		Tmux:          tmux.NewServiceWithExecutor(mock),
		WorktreesBase: t.TempDir(),
		SocketPath:    "/tmp/test-magent.sock",
	})
	return m, mock
}

func addTestProject(t *testing.T, m *ThreadManager) config.Project {
	t.Helper()

	project := config.Project{
		ID:            "p1",
		Name:          "My App",
		RepoPath:      t.TempDir(),
		WorktreesPath: filepath.Join(t.TempDir(), "worktrees"),
		DefaultBranch: "main",
	}
	m.Settings().AddProject(project)
	return project
}

func addTestThread(t *testing.T, m *ThreadManager, id, name string, sessions []string) config.Thread {
	t.Helper()

	wt := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(wt, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	thread := config.Thread{
		ID:                 id,
		ProjectID:          "p1",
		Name:               name,
		WorktreePath:       wt,
		Branch:             branchForName(name),
		TmuxSessions:       sessions,
		AgentTmuxSessions:  sessions,
		LastFocusedSession: firstOrEmpty(sessions),
	}
	m.Settings().AddThread(thread)
	return thread
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func TestCreateThreadExplicitName(t *testing.T) {
	m, mock := newTestManager(t)
	project := addTestProject(t, m)

	thread, err := m.CreateThread(context.Background(), project.ID, "feature-x", "", "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	if thread.Name != "feature-x" {
		t.Errorf("Name = %q, want feature-x", thread.Name)
	}
	if thread.Branch != "magent/feature-x" {
		t.Errorf("Branch = %q, want magent/feature-x", thread.Branch)
	}
	wantWorktree := filepath.Join(project.WorktreesPath, "feature-x")
	if thread.WorktreePath != wantWorktree {
		t.Errorf("WorktreePath = %q, want %q", thread.WorktreePath, wantWorktree)
	}
	wantSession := "magent-my-app-" + thread.ID
	if len(thread.TmuxSessions) != 1 || thread.TmuxSessions[0] != wantSession {
		t.Errorf("TmuxSessions = %v, want [%s]", thread.TmuxSessions, wantSession)
	}

	if calls := mock.CallsMatching("git", "worktree", "add"); len(calls) != 1 {
		t.Errorf("expected 1 worktree add call, got %d", len(calls))
	}

	sessions := mock.CallsMatching("tmux", "new-session")
	if len(sessions) != 1 {
		t.Fatalf("expected 1 new-session call, got %d", len(sessions))
	}
	if !containsArgPair(sessions[0].Args, "-c", wantWorktree) {
		t.Errorf("new-session missing -c %s: %v", wantWorktree, sessions[0].Args)
	}
	if !containsArgPair(sessions[0].Args, "-e", "MAGENT_WORKTREE="+wantWorktree) {
		t.Errorf("new-session missing worktree env injection: %v", sessions[0].Args)
	}
}

func containsArgPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestCreateThreadGeneratesName(t *testing.T) {
	m, _ := newTestManager(t)
	project := addTestProject(t, m)

	thread, err := m.CreateThread(context.Background(), project.ID, "", "", "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if !ValidThreadName(thread.Name) {
		t.Errorf("generated name %q is not a valid thread name", thread.Name)
	}
	if thread.Branch != "magent/"+thread.Name {
		t.Errorf("Branch = %q does not match generated name %q", thread.Branch, thread.Name)
	}
}

func TestCreateThreadRegeneratesCollidingGeneratedName(t *testing.T) {
	m, _ := newTestManager(t)
	project := addTestProject(t, m)

	// "calm-otter" is taken as a name; "swift-raven" resolves to a
	// worktree path another thread already claims.
	addTestThread(t, m, "t1", "calm-otter", []string{"s1"})
	m.Settings().AddThread(config.Thread{
		ID:           "t2",
		ProjectID:    project.ID,
		Name:         "other-name",
		WorktreePath: project.ResolveWorktreePath(m.worktreesBase, "swift-raven"),
		Branch:       branchForName("other-name"),
	})

	names := []string{"calm-otter", "swift-raven", "brave-falcon"}
	calls := 0
	orig := randomThreadName
	randomThreadName = func() string {
		name := names[calls%len(names)]
		calls++
		return name
	}
	t.Cleanup(func() { randomThreadName = orig })

	thread, err := m.CreateThread(context.Background(), project.ID, "", "", "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if thread.Name != "brave-falcon" {
		t.Errorf("Name = %q, want brave-falcon after two collisions", thread.Name)
	}
	if calls != 3 {
		t.Errorf("name generator called %d times, want 3", calls)
	}
	for _, other := range []string{"t1", "t2"} {
		existing, _ := m.Settings().ThreadByID(other)
		if existing.WorktreePath == thread.WorktreePath {
			t.Errorf("worktree path %s collides with thread %s", thread.WorktreePath, other)
		}
	}
}

func TestCreateThreadNameConflict(t *testing.T) {
	m, _ := newTestManager(t)
	project := addTestProject(t, m)
	addTestThread(t, m, "t1", "feature-x", []string{"s1"})

	_, err := m.CreateThread(context.Background(), project.ID, "feature-x", "", "")
	if !errs.IsConflict(err) {
		t.Errorf("expected conflict error, got %v", err)
	}
}

func TestCreateThreadInvalidName(t *testing.T) {
	m, _ := newTestManager(t)
	project := addTestProject(t, m)

	for _, name := range []string{"Feature X", "-leading", "UPPER", "a b"} {
		_, err := m.CreateThread(context.Background(), project.ID, name, "", "")
		if errs.KindOf(err) != errs.KindValidation {
			t.Errorf("name %q: expected validation error, got %v", name, err)
		}
	}
}

func TestCreateThreadRollsBackWorktreeOnSessionFailure(t *testing.T) {
	m, mock := newTestManager(t)
	project := addTestProject(t, m)

	mock.AddPrefixMatch("tmux", []string{"new-session"}, pexec.MockResponse{
		Stderr: []byte("server exited unexpectedly"),
		Err:    errors.New("exit status 1"),
	})

	_, err := m.CreateThread(context.Background(), project.ID, "feature-x", "", "")
	if err == nil {
		t.Fatal("expected CreateThread to fail")
	}

	if calls := mock.CallsMatching("git", "worktree", "remove"); len(calls) != 1 {
		t.Errorf("expected 1 worktree remove (rollback) call, got %d", len(calls))
	}
	if threads := m.Settings().AllThreads(); len(threads) != 0 {
		t.Errorf("expected no persisted threads after rollback, got %d", len(threads))
	}
}

func TestCreateMainThreadIdempotent(t *testing.T) {
	m, mock := newTestManager(t)
	project := addTestProject(t, m)

	first, err := m.CreateMainThread(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("CreateMainThread failed: %v", err)
	}
	if !first.IsMain {
		t.Error("expected IsMain = true")
	}
	if first.WorktreePath != project.RepoPath {
		t.Errorf("WorktreePath = %q, want repo path %q", first.WorktreePath, project.RepoPath)
	}
	if calls := mock.CallsMatching("git", "worktree", "add"); len(calls) != 0 {
		t.Errorf("main thread must not create a worktree, got %d add calls", len(calls))
	}

	second, err := m.CreateMainThread(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("second CreateMainThread failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second call created a new main thread: %s vs %s", second.ID, first.ID)
	}
}

func TestArchiveThreadKeepsBranch(t *testing.T) {
	m, mock := newTestManager(t)
	addTestProject(t, m)
	thread := addTestThread(t, m, "t1", "feature-x", []string{"s1", "s2"})

	if err := m.ArchiveThread(context.Background(), thread.ID); err != nil {
		t.Fatalf("ArchiveThread failed: %v", err)
	}

	if calls := mock.CallsMatching("git", "worktree", "remove"); len(calls) != 1 {
		t.Errorf("expected 1 worktree remove call, got %d", len(calls))
	}
	if calls := mock.CallsMatching("git", "branch", "-D"); len(calls) != 0 {
		t.Errorf("archive must keep the branch, got %d delete calls", len(calls))
	}
	if calls := mock.CallsMatching("tmux", "kill-session"); len(calls) != 2 {
		t.Errorf("expected 2 kill-session calls, got %d", len(calls))
	}

	updated, _ := m.Settings().ThreadByID(thread.ID)
	if !updated.IsArchived {
		t.Error("expected thread to be archived")
	}

	// Archiving again is a no-op.
	if err := m.ArchiveThread(context.Background(), thread.ID); err != nil {
		t.Fatalf("re-archive failed: %v", err)
	}
}

func TestArchiveMainThreadRefused(t *testing.T) {
	m, _ := newTestManager(t)
	project := addTestProject(t, m)
	main, err := m.CreateMainThread(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("CreateMainThread failed: %v", err)
	}

	if err := m.ArchiveThread(context.Background(), main.ID); !errs.IsConflict(err) {
		t.Errorf("expected conflict archiving main thread, got %v", err)
	}
}

func TestDeleteThreadRemovesBranchAndRecord(t *testing.T) {
	m, mock := newTestManager(t)
	addTestProject(t, m)
	thread := addTestThread(t, m, "t1", "feature-x", []string{"s1"})

	if err := m.DeleteThread(context.Background(), thread.ID); err != nil {
		t.Fatalf("DeleteThread failed: %v", err)
	}

	if calls := mock.CallsMatching("git", "branch", "-D", thread.Branch); len(calls) != 1 {
		t.Errorf("expected 1 branch delete call, got %d", len(calls))
	}
	if _, ok := m.Settings().ThreadByID(thread.ID); ok {
		t.Error("expected thread record to be removed")
	}
}

func TestRenameThreadSupersedesSessions(t *testing.T) {
	m, mock := newTestManager(t)
	project := addTestProject(t, m)
	oldSession := sessionName(project.Slug(), "t1")
	thread := addTestThread(t, m, "t1", "feature-x", []string{oldSession})

	// Only the pre-rename session exists on the tmux server; superseded
	// name probes miss so the first candidate is used.
	mock.AddExactMatch("tmux", []string{"has-session", "-t", "=" + oldSession}, pexec.MockResponse{})
	mock.AddPrefixMatch("tmux", []string{"has-session"}, pexec.MockResponse{
		Stderr: []byte("can't find session"),
		Err:    errors.New("exit status 1"),
	})

	updated, err := m.RenameThread(context.Background(), thread.ID, "feature-y")
	if err != nil {
		t.Fatalf("RenameThread failed: %v", err)
	}

	if updated.Name != "feature-y" {
		t.Errorf("Name = %q, want feature-y", updated.Name)
	}
	if updated.Branch != "magent/feature-y" {
		t.Errorf("Branch = %q, want magent/feature-y", updated.Branch)
	}
	wantWorktree := filepath.Join(project.WorktreesPath, "feature-y")
	if updated.WorktreePath != wantWorktree {
		t.Errorf("WorktreePath = %q, want %q", updated.WorktreePath, wantWorktree)
	}

	if calls := mock.CallsMatching("git", "worktree", "move"); len(calls) != 1 {
		t.Errorf("expected 1 worktree move call, got %d", len(calls))
	}
	if calls := mock.CallsMatching("git", "branch", "-m"); len(calls) != 1 {
		t.Errorf("expected 1 branch rename call, got %d", len(calls))
	}

	superseded := oldSession + supersededSuffix
	if calls := mock.CallsMatching("tmux", "rename-session", "-t", "="+oldSession, superseded); len(calls) != 1 {
		t.Errorf("expected old session renamed to %s", superseded)
	}

	// The fresh session reuses the canonical name at the new path.
	if updated.LastFocusedSession != oldSession {
		t.Errorf("LastFocusedSession = %q, want %q", updated.LastFocusedSession, oldSession)
	}
	want := []string{superseded, oldSession}
	if len(updated.TmuxSessions) != 2 || updated.TmuxSessions[0] != want[0] || updated.TmuxSessions[1] != want[1] {
		t.Errorf("TmuxSessions = %v, want %v", updated.TmuxSessions, want)
	}
}

func TestRenameMainThreadOnlyChangesName(t *testing.T) {
	m, mock := newTestManager(t)
	project := addTestProject(t, m)
	main, err := m.CreateMainThread(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("CreateMainThread failed: %v", err)
	}
	mock.ClearCalls()

	updated, err := m.RenameThread(context.Background(), main.ID, "trunk")
	if err != nil {
		t.Fatalf("RenameThread failed: %v", err)
	}
	if updated.Name != "trunk" {
		t.Errorf("Name = %q, want trunk", updated.Name)
	}
	if calls := mock.CallsMatching("git"); len(calls) != 0 {
		t.Errorf("main rename must not touch git, got %v", calls)
	}
	if calls := mock.CallsMatching("tmux", "rename-session"); len(calls) != 0 {
		t.Error("main rename must not rename sessions")
	}
}

func TestRenameThreadRollsBackMoveOnBranchRenameFailure(t *testing.T) {
	m, mock := newTestManager(t)
	addTestProject(t, m)
	thread := addTestThread(t, m, "t1", "feature-x", []string{"s1"})

	mock.AddPrefixMatch("git", []string{"branch", "-m"}, pexec.MockResponse{
		Stderr: []byte("fatal: branch rename failed"),
		Err:    errors.New("exit status 1"),
	})

	_, err := m.RenameThread(context.Background(), thread.ID, "feature-y")
	if err == nil {
		t.Fatal("expected rename to fail")
	}

	moves := mock.CallsMatching("git", "worktree", "move")
	if len(moves) != 2 {
		t.Fatalf("expected move then rollback, got %d move calls", len(moves))
	}
	if moves[1].Args[2] != moves[0].Args[3] || moves[1].Args[3] != moves[0].Args[2] {
		t.Errorf("rollback %v does not reverse move %v", moves[1].Args, moves[0].Args)
	}

	current, _ := m.Settings().ThreadByID(thread.ID)
	if current.Name != "feature-x" || current.WorktreePath != thread.WorktreePath || current.Branch != thread.Branch {
		t.Errorf("record changed after failed rename: %+v", current)
	}
	if calls := mock.CallsMatching("tmux", "rename-session"); len(calls) != 0 {
		t.Error("failed rename must not supersede sessions")
	}
}

func TestAddTabIndexing(t *testing.T) {
	m, _ := newTestManager(t)
	project := addTestProject(t, m)
	base := sessionName(project.Slug(), "t1")
	addTestThread(t, m, "t1", "feature-x", []string{base, base + "-tab-2"})

	updated, session, err := m.AddTab(context.Background(), "t1", false)
	if err != nil {
		t.Fatalf("AddTab failed: %v", err)
	}
	if want := base + "-tab-3"; session != want {
		t.Errorf("session = %q, want %q", session, want)
	}
	if len(updated.TmuxSessions) != 3 {
		t.Errorf("TmuxSessions = %v, want 3 entries", updated.TmuxSessions)
	}
	// A shell tab never joins the agent set.
	if updated.IsAgentSession(session) {
		t.Error("shell tab must not be an agent session")
	}
}

func TestAddTabAgentJoinsAgentSet(t *testing.T) {
	m, _ := newTestManager(t)
	project := addTestProject(t, m)
	base := sessionName(project.Slug(), "t1")
	addTestThread(t, m, "t1", "feature-x", []string{base})

	updated, session, err := m.AddTab(context.Background(), "t1", true)
	if err != nil {
		t.Fatalf("AddTab failed: %v", err)
	}
	if !updated.IsAgentSession(session) {
		t.Error("agent tab must join the agent session set")
	}
}

func TestCloseTabRefusesLastSession(t *testing.T) {
	m, mock := newTestManager(t)
	addTestProject(t, m)
	addTestThread(t, m, "t1", "feature-x", []string{"s1"})

	err := m.CloseTab(context.Background(), "t1", "s1")
	if !errs.IsConflict(err) {
		t.Fatalf("expected conflict closing last session, got %v", err)
	}
	if calls := mock.CallsMatching("tmux", "kill-session"); len(calls) != 0 {
		t.Error("refused close must not kill the session")
	}
	thread, _ := m.Settings().ThreadByID("t1")
	if len(thread.TmuxSessions) != 1 {
		t.Errorf("thread state changed on refused close: %v", thread.TmuxSessions)
	}
}

func TestCloseTab(t *testing.T) {
	m, mock := newTestManager(t)
	addTestProject(t, m)
	addTestThread(t, m, "t1", "feature-x", []string{"s1", "s2"})

	if err := m.CloseTab(context.Background(), "t1", "s1"); err != nil {
		t.Fatalf("CloseTab failed: %v", err)
	}
	if calls := mock.CallsMatching("tmux", "kill-session"); len(calls) != 1 {
		t.Errorf("expected 1 kill-session call, got %d", len(calls))
	}
	thread, _ := m.Settings().ThreadByID("t1")
	if len(thread.TmuxSessions) != 1 || thread.TmuxSessions[0] != "s2" {
		t.Errorf("TmuxSessions = %v, want [s2]", thread.TmuxSessions)
	}
	if thread.LastFocusedSession != "s2" {
		t.Errorf("LastFocusedSession = %q, want s2", thread.LastFocusedSession)
	}
}

func TestSendPromptRequiresAgentSession(t *testing.T) {
	m, _ := newTestManager(t)
	addTestProject(t, m)
	thread := config.Thread{
		ID:           "t1",
		ProjectID:    "p1",
		Name:         "feature-x",
		WorktreePath: t.TempDir(),
		Branch:       "magent/feature-x",
		TmuxSessions: []string{"s1"},
	}
	m.Settings().AddThread(thread)

	err := m.SendPrompt(context.Background(), "t1", "hello")
	if !errs.IsConflict(err) {
		t.Errorf("expected conflict with no agent session, got %v", err)
	}
}

func TestSendPromptMarksAgentRan(t *testing.T) {
	m, mock := newTestManager(t)
	addTestProject(t, m)
	addTestThread(t, m, "t1", "feature-x", []string{"s1"})

	if err := m.SendPrompt(context.Background(), "t1", "do the thing"); err != nil {
		t.Fatalf("SendPrompt failed: %v", err)
	}
	if calls := mock.CallsMatching("tmux", "send-keys", "-t", "=s1"); len(calls) != 1 {
		t.Errorf("expected 1 send-keys call, got %d", len(calls))
	}
	thread, _ := m.Settings().ThreadByID("t1")
	if !thread.AgentEverRan {
		t.Error("expected AgentEverRan after first prompt")
	}
}

func TestRecoverWorktreeIdempotent(t *testing.T) {
	m, mock := newTestManager(t)
	addTestProject(t, m)
	thread := addTestThread(t, m, "t1", "feature-x", []string{"s1"})

	// Worktree exists on disk, so recovery is a no-op.
	outcome, err := m.RecoverWorktree(context.Background(), thread.ID)
	if err != nil {
		t.Fatalf("RecoverWorktree failed: %v", err)
	}
	if outcome != RecoveryRecovered {
		t.Errorf("outcome = %v, want RecoveryRecovered", outcome)
	}
	if calls := mock.CallsMatching("git", "worktree", "add"); len(calls) != 0 {
		t.Errorf("no-op recovery must not add a worktree, got %d calls", len(calls))
	}
}

func TestRecoverWorktreeRecreatesMissing(t *testing.T) {
	m, mock := newTestManager(t)
	addTestProject(t, m)
	thread := addTestThread(t, m, "t1", "feature-x", []string{"s1"})
	if err := os.RemoveAll(thread.WorktreePath); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	outcome, err := m.RecoverWorktree(context.Background(), thread.ID)
	if err != nil {
		t.Fatalf("RecoverWorktree failed: %v", err)
	}
	if outcome != RecoveryRecovered {
		t.Errorf("outcome = %v, want RecoveryRecovered", outcome)
	}
	if calls := mock.CallsMatching("git", "worktree", "add"); len(calls) != 1 {
		t.Errorf("expected 1 worktree add call, got %d", len(calls))
	}
}

func TestRecoverWorktreeSingleFlight(t *testing.T) {
	m, _ := newTestManager(t)
	addTestProject(t, m)
	thread := addTestThread(t, m, "t1", "feature-x", []string{"s1"})

	m.recoveringMu.Lock()
	m.recovering[thread.ID] = true
	m.recoveringMu.Unlock()

	_, err := m.RecoverWorktree(context.Background(), thread.ID)
	if !errs.IsConflict(err) {
		t.Errorf("expected conflict while recovery in flight, got %v", err)
	}
}

func TestRecoverWorktreeMainThread(t *testing.T) {
	m, mock := newTestManager(t)
	project := addTestProject(t, m)
	main, err := m.CreateMainThread(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("CreateMainThread failed: %v", err)
	}

	// The checkout exists, so recovery is a no-op success.
	outcome, err := m.RecoverWorktree(context.Background(), main.ID)
	if err != nil {
		t.Fatalf("RecoverWorktree failed: %v", err)
	}
	if outcome != RecoveryRecovered {
		t.Errorf("outcome = %v, want RecoveryRecovered", outcome)
	}

	// The checkout itself is gone. The engine does not manage it and must
	// not attempt a recreate.
	if err := os.RemoveAll(project.RepoPath); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	outcome, err = m.RecoverWorktree(context.Background(), main.ID)
	if outcome != RecoveryMainMissing {
		t.Errorf("outcome = %v, want RecoveryMainMissing", outcome)
	}
	if err == nil {
		t.Error("expected an error describing the missing checkout")
	}
	if calls := mock.CallsMatching("git", "worktree", "add"); len(calls) != 0 {
		t.Errorf("missing checkout must not trigger a worktree add, got %d calls", len(calls))
	}
}

func TestRecoverWorktreeMainCheckoutMissing(t *testing.T) {
	m, mock := newTestManager(t)
	project := addTestProject(t, m)
	if _, err := m.CreateMainThread(context.Background(), project.ID); err != nil {
		t.Fatalf("CreateMainThread failed: %v", err)
	}
	thread := addTestThread(t, m, "t1", "feature-x", []string{"s1"})

	// Both the thread's worktree and the source checkout are gone; there
	// is nothing to rebuild from.
	if err := os.RemoveAll(thread.WorktreePath); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if err := os.RemoveAll(project.RepoPath); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	outcome, err := m.RecoverWorktree(context.Background(), thread.ID)
	if outcome != RecoveryMainMissing {
		t.Errorf("outcome = %v, want RecoveryMainMissing", outcome)
	}
	if !errs.IsNotFound(err) {
		t.Errorf("err = %v, want NotFound", err)
	}
	if calls := mock.CallsMatching("git", "worktree", "add"); len(calls) != 0 {
		t.Errorf("missing source checkout must not trigger a worktree add, got %d calls", len(calls))
	}
}

func TestRestoreThreadsDropsVanishedSessions(t *testing.T) {
	m, mock := newTestManager(t)
	addTestProject(t, m)
	addTestThread(t, m, "t1", "feature-x", []string{"s1", "s2"})

	mock.AddExactMatch("tmux", []string{"list-sessions", "-F", "#{session_name}"}, pexec.MockResponse{
		Stdout: []byte("s2\nunrelated-session\n"),
	})

	if err := m.RestoreThreads(context.Background()); err != nil {
		t.Fatalf("RestoreThreads failed: %v", err)
	}

	thread, ok := m.Settings().ThreadByID("t1")
	if !ok {
		t.Fatal("thread must survive session loss")
	}
	if len(thread.TmuxSessions) != 1 || thread.TmuxSessions[0] != "s2" {
		t.Errorf("TmuxSessions = %v, want [s2]", thread.TmuxSessions)
	}
	if thread.LastFocusedSession != "s2" {
		t.Errorf("LastFocusedSession = %q, want s2", thread.LastFocusedSession)
	}
}

func TestSyncThreadsReportsMissingWorktrees(t *testing.T) {
	m, _ := newTestManager(t)
	addTestProject(t, m)
	kept := addTestThread(t, m, "t1", "feature-x", []string{"s1"})
	gone := addTestThread(t, m, "t2", "feature-y", []string{"s2"})
	if err := os.RemoveAll(gone.WorktreePath); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	missing, err := m.SyncThreadsWithWorktrees(context.Background(), "p1")
	if err != nil {
		t.Fatalf("SyncThreadsWithWorktrees failed: %v", err)
	}
	if len(missing) != 1 || missing[0] != gone.ID {
		t.Errorf("missing = %v, want [%s]", missing, gone.ID)
	}
	if _, ok := m.Settings().ThreadByID(kept.ID); !ok {
		t.Error("intact thread must be untouched")
	}
}

func TestRecordCompletionAndMarkRead(t *testing.T) {
	m, _ := newTestManager(t)
	addTestProject(t, m)
	addTestThread(t, m, "t1", "feature-x", []string{"s1"})

	var events []Event
	m.Subscribe(func(ev Event) { events = append(events, ev) })

	if err := m.RecordCompletion("t1", "s1", false); err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}

	thread, _ := m.Settings().ThreadByID("t1")
	if thread.LastCompletionAt == nil {
		t.Error("expected LastCompletionAt to be stamped")
	}
	if len(thread.UnreadCompletionSessions) != 1 || thread.UnreadCompletionSessions[0] != "s1" {
		t.Errorf("UnreadCompletionSessions = %v, want [s1]", thread.UnreadCompletionSessions)
	}
	if len(events) != 1 || events[0].Type != EventCompletion {
		t.Errorf("events = %v, want one completion event", events)
	}

	// A foregrounded completion stamps the time but stays read.
	if err := m.MarkRead("t1", "s1"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if err := m.RecordCompletion("t1", "s1", true); err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}
	thread, _ = m.Settings().ThreadByID("t1")
	if len(thread.UnreadCompletionSessions) != 0 {
		t.Errorf("foreground completion must not mark unread: %v", thread.UnreadCompletionSessions)
	}
}

func TestStatusOverlay(t *testing.T) {
	m, _ := newTestManager(t)

	m.SetSessionActivity("t1", "s1", ActivityBusy)
	m.SetVCSState("t1", true, false)

	st := m.Status("t1")
	if !st.BusySessions["s1"] {
		t.Error("expected s1 busy")
	}
	if !st.Dirty {
		t.Error("expected dirty")
	}

	m.SetSessionActivity("t1", "s1", ActivityWaiting)
	st = m.Status("t1")
	if st.BusySessions["s1"] || !st.WaitingSessions["s1"] {
		t.Errorf("expected s1 to move busy -> waiting, got %+v", st)
	}

	m.SetSessionActivity("t1", "s1", ActivityIdle)
	st = m.Status("t1")
	if st.BusySessions["s1"] || st.WaitingSessions["s1"] {
		t.Errorf("expected s1 idle, got %+v", st)
	}

	m.clearStatus("t1")
	st = m.Status("t1")
	if len(st.BusySessions) != 0 || st.Dirty {
		t.Errorf("expected empty overlay after clear, got %+v", st)
	}
}

func TestAddSection(t *testing.T) {
	m, _ := newTestManager(t)

	section, err := m.AddSection("review", "#ff8800", 0)
	if err != nil {
		t.Fatalf("AddSection failed: %v", err)
	}
	if section.Name != "review" || section.ID == "" {
		t.Errorf("unexpected section: %+v", section)
	}

	if _, err := m.AddSection("review", "#00ff00", 0); !errs.IsConflict(err) {
		t.Errorf("expected conflict for duplicate section, got %v", err)
	}
}

func TestAssignSectionValidatesExistence(t *testing.T) {
	m, _ := newTestManager(t)
	addTestProject(t, m)
	addTestThread(t, m, "t1", "feature-x", []string{"s1"})

	if err := m.AssignSection("t1", "nope"); !errs.IsNotFound(err) {
		t.Errorf("expected not-found for unknown section, got %v", err)
	}

	section, err := m.AddSection("review", "", 0)
	if err != nil {
		t.Fatalf("AddSection failed: %v", err)
	}
	if err := m.AssignSection("t1", section.ID); err != nil {
		t.Fatalf("AssignSection failed: %v", err)
	}
	thread, _ := m.Settings().ThreadByID("t1")
	if thread.SectionID != section.ID {
		t.Errorf("SectionID = %q, want %q", thread.SectionID, section.ID)
	}

	// Clearing back to the default section always succeeds.
	if err := m.AssignSection("t1", ""); err != nil {
		t.Fatalf("AssignSection to default failed: %v", err)
	}
}

func TestNextTabIndex(t *testing.T) {
	base := sessionName("myapp", "abc123")
	tests := []struct {
		name     string
		sessions []string
		want     int
	}{
		{"first tab", []string{base}, 2},
		{"after tab 2", []string{base, base + "-tab-2"}, 3},
		{"gap not reused", []string{base, base + "-tab-4"}, 5},
		{"superseded counts", []string{base, base + "-tab-3" + supersededSuffix}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextTabIndex("myapp", "abc123", tt.sessions); got != tt.want {
				t.Errorf("nextTabIndex(%v) = %d, want %d", tt.sessions, got, tt.want)
			}
		})
	}
}

func TestValidThreadName(t *testing.T) {
	valid := []string{"a", "feature-x", "fix-123", "0abc"}
	for _, name := range valid {
		if !ValidThreadName(name) {
			t.Errorf("ValidThreadName(%q) = false, want true", name)
		}
	}
	invalid := []string{"", "-leading", "UPPER", "has space", "has_underscore"}
	for _, name := range invalid {
		if ValidThreadName(name) {
			t.Errorf("ValidThreadName(%q) = true, want false", name)
		}
	}
}
