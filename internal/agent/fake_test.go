package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mosaicdev/mosaic/internal/store"
)

// fakeClient is an in-memory runtimeClient. Tests preload sessions and
// messages and inspect the calls the orchestrator made.
type fakeClient struct {
	mu         sync.Mutex
	sessions   map[string]*SessionInfo
	messages   map[string][]Message
	nextIDs    []string // ids handed out by CreateSession, in order
	createErr  error
	getErr     error
	reverts    []string
	unreverts  int
	aborts     []string
	prompts    []string
	streamCh   chan []byte
	streamErr  error
	getCalls   int
	renames    []string
	commandLog []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		sessions: make(map[string]*SessionInfo),
		messages: make(map[string][]Message),
	}
}

func (f *fakeClient) addSession(info *SessionInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[info.ID] = info
}

func (f *fakeClient) CreateSession(_ context.Context, _ string) (*SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if len(f.nextIDs) == 0 {
		return &SessionInfo{}, nil
	}
	id := f.nextIDs[0]
	f.nextIDs = f.nextIDs[1:]
	info := &SessionInfo{ID: id}
	f.sessions[id] = info
	return info, nil
}

func (f *fakeClient) GetSession(_ context.Context, _, sessionID string) (*SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	info, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	copied := *info
	if info.Revert != nil {
		r := *info.Revert
		copied.Revert = &r
	}
	return &copied, nil
}

func (f *fakeClient) Messages(_ context.Context, _, sessionID string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[sessionID], nil
}

func (f *fakeClient) Prompt(_ context.Context, _, sessionID, text string, _ *ModelRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, sessionID+":"+text)
	return nil
}

func (f *fakeClient) Abort(_ context.Context, _, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts = append(f.aborts, sessionID)
	return nil
}

func (f *fakeClient) Revert(_ context.Context, _, sessionID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverts = append(f.reverts, messageID)
	if info, ok := f.sessions[sessionID]; ok {
		info.Revert = &RevertState{MessageID: messageID, Diff: "diff-" + messageID}
	}
	return nil
}

func (f *fakeClient) Unrevert(_ context.Context, _, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreverts++
	if info, ok := f.sessions[sessionID]; ok {
		info.Revert = nil
	}
	return nil
}

func (f *fakeClient) RenameSession(_ context.Context, _, sessionID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames = append(f.renames, sessionID+":"+title)
	return nil
}

func (f *fakeClient) Commands(_ context.Context, _ string) ([]CommandInfo, error) {
	return []CommandInfo{{Name: "init"}}, nil
}

func (f *fakeClient) SendCommand(_ context.Context, _, sessionID, command, arguments string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commandLog = append(f.commandLog, sessionID+":"+command+":"+arguments)
	return nil
}

func (f *fakeClient) Providers(_ context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"providers":[{"id":"anthropic","models":{"opus":{"name":"Opus"}}}]}`), nil
}

func (f *fakeClient) StreamEvents(ctx context.Context, _ string, handle func(raw []byte)) error {
	f.mu.Lock()
	ch := f.streamCh
	streamErr := f.streamErr
	f.mu.Unlock()
	if ch == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return streamErr
			}
			handle(raw)
		}
	}
}

// fakeStore is an in-memory Store collaborator.
type fakeStore struct {
	mu        sync.Mutex
	settings  map[string]string
	sessions  map[string]*store.Session
	worktrees map[string]*store.Worktree
	projects  map[string]*store.Project
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings:  make(map[string]string),
		sessions:  make(map[string]*store.Session),
		worktrees: make(map[string]*store.Worktree),
		projects:  make(map[string]*store.Project),
	}
}

func (s *fakeStore) GetSetting(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[key], nil
}

func (s *fakeStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *fakeStore) GetSession(id string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	copied := *sess
	return &copied, nil
}

func (s *fakeStore) UpdateSession(sess *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	s.sessions[sess.ID] = &copied
	return nil
}

func (s *fakeStore) WorktreeBySessionID(sessionID string) (*store.Worktree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	wt, ok := s.worktrees[sess.WorktreeID]
	if !ok {
		return nil, fmt.Errorf("worktree %s not found", sess.WorktreeID)
	}
	copied := *wt
	return &copied, nil
}

func (s *fakeStore) UpdateWorktree(wt *store.Worktree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	copied := *wt
	s.worktrees[wt.ID] = &copied
	return nil
}

func (s *fakeStore) GetProject(id string) (*store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s not found", id)
	}
	copied := *p
	return &copied, nil
}

// fakeGit records rename attempts and serves scripted branch existence.
type fakeGit struct {
	mu        sync.Mutex
	existing  map[string]bool
	existsErr error
	renameErr error
	renames   []string
}

func newFakeGit() *fakeGit {
	return &fakeGit{existing: make(map[string]bool)}
}

func (g *fakeGit) BranchExists(_ context.Context, _, branch string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.existsErr != nil {
		return false, g.existsErr
	}
	return g.existing[branch], nil
}

func (g *fakeGit) RenameBranch(_ context.Context, _, oldName, newName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.renameErr != nil {
		return g.renameErr
	}
	g.renames = append(g.renames, oldName+"->"+newName)
	return nil
}

func (g *fakeGit) renameCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.renames)
}

// fakeNotifier records completion notifications.
type fakeNotifier struct {
	mu    sync.Mutex
	names []string
}

func (n *fakeNotifier) SessionComplete(name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.names = append(n.names, name)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.names)
}

// fakeFocus reports a fixed focus state.
type fakeFocus struct{ focused bool }

func (f *fakeFocus) Focused() bool { return f.focused }

// fakeSink captures emitted stream events.
type fakeSink struct {
	mu     sync.Mutex
	events []StreamEvent
}

func (s *fakeSink) Send(_ string, payload any) {
	ev, ok := payload.(StreamEvent)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *fakeSink) all() []StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamEvent, len(s.events))
	copy(out, s.events)
	return out
}

// newTestOrchestrator wires an orchestrator around a fake client so no
// subprocess is ever spawned.
func newTestOrchestrator(fc *fakeClient, deps Deps) *Orchestrator {
	o := New(Config{}, deps)
	o.newInstance = func() (*instance, error) {
		return newInstance(fc, nil), nil
	}
	return o
}
