package agent

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/mosaicdev/mosaic/internal/errors"
	"github.com/mosaicdev/mosaic/internal/logger"
)

// Deps are the collaborators the orchestrator calls into but does not own.
type Deps struct {
	Store    Store
	Git      Git
	Notifier Notifier
	Focus    Focus
	Sink     Sink
}

// creation is the future guarding an in-flight instance creation so that
// concurrent Connect calls share one subprocess spawn.
type creation struct {
	done chan struct{}
	inst *instance
	err  error
}

// Orchestrator owns the singleton runtime instance and exposes the session
// operations consumed by the IPC layer.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	mu       sync.Mutex
	inst     *instance
	creating *creation

	// newInstance builds a live instance; tests swap it for a fake.
	newInstance func() (*instance, error)
}

// New builds an orchestrator. No subprocess is spawned until the first
// Connect.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  logger.ComponentLogger("AgentServer"),
	}
	o.newInstance = func() (*instance, error) {
		proc, addr, err := startRuntime(o.cfg, o.log)
		if err != nil {
			return nil, err
		}
		return newInstance(NewClient(addr), proc), nil
	}
	return o
}

// ensureInstance returns the live instance, creating it on first use. A
// creation already in flight is awaited and shared, so concurrent callers
// can never spawn duplicate subprocesses. A failed creation is fatal to
// every caller awaiting it; no retry happens here.
func (o *Orchestrator) ensureInstance(ctx context.Context) (*instance, error) {
	o.mu.Lock()
	if o.inst != nil {
		inst := o.inst
		o.mu.Unlock()
		return inst, nil
	}
	if o.creating != nil {
		c := o.creating
		o.mu.Unlock()
		select {
		case <-c.done:
			return c.inst, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &creation{done: make(chan struct{})}
	o.creating = c
	o.mu.Unlock()

	inst, err := o.newInstance()

	o.mu.Lock()
	if err == nil {
		o.inst = inst
	}
	o.creating = nil
	o.mu.Unlock()

	c.inst, c.err = inst, err
	close(c.done)
	return inst, err
}

// active returns the current instance without creating one.
func (o *Orchestrator) active() *instance {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inst
}

// connected returns the instance holding a mapping for the session, or an
// error when no active connection exists.
func (o *Orchestrator) connected(directory, remoteID string) (*instance, error) {
	inst := o.active()
	if inst == nil {
		return nil, errors.SessionNotConnected(remoteID)
	}
	if _, ok := inst.lookupOwner(directory, remoteID); !ok {
		return nil, errors.SessionNotConnected(remoteID)
	}
	return inst, nil
}

// Connect creates a new remote session scoped to directory, registers it to
// the owning application session, and subscribes to the directory's event
// stream. Returns the new remote session id.
func (o *Orchestrator) Connect(ctx context.Context, directory, owningSessionID string) (string, error) {
	inst, err := o.ensureInstance(ctx)
	if err != nil {
		return "", err
	}

	info, err := inst.client.CreateSession(ctx, directory)
	if err != nil {
		return "", err
	}
	if info == nil || info.ID == "" {
		return "", errors.E(errors.Op("agent.Connect"), errors.KindAgent, "runtime returned no session id")
	}

	inst.register(directory, info.ID, owningSessionID)
	o.subscribeDirectory(inst, directory)
	o.log.Info("session connected", "directory", directory, "remoteID", info.ID, "owningID", owningSessionID)
	return info.ID, nil
}

// Reconnect re-attaches an application session to an existing remote
// session. This is a best-effort recovery path: failure to find the remote
// session yields Success=false rather than an error.
func (o *Orchestrator) Reconnect(ctx context.Context, directory, remoteID, owningSessionID string) (*ReconnectResult, error) {
	inst, err := o.ensureInstance(ctx)
	if err != nil {
		return nil, err
	}

	inst.migrateLegacy(directory, remoteID)

	// Already registered (the UI re-entered the same directory): only
	// retarget the owning id. Re-subscribing here would leak a reference
	// count the matching disconnect never pays back.
	if inst.retarget(directory, remoteID, owningSessionID) {
		info, err := inst.client.GetSession(ctx, directory, remoteID)
		if err != nil {
			o.log.Warn("reconnect status fetch failed", "remoteID", remoteID, "error", err)
			return &ReconnectResult{Success: true}, nil
		}
		return reconnectResult(info), nil
	}

	info, err := inst.client.GetSession(ctx, directory, remoteID)
	if err != nil || info == nil || info.ID == "" {
		o.log.Warn("reconnect failed, remote session not recoverable", "directory", directory, "remoteID", remoteID, "error", err)
		return &ReconnectResult{Success: false}, nil
	}

	inst.register(directory, remoteID, owningSessionID)
	o.subscribeDirectory(inst, directory)
	o.log.Info("session reconnected", "directory", directory, "remoteID", remoteID, "owningID", owningSessionID)
	return reconnectResult(info), nil
}

func reconnectResult(info *SessionInfo) *ReconnectResult {
	res := &ReconnectResult{Success: true}
	if status, err := json.Marshal(info); err == nil {
		res.Status = status
	}
	if info.Revert != nil {
		res.RevertMessage = info.Revert.MessageID
	}
	return res
}

// Disconnect drops a session's mapping, releases its directory subscription,
// purges its subagents from the cache, and tears the runtime down when it
// was the last session system-wide.
func (o *Orchestrator) Disconnect(directory, remoteID string) {
	inst := o.active()
	if inst == nil {
		return
	}

	inst.unsubscribe(directory)
	inst.removeMappings(directory, remoteID)
	inst.purgeChildren(directory, remoteID)
	o.log.Info("session disconnected", "directory", directory, "remoteID", remoteID)

	if inst.empty() {
		o.Shutdown()
	}
}

// Shutdown cancels every subscription, clears caches, closes the subprocess
// and drops the instance. Safe to call with no instance.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	inst := o.inst
	o.inst = nil
	o.mu.Unlock()

	if inst == nil {
		return
	}

	inst.cancelAllSubscriptions()
	inst.clearCaches()
	if inst.proc != nil {
		inst.proc.Close()
	}
	o.log.Info("agent runtime shut down")
}

// subscribeDirectory increments the directory's subscription refcount and
// starts the consumption loop when the subscription is new.
func (o *Orchestrator) subscribeDirectory(inst *instance, directory string) {
	ctx, sub := inst.subscribe(directory)
	if ctx == nil {
		return
	}
	go o.consumeEvents(ctx, inst, directory, sub)
}

// consumeEvents is the long-lived per-directory loop over the runtime's
// event stream. Cancellation is expected and silent; any other termination
// is logged and ends the subscription (a later connect starts a fresh one).
func (o *Orchestrator) consumeEvents(ctx context.Context, inst *instance, directory string, sub *subscription) {
	o.log.Debug("event stream started", "directory", directory)

	err := inst.client.StreamEvents(ctx, directory, func(raw []byte) {
		o.routeEvent(ctx, inst, directory, raw)
	})

	switch {
	case ctx.Err() != nil || stderrors.Is(err, context.Canceled):
		o.log.Debug("event stream cancelled", "directory", directory)
	case err == nil:
		o.log.Info("event stream ended", "directory", directory)
		inst.dropSubscription(directory, sub)
	default:
		o.log.Error("event stream failed", "directory", directory, "error", err)
		inst.dropSubscription(directory, sub)
	}
}

// Prompt submits user text to a session. Fire-and-forget: it returns once
// the request is dispatched, and the response arrives as streamed events.
// Overlapping prompts on one session are not serialized; behavior under
// that race is undefined.
func (o *Orchestrator) Prompt(ctx context.Context, directory, remoteID, content, model string) error {
	inst, err := o.connected(directory, remoteID)
	if err != nil {
		return err
	}

	ref := o.resolveModel(model)
	go func() {
		// The runtime holds the request open for the whole turn, so this
		// must not inherit the caller's (request-scoped) context.
		if err := inst.client.Prompt(context.Background(), directory, remoteID, content, ref); err != nil {
			o.log.Warn("prompt failed", "directory", directory, "remoteID", remoteID, "error", err)
		}
	}()
	return nil
}

// resolveModel turns "provider/model" into a ModelRef, falling back to the
// persisted selection. Returns nil when neither is set (runtime default).
func (o *Orchestrator) resolveModel(model string) *ModelRef {
	if model == "" && o.deps.Store != nil {
		model, _ = o.deps.Store.GetSetting(SelectedModelKey)
	}
	if model == "" {
		return nil
	}
	provider, id, ok := strings.Cut(model, "/")
	if !ok {
		return nil
	}
	return &ModelRef{ProviderID: provider, ModelID: id}
}

// Abort stops a session's in-flight turn. Returns false when the runtime
// rejected the abort.
func (o *Orchestrator) Abort(ctx context.Context, directory, remoteID string) (bool, error) {
	inst, err := o.connected(directory, remoteID)
	if err != nil {
		return false, err
	}
	if err := inst.client.Abort(ctx, directory, remoteID); err != nil {
		return false, err
	}
	return true, nil
}

// Messages returns the session's full ordered message list.
func (o *Orchestrator) Messages(ctx context.Context, directory, remoteID string) ([]Message, error) {
	inst, err := o.connected(directory, remoteID)
	if err != nil {
		return nil, err
	}
	return inst.client.Messages(ctx, directory, remoteID)
}

// SessionInfo returns the runtime's current view of the session.
func (o *Orchestrator) SessionInfo(ctx context.Context, directory, remoteID string) (*SessionInfo, error) {
	inst, err := o.connected(directory, remoteID)
	if err != nil {
		return nil, err
	}
	return inst.client.GetSession(ctx, directory, remoteID)
}

// ListCommands returns the slash commands available under a directory.
func (o *Orchestrator) ListCommands(ctx context.Context, directory string) ([]CommandInfo, error) {
	inst := o.active()
	if inst == nil {
		return nil, errors.E(errors.Op("agent.ListCommands"), errors.KindNotFound, "no active runtime")
	}
	return inst.client.Commands(ctx, directory)
}

// SendCommand runs a slash command in a session.
func (o *Orchestrator) SendCommand(ctx context.Context, directory, remoteID, command, arguments string) error {
	inst, err := o.connected(directory, remoteID)
	if err != nil {
		return err
	}
	return inst.client.SendCommand(ctx, directory, remoteID, command, arguments)
}

// RenameSession sets the session's title on the runtime side.
func (o *Orchestrator) RenameSession(ctx context.Context, directory, remoteID, title string) error {
	inst, err := o.connected(directory, remoteID)
	if err != nil {
		return err
	}
	return inst.client.RenameSession(ctx, directory, remoteID, title)
}

// AvailableModels returns the runtime's raw provider/model catalog.
func (o *Orchestrator) AvailableModels(ctx context.Context) (json.RawMessage, error) {
	inst := o.active()
	if inst == nil {
		return nil, errors.E(errors.Op("agent.AvailableModels"), errors.KindNotFound, "no active runtime")
	}
	return inst.client.Providers(ctx)
}

// ModelInfo extracts one model's catalog entry from the provider listing.
func (o *Orchestrator) ModelInfo(ctx context.Context, model string) (json.RawMessage, error) {
	provider, id, ok := strings.Cut(model, "/")
	if !ok {
		return nil, errors.E(errors.Op("agent.ModelInfo"), errors.KindInvalid,
			fmt.Sprintf("model %q is not provider/model", model))
	}
	catalog, err := o.AvailableModels(ctx)
	if err != nil {
		return nil, err
	}
	entry := gjson.GetBytes(catalog, `providers.#(id=="`+provider+`").models.`+id)
	if !entry.Exists() {
		return nil, errors.E(errors.Op("agent.ModelInfo"), errors.KindNotFound,
			fmt.Sprintf("model %s not in catalog", model))
	}
	return json.RawMessage(entry.Raw), nil
}

// SelectedModel returns the persisted model selection ("" when unset).
func (o *Orchestrator) SelectedModel() (string, error) {
	return o.deps.Store.GetSetting(SelectedModelKey)
}

// SetSelectedModel persists the model selection.
func (o *Orchestrator) SetSelectedModel(model string) error {
	return o.deps.Store.SetSetting(SelectedModelKey, model)
}
