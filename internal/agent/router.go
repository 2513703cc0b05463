package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mosaicdev/mosaic/internal/cities"
	"github.com/mosaicdev/mosaic/internal/gitops"
)

// Event types the runtime emits that carry nothing for the UI.
var noisyEventTypes = map[string]struct{}{
	"server.heartbeat": {},
	"server.connected": {},
}

// Runtime event types with side effects.
const (
	eventSessionIdle    = "session.idle"
	eventSessionUpdated = "session.updated"
)

// maxBranchSuffix bounds the collision probe: candidate, candidate-2,
// ... candidate-10.
const maxBranchSuffix = 10

// idPaths are the extraction attempts for the remote session id, in order.
// The runtime is not consistent about where the id lives, so each shape is
// tried until one matches.
var idPaths = []string{
	"properties.part.sessionID",
	"properties.info.id",
	"properties.info.sessionID",
	"properties.sessionID",
	"sessionID",
}

// routeEvent normalizes one raw event and forwards it to the UI sink.
// Failures here are logged and dropped; they must never end the stream.
func (o *Orchestrator) routeEvent(ctx context.Context, inst *instance, directory string, raw []byte) {
	body := gjson.ParseBytes(raw)

	// Alternate envelope: {directory, payload}. The wrapper's directory is
	// authoritative for this event, overriding the subscription's own.
	if dir := body.Get("directory"); dir.Exists() && body.Get("payload").Exists() {
		if dir.String() != "" {
			directory = dir.String()
		}
		body = body.Get("payload")
	}

	evType := body.Get("type").String()
	if evType == "" {
		return
	}
	if _, noisy := noisyEventTypes[evType]; noisy {
		return
	}

	remoteID := extractRemoteSessionID(body)
	if remoteID == "" {
		o.log.Debug("event carries no session id", "type", evType)
		return
	}

	owningID, childID := o.resolveOwner(ctx, inst, directory, remoteID)
	if owningID == "" {
		o.log.Warn("orphaned event dropped", "type", evType, "directory", directory, "remoteID", remoteID)
		return
	}
	isChild := childID != ""

	// Side effects run before forwarding but can never prevent it.
	o.applySideEffects(ctx, evType, body, owningID, isChild)

	ev := StreamEvent{
		Type:           evType,
		SessionID:      owningID,
		Payload:        json.RawMessage(body.Raw),
		ChildSessionID: childID,
	}
	if status := body.Get("properties.status"); status.Exists() {
		ev.Status = json.RawMessage(status.Raw)
	}
	if o.deps.Sink != nil {
		o.deps.Sink.Send(EventChannel, ev)
	}
}

// extractRemoteSessionID tries each known id location in order.
func extractRemoteSessionID(body gjson.Result) string {
	for _, path := range idPaths {
		if v := body.Get(path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// resolveOwner maps a remote session id to its owning application session.
// When no direct mapping exists the id is treated as a potential subagent:
// its parent is looked up (through the cache, populated from the runtime on
// first miss) and the mapping retried under the parent id. childID is
// non-empty exactly when that fallback resolved the event.
func (o *Orchestrator) resolveOwner(ctx context.Context, inst *instance, directory, remoteID string) (owningID, childID string) {
	if owning, ok := inst.lookupOwner(directory, remoteID); ok {
		return owning, ""
	}

	parent := o.parentOf(ctx, inst, directory, remoteID)
	if parent == "" {
		return "", ""
	}
	if owning, ok := inst.lookupOwner(directory, parent); ok {
		return owning, remoteID
	}
	return "", ""
}

// parentOf returns the parent remote id for a session, or "" when it has
// none. Results are cached per (directory, child), including the negative
// case, so the runtime is queried at most once per session.
func (o *Orchestrator) parentOf(ctx context.Context, inst *instance, directory, childID string) string {
	if parent, ok := inst.cachedParent(directory, childID); ok {
		return parent
	}

	info, err := inst.client.GetSession(ctx, directory, childID)
	if err != nil {
		// Transient failure: leave the cache empty so the next event retries.
		o.log.Debug("parent lookup failed", "directory", directory, "remoteID", childID, "error", err)
		return ""
	}
	inst.cacheParent(directory, childID, info.ParentID)
	return info.ParentID
}

// applySideEffects performs the hooks gated on event type. Every failure is
// logged and swallowed.
func (o *Orchestrator) applySideEffects(ctx context.Context, evType string, body gjson.Result, owningID string, isChild bool) {
	switch evType {
	case eventSessionIdle:
		// Never notify for a finishing subagent: its parent may still be
		// working. And never notify while the window is focused.
		if isChild {
			return
		}
		if o.deps.Focus != nil && o.deps.Focus.Focused() {
			return
		}
		o.notifyComplete(owningID)

	case eventSessionUpdated:
		title := body.Get("properties.info.title").String()
		if title == "" {
			return
		}
		o.persistTitle(owningID, title)
		o.maybeRenameBranch(ctx, owningID, title)
	}
}

func (o *Orchestrator) notifyComplete(owningID string) {
	if o.deps.Notifier == nil {
		return
	}
	name := ""
	if o.deps.Store != nil {
		if sess, err := o.deps.Store.GetSession(owningID); err == nil {
			name = sess.Name
			if name == "" {
				name = sess.Title
			}
		}
	}
	if err := o.deps.Notifier.SessionComplete(name); err != nil {
		o.log.Warn("completion notification failed", "owningID", owningID, "error", err)
	}
}

func (o *Orchestrator) persistTitle(owningID, title string) {
	if o.deps.Store == nil {
		return
	}
	sess, err := o.deps.Store.GetSession(owningID)
	if err != nil {
		o.log.Debug("title persistence skipped, session unknown", "owningID", owningID)
		return
	}
	if sess.Title == title {
		return
	}
	sess.Title = title
	if err := o.deps.Store.UpdateSession(sess); err != nil {
		o.log.Warn("title persistence failed", "owningID", owningID, "error", err)
	}
}

// maybeRenameBranch performs the one-shot branch auto-rename: when the
// worktree still carries a placeholder city name and the session earned a
// real title, the branch is renamed after that title. The one-shot flag is
// advanced whether or not the rename succeeds, so a failing rename is never
// retried.
func (o *Orchestrator) maybeRenameBranch(ctx context.Context, owningID, title string) {
	if o.deps.Store == nil || o.deps.Git == nil {
		return
	}

	wt, err := o.deps.Store.WorktreeBySessionID(owningID)
	if err != nil {
		o.log.Debug("auto-rename skipped, no worktree", "owningID", owningID)
		return
	}
	if wt.BranchRenamed {
		return
	}
	if !cities.IsPlaceholder(wt.Name) {
		return
	}
	if strings.HasPrefix(title, syntheticTitlePrefix) {
		return
	}

	// From here on the attempt is spent, success or not.
	defer func() {
		wt.BranchRenamed = true
		if err := o.deps.Store.UpdateWorktree(wt); err != nil {
			o.log.Warn("failed to persist auto-rename flag", "worktree", wt.ID, "error", err)
		}
	}()

	prefix := ""
	if proj, err := o.deps.Store.GetProject(wt.ProjectID); err == nil {
		prefix = proj.BranchPrefix
	}
	candidate := gitops.BranchNameFromTitle(prefix, title)
	if candidate == "" {
		return
	}

	name, err := o.freeBranchName(ctx, wt.Path, candidate)
	if err != nil {
		o.log.Warn("auto-rename aborted", "worktree", wt.ID, "error", err)
		return
	}
	if name == "" {
		o.log.Warn("auto-rename aborted, no free branch name", "candidate", candidate)
		return
	}

	if err := o.deps.Git.RenameBranch(ctx, wt.Path, wt.Branch, name); err != nil {
		o.log.Warn("auto-rename rejected", "worktree", wt.ID, "branch", name, "error", err)
		return
	}
	o.log.Info("branch auto-renamed", "worktree", wt.ID, "from", wt.Branch, "to", name)
	wt.Branch = name
}

// freeBranchName probes candidate, then candidate-2 through candidate-10,
// returning the first name not taken. "" means every suffix collided.
func (o *Orchestrator) freeBranchName(ctx context.Context, repoPath, candidate string) (string, error) {
	for i := 1; i <= maxBranchSuffix; i++ {
		name := candidate
		if i > 1 {
			name = fmt.Sprintf("%s-%d", candidate, i)
		}
		exists, err := o.deps.Git.BranchExists(ctx, repoPath, name)
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
	}
	return "", nil
}
