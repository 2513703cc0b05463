package agent

import (
	"context"
	"errors"
)

// Rewind failure sentinels, surfaced to the UI verbatim.
var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Undo rewinds the conversation one user message. The runtime's revert
// pointer is the sole source of truth: it is read before choosing a target
// and re-read after the revert for the authoritative pointer and diff.
func (o *Orchestrator) Undo(ctx context.Context, directory, remoteID string) (*RewindResult, error) {
	inst, err := o.connected(directory, remoteID)
	if err != nil {
		return nil, err
	}

	info, err := inst.client.GetSession(ctx, directory, remoteID)
	if err != nil {
		return nil, err
	}

	// A busy session is aborted first, best-effort.
	if info.Working {
		if aerr := inst.client.Abort(ctx, directory, remoteID); aerr != nil {
			o.log.Debug("pre-undo abort failed", "remoteID", remoteID, "error", aerr)
		}
	}

	msgs, err := inst.client.Messages(ctx, directory, remoteID)
	if err != nil {
		return nil, err
	}

	pointer := ""
	if info.Revert != nil {
		pointer = info.Revert.MessageID
	}

	target := lastUserMessageBefore(msgs, pointer)
	if target == nil {
		return nil, ErrNothingToUndo
	}

	if err := inst.client.Revert(ctx, directory, remoteID, target.Info.ID); err != nil {
		return nil, err
	}

	after, err := inst.client.GetSession(ctx, directory, remoteID)
	if err != nil {
		return nil, err
	}

	res := &RewindResult{Prompt: restoredPrompt(target)}
	if after.Revert != nil {
		res.MessageID = after.Revert.MessageID
		res.Diff = after.Revert.Diff
	}
	return res, nil
}

// Redo moves the revert pointer forward one user message, or clears it
// entirely when the pointer already sits on the last rewound message.
func (o *Orchestrator) Redo(ctx context.Context, directory, remoteID string) (*RewindResult, error) {
	inst, err := o.connected(directory, remoteID)
	if err != nil {
		return nil, err
	}

	info, err := inst.client.GetSession(ctx, directory, remoteID)
	if err != nil {
		return nil, err
	}
	if info.Revert == nil || info.Revert.MessageID == "" {
		return nil, ErrNothingToRedo
	}
	pointer := info.Revert.MessageID

	msgs, err := inst.client.Messages(ctx, directory, remoteID)
	if err != nil {
		return nil, err
	}

	if next := firstUserMessageAfter(msgs, pointer); next != nil {
		if err := inst.client.Revert(ctx, directory, remoteID, next.Info.ID); err != nil {
			return nil, err
		}
		after, err := inst.client.GetSession(ctx, directory, remoteID)
		if err != nil {
			return nil, err
		}
		res := &RewindResult{}
		if after.Revert != nil {
			res.MessageID = after.Revert.MessageID
			res.Diff = after.Revert.Diff
		}
		return res, nil
	}

	// Redo reached the conversation head: clear the pointer outright.
	if err := inst.client.Unrevert(ctx, directory, remoteID); err != nil {
		return nil, err
	}
	return &RewindResult{}, nil
}

// lastUserMessageBefore picks the undo target: the latest user message
// strictly before the pointer, or the latest user message overall when no
// pointer is set. Message ids order lexicographically.
func lastUserMessageBefore(msgs []Message, pointer string) *Message {
	var target *Message
	for i := range msgs {
		m := &msgs[i]
		if m.Info.Role != "user" {
			continue
		}
		if pointer != "" && m.Info.ID >= pointer {
			continue
		}
		if target == nil || m.Info.ID > target.Info.ID {
			target = m
		}
	}
	return target
}

// firstUserMessageAfter picks the redo target: the earliest user message
// strictly after the pointer.
func firstUserMessageAfter(msgs []Message, pointer string) *Message {
	var target *Message
	for i := range msgs {
		m := &msgs[i]
		if m.Info.Role != "user" {
			continue
		}
		if m.Info.ID <= pointer {
			continue
		}
		if target == nil || m.Info.ID < target.Info.ID {
			target = m
		}
	}
	return target
}

// restoredPrompt extracts the canonical prompt text from an undone message:
// the longest of its text parts, skipping synthetic and ignored ones.
// Messages may carry several text parts; length is the tie-break heuristic.
func restoredPrompt(m *Message) string {
	best := ""
	for _, part := range m.Parts {
		if part.Type != "text" || part.Synthetic || part.Ignored {
			continue
		}
		if len(part.Text) > len(best) {
			best = part.Text
		}
	}
	return best
}
