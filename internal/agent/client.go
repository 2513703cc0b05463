package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mosaicdev/mosaic/internal/errors"
)

// SessionInfo is the runtime's view of a remote session.
type SessionInfo struct {
	ID       string       `json:"id"`
	ParentID string       `json:"parentID,omitempty"`
	Title    string       `json:"title,omitempty"`
	Working  bool         `json:"working,omitempty"`
	Revert   *RevertState `json:"revert,omitempty"`
}

// RevertState is the runtime's revert pointer plus its associated diff.
// The orchestrator never caches it; it is re-read after every mutation.
type RevertState struct {
	MessageID string `json:"messageID"`
	Diff      string `json:"diff,omitempty"`
}

// MessageInfo is the metadata half of a conversation message.
type MessageInfo struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	SessionID string `json:"sessionID"`
}

// MessagePart is one content part of a message. Messages may carry several
// text parts; synthetic and ignored parts are injected by the runtime and
// are not user input.
type MessagePart struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
}

// Message pairs message metadata with its parts.
type Message struct {
	Info  MessageInfo   `json:"info"`
	Parts []MessagePart `json:"parts"`
}

// CommandInfo describes a slash command exposed by the runtime.
type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Template    string `json:"template,omitempty"`
}

// ModelRef names a model as provider/model.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// runtimeClient is the orchestrator's view of the runtime HTTP API. The
// production implementation is Client; tests substitute a fake.
type runtimeClient interface {
	CreateSession(ctx context.Context, directory string) (*SessionInfo, error)
	GetSession(ctx context.Context, directory, sessionID string) (*SessionInfo, error)
	Messages(ctx context.Context, directory, sessionID string) ([]Message, error)
	Prompt(ctx context.Context, directory, sessionID, text string, model *ModelRef) error
	Abort(ctx context.Context, directory, sessionID string) error
	Revert(ctx context.Context, directory, sessionID, messageID string) error
	Unrevert(ctx context.Context, directory, sessionID string) error
	RenameSession(ctx context.Context, directory, sessionID, title string) error
	Commands(ctx context.Context, directory string) ([]CommandInfo, error)
	SendCommand(ctx context.Context, directory, sessionID, command, arguments string) error
	Providers(ctx context.Context) (json.RawMessage, error)
	StreamEvents(ctx context.Context, directory string, handle func(raw []byte)) error
}

// Client is the HTTP client bound to a running agent runtime.
type Client struct {
	r *resty.Client // short request/response calls, bounded by a global timeout

	// long serves Prompt and StreamEvents. A client-wide timeout covers the
	// whole exchange including body reads, which would sever the event
	// stream and cap turn length, so this client carries none; lifetime is
	// governed by the caller's context.
	long *resty.Client
}

// NewClient builds a Client for the runtime listening at baseURL.
func NewClient(baseURL string) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(2 * time.Minute).
		SetHeader("Content-Type", "application/json")
	long := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	return &Client{r: r, long: long}
}

// apiError converts a non-2xx response into a structured error.
func apiError(op errors.Op, resp *resty.Response) error {
	return errors.E(op, errors.KindAgent,
		fmt.Sprintf("runtime returned %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body()))))
}

func (c *Client) CreateSession(ctx context.Context, directory string) (*SessionInfo, error) {
	const op = errors.Op("client.CreateSession")
	var info SessionInfo
	resp, err := c.r.R().
		SetContext(ctx).
		SetQueryParam("directory", directory).
		SetBody(map[string]any{}).
		SetResult(&info).
		Post("/session")
	if err != nil {
		return nil, errors.E(op, errors.KindNetwork, err)
	}
	if resp.IsError() {
		return nil, apiError(op, resp)
	}
	return &info, nil
}

func (c *Client) GetSession(ctx context.Context, directory, sessionID string) (*SessionInfo, error) {
	const op = errors.Op("client.GetSession")
	var info SessionInfo
	resp, err := c.r.R().
		SetContext(ctx).
		SetQueryParam("directory", directory).
		SetResult(&info).
		Get("/session/" + sessionID)
	if err != nil {
		return nil, errors.E(op, errors.KindNetwork, err)
	}
	if resp.IsError() {
		return nil, apiError(op, resp)
	}
	return &info, nil
}

func (c *Client) Messages(ctx context.Context, directory, sessionID string) ([]Message, error) {
	const op = errors.Op("client.Messages")
	var msgs []Message
	resp, err := c.r.R().
		SetContext(ctx).
		SetQueryParam("directory", directory).
		SetResult(&msgs).
		Get("/session/" + sessionID + "/message")
	if err != nil {
		return nil, errors.E(op, errors.KindNetwork, err)
	}
	if resp.IsError() {
		return nil, apiError(op, resp)
	}
	return msgs, nil
}

// Prompt submits user text to a session. The runtime streams the response as
// events; this call blocks until the turn completes, so the orchestrator
// invokes it from a goroutine.
func (c *Client) Prompt(ctx context.Context, directory, sessionID, text string, model *ModelRef) error {
	const op = errors.Op("client.Prompt")
	body := map[string]any{
		"parts": []map[string]any{{"type": "text", "text": text}},
	}
	if model != nil {
		body["model"] = model
	}
	resp, err := c.long.R().
		SetContext(ctx).
		SetQueryParam("directory", directory).
		SetBody(body).
		Post("/session/" + sessionID + "/message")
	if err != nil {
		return errors.E(op, errors.KindNetwork, err)
	}
	if resp.IsError() {
		return apiError(op, resp)
	}
	return nil
}

func (c *Client) Abort(ctx context.Context, directory, sessionID string) error {
	const op = errors.Op("client.Abort")
	resp, err := c.r.R().
		SetContext(ctx).
		SetQueryParam("directory", directory).
		Post("/session/" + sessionID + "/abort")
	if err != nil {
		return errors.E(op, errors.KindNetwork, err)
	}
	if resp.IsError() {
		return apiError(op, resp)
	}
	return nil
}

// Revert moves the session's revert pointer to messageID.
func (c *Client) Revert(ctx context.Context, directory, sessionID, messageID string) error {
	const op = errors.Op("client.Revert")
	resp, err := c.r.R().
		SetContext(ctx).
		SetQueryParam("directory", directory).
		SetBody(map[string]string{"messageID": messageID}).
		Post("/session/" + sessionID + "/revert")
	if err != nil {
		return errors.E(op, errors.KindNetwork, err)
	}
	if resp.IsError() {
		return apiError(op, resp)
	}
	return nil
}

// Unrevert clears the session's revert pointer entirely. Distinct from
// reverting to a message; used when redo reaches the conversation head.
func (c *Client) Unrevert(ctx context.Context, directory, sessionID string) error {
	const op = errors.Op("client.Unrevert")
	resp, err := c.r.R().
		SetContext(ctx).
		SetQueryParam("directory", directory).
		Post("/session/" + sessionID + "/unrevert")
	if err != nil {
		return errors.E(op, errors.KindNetwork, err)
	}
	if resp.IsError() {
		return apiError(op, resp)
	}
	return nil
}

func (c *Client) RenameSession(ctx context.Context, directory, sessionID, title string) error {
	const op = errors.Op("client.RenameSession")
	resp, err := c.r.R().
		SetContext(ctx).
		SetQueryParam("directory", directory).
		SetBody(map[string]string{"title": title}).
		Patch("/session/" + sessionID)
	if err != nil {
		return errors.E(op, errors.KindNetwork, err)
	}
	if resp.IsError() {
		return apiError(op, resp)
	}
	return nil
}

func (c *Client) Commands(ctx context.Context, directory string) ([]CommandInfo, error) {
	const op = errors.Op("client.Commands")
	var cmds []CommandInfo
	resp, err := c.r.R().
		SetContext(ctx).
		SetQueryParam("directory", directory).
		SetResult(&cmds).
		Get("/command")
	if err != nil {
		return nil, errors.E(op, errors.KindNetwork, err)
	}
	if resp.IsError() {
		return nil, apiError(op, resp)
	}
	return cmds, nil
}

func (c *Client) SendCommand(ctx context.Context, directory, sessionID, command, arguments string) error {
	const op = errors.Op("client.SendCommand")
	resp, err := c.r.R().
		SetContext(ctx).
		SetQueryParam("directory", directory).
		SetBody(map[string]string{"command": command, "arguments": arguments}).
		Post("/session/" + sessionID + "/command")
	if err != nil {
		return errors.E(op, errors.KindNetwork, err)
	}
	if resp.IsError() {
		return apiError(op, resp)
	}
	return nil
}

// Providers returns the raw provider/model catalog. The shape varies across
// runtime versions, so it is passed through to the UI untyped.
func (c *Client) Providers(ctx context.Context) (json.RawMessage, error) {
	const op = errors.Op("client.Providers")
	resp, err := c.r.R().
		SetContext(ctx).
		Get("/config/providers")
	if err != nil {
		return nil, errors.E(op, errors.KindNetwork, err)
	}
	if resp.IsError() {
		return nil, apiError(op, resp)
	}
	return json.RawMessage(resp.Body()), nil
}

// StreamEvents consumes the runtime's SSE stream for a directory, invoking
// handle once per event with the raw data payload. It blocks until the
// stream ends or ctx is cancelled; cancellation is reported as ctx.Err().
func (c *Client) StreamEvents(ctx context.Context, directory string, handle func(raw []byte)) error {
	const op = errors.Op("client.StreamEvents")
	resp, err := c.long.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetQueryParam("directory", directory).
		SetHeader("Accept", "text/event-stream").
		Get("/event")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.E(op, errors.KindNetwork, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return errors.E(op, errors.KindAgent,
			fmt.Sprintf("event stream returned %d", resp.StatusCode()))
	}

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var data []byte
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(line, "data:")
			chunk = strings.TrimPrefix(chunk, " ")
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, chunk...)
		case line == "":
			if len(data) > 0 {
				handle(data)
				data = nil
			}
		default:
			// comment or field we do not consume (event:, id:, retry:)
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return errors.E(op, errors.KindNetwork, "event stream terminated", err)
	}
	return nil
}

// Ensure Client satisfies the orchestrator's client contract.
var _ runtimeClient = (*Client)(nil)
