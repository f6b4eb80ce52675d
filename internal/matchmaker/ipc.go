package matchmaker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-matchmaker/internal/presence"
)

// ipcRequest is the envelope published on a process or room inbox
// channel. method is nil for a process inbox's single default
// operation (create room); it names the target operation for a room
// inbox request.
type ipcRequest struct {
	RequestID    string          `json:"requestId"`
	ReplyChannel string          `json:"replyChannel"`
	Method       *string         `json:"method,omitempty"`
	Args         json.RawMessage `json:"args,omitempty"`
}

type ipcError struct {
	Message string `json:"message"`
}

type ipcResponse struct {
	RequestID string          `json:"requestId"`
	OK        bool            `json:"ok"`
	Value     json.RawMessage `json:"value,omitempty"`
	Error     *ipcError       `json:"error,omitempty"`
}

func replyChannel(processID, requestID string) string {
	return fmt.Sprintf("ipcreply:%s:%s", processID, requestID)
}

// ipcDispatch handles one decoded request and returns the value to
// send back, or an error to report to the caller.
type ipcDispatch func(ctx context.Context, method *string, args json.RawMessage) (any, error)

// subscribeIPC installs dispatch as the handler for every request
// published on channel, replying on each request's own reply channel.
// Requests on the same channel are processed one at a time, in
// arrival order, matching the single-threaded-per-process model the
// rest of this package assumes.
func subscribeIPC(ctx context.Context, pres presence.Presence, logf func(format string, args ...any), channel string, dispatch ipcDispatch) (presence.Subscription, error) {
	return pres.Subscribe(ctx, channel, func(payload string) {
		var req ipcRequest
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			if logf != nil {
				logf("ipc: malformed request on %q: %v", channel, err)
			}
			return
		}

		value, err := dispatch(ctx, req.Method, req.Args)

		resp := ipcResponse{RequestID: req.RequestID, OK: err == nil}
		if err != nil {
			resp.Error = &ipcError{Message: err.Error()}
		} else if value != nil {
			encoded, marshalErr := json.Marshal(value)
			if marshalErr != nil {
				resp.OK = false
				resp.Error = &ipcError{Message: marshalErr.Error()}
			} else {
				resp.Value = encoded
			}
		}

		encoded, err := json.Marshal(resp)
		if err != nil {
			if logf != nil {
				logf("ipc: marshal response for %q: %v", channel, err)
			}
			return
		}
		if err := pres.Publish(ctx, req.ReplyChannel, string(encoded)); err != nil {
			if logf != nil {
				logf("ipc: publish reply on %q: %v", req.ReplyChannel, err)
			}
		}
	})
}

// requestFromIPC publishes a request on channel and blocks for a
// reply on a reply channel derived from (processID, requestID),
// returning TimeoutError if none arrives within timeout.
func requestFromIPC(ctx context.Context, pres presence.Presence, processID, channel string, method *string, args json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	requestID := uuid.NewString()
	reply := replyChannel(processID, requestID)

	results := make(chan ipcResponse, 1)
	sub, err := pres.Subscribe(ctx, reply, func(payload string) {
		var resp ipcResponse
		if err := json.Unmarshal([]byte(payload), &resp); err != nil {
			return
		}
		select {
		case results <- resp:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("ipc: subscribe reply channel: %w", err)
	}
	defer sub.Unsubscribe(context.Background())

	req := ipcRequest{RequestID: requestID, ReplyChannel: reply, Method: method, Args: args}
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ipc: marshal request: %w", err)
	}
	if err := pres.Publish(ctx, channel, string(encoded)); err != nil {
		return nil, fmt.Errorf("ipc: publish request: %w", err)
	}

	methodName := ""
	if method != nil {
		methodName = *method
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-results:
		if !resp.OK {
			msg := "ipc: remote call failed"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return nil, fmt.Errorf("%s", msg)
		}
		return resp.Value, nil
	case <-timer.C:
		return nil, &TimeoutError{Channel: channel, Method: methodName}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
