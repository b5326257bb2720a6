// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package provider

import (
	"context"
	"strings"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// Response is a fully drained chat stream.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Collect drains a chat event stream. An error event becomes a
// provider.upstream.failure carrying the HTTP status in the "status_code" field.
func Collect(ctx context.Context, ch <-chan ChatEvent) (Response, error) {
	var (
		resp Response
		text strings.Builder
	)

	for {
		select {
		case <-ctx.Done():
			return resp, pwerr.Wrap(ctx.Err(), pwerr.CodeProviderUpstreamFailure, "waiting for chat stream")
		case ev, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return resp, pwerr.Wrap(err, pwerr.CodeProviderUpstreamFailure, "chat stream cut off")
				}
				resp.Text = text.String()
				return resp, nil
			}
			switch ev.Type {
			case EventTypeTextDelta:
				text.WriteString(ev.Text)
			case EventTypeToolCall:
				if ev.ToolCall != nil && ev.ToolCall.Name != "" {
					resp.ToolCalls = append(resp.ToolCalls, *ev.ToolCall)
				}
			case EventTypeUsage:
				if ev.Usage != nil {
					// Backends report cumulative usage; keep the largest seen.
					resp.Usage.InputTokens = max(resp.Usage.InputTokens, ev.Usage.InputTokens)
					resp.Usage.OutputTokens = max(resp.Usage.OutputTokens, ev.Usage.OutputTokens)
				}
			case EventTypeError:
				return resp, pwerr.New(pwerr.CodeProviderUpstreamFailure, ev.Error,
					pwerr.Field("status_code", ev.StatusCode))
			case EventTypeDone:
				resp.Text = text.String()
				return resp, nil
			}
		}
	}
}

// StatusCodeOf returns the HTTP status recorded on a gateway error, or 0.
func StatusCodeOf(err error) int {
	if code, ok := pwerr.FieldsOf(err)["status_code"].(int); ok {
		return code
	}
	return 0
}
