// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package anthropic

import (
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/sigil-dev/pagewarden/internal/provider"
)

var ConvertMessages = func(msgs []provider.Message) ([]anthropicsdk.MessageParam, []string, error) {
	return convertMessages(msgs)
}

var BuildParams = func(req provider.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	return buildParams(req)
}
