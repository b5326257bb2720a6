// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package openai

import (
	openaisdk "github.com/openai/openai-go"
	"github.com/sigil-dev/pagewarden/internal/provider"
)

var ConvertMessages = func(msgs []provider.Message, systemPrompt string) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	return convertMessages(msgs, systemPrompt)
}

var BuildParams = func(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	return buildParams(req)
}
