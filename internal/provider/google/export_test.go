// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package google

import (
	"github.com/sigil-dev/pagewarden/internal/provider"
	"google.golang.org/genai"
)

var ConvertMessages = func(msgs []provider.Message) ([]*genai.Content, []string, error) {
	return convertMessages(msgs)
}

var BuildConfig = func(req provider.ChatRequest, extraSystem []string) *genai.GenerateContentConfig {
	return buildConfig(req, extraSystem)
}

var StatusCode = statusCode
