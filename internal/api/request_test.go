// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Accepts(t *testing.T) {
	valid := []StreamRequest{
		{Message: "hi"},
		{Message: strings.Repeat("é", MaxMessageChars)},
		{Message: "hi", DelayTokens: 5, DelayMs: 1000, AnalysisWindowSize: 500, AnalysisFrequency: 5},
		{Message: "hi", RiskThreshold: fp(0)},
		{Message: "hi", RiskThreshold: fp(2)},
		{Message: "hi", Region: "PCI"},
	}
	for _, r := range valid {
		assert.NoError(t, r.Validate(), "%+v", r)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		req   StreamRequest
		field string
	}{
		{StreamRequest{Message: "   "}, "message"},
		{StreamRequest{Message: strings.Repeat("x", MaxMessageChars+1)}, "message"},
		{StreamRequest{Message: "hi", DelayTokens: 4}, "delay_tokens"},
		{StreamRequest{Message: "hi", DelayTokens: 51}, "delay_tokens"},
		{StreamRequest{Message: "hi", DelayMs: 49}, "delay_ms"},
		{StreamRequest{Message: "hi", DelayMs: 1001}, "delay_ms"},
		{StreamRequest{Message: "hi", RiskThreshold: fp(-0.1)}, "risk_threshold"},
		{StreamRequest{Message: "hi", RiskThreshold: fp(2.01)}, "risk_threshold"},
		{StreamRequest{Message: "hi", AnalysisWindowSize: 49}, "analysis_window_size"},
		{StreamRequest{Message: "hi", AnalysisFrequency: 101}, "analysis_frequency"},
		{StreamRequest{Message: "hi", Region: "APAC"}, "region"},
		{StreamRequest{Message: "hi", Model: strings.Repeat("m", MaxModelChars+1)}, "model"},
		{StreamRequest{Message: "hi", SystemPrompt: strings.Repeat("s", MaxSystemPromptChars+1)}, "system_prompt"},
	}
	for _, tt := range tests {
		err := tt.req.Validate()
		require.ErrorIs(t, err, ErrInvalidRequest, tt.field)
		var fe *FieldError
		require.True(t, errors.As(err, &fe), tt.field)
		assert.Equal(t, tt.field, fe.Field)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	err := StreamRequest{Message: "", DelayTokens: 1, DelayMs: 1}.Validate()
	require.Error(t, err)
	for _, field := range []string{"message", "delay_tokens", "delay_ms"} {
		assert.Contains(t, err.Error(), field)
	}
}
