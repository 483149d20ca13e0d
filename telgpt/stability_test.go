package telgpt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStability(t *testing.T, handler http.HandlerFunc) *Stability {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newStability(
		&StabilityConfig{
			Token:   "stability-token",
			Engine:  DefaultStabilityEngine,
			BaseURL: srv.URL + "/",
		},
		srv.Client(),
		t.TempDir(),
		newTestLogger(t),
	)
}

func TestStability_GenerateImage(t *testing.T) {
	var got stabilityRequest
	s := newTestStability(
		t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/generation/"+DefaultStabilityEngine+"/text-to-image", r.URL.Path)
			assert.Equal(t, "Bearer stability-token", r.Header.Get("Authorization"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			writeJSON(
				t, w, http.StatusOK, map[string]any{
					"artifacts": []map[string]any{
						{
							"base64":       base64.StdEncoding.EncodeToString(pngBytes),
							"seed":         1234,
							"finishReason": "SUCCESS",
						},
					},
				},
			)
		},
	)

	result := s.GenerateImage(context.Background(), "", "a castle", WithNegativePrompt("blurry"))
	require.True(t, result.OK(), "unexpected error: %v", result.Error)
	img := result.Response
	t.Cleanup(func() { _ = img.Remove() })

	assert.Equal(t, "a castle", img.Prompt)
	assert.Equal(t, int64(1234), img.Seed)
	assert.Equal(t, "SUCCESS", img.FinishReason)
	assert.Empty(t, img.URL)
	assert.Equal(t, s.tempDir, filepath.Dir(img.FilePath))
	assert.Equal(t, ".png", filepath.Ext(img.FilePath))

	data, err := os.ReadFile(img.FilePath)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	assert.Equal(
		t,
		[]stabilityTextPrompt{
			{Text: "a castle"},
			{Text: "blurry", Weight: stabilityNegativeWeight},
		},
		got.TextPrompts,
	)
	assert.InDelta(t, stabilityCFGScale, got.CFGScale, 0.001)
	assert.Equal(t, stabilityHeight, got.Height)
	assert.Equal(t, stabilityWidth, got.Width)
	assert.Equal(t, stabilitySamples, got.Samples)
	assert.Equal(t, stabilitySteps, got.Steps)

	require.NoError(t, img.Remove())
	_, err = os.Stat(img.FilePath)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStability_NoNegativePrompt(t *testing.T) {
	var got stabilityRequest
	s := newTestStability(
		t, func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			writeJSON(
				t, w, http.StatusOK, map[string]any{
					"artifacts": []map[string]any{
						{"base64": base64.StdEncoding.EncodeToString(pngBytes), "finish_reason": "SUCCESS"},
					},
				},
			)
		},
	)

	result := s.GenerateImage(context.Background(), "", "a castle")
	require.True(t, result.OK())
	t.Cleanup(func() { _ = result.Response.Remove() })
	assert.Equal(t, []stabilityTextPrompt{{Text: "a castle"}}, got.TextPrompts)
	assert.Equal(t, "SUCCESS", result.Response.FinishReason)
}

func TestStability_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        any
		wantCode    string
		wantMessage string
	}{
		{
			name:        "api error",
			status:      http.StatusUnauthorized,
			body:        map[string]any{"message": "invalid key"},
			wantCode:    "401",
			wantMessage: "API error: 401 - ",
		},
		{
			name:        "no artifacts",
			status:      http.StatusOK,
			body:        map[string]any{"artifacts": []any{}},
			wantCode:    ErrorCodeUnknown,
			wantMessage: "No image was generated",
		},
		{
			name:        "bad image data",
			status:      http.StatusOK,
			body:        map[string]any{"artifacts": []map[string]any{{"base64": "!!!"}}},
			wantCode:    ErrorCodeUnknown,
			wantMessage: "Unknown Error error decoding image",
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				s := newTestStability(
					t, func(w http.ResponseWriter, _ *http.Request) {
						writeJSON(t, w, tc.status, tc.body)
					},
				)
				result := s.GenerateImage(context.Background(), "", "a castle")
				require.False(t, result.OK())
				assert.Equal(t, tc.wantCode, result.Error.Code)
				assert.Contains(t, result.Error.Message, tc.wantMessage)

				entries, err := os.ReadDir(s.tempDir)
				require.NoError(t, err)
				assert.Empty(t, entries)
			},
		)
	}
}
