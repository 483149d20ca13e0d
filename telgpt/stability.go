package telgpt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/tidwall/gjson"
)

const (
	stabilityCFGScale = 7
	stabilityHeight   = 1024
	stabilityWidth    = 1024
	stabilitySamples  = 1
	stabilitySteps    = 30

	stabilityNegativeWeight = -1
)

type stabilityTextPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight,omitempty"`
}

type stabilityRequest struct {
	TextPrompts []stabilityTextPrompt `json:"text_prompts"`
	CFGScale    float64               `json:"cfg_scale"`
	Height      int                   `json:"height"`
	Width       int                   `json:"width"`
	Samples     int                   `json:"samples"`
	Steps       int                   `json:"steps"`
}

// Stability generates images with the Stability AI text-to-image API.
// Images are written to local temp files, which the caller removes.
type Stability struct {
	unsupportedOperations
	client  *http.Client
	config  *StabilityConfig
	tempDir string
	logger  *slog.Logger
}

func newStability(
	config *StabilityConfig,
	httpClient *http.Client,
	tempDir string,
	logger *slog.Logger,
) *Stability {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Stability{
		unsupportedOperations: unsupportedOperations{provider: ProviderStability},
		client:                httpClient,
		config:                config,
		tempDir:               tempDir,
		logger:                logger.With(loggerNameKey, "stability"),
	}
}

func (*Stability) Name() string {
	return ProviderStability
}

func (s *Stability) GenerateImage(
	ctx context.Context,
	model string,
	prompt string,
	opts ...ImageOption,
) ProviderResult[ImageResult] {
	logger := contextLoggerOr(ctx, s.logger)
	options := applyImageOptions(opts)
	if model == "" {
		model = s.config.Engine
	}

	payload := stabilityRequest{
		TextPrompts: []stabilityTextPrompt{{Text: prompt}},
		CFGScale:    stabilityCFGScale,
		Height:      stabilityHeight,
		Width:       stabilityWidth,
		Samples:     stabilitySamples,
		Steps:       stabilitySteps,
	}
	if options.negativePrompt != "" {
		payload.TextPrompts = append(
			payload.TextPrompts,
			stabilityTextPrompt{Text: options.negativePrompt, Weight: stabilityNegativeWeight},
		)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return unknownFailure[ImageResult](err)
	}

	endpoint := fmt.Sprintf(
		"%s/v1/generation/%s/text-to-image",
		strings.TrimRight(s.config.BaseURL, "/"),
		model,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return unknownFailure[ImageResult](err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		logger.ErrorContext(ctx, "stability request failed", tint.Err(err))
		return unknownFailure[ImageResult](err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return unknownFailure[ImageResult](err)
	}
	if resp.StatusCode != http.StatusOK {
		logger.ErrorContext(
			ctx,
			"stability api error",
			"status", resp.StatusCode,
			"body", string(data),
		)
		return failure[ImageResult](
			fmt.Sprintf("%d", resp.StatusCode),
			fmt.Sprintf("API error: %d - %s", resp.StatusCode, string(data)),
		)
	}

	artifact := gjson.GetBytes(data, "artifacts.0")
	if !artifact.Exists() {
		logger.WarnContext(ctx, "no image was generated")
		return failure[ImageResult](ErrorCodeUnknown, "No image was generated")
	}
	img, err := base64.StdEncoding.DecodeString(artifact.Get("base64").String())
	if err != nil {
		return unknownFailure[ImageResult](fmt.Errorf("error decoding image: %w", err))
	}
	if len(img) == 0 {
		return unknownFailure[ImageResult](errors.New("empty image"))
	}
	p, err := writeTempImage(s.tempDir, ".png", img)
	if err != nil {
		return unknownFailure[ImageResult](err)
	}

	result := ImageResult{
		FilePath:     p,
		Prompt:       prompt,
		Seed:         artifact.Get("seed").Int(),
		FinishReason: artifact.Get("finishReason").String(),
	}
	if result.FinishReason == "" {
		result.FinishReason = artifact.Get("finish_reason").String()
	}
	logger.InfoContext(
		ctx,
		"generated image",
		"engine", model,
		"seed", result.Seed,
		"finish_reason", result.FinishReason,
		"path", p,
	)
	return resultOf(result)
}
