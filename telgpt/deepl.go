package telgpt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// Translator translates revised image prompts before they're shown
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// noopTranslator returns text unchanged. Used when DeepL isn't configured.
type noopTranslator struct{}

func (noopTranslator) Translate(_ context.Context, text string) (string, error) {
	return text, nil
}

// DeepL translates text with the DeepL v2 API
type DeepL struct {
	client *http.Client
	config *DeepLConfig
	logger *slog.Logger
}

// newTranslator returns a DeepL translator, or a no-op translator if no
// token is configured
func newTranslator(config *DeepLConfig, httpClient *http.Client, logger *slog.Logger) Translator {
	if config == nil || config.Token == "" {
		return noopTranslator{}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &DeepL{
		client: httpClient,
		config: config,
		logger: logger.With(loggerNameKey, "deepl"),
	}
}

func (d *DeepL) Translate(ctx context.Context, text string) (string, error) {
	form := url.Values{}
	form.Set("auth_key", d.config.Token)
	form.Set("text", text)
	if d.config.SourceLang != "" {
		form.Set("source_lang", d.config.SourceLang)
	}
	form.Set("target_lang", d.config.TargetLang)

	endpoint := strings.TrimRight(d.config.BaseURL, "/") + "/v2/translate"
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", fmt.Errorf("error creating translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading translate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepl error: %d - %s", resp.StatusCode, string(data))
	}

	translated := gjson.GetBytes(data, "translations.0.text")
	if !translated.Exists() {
		return "", errors.New("no translation in response")
	}
	contextLoggerOr(ctx, d.logger).DebugContext(
		ctx,
		"translated text",
		"detected_source_language", gjson.GetBytes(data, "translations.0.detected_source_language").String(),
	)
	return translated.String(), nil
}
