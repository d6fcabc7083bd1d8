package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// EmotionClassifier scores one utterance for intent and emotional state.
// remoteID is the classifier-side session handle; empty starts a new one.
type EmotionClassifier interface {
	Classify(ctx context.Context, text, remoteID string) (EmotionResult, error)
	// SessionState fetches the classifier's current view of a session.
	SessionState(ctx context.Context, remoteID string) (json.RawMessage, error)
	// ResetSession asks the classifier to discard its paired session.
	ResetSession(ctx context.Context, remoteID string) error
}

// DistortionDetector finds cognitive distortions in one utterance.
type DistortionDetector interface {
	Detect(ctx context.Context, text string, threshold float64) (DistortionResult, error)
}

type httpEmotionClassifier struct {
	baseURL string
	client  *http.Client
}

// NewEmotionClassifier creates an HTTP-backed EmotionClassifier. A nil
// client falls back to http.DefaultClient; per-call deadlines come from the
// caller's context, not the client.
func NewEmotionClassifier(baseURL string, client *http.Client) EmotionClassifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpEmotionClassifier{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (c *httpEmotionClassifier) Classify(ctx context.Context, text, remoteID string) (EmotionResult, error) {
	payload := struct {
		Text      string `json:"text"`
		SessionID string `json:"session_id,omitempty"`
	}{Text: text, SessionID: remoteID}

	var result EmotionResult
	if err := postJSON(ctx, c.client, c.baseURL+"/classify", payload, &result); err != nil {
		return EmotionResult{}, fmt.Errorf("emotion classify: %w", err)
	}
	return result, nil
}

func (c *httpEmotionClassifier) SessionState(ctx context.Context, remoteID string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/session/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return nil, fmt.Errorf("session state: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("session state: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("session state: %w", err)
	}
	return json.RawMessage(body), nil
}

func (c *httpEmotionClassifier) ResetSession(ctx context.Context, remoteID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/session/reset/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return fmt.Errorf("session reset: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("session reset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("session reset: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type httpDistortionDetector struct {
	baseURL string
	client  *http.Client
}

// NewDistortionDetector creates an HTTP-backed DistortionDetector.
func NewDistortionDetector(baseURL string, client *http.Client) DistortionDetector {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpDistortionDetector{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (d *httpDistortionDetector) Detect(ctx context.Context, text string, threshold float64) (DistortionResult, error) {
	payload := struct {
		Text      string  `json:"text"`
		Threshold float64 `json:"threshold"`
	}{Text: text, Threshold: threshold}

	var result DistortionResult
	if err := postJSON(ctx, d.client, d.baseURL+"/detect", payload, &result); err != nil {
		return DistortionResult{}, fmt.Errorf("distortion detect: %w", err)
	}
	return result, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
