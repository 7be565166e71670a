package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultURL is the hosted model endpoint.
	DefaultURL = "https://hijab-model.onrender.com/predict"
	// DefaultTimeout bounds a single prediction call.
	DefaultTimeout = 60 * time.Second

	maxErrorBody = 512
)

type predictResponse struct {
	Success    bool               `json:"success"`
	Prediction *predictionPayload `json:"prediction"`
}

type predictionPayload struct {
	Label              string  `json:"label"`
	Confidence         float64 `json:"confidence"`
	ProbabilityHijab   float64 `json:"probability_hijab"`
	ProbabilityNoHijab float64 `json:"probability_no_hijab"`
}

// HTTPClient posts crops as multipart "file" uploads.
type HTTPClient struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPClient builds a client with its own transport and the given timeout.
func NewHTTPClient(url string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
		},
		logger: logger.Named("classifier"),
	}
}

// Classify implements Client.
func (c *HTTPClient) Classify(ctx context.Context, filename string, crop []byte) (*Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(crop); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.logger.Debug("prediction response",
		zap.String("file", filename),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, URL: c.url, Body: string(bytes.TrimSpace(snippet))}
	}

	var payload predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !payload.Success || payload.Prediction == nil {
		return nil, ErrInvalidResponse
	}

	p := payload.Prediction
	return &Result{
		Label:              NormalizeLabel(p.Label),
		Confidence:         p.Confidence,
		ProbabilityHijab:   p.ProbabilityHijab,
		ProbabilityNoHijab: p.ProbabilityNoHijab,
	}, nil
}

// StatusError reports a non-2xx answer from the model.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	kind := "Server Error"
	if e.Code < 500 {
		kind = "Client Error"
	}
	msg := fmt.Sprintf("%d %s: %s for url: %s", e.Code, kind, http.StatusText(e.Code), e.URL)
	if e.Body != "" {
		msg += " (" + e.Body + ")"
	}
	return msg
}
