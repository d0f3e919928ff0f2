package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// Config points at the external image host images are relayed to. The
// service never stores image bytes itself.
type Config struct {
	Endpoint string
	Token    string
}

func ConfigFromEnv() Config {
	return Config{
		Endpoint: os.Getenv("IMAGE_HOST_URL"),
		Token:    os.Getenv("IMAGE_HOST_TOKEN"),
	}
}

// Client relays a multipart image upload to the image host and returns the
// public URL it assigns.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, http: &http.Client{Timeout: 30 * time.Second}}
}

type hostResponse struct {
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
	Message string `json:"message"`
}

func (c *Client) Upload(ctx context.Context, filename string, file io.Reader) (string, error) {
	if c.cfg.Endpoint == "" {
		return "", fmt.Errorf("image host not configured")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("image host request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("image host status %d: %s", resp.StatusCode, body)
	}
	var hr hostResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return "", fmt.Errorf("image host response: %w", err)
	}
	if hr.Data.URL == "" {
		return "", fmt.Errorf("image host rejected upload: %s", hr.Message)
	}
	return hr.Data.URL, nil
}
