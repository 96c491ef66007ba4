package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quailyquaily/missmuse/imaging"
)

const maxImageDownloadBytes = 32 * 1024 * 1024

// The generations endpoint takes the model at top level and everything
// else nested under "input".
type imageGenerationRequest struct {
	Model string               `json:"model"`
	Input imageGenerationInput `json:"input"`
}

type imageGenerationInput struct {
	Prompt            string `json:"prompt"`
	NegativePrompt    string `json:"negative_prompt,omitempty"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	NumInferenceSteps int    `json:"num_inference_steps,omitempty"`
}

type imageGenerationResponse struct {
	Data []struct {
		URL     string `json:"url,omitempty"`
		B64JSON string `json:"b64_json,omitempty"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

// Generate renders an image. Depending on the routed model the API returns
// either inline base64 data or a short-lived URL; URL results are fetched
// with the same bounded client.
func (c *Client) Generate(ctx context.Context, req imaging.GenerateRequest) (imaging.Image, error) {
	start := time.Now()

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return imaging.Image{}, fmt.Errorf("openrouter: empty prompt")
	}

	body := imageGenerationRequest{
		Model: req.Model,
		Input: imageGenerationInput{
			Prompt:            prompt,
			NegativePrompt:    req.NegativePrompt,
			Width:             req.Width,
			Height:            req.Height,
			NumInferenceSteps: req.Steps,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return imaging.Image{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/images/generations", bytes.NewReader(b))
	if err != nil {
		return imaging.Image{}, err
	}
	c.setHeaders(httpReq)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return imaging.Image{}, err
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return imaging.Image{}, err
	}

	var out imageGenerationResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return imaging.Image{}, fmt.Errorf("openrouter: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != nil && out.Error.Message != "" {
			return imaging.Image{}, fmt.Errorf("openrouter http %d: %s", resp.StatusCode, out.Error.Message)
		}
		return imaging.Image{}, fmt.Errorf("openrouter http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if len(out.Data) == 0 {
		return imaging.Image{}, fmt.Errorf("openrouter: empty image data")
	}

	first := out.Data[0]
	if first.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return imaging.Image{}, fmt.Errorf("openrouter: decode b64 image: %w", err)
		}
		return imaging.Image{
			Data:     data,
			MimeType: http.DetectContentType(data),
			Duration: time.Since(start),
		}, nil
	}

	if strings.TrimSpace(first.URL) == "" {
		return imaging.Image{}, fmt.Errorf("openrouter: image result has neither url nor b64 data")
	}
	data, mime, err := c.downloadImage(ctx, first.URL)
	if err != nil {
		return imaging.Image{}, err
	}
	return imaging.Image{Data: data, MimeType: mime, Duration: time.Since(start)}, nil
}

func (c *Client) downloadImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("openrouter image download http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageDownloadBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxImageDownloadBytes {
		return nil, "", fmt.Errorf("openrouter: image larger than %d bytes", maxImageDownloadBytes)
	}
	mime := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}
