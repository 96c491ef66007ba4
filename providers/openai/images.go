package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/quailyquaily/missmuse/imaging"
)

type imageGenerationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json,omitempty"`
		URL     string `json:"url,omitempty"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

func (c *Client) Generate(ctx context.Context, req imaging.GenerateRequest) (imaging.Image, error) {
	start := time.Now()

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return imaging.Image{}, fmt.Errorf("openai: empty prompt")
	}

	body := imageGenerationRequest{
		Model:  req.Model,
		Prompt: prompt,
		N:      1,
		Size:   imageSize(req.Width, req.Height),
	}
	b, err := json.Marshal(body)
	if err != nil {
		return imaging.Image{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/images/generations", bytes.NewReader(b))
	if err != nil {
		return imaging.Image{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return imaging.Image{}, err
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return imaging.Image{}, err
	}
	img, err := decodeImageResponse(resp.StatusCode, raw)
	if err != nil {
		return imaging.Image{}, err
	}
	img.Duration = time.Since(start)
	return img, nil
}

// Edit sends the stored image plus the user's instruction to the image
// edits endpoint as multipart form data.
func (c *Client) Edit(ctx context.Context, req imaging.EditRequest) (imaging.Image, error) {
	start := time.Now()

	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return imaging.Image{}, fmt.Errorf("openai: empty instruction")
	}
	if len(req.Image) == 0 {
		return imaging.Image{}, fmt.Errorf("openai: empty image")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		defer mw.Close()

		if req.Model != "" {
			_ = mw.WriteField("model", req.Model)
		}
		_ = mw.WriteField("prompt", instruction)

		part, err := mw.CreateFormFile("image", editFilename(req.MimeType))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, bytes.NewReader(req.Image)); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/images/edits", pr)
	if err != nil {
		return imaging.Image{}, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return imaging.Image{}, err
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return imaging.Image{}, err
	}
	img, err := decodeImageResponse(resp.StatusCode, raw)
	if err != nil {
		return imaging.Image{}, err
	}
	img.Duration = time.Since(start)
	return img, nil
}

func decodeImageResponse(status int, raw []byte) (imaging.Image, error) {
	var out imageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return imaging.Image{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if status < 200 || status >= 300 {
		if out.Error != nil && out.Error.Message != "" {
			return imaging.Image{}, fmt.Errorf("openai http %d: %s", status, out.Error.Message)
		}
		return imaging.Image{}, fmt.Errorf("openai http %d: %s", status, strings.TrimSpace(string(raw)))
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return imaging.Image{}, fmt.Errorf("openai: empty image data")
	}
	data, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return imaging.Image{}, fmt.Errorf("openai: decode b64 image: %w", err)
	}
	return imaging.Image{Data: data, MimeType: http.DetectContentType(data)}, nil
}

func imageSize(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", width, height)
}

func editFilename(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return "image.jpg"
	case "image/webp":
		return "image.webp"
	default:
		return "image.png"
	}
}
