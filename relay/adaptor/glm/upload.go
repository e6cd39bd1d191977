package glm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/common/helper"
)

// uploadMedia pushes one image or file to the assistant file store and
// returns the source_id to reference from the chat payload. Data URIs are
// decoded and named by their sniffed MIME type.
func uploadMedia(ctx context.Context, baseURL, accessToken, dataOrURL, filename string) (string, error) {
	payload, name, err := decodeMedia(dataOrURL, filename)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", errors.Wrap(err, "create multipart field")
	}
	if _, err := part.Write(payload); err != nil {
		return "", errors.Wrap(err, "write multipart payload")
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chatglm/backend-api/assistant/file_upload", &body)
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	applySignHeaders(req)

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "upload glm file")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "read upload response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("glm upload returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		Result struct {
			SourceId string `json:"source_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", errors.Wrap(err, "unmarshal upload response")
	}
	if parsed.Result.SourceId == "" {
		return "", errors.New("glm upload response missing source_id")
	}
	return parsed.Result.SourceId, nil
}

// decodeMedia turns a data URI into raw bytes with a synthesized filename.
// Non-data inputs are treated as already-fetched raw base64.
func decodeMedia(dataOrURL, filename string) ([]byte, string, error) {
	encoded := dataOrURL
	if strings.HasPrefix(dataOrURL, "data:") {
		comma := strings.Index(dataOrURL, ",")
		if comma < 0 {
			return nil, "", errors.New("malformed data uri")
		}
		encoded = dataOrURL[comma+1:]
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", errors.Wrap(err, "decode media payload")
	}
	if filename == "" {
		filename = synthesizeFilename(payload)
	}
	return payload, filename, nil
}

func synthesizeFilename(payload []byte) string {
	base := "upload-" + helper.RandomString(8)
	switch http.DetectContentType(payload) {
	case "image/png":
		return base + ".png"
	case "image/jpeg":
		return base + ".jpg"
	case "image/gif":
		return base + ".gif"
	case "image/webp":
		return base + ".webp"
	case "application/pdf":
		return base + ".pdf"
	default:
		return base + ".bin"
	}
}
