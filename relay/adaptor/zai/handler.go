package zai

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common/helper"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/upstream"
	"github.com/xiaoY233/chat2api/relay/meta"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
	"github.com/xiaoY233/chat2api/relay/streaming"
)

// event is one SSE record of the chat:completion stream.
type event struct {
	Type string `json:"type"`
	Data struct {
		Phase        string           `json:"phase"`
		DeltaContent string           `json:"delta_content"`
		Done         bool             `json:"done"`
		Usage        *relaymodel.Usage `json:"usage"`
		Error        json.RawMessage  `json:"error"`
	} `json:"data"`
	Error json.RawMessage `json:"error"`
}

type zaiState struct {
	emitContent   func(string) error
	emitReasoning func(string) error

	usage *relaymodel.Usage
	done  bool
}

func handleResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, upstream.ClassifyHTTP(resp.StatusCode, body)
	}

	if m.IsStream {
		return streamHandler(c, resp, m)
	}
	return nonStreamHandler(c, resp, m)
}

func streamHandler(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	st := streaming.New(c, m.OriginModelName)
	var completion strings.Builder

	state := &zaiState{
		emitContent: func(text string) error {
			completion.WriteString(text)
			return st.Content(text)
		},
		emitReasoning: st.Reasoning,
	}

	if err := consume(c, resp.Body, state); err != nil {
		st.Error("stream interrupted: " + err.Error())
		return nil, nil
	}

	usage := state.usage
	if usage == nil {
		usage = relaymodel.EstimateUsage("", completion.String())
	}
	if err := st.Finish(usage); err != nil {
		gmw.GetLogger(c).Warn("finish z.ai stream", zap.Error(err))
	}
	return usage, nil
}

func nonStreamHandler(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	var content, reasoning strings.Builder
	state := &zaiState{
		emitContent:   func(text string) error { content.WriteString(text); return nil },
		emitReasoning: func(text string) error { reasoning.WriteString(text); return nil },
	}

	if err := consume(c, resp.Body, state); err != nil {
		return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeTransport, http.StatusBadGateway)
	}

	usage := state.usage
	if usage == nil {
		usage = relaymodel.EstimateUsage("", content.String())
	}
	streaming.WriteNonStreamResponse(c, m.OriginModelName, content.String(), reasoning.String(), usage)
	return usage, nil
}

func consume(c *gin.Context, body io.Reader, state *zaiState) error {
	scanner := bufio.NewScanner(body)
	helper.ConfigureScannerBuffer(scanner)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var ev event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			gmw.GetLogger(c).Warn("skip malformed z.ai event", zap.Error(err))
			continue
		}
		if err := state.apply(ev); err != nil {
			return err
		}
		if state.done {
			return nil
		}
	}
	return errors.Wrap(scanner.Err(), "read z.ai stream")
}

func (s *zaiState) apply(ev event) error {
	if message := errorMessage(ev.Error); message != "" {
		return errors.Errorf("upstream error: %s", message)
	}
	if message := errorMessage(ev.Data.Error); message != "" {
		return errors.Errorf("upstream error: %s", message)
	}
	if ev.Type != "chat:completion" {
		return nil
	}

	switch ev.Data.Phase {
	case "thinking":
		if ev.Data.DeltaContent != "" {
			if err := s.emitReasoning(ev.Data.DeltaContent); err != nil {
				return err
			}
		}
	case "answer":
		if ev.Data.DeltaContent != "" {
			if err := s.emitContent(ev.Data.DeltaContent); err != nil {
				return err
			}
		}
	case "done":
		s.done = true
	}

	if ev.Data.Usage != nil {
		s.usage = ev.Data.Usage
	}
	if ev.Data.Done {
		s.done = true
	}
	return nil
}

// errorMessage tolerates both string and object error payloads.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text
	}
	var envelope struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(raw, &envelope) == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		return envelope.Detail
	}
	return string(raw)
}
