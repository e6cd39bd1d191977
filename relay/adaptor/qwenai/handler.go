package qwenai

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

// chunk is one SSE record of the phase-structured stream.
type chunk struct {
	Choices []struct {
		Delta struct {
			Phase   string `json:"phase"`
			Status  string `json:"status"`
			Content string `json:"content"`
			Extra   struct {
				SummaryThought struct {
					Content string `json:"content"`
				} `json:"summary_thought"`
			} `json:"extra"`
		} `json:"delta"`
	} `json:"choices"`
}

// qwenaiState buffers think-phase text and flushes it as reasoning_content on
// the first answer chunk.
type qwenaiState struct {
	emitContent   func(string) error
	emitReasoning func(string) error

	reasoningText strings.Builder
	summaryText   string
	answered      bool
	done          bool
}

func handleResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode == http.StatusUnauthorized {
			dropChat(m.Account.Id)
		}
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

	state := &qwenaiState{
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
	if err := state.finish(); err != nil {
		gmw.GetLogger(c).Warn("flush qwen stream tail", zap.Error(err))
	}

	usage := relaymodel.EstimateUsage("", completion.String())
	if err := st.Finish(usage); err != nil {
		gmw.GetLogger(c).Warn("finish qwen stream", zap.Error(err))
	}
	return usage, nil
}

func nonStreamHandler(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	var content, reasoning strings.Builder
	state := &qwenaiState{
		emitContent:   func(text string) error { content.WriteString(text); return nil },
		emitReasoning: func(text string) error { reasoning.WriteString(text); return nil },
	}

	if err := consume(c, resp.Body, state); err != nil {
		return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeTransport, http.StatusBadGateway)
	}
	if err := state.finish(); err != nil {
		gmw.GetLogger(c).Warn("flush qwen stream tail", zap.Error(err))
	}

	usage := relaymodel.EstimateUsage("", content.String())
	streaming.WriteNonStreamResponse(c, m.OriginModelName, content.String(), reasoning.String(), usage)
	return usage, nil
}

func consume(c *gin.Context, body io.Reader, state *qwenaiState) error {
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

		var ck chunk
		if err := json.Unmarshal([]byte(data), &ck); err != nil {
			gmw.GetLogger(c).Warn("skip malformed qwen chunk", zap.Error(err))
			continue
		}
		if err := state.apply(ck); err != nil {
			return err
		}
		if state.done {
			return nil
		}
	}
	return errors.Wrap(scanner.Err(), "read qwen stream")
}

func (s *qwenaiState) apply(ck chunk) error {
	if len(ck.Choices) == 0 {
		return nil
	}
	delta := ck.Choices[0].Delta

	switch delta.Phase {
	case "think":
		s.reasoningText.WriteString(delta.Content)
	case "thinking_summary":
		if summary := delta.Extra.SummaryThought.Content; summary != "" {
			s.summaryText = summary
		}
	case "answer":
		if !s.answered {
			s.answered = true
			if reasoning := s.accumulatedReasoning(); reasoning != "" {
				if err := s.emitReasoning(reasoning); err != nil {
					return err
				}
			}
		}
		if delta.Content != "" {
			if err := s.emitContent(delta.Content); err != nil {
				return err
			}
		}
	}

	if delta.Status == "finished" && (delta.Phase == "answer" || delta.Phase == "") {
		s.done = true
	}
	return nil
}

// accumulatedReasoning prefers the vendor's summary over the raw think text.
func (s *qwenaiState) accumulatedReasoning() string {
	if s.summaryText != "" {
		return s.summaryText
	}
	return s.reasoningText.String()
}

// finish flushes reasoning when the stream ended without an answer phase.
func (s *qwenaiState) finish() error {
	if s.answered {
		return nil
	}
	if reasoning := s.accumulatedReasoning(); reasoning != "" {
		return s.emitReasoning(reasoning)
	}
	return nil
}
