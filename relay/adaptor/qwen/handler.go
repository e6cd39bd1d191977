package qwen

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

// chatEvent is one decoded SSE data record.
type chatEvent struct {
	SessionId string         `json:"sessionId"`
	MsgStatus string         `json:"msgStatus"`
	Contents  []eventContent `json:"contents"`
}

type eventContent struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	Status      string `json:"status"`
	Role        string `json:"role"`
}

// qwenState emits the unseen suffix of the longest text content observed so
// far. The vendor resends the whole message on every event.
type qwenState struct {
	emit func(string) error

	seen      int
	sessionId string
	done      bool
}

func handleResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, upstream.ClassifyHTTP(resp.StatusCode, body)
	}

	decoded, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeProtocolDrift, http.StatusBadGateway)
	}
	defer decoded.Close()

	if m.IsStream {
		return streamHandler(c, decoded, m)
	}
	return nonStreamHandler(c, decoded, m)
}

func streamHandler(c *gin.Context, body io.Reader, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	st := streaming.New(c, m.OriginModelName)
	var completion strings.Builder

	state := &qwenState{emit: func(text string) error {
		completion.WriteString(text)
		return st.Content(text)
	}}

	if err := consume(c, body, state); err != nil {
		st.Error("stream interrupted: " + err.Error())
		return nil, nil
	}
	m.SessionId = state.sessionId

	usage := relaymodel.EstimateUsage("", completion.String())
	if err := st.Finish(usage); err != nil {
		gmw.GetLogger(c).Warn("finish qwen stream", zap.Error(err))
	}
	return usage, nil
}

func nonStreamHandler(c *gin.Context, body io.Reader, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	var content strings.Builder
	state := &qwenState{emit: func(text string) error {
		content.WriteString(text)
		return nil
	}}

	if err := consume(c, body, state); err != nil {
		return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeTransport, http.StatusBadGateway)
	}
	m.SessionId = state.sessionId

	usage := relaymodel.EstimateUsage("", content.String())
	streaming.WriteNonStreamResponse(c, m.OriginModelName, content.String(), "", usage)
	return usage, nil
}

func consume(c *gin.Context, body io.Reader, state *qwenState) error {
	scanner := bufio.NewScanner(body)
	helper.ConfigureScannerBuffer(scanner)

	eventType := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}
			if eventType == "complete" {
				state.done = true
			}

			var ev chatEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				gmw.GetLogger(c).Warn("skip malformed qwen event", zap.Error(err))
				continue
			}
			if err := state.apply(ev); err != nil {
				return err
			}
		case line == "":
			eventType = ""
		}
		if state.done {
			return nil
		}
	}
	return errors.Wrap(scanner.Err(), "read qwen stream")
}

func (s *qwenState) apply(ev chatEvent) error {
	if ev.SessionId != "" {
		s.sessionId = ev.SessionId
	}

	// Pick the longest renderable content in the event; the message body is
	// cumulative across events.
	best := ""
	terminalIframe := false
	for _, content := range ev.Contents {
		switch content.ContentType {
		case "text/plain", "text", "":
			if len(content.Content) > len(best) {
				best = content.Content
			}
		case "multi_load/iframe":
			if len(content.Content) > len(best) {
				best = content.Content
			}
			if content.Status == "complete" || content.Status == "finished" {
				terminalIframe = true
			}
		}
	}

	if len(best) > s.seen {
		delta := best[s.seen:]
		s.seen = len(best)
		if err := s.emit(delta); err != nil {
			return err
		}
	}

	if terminalIframe || ev.MsgStatus == "finished" {
		s.done = true
	}
	return nil
}
