package kimi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/relay/adaptor/common/upstream"
	"github.com/xiaoY233/chat2api/relay/meta"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
	"github.com/xiaoY233/chat2api/relay/streaming"
)

// responseFrame is one decoded Connect frame of the chat stream.
type responseFrame struct {
	Op    string `json:"op"`
	Block struct {
		Text struct {
			Content string `json:"content"`
		} `json:"text"`
		Think struct {
			Content string `json:"content"`
		} `json:"think"`
	} `json:"block"`
	Done json.RawMessage `json:"done"`
}

// trailerFrame is the 0x02 end-of-stream envelope.
type trailerFrame struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// kimiState diffs "set" frames against seen text and passes "append" frames
// through directly.
type kimiState struct {
	emitContent   func(string) error
	emitReasoning func(string) error

	textSeen  int
	thinkSeen int
	done      bool
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

	state := &kimiState{
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

	usage := relaymodel.EstimateUsage("", completion.String())
	if err := st.Finish(usage); err != nil {
		gmw.GetLogger(c).Warn("finish kimi stream", zap.Error(err))
	}
	return usage, nil
}

func nonStreamHandler(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	var content, reasoning strings.Builder
	state := &kimiState{
		emitContent:   func(text string) error { content.WriteString(text); return nil },
		emitReasoning: func(text string) error { reasoning.WriteString(text); return nil },
	}

	if err := consume(c, resp.Body, state); err != nil {
		return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeTransport, http.StatusBadGateway)
	}

	usage := relaymodel.EstimateUsage("", content.String())
	streaming.WriteNonStreamResponse(c, m.OriginModelName, content.String(), reasoning.String(), usage)
	return usage, nil
}

// consume walks the Connect frame sequence until the done frame, the trailer,
// or a clean EOF.
func consume(c *gin.Context, body io.Reader, state *kimiState) error {
	for {
		flag, payload, err := readFrame(body)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if flag&frameFlagTrailer != 0 {
			var trailer trailerFrame
			if json.Unmarshal(payload, &trailer) == nil && trailer.Error.Message != "" {
				return errors.Errorf("upstream error: %s", trailer.Error.Message)
			}
			return nil
		}

		var frame responseFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			gmw.GetLogger(c).Warn("skip malformed kimi frame", zap.Error(err))
			continue
		}
		if err := state.apply(frame); err != nil {
			return err
		}
		if state.done {
			return nil
		}
	}
}

func (s *kimiState) apply(frame responseFrame) error {
	if len(frame.Done) > 0 && string(frame.Done) != "null" {
		s.done = true
		return nil
	}

	if think := frame.Block.Think.Content; think != "" {
		delta := s.delta(think, &s.thinkSeen, frame.Op)
		if delta != "" {
			return s.emitReasoning(delta)
		}
		return nil
	}

	text := frame.Block.Text.Content
	if text == "" {
		return nil
	}
	delta := s.delta(text, &s.textSeen, frame.Op)
	if delta == "" {
		return nil
	}
	return s.emitContent(delta)
}

// delta resolves op semantics: "set" replaces the block (diff against what was
// already emitted), "append" is a plain delta.
func (s *kimiState) delta(content string, seen *int, op string) string {
	if op == "append" {
		*seen += len(content)
		return content
	}
	if len(content) <= *seen {
		*seen = len(content)
		return ""
	}
	delta := content[*seen:]
	*seen = len(content)
	return delta
}
