package streaming

import (
	"sync"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common"
	"github.com/xiaoY233/chat2api/common/helper"
	"github.com/xiaoY233/chat2api/common/render"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
	"github.com/xiaoY233/chat2api/relay/toolcall"
)

// Stream is the per-request OpenAI SSE sink shared by all stream handlers.
// Content deltas pass through the tool-call interceptor; reasoning deltas
// bypass it. The on-terminate hook fires exactly once regardless of terminal
// path (success, error, client disconnect).
type Stream struct {
	c       *gin.Context
	id      string
	created int64
	model   string

	interceptor *toolcall.Interceptor
	roleSent    bool
	closed      bool

	terminateOnce sync.Once
	onTerminate   func()
}

// New prepares the SSE response and the interceptor for one stream.
func New(c *gin.Context, modelName string) *Stream {
	common.SetEventStreamHeaders(c)
	st := &Stream{
		c:       c,
		id:      helper.GenChatCompletionID(),
		created: helper.GetTimestamp(),
		model:   modelName,
	}
	st.interceptor = toolcall.NewInterceptor(st.writeContent, st.writeToolCall)
	return st
}

// OnTerminate registers the exactly-once teardown hook.
func (st *Stream) OnTerminate(hook func()) {
	st.onTerminate = hook
}

// Terminate fires the teardown hook. Safe to call multiple times.
func (st *Stream) Terminate() {
	st.terminateOnce.Do(func() {
		if st.onTerminate != nil {
			st.onTerminate()
		}
	})
}

// ClientGone reports whether the downstream connection has been closed.
func (st *Stream) ClientGone() bool {
	select {
	case <-st.c.Request.Context().Done():
		return true
	default:
		return false
	}
}

// Role emits the initial assistant role delta once.
func (st *Stream) Role() error {
	if st.roleSent {
		return nil
	}
	st.roleSent = true
	return st.writeChunk(relaymodel.StreamDelta{Role: "assistant"}, nil, nil)
}

// Content feeds a text delta through the tool-call interceptor.
func (st *Stream) Content(text string) error {
	if text == "" {
		return nil
	}
	if err := st.Role(); err != nil {
		return err
	}
	return st.interceptor.Feed(text)
}

// Reasoning emits a reasoning_content delta, bypassing the interceptor.
func (st *Stream) Reasoning(text string) error {
	if text == "" {
		return nil
	}
	if err := st.Role(); err != nil {
		return err
	}
	return st.writeChunk(relaymodel.StreamDelta{ReasoningContent: text}, nil, nil)
}

// Finish flushes the interceptor, emits the terminal chunk and [DONE], and
// fires the teardown hook.
func (st *Stream) Finish(usage *relaymodel.Usage) error {
	defer st.Terminate()
	if st.closed {
		return nil
	}
	st.closed = true

	if err := st.interceptor.Finish(); err != nil {
		return err
	}
	reason := st.interceptor.FinishReason()
	if err := st.writeChunk(relaymodel.StreamDelta{}, &reason, usage); err != nil {
		return err
	}
	render.Done(st.c)
	return nil
}

// Error emits one terminal error chunk with an "\nError: ..." content suffix
// and a stop finish_reason, then [DONE], so the client sees a well-formed
// stream even on mid-flight failures.
func (st *Stream) Error(message string) {
	defer st.Terminate()
	if st.closed || st.ClientGone() {
		return
	}
	st.closed = true

	reason := relaymodel.FinishReasonStop
	if err := st.writeChunk(relaymodel.StreamDelta{Content: "\nError: " + message}, &reason, nil); err != nil {
		gmw.GetLogger(st.c).Warn("write terminal error chunk failed", zap.Error(err))
		return
	}
	render.Done(st.c)
}

// HasEmittedToolCall reports whether the interceptor produced tool calls.
func (st *Stream) HasEmittedToolCall() bool {
	return st.interceptor.HasEmittedToolCall()
}

func (st *Stream) writeContent(content string) error {
	return st.writeChunk(relaymodel.StreamDelta{Content: content}, nil, nil)
}

func (st *Stream) writeToolCall(call relaymodel.Tool) error {
	return st.writeChunk(relaymodel.StreamDelta{ToolCalls: []relaymodel.Tool{call}}, nil, nil)
}

func (st *Stream) writeChunk(delta relaymodel.StreamDelta, finishReason *string, usage *relaymodel.Usage) error {
	chunk := relaymodel.ChatCompletionsStreamResponse{
		Id:      st.id,
		Object:  relaymodel.ObjectChatCompletionChunk,
		Created: st.created,
		Model:   st.model,
		Usage:   usage,
		Choices: []relaymodel.ChatCompletionsStreamResponseChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
	return render.ObjectData(st.c, chunk)
}
