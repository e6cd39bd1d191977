package toolcall

import (
	"strings"

	"github.com/xiaoY233/chat2api/common/helper"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

const (
	openMarker  = "[function_calls]"
	closeMarker = "[/function_calls]"
	callOpen    = "[call:"
	callClose   = "[/call]"

	// maxBufferBytes caps how much text may be withheld while waiting for a
	// tool block to complete. Beyond it the detection is treated as a false
	// positive and the withheld text is flushed as content.
	maxBufferBytes = 500_000
)

// Interceptor scans a delta stream for [function_calls] blocks, suppresses raw
// text emission while buffering, and re-emits parsed invocations as tool-call
// deltas. One instance serves exactly one stream.
type Interceptor struct {
	buffer             string
	buffering          bool
	bufferingDisabled  bool
	toolCallIndex      int
	hasEmittedToolCall bool
	parsedInBlock      bool

	emitContent  func(content string) error
	emitToolCall func(call relaymodel.Tool) error
}

// NewInterceptor wires the interceptor to its content and tool-call sinks.
func NewInterceptor(emitContent func(string) error, emitToolCall func(relaymodel.Tool) error) *Interceptor {
	return &Interceptor{
		emitContent:  emitContent,
		emitToolCall: emitToolCall,
	}
}

// HasEmittedToolCall reports whether at least one tool-call delta went out.
func (s *Interceptor) HasEmittedToolCall() bool {
	return s.hasEmittedToolCall
}

// FinishReason returns the terminal finish_reason for this stream.
func (s *Interceptor) FinishReason() string {
	if s.hasEmittedToolCall {
		return relaymodel.FinishReasonToolCalls
	}
	return relaymodel.FinishReasonStop
}

// Feed processes one incoming content delta.
func (s *Interceptor) Feed(delta string) error {
	if delta == "" {
		return nil
	}
	s.buffer += delta

	for {
		if !s.buffering {
			if s.bufferingDisabled {
				if err := s.flushContent(s.buffer); err != nil {
					return err
				}
				s.buffer = ""
				return nil
			}

			if idx := strings.Index(s.buffer, openMarker); idx >= 0 {
				if err := s.flushContent(s.buffer[:idx]); err != nil {
					return err
				}
				s.buffer = s.buffer[idx+len(openMarker):]
				s.buffering = true
				s.parsedInBlock = false
				continue
			}

			// Keep a trailing proper prefix of the opening marker; the rest
			// is plain content.
			keep := markerPrefixSuffixLen(s.buffer)
			if err := s.flushContent(s.buffer[:len(s.buffer)-keep]); err != nil {
				return err
			}
			s.buffer = s.buffer[len(s.buffer)-keep:]
			return nil
		}

		closeIdx := strings.Index(s.buffer, closeMarker)
		if err := s.drainCalls(closeIdx); err != nil {
			return err
		}
		// drainCalls may have shifted the buffer; locate the close marker again.
		closeIdx = strings.Index(s.buffer, closeMarker)
		if closeIdx >= 0 {
			// Anything left in the block, and anything trailing it, is noise.
			s.buffer = ""
			s.buffering = false
			return nil
		}

		if len(s.buffer) > maxBufferBytes && !s.parsedInBlock {
			// False positive: the marker-looking text never formed a call.
			flush := openMarker + s.buffer
			s.buffer = ""
			s.buffering = false
			s.bufferingDisabled = true
			return s.flushContent(flush)
		}
		return nil
	}
}

// Finish runs a last parse attempt over any residual buffer. It must be called
// exactly once when the upstream stream terminates.
func (s *Interceptor) Finish() error {
	if s.buffering {
		if err := s.drainCalls(-1); err != nil {
			return err
		}
		s.buffer = ""
		s.buffering = false
		return nil
	}
	// A never-completed marker prefix is ordinary content.
	residual := s.buffer
	s.buffer = ""
	return s.flushContent(residual)
}

// drainCalls parses zero or more complete [call:NAME]ARGS[/call] entries from
// the buffer, stopping at limit when a close marker position is known.
func (s *Interceptor) drainCalls(limit int) error {
	for {
		start := strings.Index(s.buffer, callOpen)
		if start < 0 || (limit >= 0 && start > limit) {
			return nil
		}
		nameEnd := strings.Index(s.buffer[start+len(callOpen):], "]")
		if nameEnd < 0 {
			return nil
		}
		argsStart := start + len(callOpen) + nameEnd + 1
		end := strings.Index(s.buffer[argsStart:], callClose)
		if end < 0 {
			return nil
		}

		name := s.buffer[start+len(callOpen) : argsStart-1]
		// The arguments are the raw JSON substring, never re-serialized.
		args := strings.TrimSpace(s.buffer[argsStart : argsStart+end])
		consumed := argsStart + end + len(callClose)

		index := s.toolCallIndex
		s.toolCallIndex++
		s.hasEmittedToolCall = true
		s.parsedInBlock = true
		if err := s.emitToolCall(relaymodel.Tool{
			Id:       helper.GenToolCallID(),
			Type:     "function",
			Index:    &index,
			Function: &relaymodel.Function{Name: name, Arguments: args},
		}); err != nil {
			return err
		}

		s.buffer = s.buffer[consumed:]
		if limit >= 0 {
			limit -= consumed
		}
	}
}

// flushContent emits plain content unless a tool call already went out on this
// stream; afterwards all plain text is silently dropped to prevent mixing.
func (s *Interceptor) flushContent(content string) error {
	if content == "" || s.hasEmittedToolCall {
		return nil
	}
	return s.emitContent(content)
}

// markerPrefixSuffixLen returns the length of the longest proper prefix of the
// opening marker that the buffer ends with.
func markerPrefixSuffixLen(buffer string) int {
	max := len(openMarker) - 1
	if max > len(buffer) {
		max = len(buffer)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(buffer, openMarker[:n]) {
			return n
		}
	}
	return 0
}
