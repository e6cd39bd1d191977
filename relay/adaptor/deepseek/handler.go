package deepseek

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common/helper"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/upstream"
	"github.com/xiaoY233/chat2api/relay/meta"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
	"github.com/xiaoY233/chat2api/relay/streaming"
)

const citationMarker = "[citation:"

// frame is one SSE record of the vendor protocol: v carries content or a
// patch, p the target path, o the operation.
type frame struct {
	V json.RawMessage `json:"v"`
	P string          `json:"p"`
	O string          `json:"o"`
}

type searchResult struct {
	Url     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// thinkingMode controls where reasoning text goes, resolved from model hints.
type thinkingMode int

const (
	thinkingReason thinkingMode = iota // reasoning_content deltas
	thinkingSilent                     // dropped
	thinkingFold                       // folded into content
)

// streamState accumulates one response. Emission is pluggable so the stream
// and non-stream paths share the frame logic.
type streamState struct {
	emitContent   func(string) error
	emitReasoning func(string) error

	mode    thinkingMode
	curPath string // "content" or "thinking"

	citeBuf       string
	cited         map[int]bool
	searchResults []searchResult
}

func newStreamState(modelName string, emitContent, emitReasoning func(string) error) *streamState {
	mode := thinkingReason
	hint := strings.ToLower(modelName)
	if strings.Contains(hint, "silent") {
		mode = thinkingSilent
	} else if strings.Contains(hint, "fold") {
		mode = thinkingFold
	}
	return &streamState{
		emitContent:   emitContent,
		emitReasoning: emitReasoning,
		mode:          mode,
		curPath:       "content",
		cited:         map[int]bool{},
	}
}

func handleResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode == http.StatusUnauthorized {
			evictToken(m.Credentials["token"])
			dropSession(m.Account.Id)
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

	state := newStreamState(m.ActualModelName,
		func(text string) error {
			completion.WriteString(text)
			return st.Content(text)
		},
		st.Reasoning,
	)

	if err := consume(c, resp.Body, state); err != nil {
		st.Error("stream interrupted: " + err.Error())
		return nil, nil
	}
	if err := state.finish(); err != nil {
		logStreamWarning(c, "flush deepseek stream tail", err)
	}

	usage := relaymodel.EstimateUsage("", completion.String())
	if err := st.Finish(usage); err != nil {
		logStreamWarning(c, "finish deepseek stream", err)
	}
	return usage, nil
}

func nonStreamHandler(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	var content, reasoning strings.Builder
	state := newStreamState(m.ActualModelName,
		func(text string) error { content.WriteString(text); return nil },
		func(text string) error { reasoning.WriteString(text); return nil },
	)

	if err := consume(c, resp.Body, state); err != nil {
		return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeTransport, http.StatusBadGateway)
	}
	if err := state.finish(); err != nil {
		logStreamWarning(c, "flush deepseek stream tail", err)
	}

	usage := relaymodel.EstimateUsage("", content.String())
	streaming.WriteNonStreamResponse(c, m.OriginModelName, content.String(), reasoning.String(), usage)
	return usage, nil
}

// consume drains the vendor SSE body through the frame state machine.
func consume(c *gin.Context, body io.Reader, state *streamState) error {
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

		var f frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			logStreamWarning(c, "skip malformed deepseek frame", err)
			continue
		}
		if err := state.apply(f); err != nil {
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "read deepseek stream")
}

func (s *streamState) apply(f frame) error {
	switch {
	case f.P == "response/thinking_content":
		s.curPath = "thinking"
		return s.appendString(f.V)
	case f.P == "response/content", f.P == "response/fragments":
		s.curPath = "content"
		return s.appendString(f.V)
	case f.P == "response/search_results" || strings.HasPrefix(f.P, "response/search_results/"):
		s.mergeSearchResults(f)
		return nil
	case f.P == "response/search_status":
		return nil
	case f.P == "" && f.O == "BATCH":
		var batch []frame
		if err := json.Unmarshal(f.V, &batch); err != nil {
			return nil
		}
		for _, sub := range batch {
			if err := s.apply(sub); err != nil {
				return err
			}
		}
		return nil
	case f.P == "":
		return s.appendString(f.V)
	default:
		// Unknown paths (status, metadata) carry no user text.
		return nil
	}
}

func (s *streamState) appendString(raw json.RawMessage) error {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil
	}
	// The vendor signals completion with a literal status token on the
	// content path; it must never reach the client.
	if text == "FINISHED" {
		return nil
	}
	text = strings.ReplaceAll(text, "FINISHED", "")
	if text == "" {
		return nil
	}

	if s.curPath == "thinking" {
		switch s.mode {
		case thinkingSilent:
			return nil
		case thinkingFold:
			return s.emitContent(text)
		default:
			return s.emitReasoning(text)
		}
	}
	return s.pushContent(text)
}

// pushContent runs the citation rewriter with suffix holdback so a marker
// split across deltas is never emitted half-rewritten.
func (s *streamState) pushContent(text string) error {
	s.citeBuf += text
	emit, hold := rewriteCitations(s.citeBuf, s.cited)
	s.citeBuf = hold
	if emit == "" {
		return nil
	}
	return s.emitContent(emit)
}

// mergeSearchResults absorbs the search-results table or a patch to one entry.
func (s *streamState) mergeSearchResults(f frame) {
	if f.P == "response/search_results" {
		var results []searchResult
		if err := json.Unmarshal(f.V, &results); err == nil {
			if f.O == "APPEND" {
				s.searchResults = append(s.searchResults, results...)
			} else {
				s.searchResults = results
			}
		}
		return
	}

	// Patch path response/search_results/<index>[/field].
	rest := strings.TrimPrefix(f.P, "response/search_results/")
	parts := strings.SplitN(rest, "/", 2)
	index, err := strconv.Atoi(parts[0])
	if err != nil || index < 0 {
		return
	}
	for len(s.searchResults) <= index {
		s.searchResults = append(s.searchResults, searchResult{})
	}
	if len(parts) == 1 {
		var result searchResult
		if json.Unmarshal(f.V, &result) == nil {
			s.searchResults[index] = result
		}
		return
	}
	var value string
	if json.Unmarshal(f.V, &value) != nil {
		return
	}
	switch parts[1] {
	case "url":
		s.searchResults[index].Url = value
	case "title":
		s.searchResults[index].Title = value
	}
}

// finish flushes held-back text and appends the citations footer.
func (s *streamState) finish() error {
	if s.citeBuf != "" {
		emit, _ := rewriteCitations(s.citeBuf+"\x00", s.cited)
		emit = strings.TrimSuffix(emit, "\x00")
		s.citeBuf = ""
		if emit != "" {
			if err := s.emitContent(emit); err != nil {
				return err
			}
		}
	}
	if footer := s.citationFooter(); footer != "" {
		return s.emitContent(footer)
	}
	return nil
}

func (s *streamState) citationFooter() string {
	if len(s.cited) == 0 || len(s.searchResults) == 0 {
		return ""
	}
	indexes := make([]int, 0, len(s.cited))
	for index := range s.cited {
		if index >= 1 && index <= len(s.searchResults) {
			indexes = append(indexes, index)
		}
	}
	if len(indexes) == 0 {
		return ""
	}
	sort.Ints(indexes)

	var b strings.Builder
	b.WriteString("\n\n")
	for _, index := range indexes {
		result := s.searchResults[index-1]
		title := result.Title
		if title == "" {
			title = result.Url
		}
		b.WriteString("[" + strconv.Itoa(index) + "]: [" + title + "](" + result.Url + ")\n")
	}
	return b.String()
}

// rewriteCitations replaces complete [citation:N] markers with [N] and records
// the cited indexes. A trailing fragment that could still grow into a marker
// is returned as hold.
func rewriteCitations(s string, cited map[int]bool) (emit, hold string) {
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(s[i:], "[")
		if idx < 0 {
			b.WriteString(s[i:])
			return b.String(), ""
		}
		idx += i
		b.WriteString(s[i:idx])
		rest := s[idx:]

		if strings.HasPrefix(rest, citationMarker) {
			// Complete marker?
			tail := rest[len(citationMarker):]
			digits := 0
			for digits < len(tail) && tail[digits] >= '0' && tail[digits] <= '9' {
				digits++
			}
			if digits > 0 && digits < len(tail) && tail[digits] == ']' {
				number, _ := strconv.Atoi(tail[:digits])
				cited[number] = true
				b.WriteString("[" + tail[:digits] + "]")
				i = idx + len(citationMarker) + digits + 1
				continue
			}
			if digits == len(tail) {
				// Whole remainder is digits; a closing bracket may follow.
				return b.String(), rest
			}
			// Marker-like text that cannot close; pass through verbatim.
			b.WriteString("[")
			i = idx + 1
			continue
		}

		if possibleCitationPrefix(rest) {
			return b.String(), rest
		}
		b.WriteString("[")
		i = idx + 1
	}
}

// possibleCitationPrefix reports whether s is a proper prefix of the marker.
func possibleCitationPrefix(s string) bool {
	return len(s) < len(citationMarker) && strings.HasPrefix(citationMarker, s)
}
