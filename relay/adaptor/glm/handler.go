package glm

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
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

// event is one SSE record of the assistant stream.
type event struct {
	Status    string `json:"status"`
	LastError struct {
		InterveneText string `json:"intervene_text"`
	} `json:"last_error"`
	Parts []part `json:"parts"`
}

type part struct {
	Role    string            `json:"role"`
	Status  string            `json:"status"`
	Content []json.RawMessage `json:"content"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Code string `json:"code"`
}

type citation struct {
	number int
	url    string
	title  string
}

// glmState tracks one response. Text and think channels arrive cumulatively,
// so emission diffs against the previously seen prefix. Cite keys are folded
// into numbered links as they complete.
type glmState struct {
	emitContent   func(string) error
	emitReasoning func(string) error

	textSeen  int
	thinkSeen int
	codeSeen  int
	fenceOpen bool

	citeBuf   string
	citations map[string]*citation
	citeOrder []string
	nextCite  int

	done      bool
	intervene string
}

func newGLMState(emitContent, emitReasoning func(string) error) *glmState {
	return &glmState{
		emitContent:   emitContent,
		emitReasoning: emitReasoning,
		citations:     map[string]*citation{},
		nextCite:      1,
	}
}

func handleResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode == http.StatusUnauthorized {
			evictToken(m.Credentials["refresh_token"])
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

	state := newGLMState(
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
		gmw.GetLogger(c).Warn("flush glm stream tail", zap.Error(err))
	}

	usage := relaymodel.EstimateUsage("", completion.String())
	if err := st.Finish(usage); err != nil {
		gmw.GetLogger(c).Warn("finish glm stream", zap.Error(err))
	}
	return usage, nil
}

func nonStreamHandler(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	var content, reasoning strings.Builder
	state := newGLMState(
		func(text string) error { content.WriteString(text); return nil },
		func(text string) error { reasoning.WriteString(text); return nil },
	)

	if err := consume(c, resp.Body, state); err != nil {
		return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeTransport, http.StatusBadGateway)
	}
	if err := state.finish(); err != nil {
		gmw.GetLogger(c).Warn("flush glm stream tail", zap.Error(err))
	}

	usage := relaymodel.EstimateUsage("", content.String())
	streaming.WriteNonStreamResponse(c, m.OriginModelName, content.String(), reasoning.String(), usage)
	return usage, nil
}

func consume(c *gin.Context, body io.Reader, state *glmState) error {
	scanner := bufio.NewScanner(body)
	helper.ConfigureScannerBuffer(scanner)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var ev event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			gmw.GetLogger(c).Warn("skip malformed glm event", zap.Error(err))
			continue
		}
		if err := state.apply(ev); err != nil {
			return err
		}
		if state.done {
			return nil
		}
	}
	return errors.Wrap(scanner.Err(), "read glm stream")
}

func (s *glmState) apply(ev event) error {
	for _, p := range ev.Parts {
		if p.Role != "" && p.Role != "assistant" && p.Role != "tool" {
			continue
		}
		for _, raw := range p.Content {
			s.collectCites(raw)

			var item contentItem
			if err := json.Unmarshal(raw, &item); err != nil {
				continue
			}
			if err := s.applyItem(item); err != nil {
				return err
			}
		}
	}

	switch ev.Status {
	case "finish":
		s.done = true
	case "intervene":
		s.intervene = ev.LastError.InterveneText
		s.done = true
	}
	return nil
}

func (s *glmState) applyItem(item contentItem) error {
	switch item.Type {
	case "text":
		delta := cumulativeDelta(item.Text, &s.textSeen)
		if delta == "" {
			return nil
		}
		if err := s.closeFence(); err != nil {
			return err
		}
		return s.pushContent(delta)
	case "think":
		delta := cumulativeDelta(item.Text, &s.thinkSeen)
		if delta == "" {
			return nil
		}
		return s.emitReasoning(delta)
	case "code":
		code := item.Code
		if code == "" {
			code = item.Text
		}
		delta := cumulativeDelta(code, &s.codeSeen)
		if delta == "" {
			return nil
		}
		if !s.fenceOpen {
			s.fenceOpen = true
			if err := s.emitContent("\n```python\n"); err != nil {
				return err
			}
		}
		return s.emitContent(delta)
	case "execution_output":
		delta := item.Text
		if delta == "" {
			return nil
		}
		if err := s.closeFence(); err != nil {
			return err
		}
		return s.emitContent("\n" + delta + "\n")
	default:
		// image and tool_result items carry no inline text.
		return nil
	}
}

// cumulativeDelta returns the unseen suffix of a cumulatively growing string.
// A shorter payload than already seen means the vendor restarted the part;
// emit nothing and resync.
func cumulativeDelta(current string, seen *int) string {
	if len(current) <= *seen {
		*seen = len(current)
		return ""
	}
	delta := current[*seen:]
	*seen = len(current)
	return delta
}

func (s *glmState) closeFence() error {
	if !s.fenceOpen {
		return nil
	}
	s.fenceOpen = false
	return s.emitContent("\n```\n")
}

// pushContent folds complete cite keys and holds back a trailing partial one.
func (s *glmState) pushContent(text string) error {
	s.citeBuf += text
	emit, hold := s.foldCitations(s.citeBuf)
	s.citeBuf = hold
	if emit == "" {
		return nil
	}
	return s.emitContent(emit)
}

// foldCitations rewrites 【turnNsearchK】 style keys into numbered markdown
// links. Unknown keys pass through untouched.
func (s *glmState) foldCitations(text string) (emit, hold string) {
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(text[i:], "【")
		if idx < 0 {
			b.WriteString(text[i:])
			return b.String(), ""
		}
		idx += i
		b.WriteString(text[i:idx])

		end := strings.Index(text[idx:], "】")
		if end < 0 {
			// Possibly split across deltas; hold back.
			return b.String(), text[idx:]
		}
		key := text[idx+len("【") : idx+end]
		i = idx + end + len("】")

		if cite, ok := s.citations[key]; ok {
			if cite.number == 0 {
				cite.number = s.nextCite
				s.nextCite++
				s.citeOrder = append(s.citeOrder, key)
			}
			b.WriteString(" [" + strconv.Itoa(cite.number) + "](" + cite.url + ")")
			continue
		}
		b.WriteString(text[idx : idx+end+len("】")])
	}
}

// collectCites walks an arbitrary content item for search results carrying
// match_key and url, whatever envelope the tool wrapped them in.
func (s *glmState) collectCites(raw json.RawMessage) {
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return
	}
	s.walkCites(node)
}

func (s *glmState) walkCites(node any) {
	switch typed := node.(type) {
	case map[string]any:
		matchKey, _ := typed["match_key"].(string)
		url, _ := typed["url"].(string)
		if matchKey != "" && url != "" {
			if _, ok := s.citations[matchKey]; !ok {
				title, _ := typed["title"].(string)
				s.citations[matchKey] = &citation{url: url, title: title}
			}
			return
		}
		for _, value := range typed {
			s.walkCites(value)
		}
	case []any:
		for _, value := range typed {
			s.walkCites(value)
		}
	}
}

// finish flushes held-back text, closes an open code fence, appends the
// intervene notice and the citations footer.
func (s *glmState) finish() error {
	if s.citeBuf != "" {
		leftover := s.citeBuf
		s.citeBuf = ""
		if err := s.emitContent(leftover); err != nil {
			return err
		}
	}
	if err := s.closeFence(); err != nil {
		return err
	}
	if s.intervene != "" {
		if err := s.emitContent("\n" + s.intervene); err != nil {
			return err
		}
	}
	if footer := s.citationFooter(); footer != "" {
		return s.emitContent(footer)
	}
	return nil
}

func (s *glmState) citationFooter() string {
	if len(s.citeOrder) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n")
	for _, key := range s.citeOrder {
		cite := s.citations[key]
		title := cite.title
		if title == "" {
			title = cite.url
		}
		b.WriteString("[" + strconv.Itoa(cite.number) + "]: [" + title + "](" + cite.url + ")\n")
	}
	return b.String()
}
