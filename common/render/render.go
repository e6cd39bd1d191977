package render

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
)

// StringData writes a single pre-serialized SSE data record and flushes it.
func StringData(c *gin.Context, str string) error {
	str = strings.TrimPrefix(str, "data:")
	str = strings.TrimSuffix(str, "\r")
	c.Render(-1, customEvent{Data: "data: " + strings.TrimSpace(str)})
	if f, ok := c.Writer.(interface{ Flush() }); ok {
		f.Flush()
	} else {
		return errors.New("streaming error: flush not supported")
	}
	return nil
}

// ObjectData marshals the object and writes it as one SSE data record.
func ObjectData(c *gin.Context, object any) error {
	jsonData, err := json.Marshal(object)
	if err != nil {
		return errors.Wrap(err, "error marshalling object")
	}
	return StringData(c, string(jsonData))
}

// Done terminates the stream with the OpenAI sentinel record.
func Done(c *gin.Context) {
	_ = StringData(c, "[DONE]")
}

// customEvent renders "data: ...\n\n" without the content-type side effects of
// gin's builtin SSE renderer.
type customEvent struct {
	Data string
}

func (e customEvent) Render(w http.ResponseWriter) error {
	_, err := fmt.Fprintf(w, "%s\n\n", e.Data)
	return err
}

func (e customEvent) WriteContentType(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
}
