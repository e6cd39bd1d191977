package meta

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common/ctxkey"
	"github.com/xiaoY233/chat2api/model"
)

// Meta is the per-request relay state: the resolved provider/account pair, the
// decrypted credentials, model resolution and the vendor session identifiers
// produced during pre-chat RPCs. It is created at forwarder entry and never
// shared across requests.
type Meta struct {
	RequestId string

	Provider    *model.Provider
	Account     *model.Account
	Credentials map[string]string

	OriginModelName string
	ActualModelName string
	BaseURL         string
	IsStream        bool

	// Vendor session state populated by the adapter's pre-chat RPCs.
	SessionId       string
	ChatId          string
	ParentMessageId string

	// DeleteSessionAfterChat triggers the exactly-once teardown hook when the
	// transformed stream terminates.
	DeleteSessionAfterChat bool

	StartTime time.Time
}

// GetByContext assembles the Meta from values the distributor placed on the
// gin context.
func GetByContext(c *gin.Context) *Meta {
	m := &Meta{
		RequestId:       c.GetString(ctxkey.RequestId),
		OriginModelName: c.GetString(ctxkey.RequestModel),
		ActualModelName: c.GetString(ctxkey.ActualModel),
		BaseURL:         c.GetString(ctxkey.BaseURL),
		StartTime:       time.Now(),
	}
	if provider, ok := c.Get(ctxkey.Provider); ok {
		m.Provider = provider.(*model.Provider)
	}
	if account, ok := c.Get(ctxkey.Account); ok {
		m.Account = account.(*model.Account)
		m.DeleteSessionAfterChat = m.Account.DeleteSessionAfterChat
	}
	if credentials, ok := c.Get(ctxkey.Credentials); ok {
		m.Credentials = credentials.(map[string]string)
	}
	return m
}
