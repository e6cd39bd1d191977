package relay

import (
	"github.com/xiaoY233/chat2api/model"
	"github.com/xiaoY233/chat2api/relay/adaptor"
	"github.com/xiaoY233/chat2api/relay/adaptor/deepseek"
	"github.com/xiaoY233/chat2api/relay/adaptor/glm"
	"github.com/xiaoY233/chat2api/relay/adaptor/kimi"
	"github.com/xiaoY233/chat2api/relay/adaptor/minimax"
	"github.com/xiaoY233/chat2api/relay/adaptor/qwen"
	"github.com/xiaoY233/chat2api/relay/adaptor/qwenai"
	"github.com/xiaoY233/chat2api/relay/adaptor/zai"
)

var adaptors = []adaptor.Adaptor{
	&deepseek.Adaptor{},
	&glm.Adaptor{},
	&kimi.Adaptor{},
	&minimax.Adaptor{},
	&qwen.Adaptor{},
	&qwenai.Adaptor{},
	&zai.Adaptor{},
}

// GetAdaptor returns the adapter serving the provider, matched by id or
// endpoint, or nil when no adapter recognizes it.
func GetAdaptor(provider *model.Provider) adaptor.Adaptor {
	if provider == nil {
		return nil
	}
	for _, a := range adaptors {
		if a.Recognizes(provider) {
			return a
		}
	}
	return nil
}
