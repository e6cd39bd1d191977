package model

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"
)

// Builtin provider ids. Adapters and probes key off these.
const (
	ProviderDeepSeek = "deepseek"
	ProviderGLM      = "glm"
	ProviderKimi     = "kimi"
	ProviderMiniMax  = "minimax"
	ProviderQwen     = "qwen"
	ProviderQwenAI   = "qwen-ai"
	ProviderZAI      = "zai"
)

const defaultBrowserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(raw)
}

// builtinProviders is the authoritative catalog. Rows are force-updated in
// place at startup; the user-controlled Enabled flag survives reconciliation.
func builtinProviders() []Provider {
	return []Provider{
		{
			Id:         ProviderDeepSeek,
			Name:       "DeepSeek",
			Kind:       ProviderKindBuiltin,
			AuthScheme: "userToken",
			BaseURL:    "https://chat.deepseek.com",
			ChatPath:   "/api/v0/chat/completion",
			Headers: mustJSON(map[string]string{
				"User-Agent":  defaultBrowserUA,
				"Origin":      "https://chat.deepseek.com",
				"Referer":     "https://chat.deepseek.com/",
				"X-App-Version": "20241129.1",
				"X-Client-Platform": "web",
				"X-Client-Version":  "1.3.0-auto-resume",
			}),
			SupportedModels: mustJSON([]string{
				"DeepSeek-V3.2", "deepseek-chat", "deepseek-reasoner", "deepseek-chat-search",
			}),
			ModelMapping: mustJSON(map[string]string{
				"deepseek-chat":        "DeepSeek-V3.2",
				"deepseek-reasoner":    "DeepSeek-V3.2-think",
				"deepseek-chat-search": "DeepSeek-V3.2-search",
			}),
			TokenCheckURL:    "https://chat.deepseek.com/api/v0/users/current",
			TokenCheckMethod: "GET",
			Description:      "DeepSeek web chat (chat.deepseek.com)",
		},
		{
			Id:         ProviderGLM,
			Name:       "GLM",
			Kind:       ProviderKindBuiltin,
			AuthScheme: "refresh_token",
			BaseURL:    "https://chatglm.cn",
			ChatPath:   "/chatglm/backend-api/assistant/stream",
			Headers: mustJSON(map[string]string{
				"User-Agent": defaultBrowserUA,
				"Origin":     "https://chatglm.cn",
				"Referer":    "https://chatglm.cn/main/alltoolsdetail",
				"App-Name":   "chatglm",
				"X-App-Platform": "pc",
				"X-App-Version":  "0.0.1",
			}),
			SupportedModels: mustJSON([]string{
				"glm-4.7", "glm-4.7-thinking", "glm-4.7-search", "glm-deep-research",
			}),
			ModelMapping: mustJSON(map[string]string{}),
			TokenCheckURL:    "https://chatglm.cn/chatglm/user-api/user/refresh",
			TokenCheckMethod: "POST",
			Description:      "Zhipu GLM web chat (chatglm.cn)",
		},
		{
			Id:         ProviderKimi,
			Name:       "Kimi",
			Kind:       ProviderKindBuiltin,
			AuthScheme: "token",
			BaseURL:    "https://www.kimi.com",
			ChatPath:   "/apiv2/kimi.chat.v1.ChatService/Chat",
			Headers: mustJSON(map[string]string{
				"User-Agent":   defaultBrowserUA,
				"Origin":       "https://www.kimi.com",
				"Referer":      "https://www.kimi.com/",
				"X-Msh-Platform": "web",
			}),
			SupportedModels: mustJSON([]string{
				"kimi-k2", "kimi-k2-thinking", "kimi-k2-search",
			}),
			ModelMapping:     mustJSON(map[string]string{}),
			TokenCheckURL:    "https://www.kimi.com/api/user",
			TokenCheckMethod: "GET",
			Description:      "Moonshot Kimi web chat (kimi.com)",
		},
		{
			Id:         ProviderMiniMax,
			Name:       "MiniMax",
			Kind:       ProviderKindBuiltin,
			AuthScheme: "realUserID_token",
			BaseURL:    "https://agent.minimaxi.com",
			ChatPath:   "/matrix/api/v1/chat/send_msg",
			Headers: mustJSON(map[string]string{
				"User-Agent": defaultBrowserUA,
				"Origin":     "https://agent.minimaxi.com",
				"Referer":    "https://agent.minimaxi.com/",
			}),
			SupportedModels: mustJSON([]string{
				"minimax-m2", "minimax-agent",
			}),
			ModelMapping:     mustJSON(map[string]string{}),
			TokenCheckURL:    "https://agent.minimaxi.com/v1/api/user/device/register",
			TokenCheckMethod: "POST",
			Description:      "MiniMax agent web chat (agent.minimaxi.com)",
		},
		{
			Id:         ProviderQwen,
			Name:       "Qwen",
			Kind:       ProviderKindBuiltin,
			AuthScheme: "tongyi_sso_ticket",
			BaseURL:    "https://chat2.qianwen.com",
			ChatPath:   "/api/v2/chat",
			Headers: mustJSON(map[string]string{
				"User-Agent": defaultBrowserUA,
				"Origin":     "https://chat2.qianwen.com",
				"Referer":    "https://chat2.qianwen.com/",
			}),
			SupportedModels: mustJSON([]string{
				"qwen3-max", "qwen-plus",
			}),
			ModelMapping: mustJSON(map[string]string{}),
			// Probe host intentionally differs from the chat endpoint; see the
			// builtin catalog notes in DESIGN.md before changing it.
			TokenCheckURL:    "https://chat2-api.qianwen.com/api/v2/session/page/list",
			TokenCheckMethod: "POST",
			Description:      "Tongyi Qianwen domestic web chat (chat2.qianwen.com)",
		},
		{
			Id:         ProviderQwenAI,
			Name:       "Qwen International",
			Kind:       ProviderKindBuiltin,
			AuthScheme: "jwt",
			BaseURL:    "https://chat.qwen.ai",
			ChatPath:   "/api/v2/chat/completions",
			Headers: mustJSON(map[string]string{
				"User-Agent": defaultBrowserUA,
				"Origin":     "https://chat.qwen.ai",
				"Referer":    "https://chat.qwen.ai/",
				"Source":     "web",
			}),
			SupportedModels: mustJSON([]string{
				"qwen3-max", "qwen3-coder", "qwen3-vl-plus",
			}),
			ModelMapping:     mustJSON(map[string]string{}),
			TokenCheckURL:    "https://chat.qwen.ai/api/v2/user",
			TokenCheckMethod: "GET",
			Description:      "Qwen international web chat (chat.qwen.ai)",
		},
		{
			Id:         ProviderZAI,
			Name:       "Z.ai",
			Kind:       ProviderKindBuiltin,
			AuthScheme: "jwt",
			BaseURL:    "https://chat.z.ai",
			ChatPath:   "/api/chat/completions",
			Headers: mustJSON(map[string]string{
				"User-Agent": defaultBrowserUA,
				"Origin":     "https://chat.z.ai",
				"Referer":    "https://chat.z.ai/",
				"X-FE-Version": "prod-fe-1.0.70",
			}),
			SupportedModels: mustJSON([]string{
				"glm-4.7", "glm-4.7-thinking", "glm-4.7-search",
			}),
			ModelMapping: mustJSON(map[string]string{
				"glm-4.7":          "0727-360B-API",
				"glm-4.7-thinking": "0727-360B-API",
				"glm-4.7-search":   "0727-360B-API",
			}),
			TokenCheckURL:    "https://chat.z.ai/api/v1/auths/",
			TokenCheckMethod: "GET",
			Description:      "Z.ai web chat (chat.z.ai)",
		},
	}
}

// ReconcileBuiltinProviders force-updates builtin catalog rows in place and
// inserts missing ones. Custom providers are never touched; the Enabled flag
// of existing rows is preserved.
func ReconcileBuiltinProviders() error {
	for _, builtin := range builtinProviders() {
		var existing Provider
		err := DB.First(&existing, "id = ?", builtin.Id).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			builtin.Enabled = true
			if err := DB.Create(&builtin).Error; err != nil {
				return errors.Wrapf(err, "insert builtin provider %s", builtin.Id)
			}
		case err != nil:
			return errors.Wrapf(err, "lookup builtin provider %s", builtin.Id)
		default:
			builtin.Enabled = existing.Enabled
			builtin.CreatedAt = existing.CreatedAt
			if err := DB.Model(&Provider{}).Where("id = ?", builtin.Id).
				Updates(map[string]any{
					"name":               builtin.Name,
					"kind":               ProviderKindBuiltin,
					"auth_scheme":        builtin.AuthScheme,
					"base_url":           builtin.BaseURL,
					"chat_path":          builtin.ChatPath,
					"headers":            builtin.Headers,
					"supported_models":   builtin.SupportedModels,
					"model_mapping":      builtin.ModelMapping,
					"token_check_url":    builtin.TokenCheckURL,
					"token_check_method": builtin.TokenCheckMethod,
					"description":        builtin.Description,
				}).Error; err != nil {
				return errors.Wrapf(err, "update builtin provider %s", builtin.Id)
			}
		}
	}
	return nil
}
