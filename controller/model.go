package controller

import (
	"net/http"
	"sort"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common/helper"
	"github.com/xiaoY233/chat2api/model"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

// OpenAIModel is one entry of the /v1/models listing.
type OpenAIModel struct {
	Id      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// OpenAIModelList is the /v1/models envelope.
type OpenAIModelList struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// ListModels serves GET /v1/models: the union of every enabled provider's
// supported models and mapping aliases, plus the gateway-level routes.
func ListModels(c *gin.Context) {
	models, err := availableModels()
	if err != nil {
		gmw.GetLogger(c).Error("list models failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": relaymodel.Error{
				Message: "cannot list models",
				Type:    relaymodel.ErrorTypeInternalPolicy,
			},
		})
		return
	}
	c.JSON(http.StatusOK, OpenAIModelList{Object: "list", Data: models})
}

// RetrieveModel serves GET /v1/models/:model.
func RetrieveModel(c *gin.Context) {
	name := c.Param("model")
	models, err := availableModels()
	if err == nil {
		for _, m := range models {
			if m.Id == name {
				c.JSON(http.StatusOK, m)
				return
			}
		}
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error": relaymodel.Error{
			Message: "The model '" + name + "' does not exist",
			Type:    relaymodel.ErrorTypeInvalidRequest,
			Param:   "model",
			Code:    "model_not_found",
		},
	})
}

func availableModels() ([]OpenAIModel, error) {
	providers, err := model.GetEnabledProviders()
	if err != nil {
		return nil, err
	}

	owners := make(map[string]string)
	for _, provider := range providers {
		for _, name := range provider.GetSupportedModels() {
			owners[name] = provider.Id
		}
		for alias := range provider.GetModelMapping() {
			owners[alias] = provider.Id
		}
	}
	for alias, route := range model.GetConfig().ModelMapping {
		if route.ProviderId != "" {
			owners[alias] = route.ProviderId
		}
	}

	names := make([]string, 0, len(owners))
	for name := range owners {
		names = append(names, name)
	}
	sort.Strings(names)

	created := helper.GetTimestamp()
	models := make([]OpenAIModel, 0, len(names))
	for _, name := range names {
		models = append(models, OpenAIModel{
			Id:      name,
			Object:  "model",
			Created: created,
			OwnedBy: owners[name],
		})
	}
	return models, nil
}
