package model

import (
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"
)

const (
	ProviderKindBuiltin = "builtin"
	ProviderKindCustom  = "custom"
)

// Provider describes one vendor integration: endpoints, impersonation headers,
// supported models and the public→vendor model mapping.
type Provider struct {
	Id               string `json:"id" gorm:"primaryKey"`
	Name             string `json:"name"`
	Kind             string `json:"kind" gorm:"default:builtin"`
	AuthScheme       string `json:"authScheme"`
	BaseURL          string `json:"baseUrl"`
	ChatPath         string `json:"chatPath"`
	Headers          string `json:"-"`
	SupportedModels  string `json:"-"`
	ModelMapping     string `json:"-"`
	Enabled          bool   `json:"enabled" gorm:"default:true"`
	TokenCheckURL    string `json:"tokenCheckUrl"`
	TokenCheckMethod string `json:"tokenCheckMethod"`
	Description      string `json:"description"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GetHeaders decodes the default impersonation headers.
func (p *Provider) GetHeaders() map[string]string {
	headers := make(map[string]string)
	if p.Headers == "" {
		return headers
	}
	_ = json.Unmarshal([]byte(p.Headers), &headers)
	return headers
}

// GetSupportedModels decodes the public model list.
func (p *Provider) GetSupportedModels() []string {
	if p.SupportedModels == "" {
		return nil
	}
	var models []string
	_ = json.Unmarshal([]byte(p.SupportedModels), &models)
	return models
}

// GetModelMapping decodes the public→vendor-internal model mapping.
func (p *Provider) GetModelMapping() map[string]string {
	mapping := make(map[string]string)
	if p.ModelMapping == "" {
		return mapping
	}
	_ = json.Unmarshal([]byte(p.ModelMapping), &mapping)
	return mapping
}

// SupportsModel reports whether the model belongs to the provider, either
// directly or as a mapping alias.
func (p *Provider) SupportsModel(model string) bool {
	for _, m := range p.GetSupportedModels() {
		if m == model {
			return true
		}
	}
	_, ok := p.GetModelMapping()[model]
	return ok
}

// ResolveModel maps a public model name to the vendor-internal one; unmapped
// names pass through unchanged.
func (p *Provider) ResolveModel(model string) string {
	if mapped, ok := p.GetModelMapping()[model]; ok && mapped != "" {
		return mapped
	}
	return model
}

// GetProviderById fetches one provider row.
func GetProviderById(id string) (*Provider, error) {
	var provider Provider
	if err := DB.First(&provider, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "get provider %s", id)
	}
	return &provider, nil
}

// GetEnabledProviders lists enabled providers ordered by id.
func GetEnabledProviders() ([]*Provider, error) {
	var providers []*Provider
	if err := DB.Where("enabled = ?", true).Order("id").Find(&providers).Error; err != nil {
		return nil, errors.Wrap(err, "list enabled providers")
	}
	return providers, nil
}

// GetAllProviders lists every provider row ordered by id.
func GetAllProviders() ([]*Provider, error) {
	var providers []*Provider
	if err := DB.Order("id").Find(&providers).Error; err != nil {
		return nil, errors.Wrap(err, "list providers")
	}
	return providers, nil
}

// InsertProvider creates a custom provider.
func InsertProvider(provider *Provider) error {
	if provider.Kind == "" {
		provider.Kind = ProviderKindCustom
	}
	return errors.Wrap(DB.Create(provider).Error, "insert provider")
}

// UpdateProvider persists mutable provider fields.
func UpdateProvider(provider *Provider) error {
	return errors.Wrap(DB.Save(provider).Error, "update provider")
}

// DeleteProvider removes a provider and cascades to its accounts.
func DeleteProvider(id string) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("provider_id = ?", id).Delete(&Account{}).Error; err != nil {
			return errors.Wrap(err, "delete provider accounts")
		}
		if err := tx.Delete(&Provider{}, "id = ?", id).Error; err != nil {
			return errors.Wrap(err, "delete provider")
		}
		return nil
	})
}
