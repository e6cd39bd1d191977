package model

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/xiaoY233/chat2api/common"
)

const (
	AccountStatusActive   = "active"
	AccountStatusInactive = "inactive"
	AccountStatusExpired  = "expired"
	AccountStatusError    = "error"
)

// Account is one credential bundle for one provider. Credentials are stored as
// a JSON map whose values are AES-GCM encrypted; the plaintext form exists only
// inside an adapter call.
type Account struct {
	Id                     int        `json:"id" gorm:"primaryKey;autoIncrement"`
	ProviderId             string     `json:"providerId" gorm:"index"`
	Name                   string     `json:"name"`
	Credentials            string     `json:"-"`
	Status                 string     `json:"status" gorm:"default:active;index"`
	LastUsedAt             *time.Time `json:"lastUsedAt"`
	RequestCount           int64      `json:"requestCount"`
	DailyLimit             int64      `json:"dailyLimit"`
	TodayUsed              int64      `json:"todayUsed"`
	DeleteSessionAfterChat bool       `json:"deleteSessionAfterChat"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Eligible reports whether the account can serve a request right now.
// A zero DailyLimit means unlimited.
func (a *Account) Eligible() bool {
	if a.Status != AccountStatusActive {
		return false
	}
	return a.DailyLimit <= 0 || a.TodayUsed < a.DailyLimit
}

// SetCredentials encrypts and stores the credential map.
func (a *Account) SetCredentials(credentials map[string]string) error {
	encrypted := make(map[string]string, len(credentials))
	for field, value := range credentials {
		cipher, err := common.EncryptSecret(value)
		if err != nil {
			return errors.Wrapf(err, "encrypt credential field %s", field)
		}
		encrypted[field] = cipher
	}
	raw, err := json.Marshal(encrypted)
	if err != nil {
		return errors.Wrap(err, "marshal credentials")
	}
	a.Credentials = string(raw)
	return nil
}

// DecryptedCredentials reconstitutes the plaintext credential map.
func (a *Account) DecryptedCredentials() (map[string]string, error) {
	encrypted := make(map[string]string)
	if a.Credentials != "" {
		if err := json.Unmarshal([]byte(a.Credentials), &encrypted); err != nil {
			return nil, errors.Wrap(err, "unmarshal credentials")
		}
	}
	plain := make(map[string]string, len(encrypted))
	for field, cipher := range encrypted {
		value, err := common.DecryptSecret(cipher)
		if err != nil {
			return nil, errors.Wrapf(err, "decrypt credential field %s", field)
		}
		plain[field] = value
	}
	return plain, nil
}

// RedactedCredentials returns the field names with masked values, for export.
func (a *Account) RedactedCredentials() map[string]string {
	encrypted := make(map[string]string)
	_ = json.Unmarshal([]byte(a.Credentials), &encrypted)
	redacted := make(map[string]string, len(encrypted))
	for field := range encrypted {
		redacted[field] = common.MaskSecret("x")
	}
	return redacted
}

func GetAccountById(id int) (*Account, error) {
	var account Account
	if err := DB.First(&account, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "get account %d", id)
	}
	return &account, nil
}

func GetAccountsByProvider(providerId string) ([]*Account, error) {
	var accounts []*Account
	if err := DB.Where("provider_id = ?", providerId).Order("id").Find(&accounts).Error; err != nil {
		return nil, errors.Wrapf(err, "list accounts of provider %s", providerId)
	}
	return accounts, nil
}

func InsertAccount(account *Account) error {
	return errors.Wrap(DB.Create(account).Error, "insert account")
}

func UpdateAccount(account *Account) error {
	return errors.Wrap(DB.Save(account).Error, "update account")
}

func DeleteAccount(id int) error {
	return errors.Wrap(DB.Delete(&Account{}, "id = ?", id).Error, "delete account")
}

// UpdateAccountStatus transitions the account status, used by the token
// validator and by adapters observing a vendor 401.
func UpdateAccountStatus(id int, status string) error {
	return errors.Wrap(
		DB.Model(&Account{}).Where("id = ?", id).Update("status", status).Error,
		"update account status")
}

// UpdateAccountCredential re-encrypts and persists a single credential field.
// GLM uses this when the vendor rotates the refresh token.
func UpdateAccountCredential(id int, field, value string) error {
	account, err := GetAccountById(id)
	if err != nil {
		return err
	}
	credentials, err := account.DecryptedCredentials()
	if err != nil {
		return err
	}
	credentials[field] = value
	if err := account.SetCredentials(credentials); err != nil {
		return err
	}
	return errors.Wrap(
		DB.Model(&Account{}).Where("id = ?", id).Update("credentials", account.Credentials).Error,
		"persist rotated credential")
}

// PostDispatch atomically records a completed dispatch against the account.
func PostDispatch(id int) error {
	now := time.Now()
	return errors.Wrap(DB.Model(&Account{}).Where("id = ?", id).Updates(map[string]any{
		"request_count": gorm.Expr("request_count + 1"),
		"today_used":    gorm.Expr("today_used + 1"),
		"last_used_at":  now,
	}).Error, "account post-dispatch bookkeeping")
}

// ResetDailyCounters zeroes today_used for every account. Runs at local
// midnight from the cron scheduler.
func ResetDailyCounters() error {
	return errors.Wrap(
		DB.Model(&Account{}).Where("today_used > 0").Update("today_used", 0).Error,
		"reset daily counters")
}

// recentFailures tracks per-account terminal vendor errors for the failover
// strategy. Entries older than the failover window are ignored.
var recentFailures sync.Map // account id -> time.Time

const failoverWindow = 60 * time.Second

// MarkAccountFailure records a terminal vendor error against the account.
func MarkAccountFailure(id int) {
	recentFailures.Store(id, time.Now())
}

func recentlyFailed(id int) bool {
	v, ok := recentFailures.Load(id)
	if !ok {
		return false
	}
	at, ok := v.(time.Time)
	if !ok {
		return false
	}
	if time.Since(at) > failoverWindow {
		recentFailures.Delete(id)
		return false
	}
	return true
}

// Load-balance strategies.
const (
	StrategyRoundRobin = "round-robin"
	StrategyFillFirst  = "fill-first"
	StrategyFailover   = "failover"
)

// SelectAccount picks one eligible account of the provider according to the
// configured balancing strategy. Occasional duplicate selections under races
// are acceptable: daily limits are soft.
func SelectAccount(providerId string, strategy string) (*Account, error) {
	accounts, err := GetAccountsByProvider(providerId)
	if err != nil {
		return nil, err
	}

	eligible := accounts[:0]
	for _, account := range accounts {
		if account.Eligible() {
			eligible = append(eligible, account)
		}
	}
	if len(eligible) == 0 {
		return nil, errors.Errorf("no eligible account for provider %s", providerId)
	}

	switch strategy {
	case StrategyFillFirst:
		return selectFillFirst(eligible), nil
	case StrategyFailover:
		return selectFailover(eligible), nil
	default:
		return selectRoundRobin(eligible), nil
	}
}

// selectRoundRobin picks the account ring-wise after the most recently used
// one. Accounts are ordered by id; ties break toward the smallest id.
func selectRoundRobin(eligible []*Account) *Account {
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Id < eligible[j].Id })

	newest := -1
	var newestAt time.Time
	for i, account := range eligible {
		if account.LastUsedAt == nil {
			continue
		}
		if newest < 0 || account.LastUsedAt.After(newestAt) {
			newest = i
			newestAt = *account.LastUsedAt
		}
	}
	if newest < 0 {
		return eligible[0]
	}
	return eligible[(newest+1)%len(eligible)]
}

// selectFillFirst exhausts one account before touching another: smallest
// today_used wins, ties break toward the smallest id.
func selectFillFirst(eligible []*Account) *Account {
	best := eligible[0]
	for _, account := range eligible[1:] {
		if account.TodayUsed < best.TodayUsed ||
			(account.TodayUsed == best.TodayUsed && account.Id < best.Id) {
			best = account
		}
	}
	return best
}

// selectFailover walks accounts in creation order and only advances past one
// that is non-eligible or failed terminally within the failover window.
func selectFailover(eligible []*Account) *Account {
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	for _, account := range eligible {
		if !recentlyFailed(account.Id) {
			return account
		}
	}
	// every candidate failed recently; fall back to the head of the order
	return eligible[0]
}
