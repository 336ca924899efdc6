package domain

// SessionToken: непрозрачный долговременный токен сессии. Выдаётся только
// успешной авторизацией и позволяет переподключиться без повторного кода.
type SessionToken string

func (t SessionToken) Empty() bool { return t == "" }

type AccountStatus string

const (
	StatusPendingVerification AccountStatus = "pending_verification"
	StatusOffline             AccountStatus = "offline"
	StatusOnline              AccountStatus = "online"
	StatusError               AccountStatus = "error"
)

// AccountCredential содержит данные для подключения одного аккаунта.
// Не меняются в рамках одной попытки авторизации.
type AccountCredential struct {
	AccountID string       `json:"account_id"`
	APIKey    string       `json:"api_id"`   // api_id приложения Telegram
	APISecret string       `json:"api_hash"` // api_hash приложения Telegram
	Phone     string       `json:"phone"`
	Proxy     *ProxyConfig `json:"proxy,omitempty"`
}

const DefaultPromotionInterval = 3600

// PromotionConfig описывает периодическую рассылку.
type PromotionConfig struct {
	Enabled            bool     `json:"enabled"`
	MessageTemplate    string   `json:"message_template"`
	TargetDestinations []string `json:"target_groups"`
	IntervalSeconds    int      `json:"interval"`
}

// Validate проверяет конфиг только если рассылка включена.
func (p *PromotionConfig) Validate() error {
	if p == nil || !p.Enabled {
		return nil
	}
	if p.IntervalSeconds < 1 {
		return InvalidConfig("promotion interval must be >= 1s, got %d", p.IntervalSeconds)
	}
	if p.MessageTemplate == "" {
		return InvalidConfig("promotion message template is empty")
	}
	return nil
}

// Account: запись о боте во внешнем хранилище.
type Account struct {
	Credential AccountCredential `json:"credential"`
	Name       string            `json:"name"`
	Promotion  *PromotionConfig  `json:"promotion,omitempty"`
	Session    SessionToken      `json:"session,omitempty"`
	Status     AccountStatus     `json:"status"`
}

func (a *Account) ID() string { return a.Credential.AccountID }

// Profile: то, что аккаунт знает о себе после подключения.
type Profile struct {
	UserID    int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}
