package store

import "time"

type AccessKey struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Code        string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"code"`
	Note        string    `gorm:"type:varchar(255)" json:"note"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	TotalTokens int64     `gorm:"not null;default:0" json:"total_tokens"`
	TokenLimit  *int64    `json:"token_limit"` // nil = unlimited
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

func (AccessKey) TableName() string { return "access_keys" }

// OverQuota reports total_tokens >= token_limit.
func (k *AccessKey) OverQuota() bool {
	return k.TokenLimit != nil && k.TotalTokens >= *k.TokenLimit
}

type ImageAccessKey struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Code        string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"code"`
	Note        string    `gorm:"type:varchar(255)" json:"note"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	TotalImages int64     `gorm:"not null;default:0" json:"total_images"`
	ImageLimit  *int64    `json:"image_limit"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

func (ImageAccessKey) TableName() string { return "image_access_keys" }

func (k *ImageAccessKey) OverQuota() bool {
	return k.ImageLimit != nil && k.TotalImages >= *k.ImageLimit
}

type DeviceSession struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	KeyCode      string    `gorm:"type:varchar(128);not null;uniqueIndex:uniq_device_session,priority:1" json:"key_code"`
	DeviceID     string    `gorm:"type:varchar(64);not null;uniqueIndex:uniq_device_session,priority:2" json:"device_id"`
	DeviceInfo   string    `gorm:"type:varchar(512)" json:"device_info"`
	Location     string    `gorm:"type:varchar(128)" json:"location"`
	LastSeen     time.Time `gorm:"index" json:"last_seen"`
	TotalTokens  int64     `gorm:"not null;default:0" json:"total_tokens"`
	IsBanned     bool      `gorm:"not null;default:false" json:"is_banned"`
	ImageKeyCode *string   `gorm:"type:varchar(128)" json:"image_key_code"`
}

func (DeviceSession) TableName() string { return "device_sessions" }

type Subject struct {
	Code            string  `gorm:"primaryKey;type:varchar(64)" json:"code"`
	Label           string  `gorm:"type:varchar(64);not null" json:"label"`
	Color           string  `gorm:"type:varchar(32)" json:"color"`
	Icon            string  `gorm:"type:varchar(64)" json:"icon"`
	PromptPrefix    string  `gorm:"type:text" json:"prompt_prefix"`
	BackgroundChars string  `gorm:"type:text" json:"background_chars"`
	CharOpacity     float64 `gorm:"not null;default:0.1" json:"char_opacity"`
	CharSizeScale   float64 `gorm:"not null;default:1" json:"char_size_scale"`
	IsActive        bool    `gorm:"not null;default:true" json:"is_active"`
	SortOrder       int     `gorm:"not null;default:0;index" json:"sort_order"`
}

func (Subject) TableName() string { return "subjects" }

type Level struct {
	Code      string `gorm:"primaryKey;type:varchar(64)" json:"code"`
	Label     string `gorm:"type:varchar(64);not null" json:"label"`
	SortOrder int    `gorm:"not null;default:0;index" json:"sort_order"`
	IsActive  bool   `gorm:"not null;default:true" json:"is_active"`
}

func (Level) TableName() string { return "levels" }

type ChatHistoryItem struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	KeyCode    string    `gorm:"type:varchar(128);not null;index:idx_history_key_created,priority:1" json:"key_code"`
	DeviceID   string    `gorm:"type:varchar(64);index" json:"device_id"`
	Question   string    `gorm:"type:text;not null" json:"question"`
	Answer     string    `gorm:"type:longtext;not null" json:"answer"`
	Subject    string    `gorm:"type:varchar(64)" json:"subject"`
	GradeLabel *string   `gorm:"type:varchar(64)" json:"grade_label"`
	CreatedAt  time.Time `gorm:"index:idx_history_key_created,priority:2" json:"created_at"`
}

func (ChatHistoryItem) TableName() string { return "chat_history" }

type AppConfig struct {
	Key       string    `gorm:"primaryKey;type:varchar(64)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AppConfig) TableName() string { return "app_config" }

// AppConfig keys.
const (
	ConfigAppTitle        = "app_title"
	ConfigAppLogo         = "app_logo"
	ConfigAIMode          = "ai_mode"
	ConfigAdminPassword   = "admin_password"
	ConfigAIAPIKey        = "ai_api_key"
	ConfigAIBaseURL       = "ai_base_url"
	ConfigAITextModel     = "ai_text_model"
	ConfigAIVisionModel   = "ai_vision_model"
	ConfigShowUsage       = "show_usage_to_user"
	ConfigFollowUpContext = "follow_up_context_limit"
)

// KnownConfigKeys is the set accepted by the admin config endpoint.
var KnownConfigKeys = []string{
	ConfigAppTitle,
	ConfigAppLogo,
	ConfigAIMode,
	ConfigAdminPassword,
	ConfigAIAPIKey,
	ConfigAIBaseURL,
	ConfigAITextModel,
	ConfigAIVisionModel,
	ConfigShowUsage,
	ConfigFollowUpContext,
}

func Models() []any {
	return []any{
		&AccessKey{},
		&ImageAccessKey{},
		&DeviceSession{},
		&Subject{},
		&Level{},
		&ChatHistoryItem{},
		&AppConfig{},
	}
}
