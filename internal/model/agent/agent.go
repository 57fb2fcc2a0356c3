package agent

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Configuration 存储智能体的高级配置（话术流程、音频、行为参数等）。
type Configuration map[string]any

// Value implements driver.Valuer so gorm can persist the map as JSON.
func (c Configuration) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal agent configuration: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (c *Configuration) Scan(value any) error {
	if value == nil {
		*c = Configuration{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported agent configuration type %T", value)
	}
	if len(data) == 0 {
		*c = Configuration{}
		return nil
	}
	return json.Unmarshal(data, c)
}

// Profile 是租户编写的智能体配置，会话开始时加载一次，随后不可变。
type Profile struct {
	ID           uint          `json:"id" gorm:"primaryKey"`
	UserID       uint          `json:"userId" gorm:"index;not null"`
	Name         string        `json:"name" gorm:"not null"`
	SystemPrompt string        `json:"systemPrompt" gorm:"type:text;not null"`
	Language     string        `json:"language" gorm:"default:en"`
	VoiceName    string        `json:"voiceName"`
	IsActive     bool          `json:"isActive" gorm:"default:true"`
	Config       Configuration `json:"configuration" gorm:"type:text"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// TableName keeps the historical table name used by the product.
func (Profile) TableName() string { return "ai_agents" }

// SessionKey derives the opaque per-session memory key from the agent
// identity. Sessions for the same agent share one transcript.
func (p *Profile) SessionKey() string {
	return fmt.Sprintf("ws_%d", p.ID)
}

// TenantKey identifies the owning tenant for long-term memory.
func (p *Profile) TenantKey() string {
	return fmt.Sprintf("tenant_%d", p.UserID)
}
