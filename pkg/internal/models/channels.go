package models

type ChannelType = uint8

const (
	ChannelTypeCommon = ChannelType(iota)
	ChannelTypeDirect
)

type Channel struct {
	BaseModel

	Alias       string          `json:"alias" gorm:"uniqueIndex"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Members     []ChannelMember `json:"members"`
	Events      []Event         `json:"events"`
	Calls       []Call          `json:"calls"`
	Type        ChannelType     `json:"type"`
	AccountID   uint            `json:"account_id"`
	IsPublic    bool            `json:"is_public"`
}

func (v Channel) DisplayText() string {
	if v.Type == ChannelTypeDirect {
		return "DM"
	}
	return v.Name
}

type NotifyLevel = int8

const (
	NotifyLevelAll = NotifyLevel(iota)
	NotifyLevelMentioned
	NotifyLevelNone
)

type ChannelMember struct {
	BaseModel

	Name   string  `json:"name"`
	Nick   string  `json:"nick"`
	Avatar *string `json:"avatar"`

	ChannelID  uint        `json:"channel_id"`
	AccountID  uint        `json:"account_id"`
	Channel    Channel     `json:"channel"`
	Notify     NotifyLevel `json:"notify"`
	PowerLevel int         `json:"power_level"`

	Calls  []Call  `json:"calls" gorm:"foreignKey:FounderID"`
	Events []Event `json:"events" gorm:"foreignKey:SenderID"`
}
