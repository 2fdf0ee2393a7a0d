package models

type Account struct {
	BaseModel

	Name   string  `json:"name" gorm:"uniqueIndex"`
	Nick   string  `json:"nick"`
	Avatar *string `json:"avatar"`

	Channels []Channel `json:"channels" gorm:"many2many:channel_accounts"`
}

type PushSubscription struct {
	BaseModel

	Endpoint string `json:"endpoint" gorm:"uniqueIndex"`
	P256DH   string `json:"p256dh"`
	Auth     string `json:"auth"`

	AccountID uint `json:"account_id"`
}
