package database

import (
	"gorm.io/gorm"

	"github.com/resonance-im/resonance/pkg/internal/models"
)

var AutoMaintainRange = []any{
	&models.Account{},
	&models.Channel{},
	&models.ChannelMember{},
	&models.Call{},
	&models.Event{},
	&models.PushSubscription{},
}

func RunMigration(source *gorm.DB) error {
	if err := source.AutoMigrate(AutoMaintainRange...); err != nil {
		return err
	}

	return nil
}
