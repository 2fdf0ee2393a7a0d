package services

import (
	"github.com/resonance-im/resonance/pkg/internal/database"
	"github.com/resonance-im/resonance/pkg/internal/models"
)

func GetChannel(id uint) (models.Channel, error) {
	var channel models.Channel
	if err := database.C.
		Where(models.Channel{BaseModel: models.BaseModel{ID: id}}).
		Preload("Members").
		First(&channel).Error; err != nil {
		return channel, err
	}
	return channel, nil
}

func GetChannelWithAlias(alias string) (models.Channel, error) {
	var channel models.Channel
	if err := database.C.
		Where(models.Channel{Alias: alias}).
		Preload("Members").
		First(&channel).Error; err != nil {
		return channel, err
	}
	return channel, nil
}

func GetChannelMember(channel models.Channel, accountId uint) (models.ChannelMember, error) {
	var member models.ChannelMember
	if err := database.C.Where(models.ChannelMember{
		ChannelID: channel.ID,
		AccountID: accountId,
	}).First(&member).Error; err != nil {
		return member, err
	}
	return member, nil
}

func ListChannelMembers(channelId uint) ([]models.ChannelMember, error) {
	var members []models.ChannelMember
	if err := database.C.Where(models.ChannelMember{
		ChannelID: channelId,
	}).Find(&members).Error; err != nil {
		return members, err
	}
	return members, nil
}
