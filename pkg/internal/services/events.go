package services

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/resonance-im/resonance/pkg/internal/database"
	"github.com/resonance-im/resonance/pkg/internal/models"
)

func CountEvent(channel models.Channel) int64 {
	var count int64
	if err := database.C.Where(models.Event{
		ChannelID: channel.ID,
	}).Model(&models.Event{}).Count(&count).Error; err != nil {
		return 0
	}
	return count
}

func ListEvent(channel models.Channel, take int, offset int) ([]models.Event, error) {
	if take > 100 {
		take = 100
	}

	var events []models.Event
	if err := database.C.
		Where(models.Event{
			ChannelID: channel.ID,
		}).Limit(take).Offset(offset).
		Order("created_at DESC").
		Preload("Sender").
		Find(&events).Error; err != nil {
		return events, err
	}
	return events, nil
}

func GetEvent(channel models.Channel, id uint) (models.Event, error) {
	var event models.Event
	if err := database.C.
		Where(models.Event{
			BaseModel: models.BaseModel{ID: id},
			ChannelID: channel.ID,
		}).
		Preload("Sender").
		First(&event).Error; err != nil {
		return event, err
	}
	return event, nil
}

func NewEvent(event models.Event) (models.Event, error) {
	if len(event.Uuid) == 0 {
		event.Uuid = uuid.NewString()
	}
	if err := database.C.Save(&event).Error; err != nil {
		return event, err
	}
	return event, nil
}

// AppendCallEvent writes a call transcript entry into the owning channel.
// Entries are keyed by the unique (call, type) index, so two racing terminal
// writes both reach the insert but only one row ever lands; the loser reads
// the winner's entry back. Never resolve the race with a lookup before the
// insert, that reintroduces the duplicate window.
func AppendCallEvent(call models.Call, eventType string, duration *int64) (models.Event, error) {
	var body datatypes.JSONMap
	models.FitStruct(models.EventCallBody{
		CallID:   call.ExternalID,
		CallType: call.Type,
		Status:   string(call.Status),
		Duration: duration,
	}, &body)

	event, err := NewEvent(models.Event{
		Uuid:      uuid.NewString(),
		Body:      body,
		Type:      eventType,
		CallID:    &call.ID,
		ChannelID: call.ChannelID,
		SenderID:  call.FounderID,
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var existing models.Event
		err = database.C.Where(models.Event{
			CallID: &call.ID,
			Type:   eventType,
		}).First(&existing).Error
		return existing, err
	}
	return event, err
}
