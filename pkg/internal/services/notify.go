package services

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/resonance-im/resonance/pkg/internal/database"
	"github.com/resonance-im/resonance/pkg/internal/models"
)

// SaveSubscription upserts a browser push subscription for an account.
func SaveSubscription(accountId uint, endpoint, p256dh, auth string) (models.PushSubscription, error) {
	var sub models.PushSubscription
	err := database.C.Where(models.PushSubscription{Endpoint: endpoint}).First(&sub).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return sub, err
	}

	sub.Endpoint = endpoint
	sub.P256DH = p256dh
	sub.Auth = auth
	sub.AccountID = accountId
	if err := database.C.Save(&sub).Error; err != nil {
		return sub, err
	}
	return sub, nil
}

// NotifyAccount fans a payload out to every push subscription the account
// registered. Delivery failures are logged and never block the caller; a
// subscription the push service reports gone is dropped.
func NotifyAccount(accountId uint, payload map[string]any) {
	var subscriptions []models.PushSubscription
	if err := database.C.Where(models.PushSubscription{
		AccountID: accountId,
	}).Find(&subscriptions).Error; err != nil {
		log.Warn().Err(err).Uint("account", accountId).Msg("Unable to load push subscriptions.")
		return
	}

	raw, _ := jsoniter.Marshal(payload)
	for _, sub := range subscriptions {
		resp, err := webpush.SendNotification(raw, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256DH,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      viper.GetString("webpush.subscriber"),
			VAPIDPublicKey:  viper.GetString("webpush.vapid_public_key"),
			VAPIDPrivateKey: viper.GetString("webpush.vapid_private_key"),
			TTL:             60,
		})
		if err != nil {
			log.Warn().Err(err).Uint("account", accountId).Msg("Unable to send push notification.")
			continue
		}
		if resp.StatusCode == http.StatusGone {
			database.C.Delete(&sub)
		}
		resp.Body.Close()
	}
}
