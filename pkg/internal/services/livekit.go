package services

import (
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/spf13/viper"
)

var Lk *lksdk.RoomServiceClient

func SetupLiveKit() {
	host := "https://" + viper.GetString("calling.endpoint")

	Lk = lksdk.NewRoomServiceClient(
		host,
		viper.GetString("calling.api_key"),
		viper.GetString("calling.api_secret"),
	)
}

// RelayEndpoint is handed to clients alongside a credential so they know
// where to take it.
func RelayEndpoint() string {
	return viper.GetString("calling.endpoint")
}
