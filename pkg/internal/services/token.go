package services

import (
	"fmt"
	"strconv"

	"github.com/spf13/viper"

	"github.com/resonance-im/resonance/pkg/internal/models"
	"github.com/resonance-im/resonance/pkg/internal/token"
)

var TokenIssuer *token.Issuer

// SetupTokenIssuer reads the relay signing credentials. Missing credentials
// are a fatal configuration error, surfaced at boot rather than on the first
// call attempt.
func SetupTokenIssuer() error {
	issuer, err := token.NewIssuer(
		viper.GetString("calling.app_id"),
		viper.GetString("calling.app_certificate"),
	)
	if err != nil {
		return fmt.Errorf("unable to set up relay token issuer: %w", err)
	}
	TokenIssuer = issuer
	return nil
}

// ExchangeCallCredential mints a relay admission credential for the given
// account on an ongoing call. The subject uid is always derived from the
// durable account id server side; a client-supplied uid is never accepted.
func ExchangeCallCredential(user models.Account, call models.Call, role token.Role) (token.Credential, error) {
	uid := token.DeriveSubjectUID(strconv.FormatUint(uint64(user.ID), 10))
	ttl := viper.GetInt("calling.token_duration")
	return TokenIssuer.IssueCredential(call.ChannelName, uid, role, ttl)
}
