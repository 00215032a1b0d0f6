package utils // package utils provides helper functions for channel tokens and API key hashing

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ChannelToken represents a signed JWT identifying a sales channel node
// (agent terminal, park kiosk or operator back-office).  The Token field
// contains the serialized JWT; Exp records when it stops being accepted.
// Channel tokens are sent in the Authorization header on every request.
type ChannelToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewChannelToken builds and signs an HS256 JWT for a channel node.  It
// takes the signing secret, the channel's node ID, its channel type and
// a TTL in minutes.  The JWT carries the subject (sub), the channel
// type (chan), expiration (exp) and issued at (iat) claims.
func NewChannelToken(secret, nodeID, channelType string, ttlMin int) (ChannelToken, error) {
	exp := time.Now().UTC().Add(time.Duration(ttlMin) * time.Minute)
	claims := jwt.MapClaims{
		"sub":  nodeID,
		"chan": channelType,
		"exp":  exp.Unix(),
		"iat":  time.Now().UTC().Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return ChannelToken{}, err
	}
	return ChannelToken{Token: signed, Exp: exp}, nil
}

// NewHolderToken returns a random opaque token paired with each hold so
// the holder can prove ownership when releasing or booking.
func NewHolderToken() (string, error) {
	return randomHex(16)
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
