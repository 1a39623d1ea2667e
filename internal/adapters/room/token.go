package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/livekit/protocol/auth"
)

var (
	ErrMissingCredentials = errors.New("room credentials not configured")
	ErrMissingRoom        = errors.New("room is required")
	ErrMissingIdentity    = errors.New("identity is required")
)

const DefaultTokenTTL = 6 * time.Hour

// VideoGrant is the room permission set carried by an access token, decoded
// from the claim LiveKit's auth package writes.
type VideoGrant struct {
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	Room           string `json:"room,omitempty"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
	Agent          bool   `json:"agent,omitempty"`
}

// Claims is the payload of a room access token.
type Claims struct {
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
	jwt.RegisteredClaims
}

type TokenRequest struct {
	Room     string
	Identity string
	Name     string
	Agent    bool
}

// TokenMinter signs LiveKit access tokens with the API key pair. Verify uses
// now as its clock.
type TokenMinter struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
	now       func() time.Time
}

func NewTokenMinter(apiKey, apiSecret string, ttl time.Duration) *TokenMinter {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenMinter{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl, now: time.Now}
}

func (m *TokenMinter) Mint(req TokenRequest) (string, error) {
	if m.apiKey == "" || m.apiSecret == "" {
		return "", ErrMissingCredentials
	}
	if req.Room == "" {
		return "", ErrMissingRoom
	}
	if req.Identity == "" {
		return "", ErrMissingIdentity
	}

	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     req.Room,
		Agent:    req.Agent,
	}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)
	grant.SetCanPublishData(true)

	at := auth.NewAccessToken(m.apiKey, m.apiSecret).
		SetVideoGrant(grant).
		SetIdentity(req.Identity).
		SetName(req.Name).
		SetValidFor(m.ttl)
	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("sign room token: %w", err)
	}
	return token, nil
}

// Verify parses a token minted with the same key pair.
func (m *TokenMinter) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.apiSecret), nil
	}, jwt.WithIssuer(m.apiKey), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
