package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/transitware/seat-allocation/internal/model"
	"github.com/transitware/seat-allocation/internal/utils"
)

// ChannelCredential is one registered channel node: its identity, its
// channel type and the bcrypt hash of its static API key.  The plain
// key lives only on the node itself.
type ChannelCredential struct {
	NodeID      string
	ChannelType model.ChannelType
	APIKeyHash  string
}

// ParseChannelKeys parses the CHANNEL_KEYS credential list, a comma
// separated set of node:TYPE:bcrypt-hash triples.  bcrypt output uses
// only $-delimited base64, so splitting each entry on the first two
// colons is unambiguous.
func ParseChannelKeys(s string) (map[string]ChannelCredential, error) {
	out := make(map[string]ChannelCredential)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("channel key entry %q: want node:TYPE:hash", entry)
		}
		ct := model.ChannelType(strings.ToUpper(parts[1]))
		switch ct {
		case model.ChannelAgent, model.ChannelPark, model.ChannelOperator:
		default:
			return nil, fmt.Errorf("channel key entry %q: unknown channel type %q", entry, parts[1])
		}
		out[parts[0]] = ChannelCredential{
			NodeID:      parts[0],
			ChannelType: ct,
			APIKeyHash:  parts[2],
		}
	}
	return out, nil
}

// AuthHandler issues channel tokens to registered nodes.  A node trades
// its static API key for a short-lived JWT; every other endpoint only
// accepts the JWT.
type AuthHandler struct {
	Secret   string
	TTLMin   int
	Channels map[string]ChannelCredential
}

func NewAuthHandler(secret string, ttlMin int, channels map[string]ChannelCredential) *AuthHandler {
	return &AuthHandler{Secret: secret, TTLMin: ttlMin, Channels: channels}
}

type tokenReq struct {
	NodeID string `json:"node_id"`
	APIKey string `json:"api_key"`
}

type tokenResp struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	ChannelType string    `json:"channel_type"`
}

// Token exchanges a node's API key for a signed channel token.  Unknown
// nodes and wrong keys get the same response so the endpoint does not
// leak which node IDs exist.
func (h *AuthHandler) Token(c echo.Context) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_payload"})
	}
	req.NodeID = strings.TrimSpace(req.NodeID)
	if req.NodeID == "" || req.APIKey == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_payload", "detail": "node_id and api_key required"})
	}

	cred, ok := h.Channels[req.NodeID]
	if !ok || !utils.VerifyAPIKey(cred.APIKeyHash, req.APIKey) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_credentials"})
	}

	tok, err := utils.NewChannelToken(h.Secret, cred.NodeID, string(cred.ChannelType), h.TTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, tokenResp{
		Token:       tok.Token,
		ExpiresAt:   tok.Exp,
		ChannelType: string(cred.ChannelType),
	})
}
