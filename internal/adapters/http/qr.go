package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/kashsuks/lockdown-winners/internal/adapters"
	"github.com/kashsuks/lockdown-winners/internal/config"
	"github.com/kashsuks/lockdown-winners/internal/core"
)

const qrSize = 256

// GenerateQR creates a fresh session and returns a scannable invite:
// the QR encodes {"ip":"<host:port>","session":"<id>"} so a phone on
// the same LAN can join without typing anything.
func GenerateQR(cfg *config.Config, reg *core.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := reg.CreateSession()
		serverIP := fmt.Sprintf("%s:%d", adapters.LocalIP(), cfg.Port)

		payload, err := json.Marshal(gin.H{
			"ip":      serverIP,
			"session": sessionID,
		})
		if err == nil {
			var png []byte
			png, err = qrcode.Encode(string(payload), qrcode.Medium, qrSize)
			if err == nil {
				c.JSON(http.StatusOK, gin.H{
					"qrUrl":     "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
					"sessionId": sessionID,
					"serverIp":  serverIP,
				})
				return
			}
		}

		log.Error().Err(err).Str("module", "adapters.http").Msg("qr encode failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate QR code"})
	}
}
