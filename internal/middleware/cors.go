package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS returns a CORS middleware. The allow list covers the signature and
// event headers the three git providers attach to webhook deliveries;
// Location is exposed so browser clients can follow 202 operation URLs.
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With",
			"X-Gitlab-Token", "X-Gitlab-Event",
			"X-GitHub-Event", "X-Hub-Signature", "X-Hub-Signature-256",
			"X-Event-Key",
		},
		ExposeHeaders:    []string{"Content-Length", "Location"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
