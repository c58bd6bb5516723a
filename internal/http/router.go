// README: HTTP router registration.
package http

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"foodbridge/internal/http/handlers"
	"foodbridge/internal/http/middleware"
	"foodbridge/internal/infra"
	"foodbridge/internal/modules/donation"
	"foodbridge/internal/modules/proof"
)

type RouterDeps struct {
	Donations   *donation.Service
	Proofs      proof.Storage
	Verifier    infra.TokenVerifier
	CORSOrigins []string
}

func NewRouter(deps RouterDeps) (*gin.Engine, error) {
	if err := handlers.RegisterValidators(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging(), cors.New(corsConfig(deps.CORSOrigins)))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	donations := handlers.NewDonationHandler(deps.Donations, deps.Proofs)
	api.POST("/donations", donations.Create)
	api.GET("/donations/:id", donations.Get)
	api.POST("/donations/:id/reserve", donations.Reserve)
	api.GET("/donations/:id/eligible-drivers", donations.EligibleDrivers)
	api.POST("/donations/:id/assign", donations.Assign)
	api.POST("/donations/:id/status", donations.UpdateStatus)
	api.POST("/donations/:id/proof", donations.UploadProof)
	api.GET("/donations/:id/events", donations.Events)

	return r, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
