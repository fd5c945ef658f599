// Command gateway runs a demo instance of the realtime STT gateway, wiring
// the WebSocket server to an in-process fake engine. Real deployments swap
// testengine.Factory for a Factory that dials the actual inference engine;
// that wiring, TLS termination, and process entry-point concerns beyond
// this minimal demo are out of scope.
package main

import (
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"github.com/rapidaai/sttgateway/internal/admission"
	"github.com/rapidaai/sttgateway/internal/config"
	"github.com/rapidaai/sttgateway/internal/engine/testengine"
	"github.com/rapidaai/sttgateway/internal/metrics"
	"github.com/rapidaai/sttgateway/internal/obslog"
	"github.com/rapidaai/sttgateway/internal/wsserver"
)

func main() {
	logger, cleanup, err := obslog.NewApplicationLogger(obslog.WithDevelopment(os.Getenv("ENV") != "production"))
	if err != nil {
		log.Fatalf("gateway: failed to build logger: %v", err)
	}
	defer cleanup()

	v := viper.New()
	v.SetEnvPrefix("STTGATEWAY")
	v.AutomaticEnv()
	settings := config.NewSettingsFromViper(v)

	admissionMgr := admission.NewManager(settings.MaxConcurrentConnections)
	engineFactory := testengine.NewFactory(nil)

	// A real deployment would inject a global MeterProvider's meter here;
	// the demo leaves it nil, which every Metrics recorder treats as a no-op.
	m := metrics.New(nil)

	server := wsserver.New(logger, settings, admissionMgr, engineFactory, m)

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET(settings.WebSocketPath, server.Handler())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": admissionMgr.Count(),
		})
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	logger.Infow("gateway: listening", "addr", addr, "path", settings.WebSocketPath)
	if err := router.Run(addr); err != nil {
		logger.Errorw("gateway: server exited", "error", err)
	}
}
