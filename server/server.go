package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"foodsafety/config"
	"foodsafety/handlers"
	"foodsafety/middleware"
)

const (
	EndPointHealth                   = "/health"
	EndPointSubmitReport             = "/submit_report"
	EndPointUpdateStatus             = "/update_status"
	EndPointBatchUpdateStatus        = "/batch_update_status"
	EndPointEmergencyClose           = "/emergency_close"
	EndPointSetRegulator             = "/set_regulator"
	EndPointAuthorizeInvestigator    = "/authorize_investigator"
	EndPointRevokeInvestigator       = "/revoke_investigator"
	EndPointStartInvestigation       = "/start_investigation"
	EndPointCompleteInvestigation    = "/complete_investigation"
	EndPointGetReport                = "/get_report"
	EndPointGetInvestigation         = "/get_investigation"
	EndPointGetTotalStats            = "/get_total_stats"
	EndPointGetLocationStats         = "/get_location_stats"
	EndPointGetReporterStats         = "/get_reporter_stats"
	EndPointIsAuthorizedInvestigator = "/is_authorized_investigator"
	EndPointGetEvents                = "/get_events"
	EndPointDecryptLocationSum       = "/decrypt_location_sum"
)

// SetupRouter wires the public surface: read-only queries are open, every
// mutating endpoint goes through the signature middleware.
func SetupRouter(h *handlers.Handlers, cfg *config.Config) *gin.Engine {
	router := gin.Default()
	router.SetTrustedProxies(cfg.TrustedProxies)
	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", middleware.SignatureHeader},
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET(EndPointHealth, h.HealthCheck)
	router.GET(EndPointGetReport, h.GetReport)
	router.GET(EndPointGetInvestigation, h.GetInvestigation)
	router.GET(EndPointGetTotalStats, h.GetTotalStats)
	router.GET(EndPointGetLocationStats, h.GetLocationStats)
	router.GET(EndPointGetReporterStats, h.GetReporterStats)
	router.GET(EndPointIsAuthorizedInvestigator, h.IsAuthorizedInvestigator)
	router.GET(EndPointGetEvents, h.GetEvents)
	// The decryption proof is its own authorization, no signature needed.
	router.POST(EndPointDecryptLocationSum, h.DecryptLocationSum)

	signed := router.Group("/")
	signed.Use(middleware.SignatureAuth())
	{
		signed.POST(EndPointSubmitReport, h.SubmitReport)
		signed.POST(EndPointUpdateStatus, h.UpdateStatus)
		signed.POST(EndPointBatchUpdateStatus, h.BatchUpdateStatus)
		signed.POST(EndPointEmergencyClose, h.EmergencyClose)
		signed.POST(EndPointSetRegulator, h.SetRegulator)
		signed.POST(EndPointAuthorizeInvestigator, h.AuthorizeInvestigator)
		signed.POST(EndPointRevokeInvestigator, h.RevokeInvestigator)
		signed.POST(EndPointStartInvestigation, h.StartInvestigation)
		signed.POST(EndPointCompleteInvestigation, h.CompleteInvestigation)
	}

	return router
}
