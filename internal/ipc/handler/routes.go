package handler

import (
	"github.com/bitfantasy/nimo-ipc/internal/middleware"
	"github.com/gin-gonic/gin"
)

// 权限
const (
	PermContractManage = "contract:manage"
	PermLedgerRelay    = "ledger:relay"
)

// RegisterRoutes 注册计量支付路由，api 已挂载认证中间件
func RegisterRoutes(api *gin.RouterGroup, h *Handlers) {
	contracts := api.Group("/contracts")
	{
		contracts.GET("", h.Contract.ListContracts)
		contracts.POST("", middleware.RequirePermission(PermContractManage), h.Contract.CreateContract)
		contracts.GET("/:id", h.Contract.GetContract)
		contracts.POST("/:id/amendments", middleware.RequirePermission(PermContractManage), h.Contract.AmendPolicy)
		contracts.GET("/:id/amendments", h.Contract.ListAmendments)
		contracts.POST("/:id/variations", h.Contract.CreateVariation)
		contracts.GET("/:id/items/:itemId/progress", h.Contract.ItemHistory)
		contracts.POST("/:id/progress/preview", h.Contract.PreviewProgress)
		contracts.GET("/:id/measurement-template", h.Contract.DownloadMeasurementTemplate)
		contracts.POST("/:id/measurement", h.Contract.ImportMeasurement)
		contracts.GET("/:id/balance", h.Contract.GetBalance)
		contracts.GET("/:id/certificate-statuses", h.Contract.ListCertificateStatuses)
		contracts.GET("/:id/history", h.Contract.GetHistory)

		contracts.GET("/:id/certificates", h.Certificate.ListCertificates)
		contracts.POST("/:id/certificates", h.Certificate.Assemble)
		contracts.POST("/:id/certificates/preview", h.Certificate.Preview)

		contracts.GET("/:id/final-account", h.FinalAccount.Get)
		contracts.POST("/:id/final-account", h.FinalAccount.Close)
		contracts.POST("/:id/final-account/decisions", h.FinalAccount.RecordDecision)
		contracts.POST("/:id/final-account/finalize", h.FinalAccount.Finalize)
		contracts.GET("/:id/final-account/verify", h.FinalAccount.Verify)
	}

	variations := api.Group("/variations")
	{
		variations.POST("/:variationId/approve", h.Contract.ApproveVariation)
		variations.POST("/:variationId/reject", h.Contract.RejectVariation)
	}

	certs := api.Group("/certificates")
	{
		certs.GET("", h.Certificate.ListCertificates)
		certs.GET("/:id", h.Certificate.GetCertificate)
		certs.GET("/:id/history", h.Certificate.GetHistory)
		certs.GET("/:id/export", h.Certificate.Export)
		certs.POST("/:id/submit", h.Certificate.Submit)
		certs.POST("/:id/review", h.Certificate.StartReview)
		certs.POST("/:id/decisions", h.Certificate.RecordDecision)
		certs.POST("/:id/certify", h.Certificate.Certify)
		certs.POST("/:id/dispute", h.Certificate.Dispute)
		certs.POST("/:id/resolve", h.Certificate.ResolveDispute)
		certs.POST("/:id/reopen", h.Certificate.Reopen)
		certs.POST("/:id/cancel", h.Certificate.Cancel)
		certs.GET("/:id/payment", h.Certificate.GetPayment)
		certs.POST("/:id/payments", h.Certificate.RecordPayment)
	}

	api.POST("/ledger/relay", middleware.RequirePermission(PermLedgerRelay), h.Ledger.Relay)
}
