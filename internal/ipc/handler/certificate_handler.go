package handler

import (
	"github.com/bitfantasy/nimo-ipc/internal/ipc/service"
	"github.com/gin-gonic/gin"
)

// CertificateHandler 期中支付证书处理器
type CertificateHandler struct {
	assembler *service.Assembler
	workflow  *service.WorkflowService
	payment   *service.PaymentService
	query     *service.QueryService
	export    *service.ExportService
}

func NewCertificateHandler(
	assembler *service.Assembler,
	workflow *service.WorkflowService,
	payment *service.PaymentService,
	query *service.QueryService,
	export *service.ExportService,
) *CertificateHandler {
	return &CertificateHandler{assembler: assembler, workflow: workflow, payment: payment, query: query, export: export}
}

// ListCertificates 证书列表
func (h *CertificateHandler) ListCertificates(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"contract_id": c.Query("contract_id"),
		"status":      c.Query("status"),
	}
	if id := c.Param("id"); id != "" {
		filters["contract_id"] = id
	}
	items, total, err := h.query.ListCertificates(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		InternalError(c, "获取证书列表失败: "+err.Error())
		return
	}
	Success(c, listResponse(items, page, pageSize, total))
}

// Assemble 组装（或重新计算）本期证书
func (h *CertificateHandler) Assemble(c *gin.Context) {
	var req service.AssembleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	req.ContractID = c.Param("id")
	ipc, err := h.assembler.Assemble(c.Request.Context(), &req, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, ipc)
}

// Preview 试算证书，不写入
func (h *CertificateHandler) Preview(c *gin.Context) {
	var req service.AssembleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	req.ContractID = c.Param("id")
	ipc, err := h.assembler.Preview(c.Request.Context(), &req, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, ipc)
}

// GetCertificate 证书详情
func (h *CertificateHandler) GetCertificate(c *gin.Context) {
	view, err := h.query.GetCertificate(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, view)
}

// GetHistory 证书状态流转记录
func (h *CertificateHandler) GetHistory(c *gin.Context) {
	logs, err := h.query.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, logs)
}

// Submit 提交审批
func (h *CertificateHandler) Submit(c *gin.Context) {
	ipc, err := h.workflow.Submit(c.Request.Context(), c.Param("id"), GetActor(c))
	h.respond(c, ipc, err)
}

// StartReview 开始审核
func (h *CertificateHandler) StartReview(c *gin.Context) {
	ipc, err := h.workflow.StartReview(c.Request.Context(), c.Param("id"), GetActor(c))
	h.respond(c, ipc, err)
}

// RecordDecision 记录某一级审批结果
func (h *CertificateHandler) RecordDecision(c *gin.Context) {
	var req service.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	ipc, err := h.workflow.RecordDecision(c.Request.Context(), c.Param("id"), &req, GetActor(c))
	h.respond(c, ipc, err)
}

// Certify 认证
func (h *CertificateHandler) Certify(c *gin.Context) {
	ipc, err := h.workflow.Certify(c.Request.Context(), c.Param("id"), GetActor(c))
	h.respond(c, ipc, err)
}

// Dispute 提出争议
func (h *CertificateHandler) Dispute(c *gin.Context) {
	var req service.ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	ipc, err := h.workflow.Dispute(c.Request.Context(), c.Param("id"), &req, GetActor(c))
	h.respond(c, ipc, err)
}

// ResolveDispute 人工对账解决争议
func (h *CertificateHandler) ResolveDispute(c *gin.Context) {
	var req service.ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	ipc, err := h.workflow.ResolveDispute(c.Request.Context(), c.Param("id"), &req, GetActor(c))
	h.respond(c, ipc, err)
}

// Reopen 争议证书退回草稿
func (h *CertificateHandler) Reopen(c *gin.Context) {
	ipc, err := h.workflow.Reopen(c.Request.Context(), c.Param("id"), GetActor(c))
	h.respond(c, ipc, err)
}

// Cancel 取消
func (h *CertificateHandler) Cancel(c *gin.Context) {
	var req service.ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	ipc, err := h.workflow.Cancel(c.Request.Context(), c.Param("id"), &req, GetActor(c))
	h.respond(c, ipc, err)
}

// GetPayment 付款状态
func (h *CertificateHandler) GetPayment(c *gin.Context) {
	ps, err := h.payment.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, ps)
}

// RecordPayment 付款确认
func (h *CertificateHandler) RecordPayment(c *gin.Context) {
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	ps, err := h.payment.RecordPayment(c.Request.Context(), c.Param("id"), &req, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, ps)
}

// Export GET /certificates/:id/export
func (h *CertificateHandler) Export(c *gin.Context) {
	f, filename, err := h.export.Certificate(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	defer f.Close()
	writeWorkbook(c, f, filename)
}

func (h *CertificateHandler) respond(c *gin.Context, data interface{}, err error) {
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, data)
}
