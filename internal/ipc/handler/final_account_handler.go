package handler

import (
	"github.com/bitfantasy/nimo-ipc/internal/ipc/service"
	"github.com/gin-gonic/gin"
)

// FinalAccountHandler 最终结算处理器
type FinalAccountHandler struct {
	svc *service.FinalAccountService
}

func NewFinalAccountHandler(svc *service.FinalAccountService) *FinalAccountHandler {
	return &FinalAccountHandler{svc: svc}
}

// Get 最终结算详情
func (h *FinalAccountHandler) Get(c *gin.Context) {
	view, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, view)
}

// Close 编制（或重新编制）最终结算草稿
func (h *FinalAccountHandler) Close(c *gin.Context) {
	var req service.CloseFinalAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	view, err := h.svc.Close(c.Request.Context(), c.Param("id"), &req, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, view)
}

// RecordDecision 最终结算审批
func (h *FinalAccountHandler) RecordDecision(c *gin.Context) {
	var req service.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	view, err := h.svc.RecordDecision(c.Request.Context(), c.Param("id"), &req, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, view)
}

// Finalize 定稿，合同关闭
func (h *FinalAccountHandler) Finalize(c *gin.Context) {
	view, err := h.svc.Finalize(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, view)
}

// Verify 从头重算核对
func (h *FinalAccountHandler) Verify(c *gin.Context) {
	report, err := h.svc.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, report)
}
