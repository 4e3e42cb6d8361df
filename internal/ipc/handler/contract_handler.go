package handler

import (
	"strconv"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/service"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ContractHandler 合同处理器
type ContractHandler struct {
	svc      *service.ContractService
	progress *service.ProgressLedger
	query    *service.QueryService
	export   *service.ExportService
}

func NewContractHandler(svc *service.ContractService, progress *service.ProgressLedger, query *service.QueryService, export *service.ExportService) *ContractHandler {
	return &ContractHandler{svc: svc, progress: progress, query: query, export: export}
}

// ListContracts 合同列表
func (h *ContractHandler) ListContracts(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"status":  c.Query("status"),
		"keyword": c.Query("keyword"),
	}
	items, total, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		InternalError(c, "获取合同列表失败: "+err.Error())
		return
	}
	Success(c, listResponse(items, page, pageSize, total))
}

// CreateContract 创建合同
func (h *ContractHandler) CreateContract(c *gin.Context) {
	var req service.CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	contract, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, contract)
}

// GetContract 合同详情
func (h *ContractHandler) GetContract(c *gin.Context) {
	contract, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, contract)
}

// AmendPolicy 条款修订
func (h *ContractHandler) AmendPolicy(c *gin.Context) {
	var req service.AmendPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	contract, err := h.svc.AmendPolicy(c.Request.Context(), c.Param("id"), &req, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, contract)
}

// ListAmendments 条款修订历史
func (h *ContractHandler) ListAmendments(c *gin.Context) {
	items, err := h.svc.Amendments(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, items)
}

// CreateVariation 登记工程变更
func (h *ContractHandler) CreateVariation(c *gin.Context) {
	var req service.CreateVariationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	v, err := h.svc.CreateVariation(c.Request.Context(), c.Param("id"), &req, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, v)
}

// ApproveVariation 批准变更
func (h *ContractHandler) ApproveVariation(c *gin.Context) {
	v, err := h.svc.ApproveVariation(c.Request.Context(), c.Param("variationId"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, v)
}

// RejectVariation 驳回变更
func (h *ContractHandler) RejectVariation(c *gin.Context) {
	v, err := h.svc.RejectVariation(c.Request.Context(), c.Param("variationId"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, v)
}

// previewProgressRequest 计量试算请求
type previewProgressRequest struct {
	Sequence int                 `json:"sequence" binding:"required,min=1"`
	Progress []calc.ItemProgress `json:"progress" binding:"dive"`
}

// PreviewProgress 按期号试算清单计量，不写入
func (h *ContractHandler) PreviewProgress(c *gin.Context) {
	var req previewProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	preview, err := h.progress.Preview(c.Request.Context(), c.Param("id"), req.Sequence, req.Progress)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, preview)
}

// ItemHistory 清单项计量台账
func (h *ContractHandler) ItemHistory(c *gin.Context) {
	entries, err := h.progress.ItemHistory(c.Request.Context(), c.Param("id"), c.Param("itemId"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, entries)
}

// GetBalance 合同付款余额
func (h *ContractHandler) GetBalance(c *gin.Context) {
	balance, err := h.query.ContractBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, balance)
}

// ListCertificateStatuses 合同各期证书状态
func (h *ContractHandler) ListCertificateStatuses(c *gin.Context) {
	rows, err := h.query.CertificateStatuses(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rows)
}

// GetHistory 合同审计记录
func (h *ContractHandler) GetHistory(c *gin.Context) {
	logs, err := h.query.ContractHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, logs)
}

// DownloadMeasurementTemplate GET /contracts/:id/measurement-template
func (h *ContractHandler) DownloadMeasurementTemplate(c *gin.Context) {
	f, filename, err := h.export.MeasurementTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	defer f.Close()
	writeWorkbook(c, f, filename)
}

// ImportMeasurement POST /contracts/:id/measurement 读取计量表为本期进度
func (h *ContractHandler) ImportMeasurement(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		BadRequest(c, "请上传Excel文件")
		return
	}
	defer file.Close()

	f, err := excelize.OpenReader(file)
	if err != nil {
		BadRequest(c, "无法解析Excel文件: "+err.Error())
		return
	}
	defer f.Close()

	progress, err := h.export.ParseMeasurement(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		RespondError(c, err)
		return
	}
	if seq := c.PostForm("sequence"); seq != "" {
		n, err := strconv.Atoi(seq)
		if err != nil || n < 1 {
			BadRequest(c, "参数错误: sequence")
			return
		}
		preview, err := h.progress.Preview(c.Request.Context(), c.Param("id"), n, progress)
		if err != nil {
			RespondError(c, err)
			return
		}
		Success(c, preview)
		return
	}
	Success(c, gin.H{"progress": progress})
}

func writeWorkbook(c *gin.Context, f *excelize.File, filename string) {
	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")
	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "write excel: "+err.Error())
	}
}
