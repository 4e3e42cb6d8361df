package handler

import (
	"errors"
	"strconv"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/service"
	"github.com/bitfantasy/nimo-ipc/internal/middleware"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"github.com/gin-gonic/gin"
)

// Handlers 计量支付处理器集合
type Handlers struct {
	Contract     *ContractHandler
	Certificate  *CertificateHandler
	FinalAccount *FinalAccountHandler
	Ledger       *LedgerHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Contract:     NewContractHandler(svc.Contract, svc.Progress, svc.Query, svc.Export),
		Certificate:  NewCertificateHandler(svc.Assembler, svc.Workflow, svc.Payment, svc.Query, svc.Export),
		FinalAccount: NewFinalAccountHandler(svc.FinalAccount),
		Ledger:       NewLedgerHandler(svc.Relay),
	}
}

// === 响应辅助函数 ===

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{Code: 0, Message: "success", Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{Code: 0, Message: "success", Data: data})
}

func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 带详情的错误响应，HTTP 状态码为 code/100
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{Code: code, Message: message, Data: data})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// 业务错误码
const (
	CodeValidation  = 42200
	CodeState       = 40900
	CodeConcurrency = 42300
	CodeDependency  = 42400
)

// Violation 校验失败明细
type Violation struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	ItemID  string `json:"item_id,omitempty"`
	Field   string `json:"field,omitempty"`
}

// StateDetail 状态冲突明细
type StateDetail struct {
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	CurrentState  string `json:"current_state"`
	Event         string `json:"event"`
	Precondition  string `json:"precondition,omitempty"`
	BlockingLevel int    `json:"blocking_level,omitempty"`
}

// RespondError 按错误类别返回状态码与明细
func RespondError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch apperr.Category(err) {
	case apperr.ErrValidation:
		ErrorWithData(c, CodeValidation, err.Error(), gin.H{"violations": violations(err)})
	case apperr.ErrState:
		var se *apperr.StateError
		if errors.As(err, &se) {
			ErrorWithData(c, CodeState, err.Error(), StateDetail{
				EntityType:    se.EntityType,
				EntityID:      se.EntityID,
				CurrentState:  se.Current,
				Event:         se.Event,
				Precondition:  se.Precondition,
				BlockingLevel: se.BlockingLevel,
			})
			return
		}
		var open *service.OpenCertificateError
		if errors.As(err, &open) {
			ErrorWithData(c, CodeState, err.Error(), gin.H{"open_certificates": open.Open})
			return
		}
		Error(c, CodeState, err.Error())
	case apperr.ErrConcurrency:
		c.Header("Retry-After", "1")
		Error(c, CodeConcurrency, err.Error())
	case apperr.ErrDependency:
		Error(c, CodeDependency, err.Error())
	case apperr.ErrNotFound:
		NotFound(c, err.Error())
	default:
		InternalError(c, err.Error())
	}
}

// violations flattens aggregated validation errors into one list.
func violations(err error) []Violation {
	var out []Violation
	var walk func(error)
	walk = func(e error) {
		if multi, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range multi.Unwrap() {
				walk(inner)
			}
			return
		}
		out = append(out, describe(e))
	}
	walk(err)
	return out
}

func describe(err error) Violation {
	v := Violation{Type: "validation", Message: err.Error()}
	switch e := err.(type) {
	case *calc.SequenceGapError:
		v.Type = "sequence_gap"
	case *calc.OverrunError:
		v.Type, v.ItemID = "overrun", e.ItemID
	case *calc.NegativeCumulativeError:
		v.Type, v.ItemID = "negative_cumulative", e.ItemID
	case *calc.UnknownItemError:
		v.Type, v.ItemID = "unknown_item", e.ItemID
	case *calc.DuplicateEntryError:
		v.Type = "duplicate_entry"
	case *calc.PriceAdjustmentConfigError:
		v.Type = "price_adjustment_config"
	case *calc.MissingIndexError:
		v.Type = "missing_index"
	case *calc.MaterialIncorporatedError:
		v.Type = "material_incorporated"
	case *service.PredecessorOpenError:
		v.Type = "predecessor_open"
	case *service.IndexSourceError:
		v.Type = "index_source"
	case *service.MissingVATError:
		v.Type = "missing_vat"
	case *apperr.ValidationError:
		v.Field = e.Field
	}
	return v
}

func GetUserID(c *gin.Context) string {
	return c.GetString(middleware.CtxUserID)
}

// GetActor 当前用户作为审批人：角色取令牌中的第一个角色
func GetActor(c *gin.Context) engine.Actor {
	actor := engine.Actor{ID: GetUserID(c), Name: c.GetString(middleware.CtxUserName), Type: "user"}
	if roles, ok := c.Get(middleware.CtxRoles); ok {
		if list, ok := roles.([]string); ok && len(list) > 0 {
			actor.Role = list[0]
		}
	}
	return actor
}

func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}
	return page, pageSize
}

func listResponse(items interface{}, page, pageSize int, total int64) ListResponse {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	return ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages,
		},
	}
}
