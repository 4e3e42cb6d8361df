package handler

import (
	"strconv"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/service"
	"github.com/gin-gonic/gin"
)

// LedgerHandler 总账过账投递
type LedgerHandler struct {
	relay *service.LedgerRelay
}

func NewLedgerHandler(relay *service.LedgerRelay) *LedgerHandler {
	return &LedgerHandler{relay: relay}
}

// Relay POST /ledger/relay?limit=100
func (h *LedgerHandler) Relay(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	res, err := h.relay.Relay(c.Request.Context(), limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, res)
}
