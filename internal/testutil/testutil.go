package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/config"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/service"
	"github.com/bitfantasy/nimo-ipc/internal/middleware"
	"github.com/bitfantasy/nimo-ipc/internal/shared/lock"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const JWTSecret = "nimo-ipc-test-secret"

// TestEnv holds test environment resources
type TestEnv struct {
	DB       *gorm.DB
	Router   *gin.Engine
	Services *service.Services
	T        *testing.T
}

// SetupTestDB opens a throw-away SQLite database in the test's temp dir and migrates every table.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ipc_test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := entity.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, _ := db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
	})
	return db
}

// SetupServices wires the services on db with the memory locker and the built-in workflows.
func SetupServices(t *testing.T, db *gorm.DB, opts ...func(*service.Deps)) *service.Services {
	t.Helper()
	wf, err := config.LoadWorkflows("")
	if err != nil {
		t.Fatalf("Failed to load workflows: %v", err)
	}
	deps := service.Deps{
		DB:        db,
		Locker:    lock.NewMemoryLocker(lock.Options{Timeout: 2 * time.Second}),
		Workflows: wf,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := service.NewServices(deps)
	if err != nil {
		t.Fatalf("Failed to create services: %v", err)
	}
	return svc
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name string, roles, permissions []string) string {
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"roles": roles,
		"perms": permissions,
		"iss":   "nimo-ipc",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for an employer representative with every permission
func DefaultTestToken() string {
	return GenerateTestToken("test-user-001", "Test Engineer", []string{"employer_representative"}, []string{"*"})
}

// DoRequest executes a JSON request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON envelope into a map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// Data returns the "data" object of the envelope
func Data(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	data, ok := ParseResponse(w)["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no data object: %s", w.Body.String())
	}
	return data
}

// SeedContract creates a one-item contract (1000 units at 100) with the given retention percentage.
func SeedContract(t *testing.T, svc *service.Services, code, retention string) *entity.Contract {
	t.Helper()
	c, err := svc.Contract.Create(context.Background(), "test-user-001", &service.CreateContractRequest{
		Code:  code,
		Title: "Seeded contract " + code,
		Items: []service.BoqItemInput{
			{ItemNo: "1.1", Description: "Earthworks", Unit: "m3", Quantity: decimal.NewFromInt(1000), Rate: decimal.NewFromInt(100)},
		},
		Policy: &entity.ContractPolicy{
			RetentionPercentage: decimal.RequireFromString(retention),
			MaxRetentionMode:    "absolute",
			MaxRetentionValue:   decimal.NewFromInt(1000000),
		},
	})
	if err != nil {
		t.Fatalf("Failed to seed contract: %v", err)
	}
	return c
}

// AssembleBody is the JSON body for assembling certificate seq with qty units on the contract's first item.
func AssembleBody(c *entity.Contract, seq int, qty string) map[string]interface{} {
	start := time.Date(2025, time.Month(seq), 1, 0, 0, 0, 0, time.UTC)
	return map[string]interface{}{
		"sequence":     seq,
		"period_start": start.Format("2006-01-02"),
		"period_end":   start.AddDate(0, 1, -1).Format("2006-01-02"),
		"progress":     []map[string]interface{}{{"boq_item_id": c.Items[0].ID, "current_qty": qty}},
		"vat_amount":   "0",
	}
}

// MustStatus fails the test when the recorder's status differs.
func MustStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}
