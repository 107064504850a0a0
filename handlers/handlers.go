package handlers

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/apex/log"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"foodsafety/access"
	"foodsafety/confidential"
	"foodsafety/events"
	"foodsafety/investigation"
	"foodsafety/ledger"
	"foodsafety/location"
	"foodsafety/middleware"
	"foodsafety/models"
	"foodsafety/stats"
)

// APIVersion must be sent by clients in every POST body.
const APIVersion = "2.0"

type Handlers struct {
	ledger  *ledger.Service
	tracker *investigation.Tracker
	access  *access.Registry
	stats   *stats.Aggregator
	events  *events.Log
	cipher  confidential.Cipher
}

func NewHandlers(l *ledger.Service, t *investigation.Tracker, a *access.Registry,
	s *stats.Aggregator, e *events.Log, c confidential.Cipher) *Handlers {
	return &Handlers{ledger: l, tracker: t, access: a, stats: s, events: e, cipher: c}
}

func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "foodsafety"})
}

type SubmitReportArgs struct {
	Version      string   `json:"version"`
	SafetyLevel  uint8    `json:"safety_level"`
	LocationCode uint32   `json:"location_code"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	FoodTypeCode uint32   `json:"food_type_code"`
	Description  string   `json:"description"`
}

func (h *Handlers) SubmitReport(c *gin.Context) {
	var args SubmitReportArgs
	if !bindArgs(c, &args, &args.Version) {
		return
	}
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	code := args.LocationCode
	if code == 0 && args.Latitude != nil && args.Longitude != nil {
		derived, err := location.CodeFromLatLng(*args.Latitude, *args.Longitude)
		if err != nil {
			respondError(c, err)
			return
		}
		code = derived
	}

	id, err := h.ledger.SubmitReport(c.Request.Context(), caller,
		args.SafetyLevel, code, args.FoodTypeCode, args.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "location_code": code})
}

type UpdateStatusArgs struct {
	Version string `json:"version"`
	ID      int64  `json:"id"`
	Status  string `json:"status"`
}

func (h *Handlers) UpdateStatus(c *gin.Context) {
	var args UpdateStatusArgs
	if !bindArgs(c, &args, &args.Version) {
		return
	}
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	status, err := models.ParseReportStatus(args.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.ledger.UpdateStatus(c.Request.Context(), caller, args.ID, status); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type BatchUpdateStatusArgs struct {
	Version string  `json:"version"`
	IDs     []int64 `json:"ids"`
	Status  string  `json:"status"`
}

func (h *Handlers) BatchUpdateStatus(c *gin.Context) {
	var args BatchUpdateStatusArgs
	if !bindArgs(c, &args, &args.Version) {
		return
	}
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	status, err := models.ParseReportStatus(args.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.ledger.BatchUpdateStatus(c.Request.Context(), caller, args.IDs, status); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(args.IDs)})
}

type EmergencyCloseArgs struct {
	Version string `json:"version"`
	ID      int64  `json:"id"`
	Reason  string `json:"reason"`
}

func (h *Handlers) EmergencyClose(c *gin.Context) {
	var args EmergencyCloseArgs
	if !bindArgs(c, &args, &args.Version) {
		return
	}
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	if err := h.ledger.EmergencyClose(c.Request.Context(), caller, args.ID, args.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type SetRegulatorArgs struct {
	Version   string `json:"version"`
	Regulator string `json:"regulator"`
}

func (h *Handlers) SetRegulator(c *gin.Context) {
	var args SetRegulatorArgs
	if !bindArgs(c, &args, &args.Version) {
		return
	}
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	if err := h.access.SetRegulator(c.Request.Context(), caller, ethcommon.HexToAddress(args.Regulator)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type InvestigatorArgs struct {
	Version      string `json:"version"`
	Investigator string `json:"investigator"`
}

func (h *Handlers) AuthorizeInvestigator(c *gin.Context) {
	var args InvestigatorArgs
	if !bindArgs(c, &args, &args.Version) {
		return
	}
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	if err := h.access.AuthorizeInvestigator(c.Request.Context(), caller, ethcommon.HexToAddress(args.Investigator)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handlers) RevokeInvestigator(c *gin.Context) {
	var args InvestigatorArgs
	if !bindArgs(c, &args, &args.Version) {
		return
	}
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	if err := h.access.RevokeInvestigator(c.Request.Context(), caller, ethcommon.HexToAddress(args.Investigator)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type StartInvestigationArgs struct {
	Version string `json:"version"`
	ID      int64  `json:"id"`
}

func (h *Handlers) StartInvestigation(c *gin.Context) {
	var args StartInvestigationArgs
	if !bindArgs(c, &args, &args.Version) {
		return
	}
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	if err := h.tracker.StartInvestigation(c.Request.Context(), caller, args.ID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type CompleteInvestigationArgs struct {
	Version          string `json:"version"`
	ID               int64  `json:"id"`
	FinalSafetyLevel uint8  `json:"final_safety_level"`
	Findings         string `json:"findings"`
}

func (h *Handlers) CompleteInvestigation(c *gin.Context) {
	var args CompleteInvestigationArgs
	if !bindArgs(c, &args, &args.Version) {
		return
	}
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	if err := h.tracker.CompleteInvestigation(c.Request.Context(), caller,
		args.ID, args.FinalSafetyLevel, args.Findings); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handlers) GetReport(c *gin.Context) {
	id, ok := queryInt64(c, "id")
	if !ok {
		return
	}
	report, err := h.ledger.GetReportInfo(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, report)
}

func (h *Handlers) GetInvestigation(c *gin.Context) {
	id, ok := queryInt64(c, "id")
	if !ok {
		return
	}
	inv, err := h.tracker.GetInvestigationInfo(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, inv)
}

func (h *Handlers) GetTotalStats(c *gin.Context) {
	t, err := h.stats.GetTotalStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, t)
}

func (h *Handlers) GetLocationStats(c *gin.Context) {
	code, ok := queryUint32(c, "code")
	if !ok {
		return
	}
	s, err := h.stats.GetLocationStats(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, s)
}

func (h *Handlers) GetReporterStats(c *gin.Context) {
	addr := c.Query("address")
	if addr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}
	s, err := h.stats.GetReporterStats(c.Request.Context(), ethcommon.HexToAddress(addr))
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, s)
}

func (h *Handlers) IsAuthorizedInvestigator(c *gin.Context) {
	addr := c.Query("address")
	if addr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}
	ok, err := h.access.IsAuthorizedInvestigator(c.Request.Context(), ethcommon.HexToAddress(addr))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorized": ok})
}

func (h *Handlers) GetEvents(c *gin.Context) {
	since, _ := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	evs, err := h.events.List(c.Request.Context(), since, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, evs)
}

type DecryptLocationSumArgs struct {
	Version      string `json:"version"`
	LocationCode uint32 `json:"location_code"`
	Proof        string `json:"proof"` // hex signature over the ciphertext digest
}

// DecryptLocationSum recovers the plaintext running safety-level sum of a
// location for a caller holding a valid decryption proof.
func (h *Handlers) DecryptLocationSum(c *gin.Context) {
	var args DecryptLocationSumArgs
	if !bindArgs(c, &args, &args.Version) {
		return
	}
	if h.cipher == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confidentiality is disabled"})
		return
	}

	ct, err := h.stats.GetLocationCipherSum(c.Request.Context(), args.LocationCode)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(ct) == 0 {
		c.JSON(http.StatusOK, gin.H{"location_code": args.LocationCode, "sum": 0})
		return
	}

	sig, err := decodeHex(args.Proof)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed proof"})
		return
	}
	sum, err := h.cipher.Decrypt(ct, confidential.AuthorizationProof{Signature: sig})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location_code": args.LocationCode, "sum": sum})
}

// bindArgs reads the JSON arguments and enforces the API version, the same
// contract the mobile clients already speak.
func bindArgs(c *gin.Context, args interface{}, version *string) bool {
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to parse arguments for %s: %v", c.FullPath(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read JSON input"})
		return false
	}
	if *version != APIVersion {
		log.Warnf("Bad version in %s, expected: %s, got: %s", c.FullPath(), APIVersion, *version)
		c.JSON(http.StatusNotAcceptable, gin.H{"error": "bad API version, expecting " + APIVersion})
		return false
	}
	return true
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be an integer"})
		return 0, false
	}
	return v, true
}

func queryUint32(c *gin.Context, key string) (uint32, bool) {
	v, err := strconv.ParseUint(c.Query(key), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a 32-bit unsigned integer"})
		return 0, false
	}
	return uint32(v), true
}

// requireCaller reads the identity the signature middleware established. A
// missing identity means the route was reached without it, which is a 401.
func requireCaller(c *gin.Context) (ethcommon.Address, bool) {
	caller, ok := middleware.Caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown caller"})
	}
	return caller, ok
}

func respondError(c *gin.Context, err error) {
	var authzErr *models.AuthorizationError
	var validationErr *models.ValidationError
	var stateErr *models.StateError

	switch {
	case errors.As(err, &authzErr):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Errorf("Internal error on %s: %v", c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
