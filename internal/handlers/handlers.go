package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/tailorfit/internal/apperr"
	"github.com/example/tailorfit/internal/auth"
	"github.com/example/tailorfit/internal/repository"
	"github.com/example/tailorfit/internal/storage"
	"github.com/example/tailorfit/internal/usecase"
)

// MaxUploadSize bounds each multipart image part.
const MaxUploadSize = 10 << 20

// EnginePinger probes whether the measurement engine can be started.
type EnginePinger interface {
	Ping(ctx context.Context) error
}

// Handlers wires the use cases to the HTTP surface.
type Handlers struct {
	measurements *usecase.MeasurementUseCase
	sharing      *usecase.SharingUseCase
	parties      *usecase.PartyUseCase
	enginePing   EnginePinger
	dbPing       func(ctx context.Context) error
	logger       *zap.Logger
}

// New constructs the handler set. enginePing and dbPing may be nil in tests.
func New(
	measurements *usecase.MeasurementUseCase,
	sharing *usecase.SharingUseCase,
	parties *usecase.PartyUseCase,
	enginePing EnginePinger,
	dbPing func(ctx context.Context) error,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		measurements: measurements,
		sharing:      sharing,
		parties:      parties,
		enginePing:   enginePing,
		dbPing:       dbPing,
		logger:       logger.Named("handlers"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, h *Handlers, identity gin.HandlerFunc) {
	router.GET("/health", h.health)

	api := router.Group("/")
	if identity != nil {
		api.Use(identity)
	}

	api.POST("/measurements", h.processMeasurement)
	api.GET("/measurements", h.listMeasurements)
	api.GET("/measurements/:id", h.getMeasurement)
	api.DELETE("/measurements/:id", h.deleteMeasurement)
	api.PATCH("/measurements/:id/favorite", h.setFavorite)

	api.POST("/shares", h.createShare)
	api.GET("/shares/:id", h.getShare)
	api.POST("/shares/:id/accept", h.acceptShare)
	api.POST("/shares/:id/reject", h.rejectShare)

	api.POST("/subjects", h.createSubject)
	api.GET("/subjects", h.listSubjects)
	api.GET("/subjects/:id", h.getSubject)
	api.PATCH("/subjects/:id", h.updateSubject)
	api.DELETE("/subjects/:id", h.deleteSubject)
	api.GET("/subjects/:id/measurements", h.listSubjectMeasurements)
	api.GET("/subjects/:id/shares", h.listSubjectShares)

	api.POST("/providers", h.createProvider)
	api.GET("/providers", h.listProviders)
	api.GET("/providers/:id", h.getProvider)
	api.PATCH("/providers/:id", h.updateProvider)
	api.DELETE("/providers/:id", h.deleteProvider)
	api.GET("/providers/:id/shares", h.listProviderShares)
}

// actor resolves the caller's claimed identity: bearer subject when a token
// was presented, explicit actorId field otherwise.
func (h *Handlers) actor(c *gin.Context) string {
	if id, ok := auth.ActorID(c.Request.Context()); ok {
		return id
	}
	if id := c.Query("actorId"); id != "" {
		return id
	}
	return c.PostForm("actorId")
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"success": false,
		"kind":    kind,
		"error":   apperr.Message(err),
	})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindComputation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) health(c *gin.Context) {
	services := gin.H{}
	if h.dbPing != nil {
		services["database"] = pingStatus(h.dbPing(c.Request.Context()))
	}
	if h.enginePing != nil {
		services["engine"] = pingStatus(h.enginePing.Ping(c.Request.Context()))
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "services": services})
}

func pingStatus(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func (h *Handlers) processMeasurement(c *gin.Context) {
	subjectID := h.actor(c)
	if subjectID == "" {
		subjectID = c.PostForm("subjectId")
	}
	if subjectID == "" {
		h.respondError(c, apperr.New(apperr.KindInvalidInput, "subject identity is required"))
		return
	}

	height, err := strconv.ParseFloat(c.PostForm("height"), 64)
	if err != nil {
		h.respondError(c, apperr.New(apperr.KindInvalidInput, "height is required and must be numeric"))
		return
	}

	front, err := readImagePart(c, "frontImage")
	if err != nil {
		h.respondError(c, err)
		return
	}
	side, err := readImagePart(c, "sideImage")
	if err != nil {
		h.respondError(c, err)
		return
	}

	m, err := h.measurements.Process(c.Request.Context(), usecase.ProcessInput{
		SubjectID: subjectID,
		Height:    height,
		Gender:    c.PostForm("gender"),
		Notes:     c.PostForm("notes"),
		Front:     front,
		Side:      side,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    m,
		"message": "measurements processed and saved successfully",
	})
}

func readImagePart(c *gin.Context, field string) (storage.Upload, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return storage.Upload{}, apperr.Newf(apperr.KindInvalidInput, "%s file is required", field)
	}
	if header.Size > MaxUploadSize {
		return storage.Upload{}, apperr.Newf(apperr.KindInvalidInput, "%s exceeds the upload size limit", field)
	}

	src, err := header.Open()
	if err != nil {
		return storage.Upload{}, apperr.Wrap(apperr.KindInvalidInput, "unable to open "+field, err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		return storage.Upload{}, apperr.Wrap(apperr.KindStorage, "failed to read "+field, err)
	}

	return storage.Upload{
		Filename:    header.Filename,
		ContentType: partContentType(header),
		Data:        data,
	}, nil
}

func partContentType(header *multipart.FileHeader) string {
	return header.Header.Get("Content-Type")
}

func (h *Handlers) listMeasurements(c *gin.Context) {
	list, err := h.measurements.ListAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list, "count": len(list)})
}

func (h *Handlers) getMeasurement(c *gin.Context) {
	m, err := h.measurements.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": m})
}

func (h *Handlers) deleteMeasurement(c *gin.Context) {
	actor := h.actor(c)
	if actor == "" {
		h.respondError(c, apperr.New(apperr.KindInvalidInput, "actorId is required"))
		return
	}
	if err := h.measurements.Delete(c.Request.Context(), c.Param("id"), actor); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "measurement deleted successfully"})
}

type favoriteRequest struct {
	IsFavorite bool `json:"isFavorite"`
}

func (h *Handlers) setFavorite(c *gin.Context) {
	actor := h.actor(c)
	if actor == "" {
		h.respondError(c, apperr.New(apperr.KindInvalidInput, "actorId is required"))
		return
	}
	var req favoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Wrap(apperr.KindInvalidInput, "invalid request body", err))
		return
	}
	m, err := h.measurements.SetFavorite(c.Request.Context(), c.Param("id"), actor, req.IsFavorite)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": m})
}

func (h *Handlers) listSubjectMeasurements(c *gin.Context) {
	list, err := h.measurements.ListBySubject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list, "count": len(list)})
}

type createShareRequest struct {
	MeasurementID string `json:"measurementId" binding:"required,uuid"`
	ProviderID    string `json:"providerId" binding:"required,uuid"`
	Message       string `json:"message"`
}

func (h *Handlers) createShare(c *gin.Context) {
	actor := h.actor(c)
	if actor == "" {
		h.respondError(c, apperr.New(apperr.KindInvalidInput, "actorId is required"))
		return
	}
	var req createShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Wrap(apperr.KindInvalidInput, "measurementId and providerId are required", err))
		return
	}
	share, err := h.sharing.Create(c.Request.Context(), actor, req.MeasurementID, req.ProviderID, req.Message)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    share,
		"message": "measurement shared successfully",
	})
}

func (h *Handlers) getShare(c *gin.Context) {
	actor := h.actor(c)
	if actor == "" {
		h.respondError(c, apperr.New(apperr.KindInvalidInput, "actorId is required"))
		return
	}
	share, err := h.sharing.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": share})
}

type resolveShareRequest struct {
	Notes string `json:"notes"`
}

func (h *Handlers) acceptShare(c *gin.Context) {
	h.resolveShare(c, h.sharing.Accept)
}

func (h *Handlers) rejectShare(c *gin.Context) {
	h.resolveShare(c, h.sharing.Reject)
}

func (h *Handlers) resolveShare(c *gin.Context, resolve func(ctx context.Context, shareID, actorProviderID, notes string) (*repository.SharedMeasurement, error)) {
	actor := h.actor(c)
	if actor == "" {
		h.respondError(c, apperr.New(apperr.KindInvalidInput, "actorId is required"))
		return
	}
	var req resolveShareRequest
	// Notes are optional: an empty body is fine, but a body that is present
	// must parse. ContentLength is unreliable for chunked requests.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(c, apperr.Wrap(apperr.KindInvalidInput, "invalid request body", err))
		return
	}
	share, err := resolve(c.Request.Context(), c.Param("id"), actor, req.Notes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": share})
}

func (h *Handlers) listSubjectShares(c *gin.Context) {
	list, err := h.sharing.ListForSubject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list, "count": len(list)})
}

func (h *Handlers) listProviderShares(c *gin.Context) {
	actor := h.actor(c)
	if actor == "" {
		h.respondError(c, apperr.New(apperr.KindInvalidInput, "actorId is required"))
		return
	}
	list, err := h.sharing.ListForProvider(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list, "count": len(list)})
}

type subjectRequest struct {
	FirstName   string   `json:"firstName" binding:"required"`
	LastName    string   `json:"lastName" binding:"required"`
	Email       string   `json:"email" binding:"required,email"`
	PhoneNumber string   `json:"phoneNumber"`
	Gender      string   `json:"gender"`
	HeightCm    *float64 `json:"heightCm"`
	WeightKg    *float64 `json:"weightKg"`
	City        string   `json:"city"`
	Country     string   `json:"country"`
}

func (h *Handlers) createSubject(c *gin.Context) {
	var req subjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Wrap(apperr.KindInvalidInput, "invalid subject payload", err))
		return
	}
	subject, err := h.parties.CreateSubject(c.Request.Context(), &repository.Subject{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Gender:      req.Gender,
		HeightCm:    req.HeightCm,
		WeightKg:    req.WeightKg,
		City:        req.City,
		Country:     req.Country,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": subject, "message": "subject created successfully"})
}

func (h *Handlers) listSubjects(c *gin.Context) {
	list, err := h.parties.ListSubjects(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list, "count": len(list)})
}

func (h *Handlers) getSubject(c *gin.Context) {
	subject, err := h.parties.GetSubject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": subject})
}

func (h *Handlers) updateSubject(c *gin.Context) {
	updates, err := bindUpdates(c, []string{"first_name", "last_name", "email", "phone_number", "gender", "height_cm", "weight_kg", "city", "country", "is_active"})
	if err != nil {
		h.respondError(c, err)
		return
	}
	subject, err := h.parties.UpdateSubject(c.Request.Context(), c.Param("id"), updates)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": subject, "message": "subject updated successfully"})
}

func (h *Handlers) deleteSubject(c *gin.Context) {
	if err := h.parties.DeleteSubject(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "subject deleted successfully"})
}

type providerRequest struct {
	BusinessName string `json:"businessName" binding:"required"`
	OwnerName    string `json:"ownerName" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	PhoneNumber  string `json:"phoneNumber"`
	City         string `json:"city"`
	Country      string `json:"country"`
	Bio          string `json:"bio"`
}

func (h *Handlers) createProvider(c *gin.Context) {
	var req providerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Wrap(apperr.KindInvalidInput, "invalid provider payload", err))
		return
	}
	provider, err := h.parties.CreateProvider(c.Request.Context(), &repository.Provider{
		BusinessName: req.BusinessName,
		OwnerName:    req.OwnerName,
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		City:         req.City,
		Country:      req.Country,
		Bio:          req.Bio,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": provider, "message": "provider created successfully"})
}

func (h *Handlers) listProviders(c *gin.Context) {
	list, err := h.parties.ListProviders(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list, "count": len(list)})
}

func (h *Handlers) getProvider(c *gin.Context) {
	provider, err := h.parties.GetProvider(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": provider})
}

func (h *Handlers) updateProvider(c *gin.Context) {
	updates, err := bindUpdates(c, []string{"business_name", "owner_name", "email", "phone_number", "city", "country", "bio", "is_active", "is_verified", "rating"})
	if err != nil {
		h.respondError(c, err)
		return
	}
	provider, err := h.parties.UpdateProvider(c.Request.Context(), c.Param("id"), updates)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": provider, "message": "provider updated successfully"})
}

func (h *Handlers) deleteProvider(c *gin.Context) {
	if err := h.parties.DeleteProvider(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "provider deleted successfully"})
}

// bindUpdates accepts a partial JSON object and keeps only known columns.
// Field names arrive camelCased and are matched against their column names.
func bindUpdates(c *gin.Context, allowed []string) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, "invalid update payload", err)
	}

	updates := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		column := toSnakeCase(key)
		for _, name := range allowed {
			if column == name {
				updates[column] = value
				break
			}
		}
	}
	if len(updates) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "no updatable fields in payload")
	}
	return updates, nil
}

func toSnakeCase(s string) string {
	out := make([]rune, 0, len(s)+4)
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			out = append(out, '_', r+('a'-'A'))
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
