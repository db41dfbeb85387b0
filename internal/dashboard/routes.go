package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/gavel/internal/hearing"
	"github.com/zulandar/gavel/internal/models"
	"gorm.io/gorm"
)

// hearingView is the JSON shape of one live hearing.
type hearingView struct {
	ID          string            `json:"id"`
	RaiserID    string            `json:"raiser_id"`
	PartyA      string            `json:"party_a,omitempty"`
	PartyB      string            `json:"party_b,omitempty"`
	Issue       string            `json:"issue,omitempty"`
	PartyAAffil string            `json:"party_a_affiliation,omitempty"`
	PartyBAffil string            `json:"party_b_affiliation,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
	State       string            `json:"state"`
	OpenedAt    time.Time         `json:"opened_at"`
}

func viewOf(h *hearing.Hearing) hearingView {
	return hearingView{
		ID:          h.ID,
		RaiserID:    h.RaiserID,
		PartyA:      h.PartyA,
		PartyB:      h.PartyB,
		Issue:       h.Issue,
		PartyAAffil: h.PartyAAffil,
		PartyBAffil: h.PartyBAffil,
		Options:     h.Options,
		State:       string(h.State),
		OpenedAt:    h.OpenedAt,
	}
}

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, store *hearing.Store, db *gorm.DB, hub *Hub) {
	router.GET("/healthz", handleHealth(store))
	router.GET("/api/hearings", handleHearingList(store))
	router.GET("/api/hearings/:id", handleHearingDetail(store))

	if db != nil {
		router.GET("/api/cases", handleCaseList(db))
		router.GET("/api/cases/:thread", handleCaseDetail(db))
	}
	if hub != nil {
		router.GET("/api/events", hub.handleSSE())
	}
}

func handleHealth(store *hearing.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"open_hearings": store.Len(),
		})
	}
}

func handleHearingList(store *hearing.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := store.Snapshot()
		views := make([]hearingView, len(snap))
		for i, h := range snap {
			views[i] = viewOf(h)
		}
		c.JSON(http.StatusOK, gin.H{"hearings": views})
	}
}

func handleHearingDetail(store *hearing.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, ok := store.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such hearing"})
			return
		}
		c.JSON(http.StatusOK, viewOf(h))
	}
}

func handleCaseList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 {
			limit = 50
		}
		q := db.Model(&models.CaseRecord{}).Order("id DESC").Limit(limit)
		if status := c.Query("status"); status != "" {
			q = q.Where("status = ?", status)
		}
		var cases []models.CaseRecord
		if err := q.Find(&cases).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cases": cases})
	}
}

func handleCaseDetail(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rec models.CaseRecord
		err := db.Preload("Events").Where("thread_id = ?", c.Param("thread")).First(&rec).Error
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such case"})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}
