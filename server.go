package facttrace

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server wires the HTTP surface over an owned verdict store and case
// catalog; both are constructed once at process start and passed in.
type Server struct {
	store   *VerdictStore
	catalog *CaseCatalog
}

// NewServer creates the HTTP surface for the given store and catalog.
func NewServer(store *VerdictStore, catalog *CaseCatalog) *Server {
	return &Server{store: store, catalog: catalog}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	router := gin.Default()

	// Request size limit middleware
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
		c.Next()
	})

	// CORS middleware with dynamic origin validation
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			// In production, use environment-configured origins
			if len(CORSAllowedOrigins) > 0 && CORSAllowedOrigins[0] != "" {
				for _, allowedOrigin := range CORSAllowedOrigins {
					if origin == allowedOrigin {
						return true
					}
				}
				return false
			}
			// In development, allow any localhost/127.0.0.1 origin
			return len(origin) > 0 && (len(origin) >= 16 && origin[:16] == "http://localhost" ||
				len(origin) >= 14 && origin[:14] == "http://127.0.0")
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	router.GET("/", s.healthCheck)
	router.GET("/api/cases", s.listCasesHandler)
	router.GET("/api/cases/:id", s.getCaseHandler)
	router.POST("/api/verify", s.verifyHandler)
	router.POST("/api/verify/stream", s.verifyStreamHandler)
	router.GET("/api/verdict", s.getVerdictHandler)
	router.POST("/api/verdict", s.postVerdictHandler)
	router.POST("/api/fetch-url", s.fetchURLHandler)

	return router
}

// healthCheck returns a simple health check response.
// GET / - Returns service status information.
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "FactTrace API",
	})
}

// listCasesHandler returns all claim/truth pairs from the case catalog.
// GET /api/cases - Query params: ?refresh=true (force catalog reload)
func (s *Server) listCasesHandler(c *gin.Context) {
	forceRefresh := c.Query("refresh") == "true"

	cases, err := s.catalog.Cases(forceRefresh)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to load cases: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, cases)
}

// getCaseHandler returns a specific case by its 1-based ID.
// GET /api/cases/:id
func (s *Server) getCaseHandler(c *gin.Context) {
	var id int
	if _, err := fmt.Sscanf(c.Param("id"), "%d", &id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid case ID",
		})
		return
	}

	found, ok := s.catalog.Case(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Case not found",
		})
		return
	}

	c.JSON(http.StatusOK, found)
}

// verifyHandler runs the full jury and returns the verdict in one shot.
// POST /api/verify - Use verifyStreamHandler for the SSE version.
func (s *Server) verifyHandler(c *gin.Context) {
	var request VerifyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}
	if request.Claim == "" || request.Truth == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": "claim and truth are required",
		})
		return
	}

	verdict, err := RunJury(c.Request.Context(), request.Claim, request.Truth, request.DebateRounds)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"detail": fmt.Sprintf("Jury process failed: %v", err),
		})
		return
	}

	s.store.Put(verdict)
	c.JSON(http.StatusOK, verdict)
}

// verifyStreamHandler runs the jury and streams its progress via SSE.
// POST /api/verify/stream - Events: analysis, agent (one per debate turn),
// then a terminal verdict event. Jury failures become error events.
func (s *Server) verifyStreamHandler(c *gin.Context) {
	var request VerifyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}
	if request.Claim == "" || request.Truth == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": "claim and truth are required",
		})
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	emit := func(event StreamEvent) {
		if event.Kind == EventVerdict {
			s.store.Put(event.Verdict)
		}
		sendSSEEvent(c, event)
	}

	if _, err := RunJuryStream(c.Request.Context(), request.Claim, request.Truth, request.DebateRounds, emit); err != nil {
		sendSSEError(c, fmt.Sprintf("Jury process failed: %v", err))
	}
}

// getVerdictHandler returns the latest stored verdict.
// GET /api/verdict - 404 when nothing has been stored or persisted.
func (s *Server) getVerdictHandler(c *gin.Context) {
	verdict, err := s.store.Get()
	if errors.Is(err, ErrNoVerdict) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No verdict available",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to load verdict: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, verdict)
}

// postVerdictHandler stores a complete verdict.
// POST /api/verdict - Rejects submissions missing required fields without
// touching the previously stored value.
func (s *Server) postVerdictHandler(c *gin.Context) {
	var verdict Verdict
	if err := c.ShouldBindJSON(&verdict); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	if missing := verdict.MissingFields(); len(missing) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")),
		})
		return
	}

	s.store.Put(&verdict)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Verdict received",
	})
}

// fetchURLHandler fetches and extracts readable content from a URL.
// POST /api/fetch-url - Body: {"url": "https://..."}
func (s *Server) fetchURLHandler(c *gin.Context) {
	var request struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	content, err := FetchSourceContent(c.Request.Context(), request.URL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to fetch URL content: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"content": content,
	})
}

// sendSSEEvent writes one event in SSE format with a "data: " prefix and
// flushes so the client sees it immediately.
func sendSSEEvent(c *gin.Context, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to marshal SSE event: %v", err)
		return
	}
	c.Writer.WriteString(fmt.Sprintf("data: %s\n\n", string(jsonData)))
	c.Writer.Flush()
}

// sendSSEError sends an error event via SSE.
func sendSSEError(c *gin.Context, message string) {
	sendSSEEvent(c, gin.H{"type": "error", "message": message})
}
