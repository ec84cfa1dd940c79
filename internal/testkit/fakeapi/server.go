// Package fakeapi is an in-process stand-in for the MindMate REST backend used
// by package tests.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/mindmate-chat/internal/auth"
)

// Report is a recorded POST /api/report call.
type Report struct {
	Reporter string
	Reported string
	Room     string
	Subject  string
}

// Server serves /api/messages/{room} and /api/report behind a bearer check.
type Server struct {
	*httptest.Server

	secret []byte

	mu           sync.Mutex
	history      map[string]json.RawMessage
	historyCalls map[string]int
	historyDelay time.Duration
	reports      []Report
	reportStatus int
	reportDelay  time.Duration
}

// New starts a fake backend that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	gin.SetMode(gin.TestMode)
	s := &Server{
		secret:       []byte("fakeapi-secret"),
		history:      make(map[string]json.RawMessage),
		historyCalls: make(map[string]int),
	}

	router := gin.New()
	api := router.Group("/api", s.authMiddleware())
	api.GET("/messages/:room", s.listMessages)
	api.POST("/report", s.createReport)

	s.Server = httptest.NewServer(router)
	t.Cleanup(s.Server.Close)
	return s
}

// Token signs an access token accepted by the server.
func (s *Server) Token(t testing.TB, nickname string, ttl time.Duration) string {
	t.Helper()

	now := time.Now()
	claims := auth.Claims{
		Nickname: nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   nickname,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// SetHistoryJSON installs the raw JSON array returned for room.
func (s *Server) SetHistoryJSON(room, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[room] = json.RawMessage(body)
}

// SetHistoryDelay delays every history response.
func (s *Server) SetHistoryDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyDelay = d
}

// FailReports makes report calls answer with status; 0 restores success.
func (s *Server) FailReports(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportStatus = status
}

// SetReportDelay delays every report response.
func (s *Server) SetReportDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportDelay = d
}

// HistoryCalls returns how many authenticated history requests hit room.
func (s *Server) HistoryCalls(room string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyCalls[room]
}

// Reports returns every report call that reached the handler.
func (s *Server) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Report, len(s.reports))
	copy(out, s.reports)
	return out
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		claims := &auth.Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("subject", claims.Subject)
		c.Next()
	}
}

func (s *Server) listMessages(c *gin.Context) {
	room := c.Param("room")

	s.mu.Lock()
	s.historyCalls[room]++
	delay := s.historyDelay
	body, ok := s.history[room]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-c.Request.Context().Done():
			return
		}
	}
	if !ok {
		body = json.RawMessage("[]")
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) createReport(c *gin.Context) {
	report := Report{
		Reporter: c.Query("reporter"),
		Reported: c.Query("reported"),
		Room:     c.Query("room"),
		Subject:  c.GetString("subject"),
	}
	if report.Reporter == "" || report.Reported == "" || report.Room == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reporter, reported and room are required"})
		return
	}

	s.mu.Lock()
	s.reports = append(s.reports, report)
	status := s.reportStatus
	delay := s.reportDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-c.Request.Context().Done():
			return
		}
	}

	if status != 0 {
		c.JSON(status, gin.H{"error": "report rejected"})
		return
	}
	c.Status(http.StatusOK)
}
