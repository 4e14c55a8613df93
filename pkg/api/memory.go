package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"arkived/pkg/archive"
	"arkived/pkg/memory"
)

type memoryStoreRequest struct {
	EntryType  string         `json:"entry_type"`
	Content    string         `json:"content"`
	Plugin     string         `json:"plugin"`
	Tags       []string       `json:"tags"`
	Metadata   map[string]any `json:"metadata"`
	Confidence float64        `json:"confidence"`
}

type memorySearchRequest struct {
	Query     string   `json:"query"`
	EntryType string   `json:"entry_type"`
	Plugin    string   `json:"plugin"`
	Tags      []string `json:"tags"`
	DateFrom  string   `json:"date_from"`
	DateTo    string   `json:"date_to"`
	Archived  bool     `json:"archived"`
	Limit     int      `json:"limit"`
}

func (s *Server) handleMemoryStore(c *gin.Context) {
	var req memoryStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, archive.NewValidationError("body", "must be a JSON object"))
		return
	}

	id, err := s.memory.StoreEntry(req.EntryType, req.Content, memory.EntryOptions{
		Plugin:     req.Plugin,
		Tags:       req.Tags,
		Metadata:   req.Metadata,
		Confidence: req.Confidence,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	s.hub.Publish("memory.stored", map[string]any{
		"id":         id,
		"entry_type": req.EntryType,
		"plugin":     req.Plugin,
	})
	respondCreated(c, "memory stored", gin.H{"id": id})
}

func (s *Server) handleMemorySearch(c *gin.Context) {
	var req memorySearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, archive.NewValidationError("body", "must be a JSON filter object"))
		return
	}

	filters := memory.SearchFilters{
		Query:     req.Query,
		EntryType: req.EntryType,
		Plugin:    req.Plugin,
		Tags:      req.Tags,
		Archived:  req.Archived,
	}

	var err error
	if filters.DateFrom, err = parseDate(req.DateFrom, "date_from"); err != nil {
		respondError(c, err)
		return
	}
	if filters.DateTo, err = parseDate(req.DateTo, "date_to"); err != nil {
		respondError(c, err)
		return
	}

	entries, err := s.memory.Search(filters, req.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, fmt.Sprintf("found %d memories", len(entries)), gin.H{
		"results": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleMemoryStats(c *gin.Context) {
	stats, err := s.memory.Stats()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "memory statistics", stats)
}
