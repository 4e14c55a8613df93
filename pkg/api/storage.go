package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"arkived/pkg/archive"
	"arkived/pkg/index"
	"arkived/pkg/storage"
)

// searchRequest is the JSON filter body for POST /storage/search.
type searchRequest struct {
	Query      string   `json:"query"`
	Plugin     string   `json:"plugin"`
	Tags       []string `json:"tags"`
	MimePrefix string   `json:"mime_prefix"`
	Tier       string   `json:"tier"`
	DateFrom   string   `json:"date_from"`
	DateTo     string   `json:"date_to"`
	Limit      int      `json:"limit"`
}

type moveTierRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondError(c, archive.NewValidationError("file", "multipart file field is required"))
		return
	}
	defer file.Close()

	tier := archive.TierHot
	if raw := c.PostForm("storage_tier"); raw != "" {
		parsed, ok := archive.ParseTier(raw)
		if !ok {
			respondError(c, archive.NewValidationError("storage_tier", fmt.Sprintf("unknown tier %q", raw)))
			return
		}
		tier = parsed
	}

	opts := storage.StoreOptions{
		Plugin:      c.PostForm("plugin"),
		Category:    c.PostForm("category"),
		Description: c.PostForm("description"),
		Tags:        splitTags(c.PostForm("tags")),
	}
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts.Metadata); err != nil {
			respondError(c, archive.NewValidationError("metadata", "must be a JSON object"))
			return
		}
	}

	rec, err := s.manager.Store(file, header.Filename, tier, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	respondCreated(c, fmt.Sprintf("archived %s", rec.OriginalName), recordSummary(rec))
}

func (s *Server) handleDownload(c *gin.Context) {
	key := c.Param("id")

	rec, err := s.index.Get(key)
	if err != nil {
		// The key may be an original filename rather than an id.
		rec, err = s.findByFilename(key)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	content, rec, err := s.manager.Retrieve(rec.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.OriginalName))
	c.Data(http.StatusOK, rec.MimeType, content)
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, archive.NewValidationError("body", "must be a JSON filter object"))
		return
	}

	filters := index.Filters{
		Query:      req.Query,
		Plugin:     req.Plugin,
		Tags:       req.Tags,
		MimePrefix: req.MimePrefix,
	}

	if req.Tier != "" {
		tier, ok := archive.ParseTier(req.Tier)
		if !ok {
			respondError(c, archive.NewValidationError("tier", fmt.Sprintf("unknown tier %q", req.Tier)))
			return
		}
		filters.Tier = tier
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

	records, err := s.index.Search(filters, req.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	summaries := make([]gin.H, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, recordSummary(rec))
	}
	respondOK(c, fmt.Sprintf("found %d records", len(summaries)), gin.H{
		"results": summaries,
		"count":   len(summaries),
	})
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	id := c.Param("id")

	ok, err := s.manager.Delete(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		respondError(c, fmt.Errorf("record %s: %w", id, archive.ErrNotFound))
		return
	}

	respondOK(c, "record removed", gin.H{"id": id})
}

func (s *Server) handleMoveTier(c *gin.Context) {
	id := c.Param("id")

	var req moveTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, archive.NewValidationError("body", "must carry a tier field"))
		return
	}

	tier, ok := archive.ParseTier(req.Tier)
	if !ok {
		respondError(c, archive.NewValidationError("tier", fmt.Sprintf("unknown tier %q", req.Tier)))
		return
	}

	moved, err := s.manager.MoveTier(id, tier)
	if err != nil {
		respondError(c, err)
		return
	}
	if !moved {
		respondError(c, fmt.Errorf("record %s: %w", id, archive.ErrNotFound))
		return
	}

	respondOK(c, fmt.Sprintf("moved to %s tier", tier), gin.H{"id": id, "tier": tier})
}

func (s *Server) handleStorageStats(c *gin.Context) {
	stats, err := s.manager.Stats()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "storage statistics", stats)
}

func (s *Server) findByFilename(name string) (*archive.FileRecord, error) {
	return s.index.FindByName(name)
}

func recordSummary(rec *archive.FileRecord) gin.H {
	return gin.H{
		"id":            rec.ID,
		"original_name": rec.OriginalName,
		"stored_name":   rec.StoredName,
		"size_bytes":    rec.SizeBytes,
		"content_hash":  rec.ContentHash,
		"mime_type":     rec.MimeType,
		"plugin_source": rec.PluginSource,
		"category":      rec.Category,
		"tier":          rec.Tier,
		"tags":          rec.Tags,
		"description":   rec.Description,
		"created_at":    rec.CreatedAt,
		"access_count":  rec.AccessCount,
	}
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func parseDate(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, archive.NewValidationError(field, fmt.Sprintf("%q is not an RFC3339 or YYYY-MM-DD date", raw))
}
