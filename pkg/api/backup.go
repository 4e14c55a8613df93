package api

import (
	"github.com/gin-gonic/gin"

	"arkived/pkg/archive"
)

type backupCreateRequest struct {
	Date string `json:"date"`
}

type backupRestoreRequest struct {
	Date string `json:"date"`
}

type backupCleanupRequest struct {
	KeepDays int `json:"keep_days"`
}

func (s *Server) handleBackupCreate(c *gin.Context) {
	var req backupCreateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, archive.NewValidationError("body", "must be a JSON object"))
			return
		}
	}

	manifest, err := s.engine.CreateDailyBackup(req.Date)
	if err != nil {
		respondError(c, err)
		return
	}

	message := "backup completed"
	if !manifest.Success {
		message = "backup completed with component failures"
	}
	respondCreated(c, message, manifest)
}

func (s *Server) handleBackupList(c *gin.Context) {
	manifests, err := s.engine.ListAvailableBackups()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "available backups", gin.H{
		"backups": manifests,
		"count":   len(manifests),
	})
}

func (s *Server) handleBackupRestore(c *gin.Context) {
	var req backupRestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Date == "" {
		respondError(c, archive.NewValidationError("date", "a backup date is required"))
		return
	}

	result, err := s.engine.RestoreFromBackup(req.Date)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result.Message, result)
}

func (s *Server) handleBackupCleanup(c *gin.Context) {
	var req backupCleanupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, archive.NewValidationError("body", "must be a JSON object"))
			return
		}
	}
	if req.KeepDays <= 0 {
		req.KeepDays = 30
	}

	cleaned, err := s.engine.CleanupOldBackups(req.KeepDays)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "cleanup finished", gin.H{"cleaned_count": cleaned})
}

func (s *Server) handleBackupStatus(c *gin.Context) {
	manifests, err := s.engine.ListAvailableBackups()
	if err != nil {
		respondError(c, err)
		return
	}

	status := gin.H{"backup_count": len(manifests)}
	if len(manifests) > 0 {
		status["latest"] = manifests[0]
	}
	respondOK(c, "backup status", status)
}
