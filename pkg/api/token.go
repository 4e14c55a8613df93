package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"arkived/pkg/archive"
)

type tokenCreateRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Description string   `json:"description"`
}

func (s *Server) handleTokenCreate(c *gin.Context) {
	var req tokenCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, archive.NewValidationError("body", "must be a JSON object"))
		return
	}

	perms, ok := archive.ParsePermissions(req.Permissions)
	if !ok {
		respondError(c, archive.NewValidationError("permissions", "entries must be read, write, or delete"))
		return
	}

	secret, err := s.tokens.Create(req.Name, perms, req.Description)
	if err != nil {
		if errors.Is(err, archive.ErrDuplicateName) {
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"message": fmt.Sprintf("a token named %q already exists", req.Name),
			})
			return
		}
		respondError(c, err)
		return
	}

	// The secret is shown exactly once; only its hash is persisted.
	respondCreated(c, "token created", gin.H{
		"name":   req.Name,
		"secret": secret,
	})
}

func (s *Server) handleTokenList(c *gin.Context) {
	tokens, err := s.tokens.List()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "registered tokens", gin.H{
		"tokens": tokens,
		"count":  len(tokens),
	})
}

func (s *Server) handleTokenRevoke(c *gin.Context) {
	name := c.Param("name")

	revoked, err := s.tokens.Revoke(name)
	if err != nil {
		respondError(c, err)
		return
	}

	message := "token revoked"
	if !revoked {
		message = "token was already revoked or does not exist"
	}
	respondOK(c, message, gin.H{"name": name, "revoked": revoked})
}
