package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus custom rules
// that cannot be expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// The backup directory must live outside the storage root, otherwise
	// every backup would recursively snapshot previous backups.
	if isWithin(cfg.Backup.Dir, cfg.Storage.Root) {
		return fmt.Errorf("backup.dir: must not be inside storage.root")
	}
	if cfg.Index.CacheEnabled && isWithin(cfg.Index.CacheDir, cfg.Storage.Root) {
		return fmt.Errorf("index.cache_dir: must not be inside storage.root")
	}

	if cfg.Backup.Offsite.Enabled {
		if _, ok := cfg.Backup.Offsite.S3["bucket"]; !ok {
			return fmt.Errorf("backup.offsite: s3.bucket is required when offsite replication is enabled")
		}
	}

	for i, prefix := range cfg.Events.AllowedTopicPrefixes {
		if prefix == "" {
			return fmt.Errorf("events.allowed_topic_prefixes[%d]: prefix must not be empty", i)
		}
	}

	return nil
}

func isWithin(path, root string) bool {
	if path == "" || root == "" {
		return false
	}
	if path == root {
		return true
	}
	return len(path) > len(root) && path[:len(root)+1] == root+"/"
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
