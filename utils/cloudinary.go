package utils

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"fanrealms-backend/config"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
)

const maxUploadSize = 25 * 1024 * 1024

var cld *cloudinary.Cloudinary

var allowedUploadExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".pdf": true, ".zip": true, ".psd": true, ".mp4": true,
}

// InitCloudinary connects to Cloudinary and checks the credentials.
func InitCloudinary(cfg config.CloudinaryConfig) error {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return fmt.Errorf("cloudinary credentials are not configured")
	}

	var err error
	cld, err = cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return fmt.Errorf("init cloudinary: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err = cld.Admin.Ping(ctx); err != nil {
		return fmt.Errorf("ping cloudinary: %w", err)
	}

	LogSuccess("Cloudinary initialised")
	return nil
}

func boolPointer(b bool) *bool {
	return &b
}

func validUpload(filename string) bool {
	return allowedUploadExtensions[strings.ToLower(filepath.Ext(filename))]
}

// UploadFile stores a multipart file under folder and returns its secure URL.
func UploadFile(ctx context.Context, file *multipart.FileHeader, folder string) (string, error) {
	if !validUpload(file.Filename) {
		return "", fmt.Errorf("unsupported file type %q", filepath.Ext(file.Filename))
	}
	if file.Size > maxUploadSize {
		return "", fmt.Errorf("file %s is larger than 25MB", file.Filename)
	}
	if cld == nil {
		return "", fmt.Errorf("file uploads are not configured")
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	result, err := cld.Upload.Upload(ctx, src, uploader.UploadParams{
		Folder:         folder,
		PublicID:       uuid.NewString(),
		UseFilename:    boolPointer(true),
		UniqueFilename: boolPointer(true),
		Overwrite:      boolPointer(false),
		ResourceType:   "auto",
	})
	if err != nil {
		return "", fmt.Errorf("upload to cloudinary: %w", err)
	}
	if result.SecureURL == "" {
		return "", fmt.Errorf("cloudinary returned no URL for %s", result.PublicID)
	}
	return result.SecureURL, nil
}
