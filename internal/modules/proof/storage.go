// README: Delivery-proof photo storage; returns the public URL recorded on the donation.
package proof

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"foodbridge/internal/apperr"
	"foodbridge/internal/types"
)

// Storage uploads a proof photo and returns its public URL.
type Storage interface {
	Put(ctx context.Context, donationID types.ID, filename string, body io.Reader) (string, error)
}

var allowedExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".heic": "image/heic",
}

// ValidateName rejects files that are not a supported image type.
func ValidateName(filename string) error {
	if _, ok := allowedExt[ext(filename)]; !ok {
		return apperr.BadRequest("unsupported proof file type %q", path.Ext(filename))
	}
	return nil
}

func contentType(filename string) string {
	if ct, ok := allowedExt[ext(filename)]; ok {
		return ct
	}
	return "application/octet-stream"
}

func ext(filename string) string {
	return strings.ToLower(path.Ext(filename))
}

// objectKey lays proofs out as <folder>/<donation>/<utc timestamp><ext>.
func objectKey(folder string, donationID types.ID, filename string, at time.Time) string {
	name := at.UTC().Format("20060102T150405Z") + ext(filename)
	return path.Join(strings.Trim(folder, "/"), string(donationID), name)
}

// publicID names the asset inside the configured Cloudinary folder.
func publicID(donationID types.ID, at time.Time) string {
	return fmt.Sprintf("%s/%s", donationID, at.UTC().Format("20060102T150405Z"))
}
