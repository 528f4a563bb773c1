package normalize

import (
	"encoding/base64"
	"strings"

	"google.golang.org/genai"

	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/domain/entities"
)

const defaultImageMIME = "image/jpeg"

// Image is an edited or generated image
type Image struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	DataURI  string `json:"data_uri"`
}

// GeneratedImage returns the first inline image part of the response.
// op tells an edit failure from a generate failure.
func GeneratedImage(resp *genai.GenerateContentResponse, op entities.OperationKind) (*Image, error) {
	blob := firstInlinePart(resp, func(mimeType string) bool {
		return mimeType == "" || strings.HasPrefix(mimeType, "image/")
	})
	if blob == nil {
		errOp := domain.OpImageGenerate
		if op == entities.OperationImageEdit {
			errOp = domain.OpImageEdit
		}
		return nil, domain.Errorf(domain.KindMissingImagePayload, errOp, "response carried no inline image")
	}

	mimeType := blob.MIMEType
	if mimeType == "" {
		mimeType = defaultImageMIME
	}
	return &Image{
		Data:     blob.Data,
		MIMEType: mimeType,
		DataURI:  DataURI(mimeType, blob.Data),
	}, nil
}

// DataURI encodes data as a base64 data URI
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
