package remote

import "github.com/imagepress/imagepress"

// Wire types of the backend's JSON API. Field names follow the backend, not
// Go conventions.

// Envelope is embedded in every reply.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (e Envelope) envelope() Envelope { return e }

type reply interface {
	envelope() Envelope
}

type UploadReply struct {
	Envelope
	ImageID          string `json:"image_id,omitempty"`
	OriginalImageURL string `json:"original_image_url,omitempty"`
}

type CompressRequest struct {
	ImageID            string  `json:"image_id"`
	CompressionFormat  string  `json:"compression_format"`
	CompressionQuality float64 `json:"compression_quality"`
}

type CompressReply struct {
	Envelope
	CompressedImageURL string `json:"compressed_image_url,omitempty"`
}

// WatermarkRequest carries the placement both as percentages
// (customPosition) and with the sizes it was measured against.
type WatermarkRequest struct {
	ImageID        string              `json:"image_id"`
	WatermarkText  string              `json:"watermark_text"`
	Position       string              `json:"position"`
	Color          string              `json:"color"`
	Rotation       float64             `json:"rotation"`
	Opacity        float64             `json:"opacity"`
	FontSize       int                 `json:"fontSize,omitempty"`
	CustomPosition imagepress.Position `json:"customPosition"`
	NaturalSize    *imagepress.Size    `json:"naturalSize,omitempty"`
	PreviewSize    *imagepress.Size    `json:"previewSize,omitempty"`
}

// PositionCustom tells the backend to use CustomPosition.
const PositionCustom = "custom"

type WatermarkReply struct {
	Envelope
	WatermarkedImageURL string `json:"watermarked_image_url,omitempty"`
}

type BasicOperationRequest struct {
	ImageID    string             `json:"image_id"`
	Operations imagepress.OpsSpec `json:"operations"`
}

type BasicOperationReply struct {
	Envelope
	ModifiedImageURL string `json:"modified_image_url,omitempty"`
}

type ImageReply struct {
	Envelope
	ImageBase64 string `json:"image_base64,omitempty"`
}

type StatusReply struct {
	Envelope
	ImageID             string `json:"image_id,omitempty"`
	Status              string `json:"status,omitempty"`
	OriginalImageURL    string `json:"original_image_url,omitempty"`
	CompressedImageURL  string `json:"compressed_image_url,omitempty"`
	WatermarkedImageURL string `json:"watermarked_image_url,omitempty"`
}

type DeleteReply struct {
	Envelope
}
