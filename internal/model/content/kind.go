package content

import (
	"path"
	"strings"
)

// Kind is the renderer family for an uploaded course asset.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindUnknown  Kind = "unknown"
)

var extensionKinds = map[string]Kind{
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".gif":  KindImage,
	".webp": KindImage,
	".svg":  KindImage,
	".mp4":  KindVideo,
	".webm": KindVideo,
	".mov":  KindVideo,
	".mkv":  KindVideo,
	".mp3":  KindAudio,
	".wav":  KindAudio,
	".ogg":  KindAudio,
	".m4a":  KindAudio,
	".pdf":  KindDocument,
	".doc":  KindDocument,
	".docx": KindDocument,
	".ppt":  KindDocument,
	".pptx": KindDocument,
	".txt":  KindDocument,
}

// Resolve classifies an asset once, at ingestion. The MIME type wins; the
// file extension is consulted only when the MIME type is missing or generic.
func Resolve(mimeType, filePath string) Kind {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	case mimeType == "application/pdf",
		mimeType == "application/msword",
		mimeType == "text/plain",
		strings.HasPrefix(mimeType, "application/vnd.openxmlformats-officedocument"),
		strings.HasPrefix(mimeType, "application/vnd.ms-"):
		return KindDocument
	}

	clean := filePath
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	if kind, ok := extensionKinds[strings.ToLower(path.Ext(clean))]; ok {
		return kind
	}
	return KindUnknown
}

// Asset is a course file with its kind fixed at ingestion time.
type Asset struct {
	Path     string `json:"path"`
	MimeType string `json:"type,omitempty"`
	Kind     Kind   `json:"kind"`
}

// NewAsset resolves the kind of a file once.
func NewAsset(filePath, mimeType string) Asset {
	return Asset{Path: filePath, MimeType: mimeType, Kind: Resolve(mimeType, filePath)}
}
