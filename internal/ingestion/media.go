package ingestion

import (
	"net/http"
	"path/filepath"
	"strings"
)

const (
	MediaPNG  = "image/png"
	MediaJPEG = "image/jpeg"
	MediaWEBP = "image/webp"
	MediaHEIC = "image/heic"
	MediaPDF  = "application/pdf"
)

var accepted = map[string]bool{
	MediaPNG:  true,
	MediaJPEG: true,
	MediaWEBP: true,
	MediaHEIC: true,
	MediaPDF:  true,
}

// Accepted reports whether files of this media type may be selected.
func Accepted(mediaType string) bool {
	return accepted[normalize(mediaType)]
}

func IsPDF(mediaType string) bool {
	return normalize(mediaType) == MediaPDF
}

var extensions = map[string]string{
	".png":  MediaPNG,
	".jpg":  MediaJPEG,
	".jpeg": MediaJPEG,
	".webp": MediaWEBP,
	".heic": MediaHEIC,
	".pdf":  MediaPDF,
}

// DetectMediaType sniffs the content first and falls back to the file
// extension for formats the sniffer does not know (HEIC).
func DetectMediaType(name string, data []byte) string {
	sniffed := normalize(http.DetectContentType(data))
	if accepted[sniffed] {
		return sniffed
	}
	if isHEIC(data) {
		return MediaHEIC
	}
	if mt, ok := extensions[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return sniffed
}

// isHEIC checks for an ISO-BMFF ftyp box with a HEIF brand.
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "hevc", "heim", "heis", "mif1", "msf1":
		return true
	}
	return false
}

func normalize(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "image/jpg" {
		return MediaJPEG
	}
	return mt
}
