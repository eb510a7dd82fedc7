// Package media contains everything that looks at the bytes of an upload:
// classification of the file family and conversion into the format that is
// stored in the bucket.
package media

import (
	"path"
	"strings"

	"bitwise74/reactions-api/internal/apperr"

	"github.com/gabriel-vasile/mimetype"
)

// SniffLen is the amount of leading bytes Classify needs to verify the true
// content type of a file.
const SniffLen = 3072

type Classification int

const (
	Rejected Classification = iota
	Image
	Audio
	RecordedAudio
	Video
	Document
)

var classNames = [...]string{"Rejected", "Image", "Audio", "RecordedAudio", "Video", "Document"}

func (c Classification) String() string {
	if c < 0 || int(c) >= len(classNames) {
		return classNames[Rejected]
	}

	return classNames[c]
}

func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// IsAudio reports whether c is one of the audio classifications.
func (c Classification) IsAudio() bool {
	return c == Audio || c == RecordedAudio
}

type family int

const (
	imageFamily family = iota + 1
	audioFamily
	videoFamily
	documentFamily
)

var families = map[string]family{
	".jpeg": imageFamily, ".jpg": imageFamily, ".png": imageFamily, ".bmp": imageFamily,
	".tiff": imageFamily, ".svg": imageFamily, ".webp": imageFamily, ".heic": imageFamily,
	".heif": imageFamily,

	".m4a": audioFamily, ".wav": audioFamily, ".mp3": audioFamily, ".wma": audioFamily,
	".aac": audioFamily,

	".mp4": videoFamily, ".mov": videoFamily, ".mkv": videoFamily, ".avi": videoFamily,
	".wmv": videoFamily, ".flv": videoFamily, ".webm": videoFamily, ".mpeg": videoFamily,
	".3gp": videoFamily, ".3g2": videoFamily, ".m4v": videoFamily,

	".pdf": documentFamily, ".doc": documentFamily, ".docx": documentFamily,
	".xls": documentFamily, ".xlsx": documentFamily, ".ppt": documentFamily,
	".pptx": documentFamily, ".txt": documentFamily, ".csv": documentFamily,
}

// Extensions that must never appear as the inner part of a double extension
// even though they are not allowed uploads on their own.
var scriptExtensions = map[string]struct{}{
	"php": {}, "php3": {}, "php4": {}, "php5": {}, "phtml": {}, "html": {}, "htm": {},
	"xhtml": {}, "js": {}, "mjs": {}, "jsp": {}, "asp": {}, "aspx": {}, "cgi": {},
	"pl": {}, "py": {}, "rb": {}, "sh": {}, "bash": {}, "bat": {}, "cmd": {}, "exe": {},
	"dll": {}, "msi": {}, "com": {}, "scr": {}, "vbs": {}, "ps1": {}, "jar": {},
}

// Sniffed types that are rejected no matter what the file claims to be.
var deniedMIMEs = map[string]struct{}{
	"text/html": {}, "application/x-php": {}, "text/javascript": {},
	"application/javascript": {}, "text/x-shellscript": {}, "text/x-python": {},
	"text/x-perl": {}, "application/x-executable": {}, "application/x-elf": {},
	"application/x-mach-binary": {}, "application/x-msdownload": {},
	"application/vnd.microsoft.portable-executable": {}, "application/java-archive": {},
}

// SniffInput is everything Classify looks at. Prefix should hold at least
// the first SniffLen bytes of the file, or the whole file if it is shorter.
type SniffInput struct {
	Filename        string
	ContentType     string
	Prefix          []byte
	IsRecordedAudio bool
}

// Classified is the outcome of a successful classification.
type Classified struct {
	Class Classification
	// Lowercase extension including the dot
	Ext string
	// True content type detected from the magic bytes
	MIME string
}

// Classify validates a candidate upload and resolves its media family. It never
// returns a Rejected classification without an error.
func Classify(in SniffInput) (Classified, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(in.Filename), `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return Classified{}, apperr.New(apperr.InvalidInput, "No file found")
	}

	if len(in.Prefix) == 0 {
		return Classified{}, apperr.New(apperr.InvalidInput, "File is empty")
	}

	lower := strings.ToLower(name)
	ext := path.Ext(lower)

	if ext == ".html" {
		return Classified{}, apperr.New(apperr.UnsupportedType, "HTML files are not allowed")
	}

	fam, ok := families[ext]
	if !ok {
		return Classified{}, apperr.New(apperr.UnsupportedType, "Invalid file type")
	}

	// payload.php.png, note.svg.xlsx
	if inner := path.Ext(strings.TrimSuffix(lower, ext)); len(inner) > 1 {
		inner = inner[1:]
		_, allowed := families["."+inner]
		_, script := scriptExtensions[inner]
		if allowed || script {
			return Classified{}, apperr.New(apperr.SuspiciousExtensionCombination, "Suspicious file extension combination detected")
		}
	}

	var class Classification
	switch fam {
	case imageFamily:
		class = Image
	case documentFamily:
		class = Document
	case audioFamily:
		class = Audio
	case videoFamily:
		// Recorders sometimes deliver plain audio inside an .mp4 or .mov
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(in.ContentType)), "audio/") {
			class = Audio
		} else {
			class = Video
		}
	}

	if class == Audio && in.IsRecordedAudio {
		class = RecordedAudio
	}

	mt := mimetype.Detect(in.Prefix)
	for t := mt; t != nil; t = t.Parent() {
		if _, denied := deniedMIMEs[baseMIME(t.String())]; denied {
			return Classified{}, apperr.New(apperr.UnsupportedType, "File content is not allowed")
		}
	}

	if !matchesClass(mt, class) {
		return Classified{}, apperr.New(apperr.UnsupportedType, "File content does not match "+strings.ToLower(class.String())+" format")
	}

	return Classified{
		Class: class,
		Ext:   ext,
		MIME:  mt.String(),
	}, nil
}

func matchesClass(mt *mimetype.MIME, c Classification) bool {
	var image, av bool
	for t := mt; t != nil; t = t.Parent() {
		s := baseMIME(t.String())
		image = image || strings.HasPrefix(s, "image/")
		av = av || strings.HasPrefix(s, "audio/") || strings.HasPrefix(s, "video/")
	}

	switch c {
	case Image:
		return image
	case Audio, RecordedAudio, Video:
		// Containers are shared between audio and video so either prefix is fine
		return av
	case Document:
		return !image && !av
	}

	return false
}

func baseMIME(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}

	return strings.TrimSpace(s)
}
