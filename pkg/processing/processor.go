package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/pkg/types"
)

// maxDownloadBytes bounds images fetched from URLs
const maxDownloadBytes = 32 << 20

// Processor handles image loading, preparation for providers and saving
type Processor struct {
	httpClient *http.Client
	userAgent  string
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "vlm-locate/1.0",
	}
}

// Prepared is an image encoded for a provider, with the sizes needed to map answers back
type Prepared struct {
	Data       []byte
	MIME       string
	Descriptor types.ImageDescriptor
}

// Base64 returns the encoded bytes as standard base64
func (p *Prepared) Base64() string { return base64.StdEncoding.EncodeToString(p.Data) }

// DataURL returns a data: URL suitable for OpenAI-style image parts
func (p *Prepared) DataURL() string { return "data:" + p.MIME + ";base64," + p.Base64() }

// LoadImageFromURL downloads and decodes an image
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "invalid URL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, perr.InvalidArgf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return p.DecodeImage(data)
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return p.DecodeImage(data)
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(source)
}

// DecodeImage sniffs the bytes and decodes them
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, perr.InvalidArgf("not an image (detected %s)", mt.String())
	}
	if mt.Is("image/webp") {
		if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
			return img, nil
		}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "image: cannot decode %s", mt.String())
	}
	return img, nil
}

// ValidateImage checks that img is at least minDim pixels on both sides
func (p *Processor) ValidateImage(img image.Image, minDim int) error {
	b := img.Bounds()
	if b.Dx() < minDim || b.Dy() < minDim {
		return perr.InvalidArgf("image too small: %dx%d (minimum: %d)", b.Dx(), b.Dy(), minDim)
	}
	return nil
}

// PrepareImageForModel shrinks the long side to maxDim (0 keeps the original) and encodes it
// Aspect ratio is preserved and images are never upscaled
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (*Prepared, error) {
	b := img.Bounds()
	desc := types.ImageDescriptor{OriginalWidth: b.Dx(), OriginalHeight: b.Dy()}
	if desc.OriginalWidth == 0 || desc.OriginalHeight == 0 {
		return nil, perr.InvalidArgf("image has no pixels")
	}

	if maxDim > 0 && (desc.OriginalWidth > maxDim || desc.OriginalHeight > maxDim) {
		if desc.OriginalWidth >= desc.OriginalHeight {
			img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
		}
	}
	tb := img.Bounds()
	desc.TransmittedWidth, desc.TransmittedHeight = tb.Dx(), tb.Dy()

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	}
	data := buf.Bytes()
	return &Prepared{
		Data:       data,
		MIME:       mimetype.Detect(data).String(),
		Descriptor: desc,
	}, nil
}

// EncodeImage writes img in the given format
func (p *Processor) EncodeImage(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Encode(w, img, imaging.PNG)
	case "jpg", "jpeg":
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	default:
		return perr.Unsupportedf("unsupported output format %q", format)
	}
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return webp.Encode(f, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Save(img, path)
	case "jpg", "jpeg":
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	default:
		return perr.Unsupportedf("unsupported output format %q", format)
	}
}
