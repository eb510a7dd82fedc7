package media

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"strconv"
	"strings"

	"bitwise74/reactions-api/internal/apperr"

	"github.com/disintegration/imaging"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// svg rasterizes a vector image into a PNG that fits the configured bounds.
func (n *Normalizer) svg(src string) (res *Normalized, err error) {
	out := &Normalized{Ext: ".png", ContentType: "image/png"}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("svg renderer panicked: %v", r)
		}
		if err != nil {
			out.Close()
			res = nil
			err = apperr.Wrap(apperr.ConversionError, "File conversion failed: unable to render svg", err)
		}
	}()

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse svg, %w", err)
	}

	// Relative sizes like width="100%" leave the parsed box empty
	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		icon.ViewBox.X, icon.ViewBox.Y, icon.ViewBox.W, icon.ViewBox.H = rootBox(data)
	}

	w, h := fitInto(icon.ViewBox.W, icon.ViewBox.H, n.opts.SVGMaxWidth, n.opts.SVGMaxHeight)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("svg has no usable viewbox")
	}

	icon.SetTarget(0, 0, float64(w), float64(h))

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1)

	p, err := n.tempPath(out, "image-*.png")
	if err != nil {
		return nil, err
	}

	if err := writePNG(p, rgba); err != nil {
		return nil, err
	}

	return finish(out, p)
}

// heic decodes the first frame with ffmpeg and bounds the result.
func (n *Normalizer) heic(ctx context.Context, src string) (res *Normalized, err error) {
	out := &Normalized{Ext: ".png", ContentType: "image/png"}
	defer func() {
		if err != nil {
			out.Close()
			res = nil
			err = apperr.Wrap(apperr.ConversionError, "File conversion failed: unable to convert image", err)
		}
	}()

	if n.opts.NoHEICGrids {
		return nil, errors.New("ffmpeg is too old to decode tiled heic images")
	}

	decoded, err := n.tempPath(out, "heic-*.png")
	if err != nil {
		return nil, err
	}

	if err := n.ffmpeg.Transcode(ctx, []string{"-y", "-i", src, "-frames:v", "1", "-update", "1", decoded}, nil); err != nil {
		return nil, err
	}

	img, err := imaging.Open(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to open decoded image, %w", err)
	}

	fitted := imaging.Fit(img, n.opts.RasterMaxWidth, n.opts.RasterMaxHeight, imaging.Lanczos)

	p, err := n.tempPath(out, "image-*.png")
	if err != nil {
		return nil, err
	}

	if err := imaging.Save(fitted, p, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, fmt.Errorf("failed to encode png, %w", err)
	}

	return finish(out, p)
}

func finish(out *Normalized, p string) (*Normalized, error) {
	st, err := os.Stat(p)
	if err != nil {
		return nil, err
	}

	out.Path = p
	out.Size = st.Size()
	return out, nil
}

func writePNG(p string, img image.Image) error {
	f, err := os.Create(p)
	if err != nil {
		return err
	}

	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode png, %w", err)
	}

	return f.Close()
}

// rootBox reads the viewBox of the outermost svg element. Without one the
// absolute width and height are used as the box.
func rootBox(data []byte) (x, y, w, h float64) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, 0, 0, 0
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local != "svg" {
			return 0, 0, 0, 0
		}

		var width, height float64
		var box []float64
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "viewBox":
				box = parseViewBox(a.Value)
			case "width":
				width = svgLength(a.Value)
			case "height":
				height = svgLength(a.Value)
			}
		}

		if box != nil {
			return box[0], box[1], box[2], box[3]
		}

		return 0, 0, width, height
	}
}

func parseViewBox(s string) []float64 {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) != 4 {
		return nil
	}

	box := make([]float64, 4)
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil
		}
		box[i] = n
	}

	if box[2] <= 0 || box[3] <= 0 {
		return nil
	}

	return box
}

// svgLength parses an absolute length in user units. Relative units
// yield 0.
func svgLength(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0
	}

	return n
}

// fitInto scales w x h so it fits maxW x maxH keeping the aspect ratio.
func fitInto(w, h float64, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 || maxW <= 0 || maxH <= 0 {
		return 0, 0
	}

	scale := math.Min(float64(maxW)/w, float64(maxH)/h)

	return max(1, int(math.Round(w*scale))), max(1, int(math.Round(h*scale)))
}
