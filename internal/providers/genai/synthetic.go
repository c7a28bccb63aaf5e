package genai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"
)

// syntheticImage renders a placeholder whose colours are derived from the
// request, so the same prompt always yields the same bytes.
func (c *Client) syntheticImage(ctx context.Context, req ImageRequest) (*ImageAsset, error) {
	width, height := normalizeAspect(req.AspectRatio, req.Resolution)
	sum := sha256.Sum256([]byte(req.Prompt + "|" + req.AspectRatio + "|" + req.Resolution))
	data, err := renderPlaceholder(width, height, sum)
	if err != nil {
		return nil, fmt.Errorf("genai: render synthetic image: %w", err)
	}
	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.modelFor(req)).
		Int("width", width).
		Int("height", height).
		Msg("genai: generated synthetic image")
	return &ImageAsset{MimeType: "image/png", Width: width, Height: height, Data: data}, nil
}

// renderPlaceholder draws a vertical gradient between two seed colours with a
// centred block standing in for the product.
func renderPlaceholder(width, height int, seed [32]byte) ([]byte, error) {
	top := color.RGBA{seed[0], seed[1], seed[2], 255}
	bottom := color.RGBA{seed[3], seed[4], seed[5], 255}
	block := color.RGBA{seed[6], seed[7], seed[8], 255}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	side := min(width, height) / 3
	bx, by := (width-side)/2, (height-side)/2
	for y := 0; y < height; y++ {
		row := blend(top, bottom, y, height)
		for x := 0; x < width; x++ {
			if x >= bx && x < bx+side && y >= by && y < by+side {
				img.SetRGBA(x, y, block)
				continue
			}
			img.SetRGBA(x, y, row)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func blend(a, b color.RGBA, pos, span int) color.RGBA {
	if span <= 1 {
		return a
	}
	mix := func(x, y uint8) uint8 {
		return uint8((int(x)*(span-1-pos) + int(y)*pos) / (span - 1))
	}
	return color.RGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 255}
}

// normalizeAspect maps an aspect ratio and resolution tier onto pixel
// dimensions. Tiers are scaled down (1K is 256px on the long side) since the
// output is only a placeholder.
func normalizeAspect(aspect, resolution string) (int, int) {
	long := map[string]int{"2K": 512, "4K": 1024}[strings.ToUpper(strings.TrimSpace(resolution))]
	if long == 0 {
		long = 256
	}
	w, h := 1, 1
	if left, right, ok := strings.Cut(strings.TrimSpace(aspect), ":"); ok {
		x, errX := strconv.Atoi(strings.TrimSpace(left))
		y, errY := strconv.Atoi(strings.TrimSpace(right))
		if errX == nil && errY == nil && x > 0 && y > 0 {
			w, h = x, y
		}
	}
	if w >= h {
		return long, max(1, long*h/w)
	}
	return max(1, long*w/h), long
}
