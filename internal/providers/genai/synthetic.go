package genai

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strconv"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// renderSyntheticComposite paints a striped backdrop derived from seed and
// scales the logo into its centre. An undecodable logo is an error so callers
// see the same failure a real model would report.
func renderSyntheticComposite(width, height int, seed string, logo []byte) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	xdraw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, xdraw.Src)

	stripeHeight := max(32, height/12)
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := image.Rect(0, y, width, min(height, y+stripeHeight))
		xdraw.Draw(img, stripe, &image.Uniform{accent}, image.Point{}, xdraw.Over)
	}

	if len(logo) > 0 {
		src, _, err := image.Decode(bytes.NewReader(logo))
		if err != nil {
			return nil, fmt.Errorf("decode logo: %w", err)
		}
		target := fitRect(src.Bounds(), image.Rect(width/4, height/4, width*3/4, height*3/4))
		xdraw.CatmullRom.Scale(img, target, src, src.Bounds(), xdraw.Over, nil)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fitRect returns the largest rect with src's aspect ratio centred in box.
func fitRect(src, box image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw <= 0 || sh <= 0 {
		return box
	}
	bw, bh := box.Dx(), box.Dy()
	w, h := bw, sh*bw/sw
	if h > bh {
		w, h = sw*bh/sh, bh
	}
	x := box.Min.X + (bw-w)/2
	y := box.Min.Y + (bh-h)/2
	return image.Rect(x, y, x+w, y+h)
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if seed == "" {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	r := parseHexByte(segment[0:2])
	g := parseHexByte(segment[2:4])
	b := parseHexByte(segment[4:6])
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func parseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}
