/*
 *
 * horseman - a headless browser automation library for Go
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */
package common

import (
	"bytes"
	"context"
	"fmt"
	"image/gif"
	"image/png"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

// Rect is an area of the page in CSS pixels.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ImageFormat is an encoding supported by Screenshot.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "png"
	ImageFormatGIF  ImageFormat = "gif"
	ImageFormatJPEG ImageFormat = "jpeg"
)

// ParseImageFormat validates a format name. jpg is accepted for jpeg.
func ParseImageFormat(s string) (ImageFormat, error) {
	switch strings.ToLower(s) {
	case "", "png":
		return ImageFormatPNG, nil
	case "gif":
		return ImageFormatGIF, nil
	case "jpg", "jpeg":
		return ImageFormatJPEG, nil
	}
	return "", &ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported image format %q, use PNG, GIF or JPEG", s)}
}

// ImageFormatFromPath derives the format from a file extension.
func ImageFormatFromPath(path string) (ImageFormat, error) {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ImageFormatPNG, nil
	}
	return ParseImageFormat(path[i+1:])
}

// Screenshot captures the viewport, or clip when given.
func (p *Page) Screenshot(ctx context.Context, format ImageFormat, clip *Rect) ([]byte, error) {
	action := page.CaptureScreenshot()
	switch format {
	case ImageFormatJPEG:
		action = action.WithFormat(page.CaptureScreenshotFormatJpeg).WithQuality(90)
	default:
		action = action.WithFormat(page.CaptureScreenshotFormatPng)
	}
	if clip != nil {
		if clip.Width <= 0 || clip.Height <= 0 {
			return nil, &ValidationError{Field: "area", Reason: "width and height must be positive"}
		}
		action = action.WithClip(&page.Viewport{
			X:      clip.Left,
			Y:      clip.Top,
			Width:  clip.Width,
			Height: clip.Height,
			Scale:  1,
		}).WithCaptureBeyondViewport(true)
	}
	buf, err := action.Do(cdp.WithExecutor(ctx, p.session))
	if err != nil {
		return nil, wrapProtocolError("capturing screenshot", err)
	}
	if format == ImageFormatGIF {
		return pngToGIF(buf)
	}
	return buf, nil
}

func pngToGIF(buf []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	var out bytes.Buffer
	if err := gif.Encode(&out, img, nil); err != nil {
		return nil, fmt.Errorf("encoding gif: %w", err)
	}
	return out.Bytes(), nil
}

// PaperSize describes a PDF page. Dimensions are in inches.
type PaperSize struct {
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Margin      float64 `json:"margin"`
	Orientation string  `json:"orientation"`
}

// DefaultPaperSize is US Letter, portrait, with half inch margins.
var DefaultPaperSize = PaperSize{Width: 8.5, Height: 11, Margin: 0.5, Orientation: "portrait"}

// PDF renders the page to a PDF document.
func (p *Page) PDF(ctx context.Context, paper PaperSize) ([]byte, error) {
	if paper.Width <= 0 || paper.Height <= 0 {
		paper.Width, paper.Height = DefaultPaperSize.Width, DefaultPaperSize.Height
	}
	if paper.Margin < 0 {
		return nil, &ValidationError{Field: "margin", Reason: "must not be negative"}
	}
	var landscape bool
	switch strings.ToLower(paper.Orientation) {
	case "", "portrait":
	case "landscape":
		landscape = true
	default:
		return nil, &ValidationError{Field: "orientation", Reason: fmt.Sprintf("unsupported orientation %q", paper.Orientation)}
	}

	action := page.PrintToPDF().
		WithLandscape(landscape).
		WithPrintBackground(true).
		WithPaperWidth(paper.Width).
		WithPaperHeight(paper.Height).
		WithMarginTop(paper.Margin).
		WithMarginBottom(paper.Margin).
		WithMarginLeft(paper.Margin).
		WithMarginRight(paper.Margin)
	buf, _, err := action.Do(cdp.WithExecutor(ctx, p.session))
	if err != nil {
		return nil, wrapProtocolError("printing pdf", err)
	}
	return buf, nil
}
