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
package horseman

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/liuxd6825/horseman/common"
)

func init() {
	MustRegisterAction("screenshot", screenshot)
	MustRegisterAction("screenshotBase64", screenshotBase64)
	MustRegisterAction("crop", crop)
	MustRegisterAction("cropBase64", cropBase64)
	MustRegisterAction("pdf", pdf)
}

func screenshot(ctx context.Context, s *Session, args ...any) (any, error) {
	path, err := arg[string](args, 0, "path")
	if err != nil {
		return nil, err
	}
	format, err := common.ImageFormatFromPath(path)
	if err != nil {
		return nil, err
	}
	return nil, s.capture(ctx, format, nil, path)
}

func screenshotBase64(ctx context.Context, s *Session, args ...any) (any, error) {
	name, err := optArg(args, 0, "format", "png")
	if err != nil {
		return nil, err
	}
	format, err := common.ParseImageFormat(name)
	if err != nil {
		return nil, err
	}
	buf, err := s.screenshotBytes(ctx, format, nil)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func crop(ctx context.Context, s *Session, args ...any) (any, error) {
	path, err := arg[string](args, 1, "path")
	if err != nil {
		return nil, err
	}
	format, err := common.ImageFormatFromPath(path)
	if err != nil {
		return nil, err
	}
	area, err := s.cropArea(ctx, args)
	if err != nil {
		return nil, err
	}
	return nil, s.capture(ctx, format, &area, path)
}

func cropBase64(ctx context.Context, s *Session, args ...any) (any, error) {
	name, err := optArg(args, 1, "format", "png")
	if err != nil {
		return nil, err
	}
	format, err := common.ParseImageFormat(name)
	if err != nil {
		return nil, err
	}
	area, err := s.cropArea(ctx, args)
	if err != nil {
		return nil, err
	}
	buf, err := s.screenshotBytes(ctx, format, &area)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// cropArea reads an area argument, either a selector whose bounding
// rectangle is used or a rectangle.
func (s *Session) cropArea(ctx context.Context, args []any) (common.Rect, error) {
	if len(args) > 0 {
		if sel, ok := args[0].(string); ok {
			return s.boundingRect(ctx, sel)
		}
	}
	return argDecode[common.Rect](args, 0, "area")
}

func (s *Session) screenshotBytes(ctx context.Context, format common.ImageFormat, clip *common.Rect) ([]byte, error) {
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return p.Screenshot(ctx, format, clip) //nolint:wrapcheck
}

func (s *Session) capture(ctx context.Context, format common.ImageFormat, clip *common.Rect, path string) error {
	buf, err := s.screenshotBytes(ctx, format, clip)
	if err != nil {
		return err
	}
	return s.writeFile(path, buf)
}

func pdf(ctx context.Context, s *Session, args ...any) (any, error) {
	path, err := arg[string](args, 0, "path")
	if err != nil {
		return nil, err
	}
	paper := common.DefaultPaperSize
	if len(args) > 1 && args[1] != nil {
		if paper, err = argDecode[common.PaperSize](args, 1, "paperSize"); err != nil {
			return nil, err
		}
	}
	p, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	buf, err := p.PDF(ctx, paper)
	if err != nil {
		return nil, err
	}
	return nil, s.writeFile(path, buf)
}

func (s *Session) writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", path, err)
		}
	}
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
