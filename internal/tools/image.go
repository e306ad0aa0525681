package tools

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/agentgateway/internal/toolregistry"
)

// RegisterImage adds the "create_image" and "read_image" tools. These
// operate on the local filesystem only — there is no image-generation or
// vision backend wired in, so create_image renders a flat-color canvas
// (useful for placeholders and layout tests) and read_image reports an
// existing image's dimensions and format rather than describing its content.
func RegisterImage(reg *toolregistry.Registry, workDir string) {
	reg.Register("create_image", "Create a solid-color PNG placeholder image", toolregistry.Schema{
		Properties: map[string]toolregistry.Property{
			"width":  {Type: "number", Description: "Image width in pixels"},
			"height": {Type: "number", Description: "Image height in pixels"},
			"color":  {Type: "string", Description: "Hex color, e.g. #336699 (default #808080)"},
		},
		Required: []string{"width", "height"},
	}, func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		width, _ := args["width"].(float64)
		height, _ := args["height"].(float64)
		if width <= 0 || height <= 0 || width > 4096 || height > 4096 {
			return toolregistry.Result{}, fmt.Errorf("width and height must be between 1 and 4096")
		}
		hex, _ := args["color"].(string)
		c, err := parseHexColor(hex)
		if err != nil {
			return toolregistry.Result{}, err
		}

		img := imaging.New(int(width), int(height), c)
		name := fmt.Sprintf("image_%d.png", time.Now().UnixNano())
		outPath := filepath.Join(workDir, name)
		if err := imaging.Save(img, outPath); err != nil {
			return toolregistry.NewResult(fmt.Sprintf("Error: failed to save image: %v", err)), nil
		}
		return toolregistry.NewResult(fmt.Sprintf("created %dx%d image at %s", int(width), int(height), name)), nil
	})

	reg.Register("read_image", "Report the dimensions and format of an image file", toolregistry.Schema{
		Properties: map[string]toolregistry.Property{
			"path": {Type: "string", Description: "Path to the image file, relative to the workspace"},
		},
		Required: []string{"path"},
	}, func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		path, _ := args["path"].(string)
		resolved, err := resolveWithin(workDir, path)
		if err != nil {
			return toolregistry.Result{}, err
		}
		f, err := os.Open(resolved)
		if err != nil {
			return toolregistry.NewResult(fmt.Sprintf("Error: failed to open image: %v", err)), nil
		}
		defer f.Close()

		cfg, format, err := image.DecodeConfig(f)
		if err != nil {
			return toolregistry.NewResult(fmt.Sprintf("Error: failed to decode image: %v", err)), nil
		}
		return toolregistry.NewResult(fmt.Sprintf("format=%s width=%d height=%d", format, cfg.Width, cfg.Height)), nil
	})
}

func parseHexColor(hex string) (color.NRGBA, error) {
	if hex == "" {
		return color.NRGBA{R: 128, G: 128, B: 128, A: 255}, nil
	}
	if len(hex) != 7 || hex[0] != '#' {
		return color.NRGBA{}, fmt.Errorf("color must be a hex string like #336699")
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}
