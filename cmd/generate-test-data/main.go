package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/leafcheck/internal/testutil"
)

// fixture describes one generated photo.
type fixture struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputFile   string `json:"input_file"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Spots       int    `json:"spots"`
}

// leafSpec is one photo to generate.
type leafSpec struct {
	dir, name, description string
	size                   testutil.ImageSize
	spots                  int
	leaf                   color.Color
	caption                string
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		outDir           = flag.String("out", "testdata", "output directory, relative to the project root")
		generateImages   = flag.Bool("images", true, "Generate synthetic leaf photos")
		generateFixtures = flag.Bool("fixtures", true, "Generate fixture descriptions")
		verbose          = flag.Bool("v", false, "Verbose output")
		help             = flag.Bool("h", false, "Show help")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate synthetic leaf photos for leafcheck testing.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	root, err := testutil.GetProjectRoot()
	if err != nil {
		slog.Error("Failed to find project root", "error", err)
		os.Exit(1)
	}
	if err := os.Chdir(root); err != nil {
		slog.Error("Failed to change to project root", "error", err)
		os.Exit(1)
	}
	if *verbose {
		slog.Info("Options", "out", *outDir, "images", *generateImages, "fixtures", *generateFixtures, "root", root)
	}

	specs := leafSpecs()
	if *generateImages {
		for _, s := range specs {
			if err := writeLeaf(*outDir, s); err != nil {
				slog.Error("Failed to generate leaf photo", "name", s.name, "error", err)
				os.Exit(1)
			}
		}
		slog.Info("✓ Generated leaf photos", "count", len(specs))
	}
	if *generateFixtures {
		if err := writeFixtures(*outDir, specs); err != nil {
			slog.Error("Failed to generate fixtures", "error", err)
			os.Exit(1)
		}
		slog.Info("✓ Generated fixtures", "count", len(specs))
	}
}

func leafSpecs() []leafSpec {
	green := color.RGBA{R: 60, G: 150, B: 50, A: 255}
	yellow := color.RGBA{R: 170, G: 160, B: 60, A: 255}

	specs := []leafSpec{
		{dir: "healthy", name: "healthy_small.png", description: "Healthy leaf, small", size: testutil.SmallSize, leaf: green},
		{dir: "healthy", name: "healthy_medium.jpg", description: "Healthy leaf, medium", size: testutil.MediumSize, leaf: green},
		{dir: "healthy", name: "healthy_large.jpg", description: "Healthy leaf, large", size: testutil.LargeSize, leaf: green},
		{dir: "chlorotic", name: "yellowing.png", description: "Yellowing leaf without lesions", size: testutil.MediumSize, leaf: yellow},
		{dir: "captioned", name: "field_a.jpg", description: "Leaf with a field label", size: testutil.MediumSize, leaf: green, caption: "field A"},
	}
	for _, n := range []int{3, 8, 16} {
		specs = append(specs, leafSpec{
			dir:         "spotted",
			name:        fmt.Sprintf("spots_%02d.jpg", n),
			description: fmt.Sprintf("Leaf with %d lesion spots", n),
			size:        testutil.MediumSize,
			spots:       n,
			leaf:        green,
		})
	}
	return specs
}

func (s leafSpec) image() image.Image {
	cfg := testutil.DefaultLeafImageConfig()
	cfg.Size = s.size
	cfg.Spots = s.spots
	cfg.Leaf = s.leaf
	cfg.Caption = s.caption
	return testutil.GenerateLeafImage(cfg)
}

func writeLeaf(outDir string, s leafSpec) error {
	dir := filepath.Join(outDir, "images", s.dir)
	if err := testutil.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	file, err := os.Create(filepath.Join(dir, s.name)) //nolint:gosec // G304: Test data generation uses controlled paths
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	img := s.image()
	if filepath.Ext(s.name) == ".png" {
		err = png.Encode(file, img)
	} else {
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return file.Close()
}

func writeFixtures(outDir string, specs []leafSpec) error {
	dir := filepath.Join(outDir, "fixtures")
	if err := testutil.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create fixtures directory: %w", err)
	}
	for _, s := range specs {
		fx := fixture{
			Name:        s.dir + "_" + s.name[:len(s.name)-len(filepath.Ext(s.name))],
			Description: s.description,
			InputFile:   filepath.ToSlash(filepath.Join("images", s.dir, s.name)),
			Width:       s.size.Width,
			Height:      s.size.Height,
			Spots:       s.spots,
		}
		data, err := json.MarshalIndent(fx, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, fx.Name+".json"), data, 0o600); err != nil {
			return fmt.Errorf("failed to save fixture '%s': %w", fx.Name, err)
		}
	}
	return nil
}
