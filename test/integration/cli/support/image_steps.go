package support

import (
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/leafcheck/internal/testutil"
	"github.com/cucumber/godog"
)

// writeImage encodes img by the extension of name below the scenario
// directory.
func (testCtx *TestContext) writeImage(name string, img image.Image) error {
	path := testCtx.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	f, err := os.Create(path) //nolint:gosec // G304: path below the scenario directory
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	case ".png":
		err = png.Encode(f, img)
	case ".gif":
		pal := image.NewPaletted(img.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(pal, img.Bounds(), img, image.Point{})
		err = gif.Encode(f, pal, nil)
	default:
		return fmt.Errorf("no encoder for %s", name)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	testCtx.TrackFile(name)
	return nil
}

func (testCtx *TestContext) aLeafPhoto(name string) error {
	cfg := testutil.DefaultLeafImageConfig()
	cfg.Size = testutil.SmallSize
	return testCtx.writeImage(name, testutil.GenerateLeafImage(cfg))
}

func (testCtx *TestContext) aDiseasedLeafPhotoWithSpots(name string, spots int) error {
	cfg := testutil.DefaultLeafImageConfig()
	cfg.Size = testutil.SmallSize
	cfg.Spots = spots
	return testCtx.writeImage(name, testutil.GenerateLeafImage(cfg))
}

func (testCtx *TestContext) aLeafPhotoOfSize(name string, width, height int) error {
	cfg := testutil.DefaultLeafImageConfig()
	cfg.Size = testutil.ImageSize{Width: width, Height: height}
	return testCtx.writeImage(name, testutil.GenerateLeafImage(cfg))
}

func (testCtx *TestContext) aTransparentPhoto(name string) error {
	img := testutil.CreateTransparentImage(32, 32, color.NRGBA{G: 160, A: 96})
	return testCtx.writeImage(name, img)
}

// aDirectoryWithLeafPhotos fills dir with leaf_<i>.jpg files.
func (testCtx *TestContext) aDirectoryWithLeafPhotos(dir string, n int) error {
	if err := os.MkdirAll(testCtx.path(dir), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	testCtx.TrackDirectory(dir)
	for i := range n {
		if err := testCtx.aDiseasedLeafPhotoWithSpots(filepath.Join(dir, fmt.Sprintf("leaf_%d.jpg", i)), i); err != nil {
			return err
		}
	}
	return nil
}

// theTextOutputShouldDescribeThePrediction checks the fields of the
// human-readable predict output.
func (testCtx *TestContext) theTextOutputShouldDescribeThePrediction() error {
	for _, label := range []string{"Plant:", "Disease:", "Confidence:", "Healthy:", "Top predictions:"} {
		if !strings.Contains(testCtx.LastStdout, label) {
			return fmt.Errorf("text output is missing %q\nOutput: %s", label, testCtx.LastStdout)
		}
	}
	return nil
}

// everyPredictionShouldNameAPlant checks plantName on a single object or
// on each element of an array.
func (testCtx *TestContext) everyPredictionShouldNameAPlant() error {
	data, err := testCtx.parseJSON()
	if err != nil {
		return err
	}
	items, ok := data.([]any)
	if !ok {
		items = []any{data}
	}
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("prediction %d is not an object", i)
		}
		if name, _ := obj["plantName"].(string); name == "" {
			return fmt.Errorf("prediction %d has no plantName: %v", i, obj)
		}
	}
	return nil
}

// RegisterImageSteps registers steps that create leaf photos and inspect
// prediction output.
func (testCtx *TestContext) RegisterImageSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a leaf photo "([^"]*)"$`, testCtx.aLeafPhoto)
	sc.Step(`^a leaf photo "([^"]*)" of size (\d+)x(\d+)$`, testCtx.aLeafPhotoOfSize)
	sc.Step(`^a diseased leaf photo "([^"]*)" with (\d+) spots$`, testCtx.aDiseasedLeafPhotoWithSpots)
	sc.Step(`^a transparent photo "([^"]*)"$`, testCtx.aTransparentPhoto)
	sc.Step(`^a directory "([^"]*)" with (\d+) leaf photos?$`, testCtx.aDirectoryWithLeafPhotos)
	sc.Step(`^the text output should describe the prediction$`, testCtx.theTextOutputShouldDescribeThePrediction)
	sc.Step(`^every prediction should name a plant$`, testCtx.everyPredictionShouldNameAPlant)
}
