// imageprocessor.go - Crop photo normalization before it is sent to Gemini

package processor

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Quality thresholds for the exposure score returned by analyzeImageQuality
const (
	poorQualityScore   = 50.0
	mediumQualityScore = 75.0
)

// PreparedImage is an image ready for a Gemini blob part
type PreparedImage struct {
	Data         []byte
	MIMEType     string
	Width        int
	Height       int
	QualityScore float64
	Resized      bool
}

// PrepareImage decodes a crop photo, applies EXIF orientation, shrinks it to fit
// inside maxDimension and applies a mild, color-preserving correction for
// underexposed or flat shots. Colors are kept because leaf discoloration is
// what the model diagnoses. maxDimension <= 0 disables resizing.
func PrepareImage(data []byte, filename string, maxDimension int) (*PreparedImage, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	resized := false
	bounds := img.Bounds()
	if maxDimension > 0 && (bounds.Dx() > maxDimension || bounds.Dy() > maxDimension) {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
		resized = true
	}

	qualityScore := analyzeImageQuality(img)
	switch {
	case qualityScore < poorQualityScore:
		img = applyStandardEnhancement(img)
	case qualityScore < mediumQualityScore:
		img = applyLightEnhancement(img)
	}

	format := imaging.JPEG
	mimeType := "image/jpeg"
	if Extension(filename) == "png" {
		format = imaging.PNG
		mimeType = "image/png"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(92)); err != nil {
		return nil, fmt.Errorf("failed to encode processed image: %w", err)
	}

	final := img.Bounds()
	return &PreparedImage{
		Data:         buf.Bytes(),
		MIMEType:     mimeType,
		Width:        final.Dx(),
		Height:       final.Dy(),
		QualityScore: qualityScore,
		Resized:      resized,
	}, nil
}

// analyzeImageQuality analyzes image and returns quality score (0-100)
func analyzeImageQuality(img image.Image) float64 {
	bounds := img.Bounds()

	var totalBrightness float64
	var minBrightness float64 = 255
	var maxBrightness float64 = 0
	pixelCount := 0

	// Sample pixels (every 10th pixel for performance)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 10 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 10 {
			r, g, b, _ := img.At(x, y).RGBA()
			brightness := (float64(r>>8) + float64(g>>8) + float64(b>>8)) / 3.0

			totalBrightness += brightness
			if brightness < minBrightness {
				minBrightness = brightness
			}
			if brightness > maxBrightness {
				maxBrightness = brightness
			}
			pixelCount++
		}
	}

	if pixelCount == 0 {
		return 0
	}

	avgBrightness := totalBrightness / float64(pixelCount)
	contrast := maxBrightness - minBrightness

	// Ideal: avgBrightness = 128, contrast = 200+
	brightnessScore := 100.0 - math.Abs(avgBrightness-128.0)/1.28
	contrastScore := math.Min(contrast/2.0, 100.0)

	// Weight: 40% brightness, 60% contrast
	return (brightnessScore * 0.4) + (contrastScore * 0.6)
}

// applyLightEnhancement for slightly flat images
func applyLightEnhancement(img image.Image) image.Image {
	result := imaging.AdjustContrast(img, 10)
	result = imaging.Sharpen(result, 0.8)
	return result
}

// applyStandardEnhancement for dark or very flat images
func applyStandardEnhancement(img image.Image) image.Image {
	result := imaging.AdjustGamma(img, 1.2)
	result = imaging.AdjustContrast(result, 20)
	result = imaging.Sharpen(result, 1.2)
	return result
}
