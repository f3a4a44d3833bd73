package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visiontrigger/internal/pipeline"
)

func grayJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestRenderDrawsBoxes(t *testing.T) {
	batch := &pipeline.Batch{
		Frame: grayJPEG(t, 320, 240),
		Detections: []pipeline.Detection{
			{Label: "cup", Confidence: 0.9, BBox: pipeline.BBox{X0: 40, Y0: 60, X1: 200, Y1: 180}},
			{Label: "bottle", Confidence: 0.6, BBox: pipeline.BBox{X0: 250, Y0: 10, X1: 400, Y1: 90}},
		},
	}

	out, err := Render(batch, Options{Target: "cup", Quality: 95})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 320, 240), img.Bounds())

	r, g, b, _ := img.At(120, 60).RGBA()
	assert.Greater(t, g>>8, uint32(180), "top edge of the target box is green")
	assert.Less(t, r>>8, uint32(120))
	assert.Less(t, b>>8, uint32(120))

	gray := color.GrayModel.Convert(img.At(120, 120)).(color.Gray)
	assert.InDelta(t, 128, int(gray.Y), 10, "box interior untouched")
}

func TestRenderDownscales(t *testing.T) {
	batch := &pipeline.Batch{Frame: grayJPEG(t, 640, 480)}

	out, err := Render(batch, Options{MaxWidth: 320})
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 240, cfg.Height)
}

func TestRenderErrors(t *testing.T) {
	_, err := Render(nil, Options{})
	assert.Error(t, err)

	_, err = Render(&pipeline.Batch{Frame: []byte("not a jpeg")}, Options{})
	assert.ErrorContains(t, err, "decode frame")
}
