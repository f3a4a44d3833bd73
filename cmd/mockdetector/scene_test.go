package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"visiontrigger/internal/detection"
	"visiontrigger/internal/pipeline"
)

func TestSceneAlwaysVisible(t *testing.T) {
	sc := &scene{class: 41, classes: 80, score: 0.9, start: time.Now()}

	req, err := structpb.NewStruct(map[string]interface{}{"jpeg": "/9j/"})
	require.NoError(t, err)
	resp, err := sc.Detect(context.Background(), req)
	require.NoError(t, err)

	raw, err := detection.DecodeRawOutput(resp)
	require.NoError(t, err)
	require.Len(t, raw.Classes, 80)
	require.Len(t, raw.Classes[41], 1)

	labels := make([]string, 80)
	labels[41] = "cup"
	dets := pipeline.ExtractDetections(raw, 640, 480, labels, 0.5)
	require.Len(t, dets, 1)
	assert.Equal(t, "cup", dets[0].Label)
	assert.Equal(t, pipeline.BBox{X0: 160, Y0: 120, X1: 480, Y1: 360}, dets[0].BBox)
}

func TestScenePeriod(t *testing.T) {
	t0 := time.Unix(100, 0)
	sc := &scene{class: 0, classes: 1, score: 0.9, period: 10 * time.Second, start: t0}

	assert.Len(t, sc.rows(t0.Add(2 * time.Second))[0], 1)
	assert.Empty(t, sc.rows(t0.Add(7 * time.Second))[0])
	assert.Len(t, sc.rows(t0.Add(12 * time.Second))[0], 1)
}

func TestSceneRejectsEmptyRequest(t *testing.T) {
	sc := &scene{classes: 1, start: time.Now()}
	_, err := sc.Detect(context.Background(), &structpb.Struct{})
	assert.Error(t, err)
}
