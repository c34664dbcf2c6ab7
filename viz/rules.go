package viz

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/LightwheelAI/LW-Egosuite-DevKit/layout"
)

// ImuRule maps egosuite.ImuRaw onto lightwheel.ImuViz: identity field
// mapping under the visualization dialect schema name.
type ImuRule struct{}

func (*ImuRule) Name() string { return "imu" }

func (rule *ImuRule) Apply(src *Source) ([]Output, error) {
	out, err := emit(src, TargetImuViz, src.Topic, src.Values)
	if err != nil {
		return nil, err
	}
	return []Output{out}, nil
}

// CompositeScanRule splits egosuite.CompositeScan into a point-cloud
// channel and an intensity channel, two outputs per source message sharing
// the source log time.
type CompositeScanRule struct{}

func (*CompositeScanRule) Name() string { return "composite-scan" }

func (rule *CompositeScanRule) Apply(src *Source) ([]Output, error) {
	stamp, err := fieldUint64(src.Values, "stamp")
	if err != nil {
		return nil, err
	}
	frameID, err := fieldString(src.Values, "frame_id")
	if err != nil {
		return nil, err
	}
	points, err := fieldFloat32s(src.Values, "points")
	if err != nil {
		return nil, err
	}
	intensities, err := fieldFloat32s(src.Values, "intensities")
	if err != nil {
		return nil, err
	}
	if len(points)%3 != 0 {
		return nil, errors.Wrapf(layout.ErrPayloadDecode, "points length %d is not a multiple of 3", len(points))
	}

	cloud, err := emit(src, TargetPointCloud, src.Topic+"/points", map[string]interface{}{
		"timestamp":    stamp,
		"frame_id":     frameID,
		"position":     []float64{0, 0, 0},
		"orientation":  []float64{1, 0, 0, 0},
		"point_stride": uint32(12),
		"fields": []map[string]interface{}{
			{"name": "x", "offset": uint32(0), "type": packedFieldFloat32},
			{"name": "y", "offset": uint32(4), "type": packedFieldFloat32},
			{"name": "z", "offset": uint32(8), "type": packedFieldFloat32},
		},
		"data": packFloat32(points),
	})
	if err != nil {
		return nil, err
	}

	intensity, err := emit(src, TargetScanIntensity, src.Topic+"/intensity", map[string]interface{}{
		"timestamp":   stamp,
		"intensities": intensities,
	})
	if err != nil {
		return nil, err
	}

	return []Output{cloud, intensity}, nil
}

// Skeleton rendering constants for the scene-update output.
const skeletonLifetimeNanos = int64(100_000_000)

var (
	jointColor     = []float64{0.6, 0.4, 0.2, 1}
	bodyLineColor  = []float64{1, 0.2, 0.2, 1}
	leftHandColor  = []float64{0.2, 0.2, 1, 1}
	rightHandColor = []float64{1, 0.4, 0.7, 1}
)

// PoseFrameRule converts egosuite.PoseFrame joint transforms into two
// outputs: foxglove.FrameTransforms on the shared /tf_tree channel (child
// frames named from the body/hand tables by joint index) and a
// foxglove.SceneUpdate skeleton (joint spheres plus bone lines) on a
// per-segment keypoints channel. Pose topics outside the known segments get
// only the frame transforms.
type PoseFrameRule struct{}

func (*PoseFrameRule) Name() string { return "pose-frame" }

func (rule *PoseFrameRule) Apply(src *Source) ([]Output, error) {
	stamp, err := fieldUint64(src.Values, "stamp")
	if err != nil {
		return nil, err
	}
	transforms, err := fieldMaps(src.Values, "transforms")
	if err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, len(transforms))
	points := make([][3]float64, len(transforms))
	for i, transform := range transforms {
		x, err := fieldFloat64(transform, "x")
		if err != nil {
			return nil, err
		}
		y, err := fieldFloat64(transform, "y")
		if err != nil {
			return nil, err
		}
		z, err := fieldFloat64(transform, "z")
		if err != nil {
			return nil, err
		}
		quat, err := fieldFloat64s(transform, "quat")
		if err != nil {
			return nil, err
		}

		points[i] = [3]float64{x, y, z}
		out[i] = map[string]interface{}{
			"timestamp":       stamp,
			"parent_frame_id": "world",
			"child_frame_id":  childFrameName(src.Topic, i),
			"translation":     []float64{x, y, z},
			"rotation":        quat,
		}
	}

	result, err := emit(src, TargetFrameTransforms, "/tf_tree", map[string]interface{}{
		"transforms": out,
	})
	if err != nil {
		return nil, err
	}

	skeleton, ok, err := skeletonScene(src, stamp, points)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Output{result}, nil
	}
	return []Output{result, skeleton}, nil
}

// skeletonScene builds the scene-update output for one pose segment. ok is
// false for pose topics without a skeleton topology.
func skeletonScene(src *Source, stamp uint64, points [][3]float64) (Output, bool, error) {
	var entityID, segment string
	var bones [][2]int
	var sphereSize, lineWidth float64
	var lineColor []float64
	switch {
	case strings.HasSuffix(src.Topic, "/body"):
		entityID, segment = "full_body_skeleton", "body"
		bones, sphereSize, lineWidth, lineColor = bodyBones, 0.022, 0.01, bodyLineColor
	case strings.HasSuffix(src.Topic, "/left_hand"):
		entityID, segment = "left_hand_skeleton", "left_hand"
		bones, sphereSize, lineWidth, lineColor = handBones, 0.015, 0.005, leftHandColor
	case strings.HasSuffix(src.Topic, "/right_hand"):
		entityID, segment = "right_hand_skeleton", "right_hand"
		bones, sphereSize, lineWidth, lineColor = handBones, 0.015, 0.005, rightHandColor
	default:
		return Output{}, false, nil
	}

	spheres := make([]map[string]interface{}, len(points))
	for i, point := range points {
		spheres[i] = map[string]interface{}{
			"position":    []float64{point[0], point[1], point[2]},
			"orientation": []float64{1, 0, 0, 0},
			"size":        sphereSize,
			"color":       jointColor,
		}
	}

	lines := []map[string]interface{}{}
	for _, bone := range bones {
		if bone[0] >= len(points) || bone[1] >= len(points) {
			continue
		}
		start, end := points[bone[0]], points[bone[1]]
		lines = append(lines, map[string]interface{}{
			"thickness": lineWidth,
			"color":     lineColor,
			"points": []map[string]interface{}{
				{"x": start[0], "y": start[1], "z": start[2]},
				{"x": end[0], "y": end[1], "z": end[2]},
			},
		})
	}

	out, err := emit(src, TargetSceneUpdate, topicStem(src.Topic)+"/"+segment+"_keypoints", map[string]interface{}{
		"entities": []map[string]interface{}{{
			"timestamp":    stamp,
			"frame_id":     "world",
			"id":           entityID,
			"lifetime":     skeletonLifetimeNanos,
			"frame_locked": true,
			"spheres":      spheres,
			"lines":        lines,
		}},
	})
	if err != nil {
		return Output{}, false, err
	}
	return out, true, nil
}

// childFrameName picks the frame label for a joint index based on the pose
// topic. Unknown topics or out-of-table indexes fall back to an indexed
// name.
func childFrameName(topic string, index int) string {
	switch {
	case strings.HasSuffix(topic, "/body"):
		if index < len(bodyFrameNames) {
			return bodyFrameNames[index]
		}
	case strings.HasSuffix(topic, "/left_hand"):
		if index < len(handFrameNames) {
			return "left_" + handFrameNames[index]
		}
	case strings.HasSuffix(topic, "/right_hand"):
		if index < len(handFrameNames) {
			return "right_" + handFrameNames[index]
		}
	}
	segments := strings.Split(strings.TrimPrefix(topic, "/"), "/")
	return fmt.Sprintf("%s_%d", segments[len(segments)-1], index)
}

// AudioRule renames egosuite.AudioBlock fields into foxglove.RawAudio on
// the same topic.
type AudioRule struct{}

func (*AudioRule) Name() string { return "audio" }

func (rule *AudioRule) Apply(src *Source) ([]Output, error) {
	stamp, err := fieldUint64(src.Values, "stamp")
	if err != nil {
		return nil, err
	}
	format, err := fieldString(src.Values, "format")
	if err != nil {
		return nil, err
	}
	sampleRate, err := fieldUint32(src.Values, "sample_rate")
	if err != nil {
		return nil, err
	}
	channels, err := fieldUint32(src.Values, "number_of_channels")
	if err != nil {
		return nil, err
	}
	data, err := fieldBytes(src.Values, "data")
	if err != nil {
		return nil, err
	}

	out, err := emit(src, TargetRawAudio, src.Topic, map[string]interface{}{
		"timestamp":          stamp,
		"data":               data,
		"format":             format,
		"sample_rate":        sampleRate,
		"number_of_channels": channels,
	})
	if err != nil {
		return nil, err
	}
	return []Output{out}, nil
}

// Text box placement for annotation overlays.
const (
	annotationTextX    = 60.0
	annotationTextY    = 160.0
	annotationFontSize = 50.0
)

// AnnotationRule expands egosuite.AnnotationEvent into a subtask annotation
// channel and an image-annotation overlay channel. The overlay message is
// always published; empty text clears a previous overlay.
type AnnotationRule struct{}

func (*AnnotationRule) Name() string { return "annotation" }

func (rule *AnnotationRule) Apply(src *Source) ([]Output, error) {
	stamp, err := fieldUint64(src.Values, "stamp")
	if err != nil {
		return nil, err
	}
	hasAnnotation, err := fieldBool(src.Values, "has_annotation")
	if err != nil {
		return nil, err
	}
	description, err := fieldString(src.Values, "description")
	if err != nil {
		return nil, err
	}
	skill, err := fieldString(src.Values, "skill")
	if err != nil {
		return nil, err
	}

	var text string
	if hasAnnotation && description != "" {
		text = description + "\nskill: " + skill
	}

	stem := topicStem(src.Topic)
	subtask, err := emit(src, TargetSubtaskAnnotation, stem+"/subtask_annotation", map[string]interface{}{
		"timestamp": stamp,
		"data":      text,
	})
	if err != nil {
		return nil, err
	}

	texts := []map[string]interface{}{}
	if text != "" {
		texts = append(texts, map[string]interface{}{
			"timestamp":        stamp,
			"position":         []float64{annotationTextX, annotationTextY},
			"text":             text,
			"font_size":        annotationFontSize,
			"text_color":       []float64{1, 1, 1, 1},
			"background_color": []float64{40.0 / 255, 40.0 / 255, 40.0 / 255, 1},
		})
	}
	overlay, err := emit(src, TargetImageAnnotations, stem+"/image_annotations", map[string]interface{}{
		"texts": texts,
	})
	if err != nil {
		return nil, err
	}

	return []Output{subtask, overlay}, nil
}

// Text box placement for low-quality overlays. Successive problem labels
// stack downward.
const (
	lowQualityTextX    = 20.0
	lowQualityTextY    = 140.0
	lowQualityTextStep = 100.0
	lowQualityFontSize = 90.0
)

var (
	lowQualityTextColor       = []float64{1, 0.2, 0.2, 0.6}
	lowQualityBackgroundColor = []float64{0, 0, 0, 0.55}
)

// LowQualityRule overlays egosuite.QualityEvent problem labels as
// foxglove.ImageAnnotations. The overlay message is always published; an
// event without problems clears previous labels.
type LowQualityRule struct{}

func (*LowQualityRule) Name() string { return "low-quality" }

func (rule *LowQualityRule) Apply(src *Source) ([]Output, error) {
	stamp, err := fieldUint64(src.Values, "stamp")
	if err != nil {
		return nil, err
	}
	problems, err := fieldStrings(src.Values, "problem_types")
	if err != nil {
		return nil, err
	}

	texts := []map[string]interface{}{}
	for i, name := range problems {
		texts = append(texts, map[string]interface{}{
			"timestamp":        stamp,
			"position":         []float64{lowQualityTextX, lowQualityTextY + float64(i)*lowQualityTextStep},
			"text":             "[low-quality] " + name,
			"font_size":        lowQualityFontSize,
			"text_color":       lowQualityTextColor,
			"background_color": lowQualityBackgroundColor,
		})
	}

	out, err := emit(src, TargetImageAnnotations, topicStem(src.Topic)+"/low_quality_annotations", map[string]interface{}{
		"texts": texts,
	})
	if err != nil {
		return nil, err
	}
	return []Output{out}, nil
}

// topicStem strips the last path segment: "/annotation/per_frame" →
// "/annotation".
func topicStem(topic string) string {
	idx := strings.LastIndexByte(topic, '/')
	if idx <= 0 {
		return ""
	}
	return topic[:idx]
}

func fieldFloat64(values map[string]interface{}, name string) (float64, error) {
	v, ok := values[name].(float64)
	if !ok {
		return 0, errors.Wrapf(layout.ErrPayloadDecode, "field %s is %T, want float64", name, values[name])
	}
	return v, nil
}

// packFloat32 packs values as little-endian bytes, the point-cloud wire
// form.
func packFloat32(values []float32) []byte {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return data
}
