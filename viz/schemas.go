package viz

// Source layout texts of the egosuite recording profile. The authoritative
// copies travel inside the source container; these are kept for the default
// rule table and for fixtures.
const (
	SourceImuRaw = `# egosuite.ImuRaw
time stamp
float64[3] angular_velocity
float64[3] linear_acceleration
float64[4] orientation
`

	SourceCompositeScan = `# egosuite.CompositeScan
time stamp
string frame_id
float32[] points        # packed x,y,z triplets
float32[] intensities   # one per point
`

	SourcePoseFrame = `# egosuite.PoseFrame
time stamp
Transform[] transforms
================================
MSG: Transform
float64 x
float64 y
float64 z
float64[4] quat         # w,x,y,z
`

	SourceAudioBlock = `# egosuite.AudioBlock
time stamp
string format
uint32 sample_rate
uint32 number_of_channels
uint8[] data
`

	SourceAnnotationEvent = `# egosuite.AnnotationEvent
time stamp
uint32 frame_number
bool has_annotation
string description
string skill
uint32 start_frame
uint32 end_frame
`

	SourceQualityEvent = `# egosuite.QualityEvent
time stamp
string[] problem_types
`
)

// Target dialect schemas recognized by the visualization client.
var (
	TargetImuViz = mustTarget("lightwheel.ImuViz", `time stamp
float64[3] angular_velocity
float64[3] linear_acceleration
float64[4] orientation
`)

	TargetPointCloud = mustTarget("foxglove.PointCloud", `time timestamp
string frame_id
float64[3] position
float64[4] orientation
uint32 point_stride
PackedField[] fields
uint8[] data
================================
MSG: PackedField
string name
uint32 offset
uint8 type
`)

	TargetScanIntensity = mustTarget("lightwheel.ScanIntensity", `time timestamp
float32[] intensities
`)

	TargetFrameTransforms = mustTarget("foxglove.FrameTransforms", `FrameTransform[] transforms
================================
MSG: FrameTransform
time timestamp
string parent_frame_id
string child_frame_id
float64[3] translation
float64[4] rotation
`)

	TargetRawAudio = mustTarget("foxglove.RawAudio", `time timestamp
uint8[] data
string format
uint32 sample_rate
uint32 number_of_channels
`)

	TargetSubtaskAnnotation = mustTarget("lightwheel.SubtaskAnnotation", `time timestamp
string data
`)

	TargetImageAnnotations = mustTarget("foxglove.ImageAnnotations", `TextAnnotation[] texts
================================
MSG: TextAnnotation
time timestamp
float64[2] position
string text
float64 font_size
float64[4] text_color
float64[4] background_color
`)

	TargetSceneUpdate = mustTarget("foxglove.SceneUpdate", `SceneEntity[] entities
================================
MSG: SceneEntity
time timestamp
string frame_id
string id
duration lifetime
bool frame_locked
SpherePrimitive[] spheres
LinePrimitive[] lines
================================
MSG: SpherePrimitive
float64[3] position
float64[4] orientation
float64 size
float64[4] color
================================
MSG: LinePrimitive
float64 thickness
float64[4] color
Point3[] points
================================
MSG: Point3
float64 x
float64 y
float64 z
`)
)

// foxglove.PackedElementField numeric type codes used in PointCloud fields.
const (
	packedFieldUint8   uint8 = 1
	packedFieldFloat32 uint8 = 7
)
