package viz

// Joint-index to coordinate-frame naming used when relabeling pose
// transforms. Body/hand naming kept consistent with the legacy pose TF
// conversion.
var bodyFrameNames = []string{
	"pelvis",          // 0
	"left_hip",        // 1
	"right_hip",       // 2
	"spine1",          // 3
	"left_knee",       // 4
	"right_knee",      // 5
	"spine2",          // 6
	"left_ankle",      // 7
	"right_ankle",     // 8
	"spine3",          // 9
	"left_foot",       // 10
	"right_foot",      // 11
	"neck",            // 12
	"left_collar",     // 13
	"right_collar",    // 14
	"head",            // 15
	"left_shoulder",   // 16
	"right_shoulder",  // 17
	"left_elbow",      // 18
	"right_elbow",     // 19
}

// Skeleton topology as joint-index pairs, used for the scene-update line
// primitives. Wrist-onward segments are covered by the hand channels.
var bodyBones = [][2]int{
	{0, 1}, {1, 4}, {4, 7}, {7, 10}, // left leg
	{0, 2}, {2, 5}, {5, 8}, {8, 11}, // right leg
	{0, 3}, {3, 6}, {6, 9}, {9, 12}, {12, 15}, // spine
	{9, 13}, {13, 16}, {16, 18}, // left arm
	{9, 14}, {14, 17}, {17, 19}, // right arm
}

var handBones = [][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 4}, // thumb
	{0, 5}, {5, 6}, {6, 7}, {7, 8}, // index finger
	{0, 9}, {9, 10}, {10, 11}, {11, 12}, // middle finger
	{0, 13}, {13, 14}, {14, 15}, {15, 16}, // ring finger
	{0, 17}, {17, 18}, {18, 19}, {19, 20}, // pinky
}

var handFrameNames = []string{
	"wrist",             // 0
	"thumb_cmc",         // 1
	"thumb_mcp",         // 2
	"thumb_ip",          // 3
	"thumb_tip",         // 4
	"index_finger_mcp",  // 5
	"index_finger_pip",  // 6
	"index_finger_dip",  // 7
	"index_finger_tip",  // 8
	"middle_finger_mcp", // 9
	"middle_finger_pip", // 10
	"middle_finger_dip", // 11
	"middle_finger_tip", // 12
	"ring_finger_mcp",   // 13
	"ring_finger_pip",   // 14
	"ring_finger_dip",   // 15
	"ring_finger_tip",   // 16
	"pinky_mcp",         // 17
	"pinky_pip",         // 18
	"pinky_dip",         // 19
	"pinky_tip",         // 20
}
