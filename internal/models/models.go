package models

import "time"

type CommandAction string

const (
	CommandStart CommandAction = "start"
	CommandStop  CommandAction = "stop"
)

// TriggerIntrusion is the only trigger tag an AlertEvent carries.
const TriggerIntrusion = "intrusion"

// Keypoint is a single pose keypoint. Visibility is the model's confidence
// that the point is actually visible in the frame.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Visibility float64 `json:"visibility"`
}

// Detection представляет структуру одного обнаруженного объекта
type Detection struct {
	Class     string     `json:"class"`
	Score     float64    `json:"score"`
	Box       []float64  `json:"box,omitempty"` // [x1, y1, x2, y2]
	Keypoints []Keypoint `json:"keypoints,omitempty"`
}

// HasBox reports whether the detection carries a bounding box.
func (d Detection) HasBox() bool {
	return len(d.Box) == 4
}

// Frame is a single video frame flowing through the pipeline.
type Frame struct {
	SessionID  string
	Seq        uint64
	Data       []byte
	Timestamp  time.Time
	Detections []Detection
}

// AlertEvent is built when a qualifying frame passes the cooldown gate.
type AlertEvent struct {
	ID        string    `json:"alert_id"`
	SessionID string    `json:"session_id"`
	Trigger   string    `json:"trigger"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
	FrameSeq  uint64    `json:"frame_seq"`

	// Detections are the qualifying entities of the triggering frame.
	Detections []Detection `json:"-"`
	// Snapshot is the triggering frame, kept only until delivery.
	Snapshot []byte `json:"-"`
}

// SessionCommand starts or stops monitoring of a call.
type SessionCommand struct {
	SessionID   string        `json:"session_id"`
	CallType    string        `json:"call_type"`
	Action      CommandAction `json:"action"`
	VideoSource string        `json:"video_source"`
}

type Heartbeat struct {
	SessionID string        `json:"SessionID"`
	Action    CommandAction `json:"Action"`
	Frame     int64         `json:"Frame"`
	TimeStamp time.Time     `json:"TimeStamp"`
}

// Session is a monitored call as recorded in the database
type Session struct {
	ID          string        `json:"id"`
	CallType    string        `json:"call_type"`
	Action      CommandAction `json:"action"`
	VideoSource string        `json:"video_source"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// AlertRecord is an audit row for an emitted alert.
type AlertRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Count     int       `json:"count"`
	Message   string    `json:"message"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"created_at"`
}
