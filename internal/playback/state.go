package playback

// State is the controller's playback phase.
type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateError   State = "error"
)

// Status is a snapshot of the shared playback state. A single instance per
// session is owned by the Controller; all mutations funnel through its
// transition methods.
type Status struct {
	State   State
	Speaker string
	Round   int
	Volume  float64
	Err     string
}
