package audit

import (
	"context"
	"time"

	"github.com/nerrad567/sweiot-link/internal/channel"
)

const recordTimeout = 5 * time.Second

// Logger defines the logging interface used by Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder writes coordinator events to the trail. It implements
// channel.Listener and channel.CommandListener.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder on repo. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record stores e, logging instead of returning a failure.
func (r *Recorder) Record(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Warn("audit record failed", "action", e.Action, "error", err)
	}
}

// OnCommandSent records a transmitted or failed command.
func (r *Recorder) OnCommandSent(c channel.Command) {
	e := Entry{
		Action:     ActionCommand,
		EntityType: EntityDevice,
		EntityID:   c.DeviceID,
		Source:     SourceLink,
		Details: map[string]any{
			"channel": c.Channel.String(),
			"command": c.Text,
			"signed":  c.Signed,
		},
		CreatedAt: c.Time,
	}
	if c.Err != nil {
		e.Action = ActionCommandFailed
		e.Details["error"] = c.Err.Error()
	}
	r.Record(e)
}

// OnSessionExpired records the loss of the management session.
func (r *Recorder) OnSessionExpired() {
	r.Record(Entry{Action: ActionSessionExpired, EntityType: EntitySession, Source: SourceLink})
}

// OnMessage is a no-op; answers are not audited.
func (r *Recorder) OnMessage(channel.Message) {}

// OnStatusChange is a no-op; status texts are not audited.
func (r *Recorder) OnStatusChange(string) {}
