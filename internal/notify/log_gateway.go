package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogGateway writes notifications to the log. Used when no broker is configured.
type LogGateway struct {
	log zerolog.Logger
}

func NewLogGateway(log zerolog.Logger) *LogGateway {
	return &LogGateway{log: log}
}

func (g *LogGateway) Notify(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error {
	g.log.Info().
		Str("user_id", userID.String()).
		Str("kind", string(kind)).
		Interface("payload", payload).
		Msg("notification")
	return nil
}
