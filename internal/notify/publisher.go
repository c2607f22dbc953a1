// ABOUTME: Outbound port for delivering notification signals to one user
// ABOUTME: Implemented by the fan-out adapter, mocked in tests

package notify

import (
	"context"

	"github.com/2389/coven-chat/internal/envelope"
)

//go:generate go run go.uber.org/mock/mockgen -source=publisher.go -destination=../mocks/mock_publisher.go -package=mocks

// Publisher delivers an envelope to a single user's connection.
type Publisher interface {
	PublishToUser(ctx context.Context, userID int64, env envelope.Envelope) error
}
