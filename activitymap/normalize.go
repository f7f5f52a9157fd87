package activitymap

import (
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-bridge"
)

const (
	// MetadataKeyIdentity stores the local identity the subject mapped to.
	MetadataKeyIdentity = "identity"
	// MetadataKeyUserID stores the local user id when the object is a session.
	MetadataKeyUserID = "user_id"
)

const (
	defaultChannel = "auth"
	defaultActorID = "anonymous"
	objectUser     = "user"
	objectSession  = "session"
	objectSubject  = "subject"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
	now           func() time.Time
}

// Normalize converts an auth.ActivityEvent into a generic normalized shape.
// The actor is the token subject; the object is the session when the event
// carries one, the user otherwise.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Subject),
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	objectType, objectID := resolveObject(event)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event, objectType),
		OccurredAt: occurredAt,
	}
}

// Fields flattens n into key/value pairs for structured loggers.
func (n Normalized) Fields() []any {
	fields := []any{
		"actor_id", n.ActorID,
		"verb", n.Verb,
		"channel", n.Channel,
	}
	if n.ObjectType != "" {
		fields = append(fields, "object_type", n.ObjectType, "object_id", n.ObjectID)
	}
	for key, value := range n.Metadata {
		fields = append(fields, key, value)
	}
	return fields
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithActorFallback sets the final actor-id fallback when subject and user ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock stamps events that carry no OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if opts == nil || now == nil {
			return
		}
		opts.now = now
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
}

func resolveObject(event auth.ActivityEvent) (string, string) {
	if id := strings.TrimSpace(event.SessionID); id != "" {
		return objectSession, id
	}
	if id := strings.TrimSpace(event.UserID); id != "" {
		return objectUser, id
	}
	if id := strings.TrimSpace(event.Subject); id != "" {
		return objectSubject, id
	}
	return "", ""
}

func normalizeMetadata(event auth.ActivityEvent, objectType string) map[string]any {
	metadata := cloneMap(event.Metadata)

	if identity := strings.TrimSpace(event.Identity); identity != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyIdentity]; !exists {
			metadata[MetadataKeyIdentity] = identity
		}
	}

	if objectType == objectSession && event.UserID != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[MetadataKeyUserID] = event.UserID
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
