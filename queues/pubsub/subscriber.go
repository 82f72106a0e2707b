package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rl-arena/rl-arena-executor/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type Subscriber struct {
	projectID        string
	subscriptionName string
	credsFile        string
	client           *gpubsub.Client
	sub              *gpubsub.Subscription
}

func NewSubscriber(projectID, subscriptionName, credsFile string) *Subscriber {
	return &Subscriber{projectID: projectID, subscriptionName: subscriptionName, credsFile: credsFile}
}

func (s *Subscriber) init(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	var (
		client *gpubsub.Client
		err    error
	)
	if s.credsFile != "" {
		log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Str("credsFile", s.credsFile).Msg("initializing pubsub subscriber with explicit credentials")
		client, err = gpubsub.NewClient(ctx, s.projectID, option.WithCredentialsFile(s.credsFile))
	} else {
		log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("initializing pubsub subscriber with default credentials")
		client, err = gpubsub.NewClient(ctx, s.projectID)
	}
	if err != nil {
		log.Error().Err(err).Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("failed to create pubsub client for subscriber")
		return err
	}
	s.client = client
	s.sub = client.Subscription(s.subscriptionName)
	log.Info().Str("subscription", s.subscriptionName).Msg("pubsub subscriber initialized")
	return nil
}

func (s *Subscriber) Start(ctx context.Context, handler func(context.Context, *queues.MatchRequest) error) error {
	if err := s.init(ctx); err != nil {
		return err
	}

	// Receive blocks; it will create goroutines internally; respect ctx cancellation
	return s.sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
		log.Debug().Str("messageID", m.ID).Int("size", len(m.Data)).Msg("received pubsub message")
		recvAt := time.Now()
		var req queues.MatchRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			log.Error().Err(err).Msg("failed to unmarshal match request")
			// Nack to allow retry
			m.Nack()
			return
		}
		// Basic validation
		if req.Environment == "" || len(req.Agents) == 0 {
			log.Error().Str("matchId", req.MatchID).Str("environment", req.Environment).Int("agents", len(req.Agents)).Msg("invalid request payload")
			// Ack to drop bad message (poison)
			m.Ack()
			return
		}
		if req.MatchID == "" {
			req.MatchID = uuid.New().String()
			log.Warn().Str("matchId", req.MatchID).Msg("match request without id; assigned one")
		}

		log.Info().Str("matchId", req.MatchID).Str("environment", req.Environment).Int("agents", len(req.Agents)).Msg("handling match request")
		if err := handler(ctx, &req); err != nil {
			log.Error().Err(err).Str("matchId", req.MatchID).Msg("handler failed; will retry")
			m.Nack()
			return
		}
		// Success -> ack
		log.Debug().Str("matchId", req.MatchID).Dur("latency", time.Since(recvAt)).Msg("handler succeeded; acking message")
		m.Ack()
	})
}

// ValidationSubscriber consumes standalone agent validation requests. It is
// wired only when a validation subscription is configured.
type ValidationSubscriber struct {
	projectID        string
	subscriptionName string
	credsFile        string
	client           *gpubsub.Client
	sub              *gpubsub.Subscription
}

func NewValidationSubscriber(projectID, subscriptionName, credsFile string) *ValidationSubscriber {
	return &ValidationSubscriber{projectID: projectID, subscriptionName: subscriptionName, credsFile: credsFile}
}

func (s *ValidationSubscriber) Start(ctx context.Context, handler func(context.Context, *queues.ValidationRequest) error) error {
	if s.client == nil {
		var (
			client *gpubsub.Client
			err    error
		)
		if s.credsFile != "" {
			client, err = gpubsub.NewClient(ctx, s.projectID, option.WithCredentialsFile(s.credsFile))
		} else {
			client, err = gpubsub.NewClient(ctx, s.projectID)
		}
		if err != nil {
			log.Error().Err(err).Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("failed to create pubsub client for validation subscriber")
			return err
		}
		s.client = client
		s.sub = client.Subscription(s.subscriptionName)
		log.Info().Str("subscription", s.subscriptionName).Msg("pubsub validation subscriber initialized")
	}

	return s.sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
		var req queues.ValidationRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			log.Error().Err(err).Msg("failed to unmarshal validation request")
			m.Nack()
			return
		}
		if req.AgentID == "" || req.CodeLocation == "" {
			log.Error().Str("agentId", req.AgentID).Str("codeLocation", req.CodeLocation).Msg("invalid validation payload")
			m.Ack()
			return
		}

		log.Info().Str("agentId", req.AgentID).Msg("handling validation request")
		if err := handler(ctx, &req); err != nil {
			log.Error().Err(err).Str("agentId", req.AgentID).Msg("validation handler failed; will retry")
			m.Nack()
			return
		}
		m.Ack()
	})
}
