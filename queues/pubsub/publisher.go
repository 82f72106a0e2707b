package pubsub

import (
	"context"
	"encoding/json"

	"github.com/rl-arena/rl-arena-executor/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type Publisher struct {
	projectID   string
	resultTopic string
	credsFile   string
	client      *gpubsub.Client
	topic       *gpubsub.Topic
}

func NewPublisher(projectID, resultTopic, credsFile string) *Publisher {
	return &Publisher{projectID: projectID, resultTopic: resultTopic, credsFile: credsFile}
}

func (p *Publisher) ensureTopic(ctx context.Context) error {
	if p.client != nil {
		return nil
	}
	var (
		client *gpubsub.Client
		err    error
	)
	if p.credsFile != "" {
		log.Debug().Str("projectID", p.projectID).Str("topic", p.resultTopic).Str("credsFile", p.credsFile).Msg("initializing pubsub publisher with explicit credentials")
		client, err = gpubsub.NewClient(ctx, p.projectID, option.WithCredentialsFile(p.credsFile))
	} else {
		log.Debug().Str("projectID", p.projectID).Str("topic", p.resultTopic).Msg("initializing pubsub publisher with default credentials")
		client, err = gpubsub.NewClient(ctx, p.projectID)
	}
	if err != nil {
		log.Error().Err(err).Str("projectID", p.projectID).Str("topic", p.resultTopic).Msg("failed to create pubsub client for publisher")
		return err
	}
	p.client = client
	p.topic = client.Topic(p.resultTopic)
	log.Info().Str("topic", p.resultTopic).Msg("pubsub publisher initialized")
	return nil
}

func (p *Publisher) publish(ctx context.Context, payload []byte) (string, error) {
	// Publish and wait for server ack
	r := p.topic.Publish(ctx, &gpubsub.Message{Data: payload})
	return r.Get(ctx)
}

func (p *Publisher) PublishResult(ctx context.Context, res *queues.MatchResultMessage) error {
	if err := p.ensureTopic(ctx); err != nil {
		return err
	}
	b, err := json.Marshal(res)
	if err != nil {
		log.Error().Err(err).Interface("result", res).Msg("failed to marshal match result")
		return err
	}
	id, err := p.publish(ctx, b)
	if err != nil {
		log.Error().Err(err).Str("matchId", res.MatchID).Msg("failed to publish match result")
		return err
	}
	log.Debug().Str("messageID", id).Str("matchId", res.MatchID).Str("status", res.Status).Msg("published match result")
	return nil
}

func (p *Publisher) PublishValidationResult(ctx context.Context, res *queues.ValidationResultMessage) error {
	if err := p.ensureTopic(ctx); err != nil {
		return err
	}
	b, err := json.Marshal(res)
	if err != nil {
		log.Error().Err(err).Interface("result", res).Msg("failed to marshal validation result")
		return err
	}
	id, err := p.publish(ctx, b)
	if err != nil {
		log.Error().Err(err).Str("agentId", res.AgentID).Msg("failed to publish validation result")
		return err
	}
	log.Debug().Str("messageID", id).Str("agentId", res.AgentID).Bool("valid", res.Valid).Msg("published validation result")
	return nil
}
