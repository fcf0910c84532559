package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/crownking/assistant/internal/provider"
)

// ErrEmptyAnswer is the cause of a GenerationError when the model returned no text.
var ErrEmptyAnswer = errors.New("no response generated")

// Role tags a conversation turn.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// Turn is one message of a per-request exchange.
type Turn struct {
	Role Role   `json:"type"`
	Text string `json:"content"`
}

// Exchange is the ordered human/ai turns of a single request. It is never persisted.
type Exchange struct {
	ID    string
	Turns []Turn
}

// Answer returns the text of the last ai turn.
func (x *Exchange) Answer() string {
	for i := len(x.Turns) - 1; i >= 0; i-- {
		if x.Turns[i].Role == RoleAI {
			return x.Turns[i].Text
		}
	}
	return ""
}

// Ask runs the query through the active pipeline.
// It fails with ErrNotInitialized before the first successful initialization and with a
// provider.GenerationError when the call fails or yields no text. Failures never
// replace the pipeline.
func (e *Engine) Ask(ctx context.Context, query string) (*Exchange, error) {
	p := e.pipeline.Load()
	if p == nil {
		return nil, ErrNotInitialized
	}

	e.requests.Add(1)
	x := &Exchange{ID: uuid.NewString()}
	log := e.Logger.WithFields(logrus.Fields{"exchange_id": x.ID, "provider": p.Client.Name()})

	text, err := p.Client.Generate(ctx, query)
	if err != nil {
		e.failures.Add(1)
		log.WithError(err).Warn("Generation failed")
		return nil, asGenerationError(p.Client.Name(), err)
	}
	if strings.TrimSpace(text) == "" {
		e.failures.Add(1)
		log.Warn("Generation returned no text")
		return nil, &provider.GenerationError{Provider: p.Client.Name(), Err: ErrEmptyAnswer}
	}

	x.Turns = append(x.Turns,
		Turn{Role: RoleHuman, Text: query},
		Turn{Role: RoleAI, Text: text},
	)
	log.WithField("answer_len", len(text)).Debug("Answer generated")
	return x, nil
}

func asGenerationError(name string, err error) error {
	if errors.Is(err, provider.ErrGeneration) {
		return err
	}
	return &provider.GenerationError{Provider: name, Err: err}
}
